// Package types provides shared type definitions for repoexplain.
//
// These types cross package boundaries: the chunker produces them, the
// indexer stores them, the retriever returns them and the context assembler
// renders them.
//
// # Core Types
//
// Chunk is a bounded slice of a source file with its provenance:
//
//	chunk := types.Chunk{
//	    Content: "def f():\n    pass",
//	    Metadata: types.ChunkMetadata{
//	        Repo:       "owner/repo",
//	        FilePath:   "pkg/mod.py",
//	        FileType:   types.FileCode,
//	        ChunkIndex: 0,
//	    },
//	}
//
// Every chunk has a deterministic id built by ChunkID:
//
//	chunk.ID() // "owner/repo::pkg/mod.py::0"
//
// RetrievalResult is a ranked hit. Its Distance is nil when the backing
// store does not report one; lower values are closer matches.
//
// # Metadata Fields
//
// ChunkMetadata carries exactly four fields (repo, file_path, file_type,
// chunk_index). MetadataField names them for single-field equality filters:
//
//	field, err := types.ParseMetadataField("file_type")
//	value := chunk.Metadata.Value(field) // "code"
package types
