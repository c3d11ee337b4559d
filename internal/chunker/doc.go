// Package chunker divides repository files into bounded chunks for embedding.
//
// Text is normalized first (line endings unified, trailing whitespace
// stripped, blank-line runs collapsed), then split with a strategy picked
// from the file extension:
//   - Markdown (.md, .rst): split at heading lines, each section char-chunked
//   - Code (.py, .js, .ts, .java, .go, .rb): split into top-level blocks by a
//     per-language-family Splitter, each block char-chunked
//   - Notebooks (.ipynb): flattened to "# <type> cell" sections, char-chunked
//   - Everything else: char-chunked directly
//
// # Basic Usage
//
//	c, err := chunker.New(chunker.DefaultOptions(), logger)
//	if err != nil {
//	    return err
//	}
//	chunks, err := c.ChunkFile(content, "owner/repo", "pkg/mod.py")
//
// # Char Chunking
//
// ChunkByChar cuts fixed windows of ChunkSizeTokens*4 characters, each new
// window starting OverlapTokens*4 characters before the previous one ended.
// Characters are runes, so multi-byte text is never split mid-sequence.
//
// # Folder Driver
//
// ChunkFolder walks a directory and writes the JSONL exchange format read by
// the indexer, one {"content", "metadata"} object per line:
//
//	n, err := c.ChunkFolderToFile(ctx, "data/raw", "owner/repo", "data/chunks.jsonl")
//	chunks, err := chunker.LoadChunksFile("data/chunks.jsonl")
package chunker
