// Package indexer writes chunk records into a vector store.
//
// Each chunk is keyed by types.ChunkID, so re-ingesting an unchanged file
// overwrites the same records. Chunks are processed in fixed-size batches:
// one embedding call, then one upsert per batch.
//
//	idx := indexer.New(adapter, opener, logger)
//	stats, err := idx.Store(ctx, chunks, indexer.Options{
//	    Location:   "./store",
//	    Collection: "repo_embeddings",
//	    ModelID:    "local:minilm",
//	})
//
// When the opener fails, the run continues against an in-memory store and
// every record is also appended to storage.BackupFileName in BackupDir.
// Statistics.Fallback reports this; RestoreBackup later replays the log into
// a working store.
//
// Dummy mode writes zero vectors of length DummyDimension and never calls the
// embedder. It exists to check the plumbing, not for retrieval.
package indexer
