// Package embedder turns texts into vectors for the indexer and retriever.
//
// # Model Ids
//
// A model id names both the backend and the model, "provider:model":
//
//	local:hashing                  offline feature hashing, 384 dims
//	openai:text-embedding-3-small  OpenAI or any OpenAI-compatible server
//	jina:jina-embeddings-v3        Jina AI
//	gemini:text-embedding-004      Gemini API
//
// Any other id fails with ErrDependencyMissing, as does a remote provider
// whose API key is missing.
//
// # Basic Usage
//
// Callers own a ModelCache for the length of a session and embed through an
// Adapter:
//
//	models := embedder.NewModelCache(embedder.NewLoader(embedder.Config{
//	    OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
//	    CacheSize:    10000,
//	}))
//	defer models.Close()
//
//	adapter := embedder.NewAdapter(models, embedder.DefaultBatchSize)
//	vectors, err := adapter.Embed(ctx, texts, "local:hashing")
//
// Vectors come back in input order, one per text. Batching is internal and
// never changes the result. A failing batch fails the whole call with
// ErrEmbedding.
//
// # Caching
//
// Each provider keeps an in-memory LRU of embeddings keyed by the SHA-256 of
// the text. WithPersistentCache adds a bbolt file in front of any provider so
// unchanged chunks are not re-embedded on the next ingestion:
//
//	cache, err := embedder.OpenBoltCache("data/embed_cache.db")
//	cfg.Persistent = cache
//
// # Retries
//
// Remote providers retry failed calls three times with exponential backoff
// starting at 100ms and capped at 5s.
package embedder
