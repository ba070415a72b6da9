// Package embed turns chunk text into vectors. A Provider is the raw
// network client; the Gateway layers content-hash caching, batching,
// bounded concurrency, and rate limiting on top of it.
package embed

import "context"

// Provider generates vector embeddings for text.
type Provider interface {
	Name() string
	Model() string
	// Dimensions returns the vector dimensionality, or 0 when it is not
	// yet known (discovered lazily from the first response).
	Dimensions() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// AsyncProvider is the optional job-based batch mode. It is an
// optimization only: the gateway defaults to synchronous Embed calls and
// falls back to them whenever the async path fails.
type AsyncProvider interface {
	SubmitBatch(ctx context.Context, texts []string) (jobID string, err error)
	// PollBatch reports whether the job finished; vectors are only valid
	// when done is true.
	PollBatch(ctx context.Context, jobID string) (vectors [][]float32, done bool, err error)
}

// Cache memoizes vectors by (provider, model, content hash). Implemented
// by the persistent store; entries are append-only.
type Cache interface {
	GetCachedEmbedding(hash, provider, model string) ([]float32, bool)
	CacheEmbedding(hash, provider, model string, vec []float32) error
}
