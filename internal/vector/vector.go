package vector

import (
	"context"
	"errors"
)

// ErrRetrievalUnavailable is returned when the embedding backend cannot serve
// a request. Callers must not treat it as an empty result.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Chunk is a bounded slice of a source document and the unit of retrieval.
type Chunk struct {
	Text       string   `json:"text"`
	Source     string   `json:"source"`
	Headings   []string `json:"headings,omitempty"`
	ChunkIndex int      `json:"chunk_index"`
}

type Entry struct {
	Chunk     Chunk
	Embedding []float32
}

type Result struct {
	Chunk Chunk
	Score float32
}

// Embedder turns text into fixed-dimension vectors. The same model must be
// used for ingestion and querying.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is a vector backend. Search must be deterministic for a given store
// state and query vector.
type Store interface {
	Add(ctx context.Context, entries []Entry) error
	DeleteBySource(ctx context.Context, source string) error
	Search(ctx context.Context, embedding []float32, k int) ([]Result, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
