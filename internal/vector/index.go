package vector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/pkg/logger"
)

// Index couples a Store with the Embedder used to populate and query it.
type Index struct {
	store    Store
	embedder Embedder
}

func NewIndex(store Store, embedder Embedder) *Index {
	return &Index{store: store, embedder: embedder}
}

// Upsert embeds and stores chunks. Calling it twice with the same chunks
// stores duplicates; callers delete by source first.
func (i *Index) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for n, c := range chunks {
		texts[n] = c.Text
	}

	embeddings, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("%w: embedding count mismatch: got %d, expected %d",
			ErrRetrievalUnavailable, len(embeddings), len(chunks))
	}

	entries := make([]Entry, len(chunks))
	for n, c := range chunks {
		entries[n] = Entry{Chunk: c, Embedding: embeddings[n]}
	}

	if err := i.store.Add(ctx, entries); err != nil {
		return fmt.Errorf("failed to add entries: %w", err)
	}

	logger.Debug("Chunks upserted", zap.String("source", chunks[0].Source), zap.Int("count", len(chunks)))
	return nil
}

func (i *Index) DeleteBySource(ctx context.Context, source string) error {
	if err := i.store.DeleteBySource(ctx, source); err != nil {
		return fmt.Errorf("failed to delete entries for %s: %w", source, err)
	}
	return nil
}

// Query returns up to k entries nearest to text. An empty index yields an
// empty result without contacting the embedding backend.
func (i *Index) Query(ctx context.Context, text string, k int) ([]Result, error) {
	if k <= 0 {
		return []Result{}, nil
	}

	count, err := i.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	if count == 0 {
		return []Result{}, nil
	}

	embeddings, err := i.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("%w: no embedding returned for query", ErrRetrievalUnavailable)
	}

	results, err := i.store.Search(ctx, embeddings[0], k)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if results == nil {
		results = []Result{}
	}

	logger.Debug("Vector search completed", zap.Int("k", k), zap.Int("results", len(results)))
	return results, nil
}

func (i *Index) Close() error {
	return i.store.Close()
}
