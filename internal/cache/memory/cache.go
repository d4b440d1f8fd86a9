package memory

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// EmbeddingCache is an in-process embedding cache used when redis is not
// configured.
type EmbeddingCache struct {
	c *cache.Cache
}

func NewEmbeddingCache(defaultTTL, cleanupInterval time.Duration) *EmbeddingCache {
	return &EmbeddingCache{c: cache.New(defaultTTL, cleanupInterval)}
}

func (e *EmbeddingCache) GetEmbedding(_ context.Context, textHash string) ([]float32, bool, error) {
	v, ok := e.c.Get(textHash)
	if !ok {
		return nil, false, nil
	}
	emb, ok := v.([]float32)
	return emb, ok, nil
}

func (e *EmbeddingCache) SetEmbedding(_ context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	e.c.Set(textHash, embedding, ttl)
	return nil
}

func (e *EmbeddingCache) ItemCount() int {
	return e.c.ItemCount()
}
