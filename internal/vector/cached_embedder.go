package vector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/metrics"
	"github.com/onboarding-agent/backend/pkg/logger"
	"github.com/onboarding-agent/backend/pkg/utils"
)

// EmbeddingCache is implemented by the redis and in-process caches.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder serves repeated texts from cache and only sends misses to
// the wrapped Embedder. Cache errors degrade to a miss.
type CachedEmbedder struct {
	next  Embedder
	cache EmbeddingCache
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, cache EmbeddingCache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model, ttl: ttl}
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		keys[i] = utils.HashParts(c.model, text)
		emb, ok, err := c.cache.GetEmbedding(ctx, keys[i])
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if ok {
			out[i] = emb
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			continue
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(fresh), len(missTexts))
	}

	for n, i := range missIdx {
		out[i] = fresh[n]
		if err := c.cache.SetEmbedding(ctx, keys[i], fresh[n], c.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return out, nil
}
