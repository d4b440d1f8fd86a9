package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/metrics"
	"github.com/onboarding-agent/backend/pkg/circuitbreaker"
	"github.com/onboarding-agent/backend/pkg/logger"
	"github.com/onboarding-agent/backend/pkg/retry"
)

type EmbedderConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	BatchSize int
	Timeout   time.Duration
}

// Embedder generates embeddings through an OpenAI-compatible endpoint.
type Embedder struct {
	client      *openai.Client
	model       string
	batchSize   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewEmbedder(cfg EmbedderConfig) *Embedder {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger.Info("Embedding client initialized",
		zap.String("model", cfg.Model),
		zap.Int("batch_size", batchSize),
	)

	return &Embedder{
		client:    newOpenAIClient(cfg.APIKey, cfg.BaseURL),
		model:     cfg.Model,
		batchSize: batchSize,
		timeout:   timeout,
		cb: circuitbreaker.NewCircuitBreaker("embeddings", circuitbreaker.Config{
			MaxRequests:      1,
			OpenTimeout:      30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: defaultRetryConfig(),
	}
}

func (e *Embedder) Model() string {
	return e.model
}

// EmbedBatch embeds texts in order, sending at most batchSize texts per
// request.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		batch, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}

	return out, nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.ModelLatency.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	}()

	var embeddings [][]float32

	err := e.cb.Execute(ctx, func() error {
		return retry.Do(ctx, e.retryConfig, func() error {
			resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: texts,
				Model: openai.EmbeddingModel(e.model),
			})
			if err != nil {
				return classify(fmt.Errorf("failed to create embeddings: %w", err))
			}
			if len(resp.Data) != len(texts) {
				return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts))
			}

			embeddings = make([][]float32, len(texts))
			for i, data := range resp.Data {
				idx := data.Index
				if idx < 0 || idx >= len(texts) {
					idx = i
				}
				embedding := make([]float32, len(data.Embedding))
				for j, v := range data.Embedding {
					embedding[j] = float32(v)
				}
				embeddings[idx] = embedding
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))
	return embeddings, nil
}
