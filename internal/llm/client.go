package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/metrics"
	"github.com/onboarding-agent/backend/pkg/circuitbreaker"
	"github.com/onboarding-agent/backend/pkg/logger"
	"github.com/onboarding-agent/backend/pkg/retry"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func defaultRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}
}

func NewClient(cfg Config) *Client {
	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      1,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Logger:           logger.GetLogger(),
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized", zap.String("model", cfg.Model))

	return &Client{
		client:      newOpenAIClient(cfg.APIKey, cfg.BaseURL),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		cb:          cb,
		retryConfig: defaultRetryConfig(),
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) request(req ChatRequest) openai.ChatCompletionRequest {
	// go-openai omits a zero temperature, which the API reads as 1.
	temperature := c.temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(req.System, req.Messages),
		Tools:       toOpenAITools(req.Tools),
		Temperature: temperature,
		MaxTokens:   c.maxTokens,
	}
}

// Complete returns the model's next message for the conversation.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	oreq := c.request(req)
	start := time.Now()
	defer func() {
		metrics.ModelLatency.WithLabelValues("chat").Observe(time.Since(start).Seconds())
	}()

	var result *ChatResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, oreq)
			if err != nil {
				return classify(fmt.Errorf("failed to create completion: %w", err))
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			result = fromOpenAIMessage(resp.Choices[0].Message)
			result.Usage = Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	c.recordUsage(result.Usage)
	logger.Debug("LLM completion generated",
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
		zap.Int("tool_calls", len(result.ToolCalls)),
	)

	return result, nil
}

// Stream is Complete with content deltas passed to onToken as they arrive.
// Only opening the stream is retried; once tokens flow an error ends the
// call. An onToken error aborts the stream and is returned as is.
func (c *Client) Stream(ctx context.Context, req ChatRequest, onToken func(string) error) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	oreq := c.request(req)
	oreq.Stream = true
	oreq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	start := time.Now()
	defer func() {
		metrics.ModelLatency.WithLabelValues("chat_stream").Observe(time.Since(start).Seconds())
	}()

	var stream *openai.ChatCompletionStream
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			s, err := c.client.CreateChatCompletionStream(ctx, oreq)
			if err != nil {
				return classify(fmt.Errorf("failed to open completion stream: %w", err))
			}
			stream = s
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var content strings.Builder
	calls := newToolCallAccumulator()
	var usage Usage

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("completion stream failed: %w", err)
		}

		if chunk.Usage != nil {
			usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onToken != nil {
				if err := onToken(delta.Content); err != nil {
					return nil, err
				}
			}
		}
		for _, tc := range delta.ToolCalls {
			calls.add(tc)
		}
	}

	c.recordUsage(usage)

	return &ChatResponse{
		Content:   content.String(),
		ToolCalls: calls.result(),
		Usage:     usage,
	}, nil
}

func (c *Client) recordUsage(u Usage) {
	metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(u.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(u.CompletionTokens))
}

// classify marks client errors other than rate limiting as permanent so they
// are not retried.
func classify(err error) error {
	status := 0

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return retry.Permanent(err)
	}
	return err
}
