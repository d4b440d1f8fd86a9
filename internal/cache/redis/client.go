package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/storage/models"
	"github.com/onboarding-agent/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", opts.Addr))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func embeddingKey(textHash string) string {
	return fmt.Sprintf("embedding:%s", textHash)
}

func threadKey(threadID string) string {
	return fmt.Sprintf("thread:%s:messages", threadID)
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if err := c.client.Set(ctx, embeddingKey(textHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingKey(textHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	return embedding, true, nil
}

// Load returns the thread's messages in append order. Unknown threads are
// empty.
func (c *Client) Load(ctx context.Context, threadID string) ([]models.Message, error) {
	raw, err := c.client.LRange(ctx, threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}

	return decodeMessages(raw)
}

// Append adds messages to the thread in a single RPUSH so concurrent turns on
// the same thread never interleave.
func (c *Client) Append(ctx context.Context, threadID string, msgs ...models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	values, err := encodeMessages(msgs)
	if err != nil {
		return err
	}

	if err := c.client.RPush(ctx, threadKey(threadID), values...).Err(); err != nil {
		return fmt.Errorf("failed to append to thread %s: %w", threadID, err)
	}

	logger.Debug("Thread messages appended", zap.String("thread_id", threadID), zap.Int("count", len(msgs)))
	return nil
}

func encodeMessages(msgs []models.Message) ([]interface{}, error) {
	values := make([]interface{}, len(msgs))
	for i, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		values[i] = string(data)
	}
	return values, nil
}

func decodeMessages(raw []string) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(raw))
	for _, r := range raw {
		var m models.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
