package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/catalyst-agent/backend/internal/models"
	"github.com/catalyst-agent/backend/pkg/logger"
)

// Client is the hot-path layer in front of the durable response cache:
// exact-match classification results and prompt embeddings. Every
// failure here is an optimization lost, never a request failure.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetResult(ctx context.Context, promptHash string, payload models.ResultPayload, ttl time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := c.client.Set(ctx, "result:"+promptHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set result cache: %w", err)
	}

	return nil
}

func (c *Client) GetResult(ctx context.Context, promptHash string) (models.ResultPayload, bool, error) {
	var payload models.ResultPayload

	data, err := c.client.Get(ctx, "result:"+promptHash).Bytes()
	if err == redis.Nil {
		return payload, false, nil
	}
	if err != nil {
		return payload, false, fmt.Errorf("failed to get result cache: %w", err)
	}

	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, false, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	logger.Debug("Exact result cache hit", zap.String("prompt_hash", promptHash))
	return payload, true, nil
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if err := c.client.Set(ctx, "embedding:"+textHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, "embedding:"+textHash).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}
