package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	rediscache "github.com/catalyst-agent/backend/internal/cache/redis"
	"github.com/catalyst-agent/backend/pkg/logger"
	"github.com/catalyst-agent/backend/pkg/retry"
	"github.com/catalyst-agent/backend/pkg/utils"
)

// OpenAIEmbedder computes embeddings via the OpenAI API, with an
// optional Redis layer so a prompt is only ever embedded once.
type OpenAIEmbedder struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	cache       *rediscache.Client
	retryConfig retry.Config
}

func NewOpenAIEmbedder(apiKey, model string, timeout time.Duration, cache *rediscache.Client) *OpenAIEmbedder {
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("OpenAI embedder initialized", zap.String("model", model))

	return &OpenAIEmbedder{
		client:      openai.NewClient(apiKey),
		model:       model,
		timeout:     timeout,
		cache:       cache,
		retryConfig: retryConfig,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	textHash := utils.HashString(text)

	if e.cache != nil {
		cached, ok, err := e.cache.GetEmbedding(ctx, textHash)
		if err != nil {
			logger.Warn("Embedding cache lookup failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	embedding, err := retry.DoWithResult(ctx, e.retryConfig, func() ([]float32, error) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embedding: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("embedding response contained no data")
		}

		out := make([]float32, len(resp.Data[0].Embedding))
		copy(out, resp.Data[0].Embedding)
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.SetEmbedding(ctx, textHash, embedding, 24*time.Hour); err != nil {
			logger.Warn("Embedding cache store failed", zap.Error(err))
		}
	}

	return embedding, nil
}
