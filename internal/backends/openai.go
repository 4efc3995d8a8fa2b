package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/catalyst-agent/backend/internal/models"
	"github.com/catalyst-agent/backend/pkg/logger"
	"github.com/catalyst-agent/backend/pkg/retry"
)

const classifySystemPrompt = `You are a market catalyst classifier. Given a news item about a publicly traded company, classify its likely price impact.

Return ONLY a JSON object:
{"label": "bullish" | "bearish" | "neutral", "score": -1.0 to 1.0, "reasoning": "one sentence"}`

// OpenAIBackend adapts one OpenAI chat model to the Backend capability.
// The same adapter serves the cheap, mid, and premium tiers with
// different models and descriptors.
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	desc        Descriptor
	retryConfig retry.Config
}

func NewOpenAIBackend(apiKey string, desc Descriptor, model string) *OpenAIBackend {
	retryConfig := retry.Config{
		MaxAttempts:    2,
		InitialDelay:   250 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("OpenAI backend initialized",
		zap.String("name", desc.Name),
		zap.String("tier", desc.Tier),
		zap.String("model", model),
	)

	return &OpenAIBackend{
		client:      openai.NewClient(apiKey),
		model:       model,
		desc:        desc,
		retryConfig: retryConfig,
	}
}

func (b *OpenAIBackend) Descriptor() Descriptor {
	return b.desc
}

func (b *OpenAIBackend) Invoke(ctx context.Context, promptText string) (models.ResultPayload, error) {
	var payload models.ResultPayload

	err := retry.Do(ctx, b.retryConfig, func() error {
		resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: b.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: classifySystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: promptText},
			},
			Temperature: 0,
			MaxTokens:   200,
		})
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}

		payload, err = parsePayload(resp.Choices[0].Message.Content)
		return err
	})
	if err != nil {
		return models.ResultPayload{}, err
	}

	return payload, nil
}

// parsePayload extracts the JSON verdict, tolerating markdown fences
// around it.
func parsePayload(content string) (models.ResultPayload, error) {
	var payload models.ResultPayload

	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return payload, fmt.Errorf("failed to parse classification payload: %w", err)
	}
	if payload.Label == "" {
		return payload, fmt.Errorf("classification payload missing label")
	}

	return payload, nil
}
