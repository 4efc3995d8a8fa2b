package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalyst-agent/backend/pkg/retry"
)

func newStubEmbedder(t *testing.T, body string) *OpenAIEmbedder {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"

	return &OpenAIEmbedder{
		client:      openai.NewClientWithConfig(cfg),
		model:       "text-embedding-3-small",
		timeout:     time.Second,
		retryConfig: retry.Config{MaxAttempts: 1},
	}
}

func TestEmbedReturnsVector(t *testing.T) {
	e := newStubEmbedder(t, `{
		"object": "list",
		"data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2, 0.3]}],
		"model": "text-embedding-3-small",
		"usage": {"prompt_tokens": 5, "total_tokens": 5}
	}`)

	vec, err := e.Embed(context.Background(), "Acme wins FDA approval")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedEmptyResponseIsErrorNotPanic(t *testing.T) {
	e := newStubEmbedder(t, `{
		"object": "list",
		"data": [],
		"model": "text-embedding-3-small",
		"usage": {"prompt_tokens": 0, "total_tokens": 0}
	}`)

	_, err := e.Embed(context.Background(), "Acme wins FDA approval")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}
