package backends

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendLabels(t *testing.T) {
	b := NewLocalBackend("local-heuristic")
	ctx := context.Background()

	tests := []struct {
		name   string
		prompt string
		label  string
	}{
		{
			name:   "bullish catalyst",
			prompt: "Headline: Acme Corp wins FDA approval for lead candidate",
			label:  "bullish",
		},
		{
			name:   "bearish catalyst",
			prompt: "Headline: Acme faces SEC investigation after restating revenue",
			label:  "bearish",
		},
		{
			name:   "no signals",
			prompt: "Headline: Acme to present at industry conference",
			label:  "neutral",
		},
		{
			name:   "offsetting signals",
			prompt: "Headline: Acme announces buyback while facing analyst downgrade",
			label:  "neutral",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := b.Invoke(ctx, tt.prompt)
			require.NoError(t, err)
			assert.Equal(t, tt.label, payload.Label)
		})
	}
}

func TestLocalBackendScoreClamped(t *testing.T) {
	b := NewLocalBackend("local-heuristic")

	payload, err := b.Invoke(context.Background(),
		"fda approval, acquisition, merger, buyback, raises guidance, record revenue")
	require.NoError(t, err)

	assert.Equal(t, "bullish", payload.Label)
	assert.LessOrEqual(t, payload.Score, 1.0)
}

func TestLocalBackendDeterministicReasoning(t *testing.T) {
	b := NewLocalBackend("local-heuristic")
	ctx := context.Background()
	prompt := "Acme merger approved, buyback announced, partnership signed"

	first, err := b.Invoke(ctx, prompt)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := b.Invoke(ctx, prompt)
		require.NoError(t, err)
		assert.Equal(t, first.Reasoning, again.Reasoning)
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "bare json",
			content: `{"label": "bullish", "score": 0.8, "reasoning": "approval expands market"}`,
			want:    "bullish",
		},
		{
			name:    "fenced json",
			content: "```json\n{\"label\": \"bearish\", \"score\": -0.6}\n```",
			want:    "bearish",
		},
		{
			name:    "prose around json",
			content: `Here is the verdict: {"label": "neutral", "score": 0.0} as requested.`,
			want:    "neutral",
		},
		{
			name:    "missing label",
			content: `{"score": 0.5}`,
			wantErr: true,
		},
		{
			name:    "not json",
			content: "the item looks bullish to me",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := parsePayload(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, payload.Label)
		})
	}
}
