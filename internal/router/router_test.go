package router

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalyst-agent/backend/internal/backends"
	"github.com/catalyst-agent/backend/internal/cache"
	"github.com/catalyst-agent/backend/internal/models"
)

type fakeEmbedder struct {
	err  error
	vecs map[string][]float32
}

// Embed returns the configured vector for the text, so tests control
// exactly which prompts collide in the cache. Unmapped texts share one
// vector.
func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0, 0}, nil
}

type countingBackend struct {
	desc  backends.Descriptor
	fail  bool
	block bool

	mu    sync.Mutex
	calls int
}

func (b *countingBackend) Descriptor() backends.Descriptor {
	return b.desc
}

func (b *countingBackend) Invoke(ctx context.Context, promptText string) (models.ResultPayload, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	if b.block {
		<-ctx.Done()
		return models.ResultPayload{}, ctx.Err()
	}
	if b.fail {
		return models.ResultPayload{}, errors.New("backend unavailable")
	}
	return models.ResultPayload{Label: "bullish", Score: 0.9}, nil
}

func (b *countingBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newCounting(name, tier string) *countingBackend {
	return &countingBackend{desc: backends.Descriptor{
		Name:          name,
		Tier:          tier,
		CostPerCall:   0.002,
		MaxComplexity: 100,
	}}
}

func newTestRouter(t *testing.T, registry *backends.Registry, embedder *fakeEmbedder) *Router {
	t.Helper()

	c, err := cache.NewResponseCache(filepath.Join(t.TempDir(), "cache.db"), 0.95)
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })

	return NewRouter(c, registry, embedder, Config{
		MaxAttempts:    3,
		DefaultTimeout: 2 * time.Second,
		CacheTTL:       time.Hour,
	})
}

func newTestRegistry(bs ...backends.Backend) *backends.Registry {
	r := backends.NewRegistry(backends.Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	})
	for _, b := range bs {
		r.Register(b, 0, 0)
	}
	return r
}

func TestClassifySuccess(t *testing.T) {
	b := newCounting("stub", "cheap")
	r := newTestRouter(t, newTestRegistry(b), &fakeEmbedder{})

	result, err := r.Classify(context.Background(), models.ClassificationRequest{
		PromptText:  "Acme wins defense contract",
		FeatureName: "catalyst-classify",
	})
	require.NoError(t, err)

	assert.Equal(t, "stub", result.BackendUsed)
	assert.Equal(t, "bullish", result.Payload.Label)
	assert.False(t, result.CacheHit)
	assert.InDelta(t, 0.002, result.CostEstimate, 1e-9)
	assert.Equal(t, 1, b.Calls())
}

func TestClassifyCacheHitSkipsBackend(t *testing.T) {
	b := newCounting("stub", "cheap")
	r := newTestRouter(t, newTestRegistry(b), &fakeEmbedder{})

	req := models.ClassificationRequest{
		PromptText:  "Acme wins defense contract",
		FeatureName: "catalyst-classify",
	}

	first, err := r.Classify(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	second, err := r.Classify(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, "cache", second.BackendUsed)
	assert.Equal(t, first.Payload, second.Payload)
	assert.Zero(t, second.CostEstimate)
	assert.Equal(t, 1, b.Calls(), "cache hit must not touch a backend")
}

func TestClassifyDistinctPromptsMissCache(t *testing.T) {
	b := newCounting("stub", "cheap")
	r := newTestRouter(t, newTestRegistry(b), &fakeEmbedder{vecs: map[string][]float32{
		"Acme wins defense contract":    {1, 0, 0, 0},
		"Beta recalls flagship product": {0, 1, 0, 0},
	}})

	_, err := r.Classify(context.Background(), models.ClassificationRequest{
		PromptText:  "Acme wins defense contract",
		FeatureName: "catalyst-classify",
	})
	require.NoError(t, err)

	_, err = r.Classify(context.Background(), models.ClassificationRequest{
		PromptText:  "Beta recalls flagship product",
		FeatureName: "catalyst-classify",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, b.Calls())
}

func TestClassifyFailsOverToHealthyBackend(t *testing.T) {
	bad := newCounting("bad", "cheap")
	bad.fail = true
	good := newCounting("good", "mid")

	r := newTestRouter(t, newTestRegistry(bad, good), &fakeEmbedder{})

	result, err := r.Classify(context.Background(), models.ClassificationRequest{
		PromptText:  "Acme wins defense contract",
		FeatureName: "catalyst-classify",
	})
	require.NoError(t, err)

	assert.Equal(t, "good", result.BackendUsed)
	assert.Equal(t, 1, good.Calls())
	assert.LessOrEqual(t, bad.Calls(), 1)
}

func TestClassifyExhaustionReturnsError(t *testing.T) {
	bad1 := newCounting("bad1", "cheap")
	bad1.fail = true
	bad2 := newCounting("bad2", "mid")
	bad2.fail = true

	r := newTestRouter(t, newTestRegistry(bad1, bad2), &fakeEmbedder{})

	_, err := r.Classify(context.Background(), models.ClassificationRequest{
		PromptText:  "Acme wins defense contract",
		FeatureName: "catalyst-classify",
	})
	assert.ErrorIs(t, err, ErrClassificationFailed)
	assert.Equal(t, 1, bad1.Calls())
	assert.Equal(t, 1, bad2.Calls())
}

func TestClassifyTimeoutCountsAgainstBreaker(t *testing.T) {
	slow := newCounting("slow", "cheap")
	slow.block = true

	registry := newTestRegistry(slow)
	r := newTestRouter(t, registry, &fakeEmbedder{})

	_, err := r.Classify(context.Background(), models.ClassificationRequest{
		PromptText:       "Acme wins defense contract",
		FeatureName:      "catalyst-classify",
		MaxLatencyBudget: 50 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrClassificationFailed)

	states := registry.States()
	require.Len(t, states, 1)
	assert.Equal(t, uint32(1), states[0].ConsecutiveFailures)
}

func TestClassifyEmbedderFailureSkipsCacheNotRequest(t *testing.T) {
	b := newCounting("stub", "cheap")
	r := newTestRouter(t, newTestRegistry(b), &fakeEmbedder{err: errors.New("embedding service down")})

	req := models.ClassificationRequest{
		PromptText:  "Acme wins defense contract",
		FeatureName: "catalyst-classify",
	}

	result, err := r.Classify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.CacheHit)

	// No embedding means no cache writes either; the repeat goes to the
	// backend again.
	_, err = r.Classify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Calls())
}
