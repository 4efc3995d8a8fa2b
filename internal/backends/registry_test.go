package backends

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalyst-agent/backend/internal/models"
)

type stubBackend struct {
	desc Descriptor
	err  error
}

func (s *stubBackend) Descriptor() Descriptor {
	return s.desc
}

func (s *stubBackend) Invoke(ctx context.Context, promptText string) (models.ResultPayload, error) {
	if s.err != nil {
		return models.ResultPayload{}, s.err
	}
	return models.ResultPayload{Label: "neutral"}, nil
}

func stub(name, tier string, maxComplexity int) *stubBackend {
	return &stubBackend{desc: Descriptor{
		Name:          name,
		Tier:          tier,
		MaxComplexity: maxComplexity,
	}}
}

func newTestRegistry() *Registry {
	return NewRegistry(Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		MaxCooldown:      10 * time.Minute,
	})
}

// tripBackend drives one backend's breaker open by repeatedly selecting
// it with everything else excluded.
func tripBackend(t *testing.T, r *Registry, name string, others []string) {
	t.Helper()

	exclude := make(map[string]bool)
	for _, o := range others {
		exclude[o] = true
	}

	for i := 0; i < 5; i++ {
		sel, err := r.NextBest(10, exclude)
		require.NoError(t, err)
		require.Equal(t, name, sel.Name())
		r.ReportOutcome(sel, OutcomeFailure)
	}
}

func TestSelectWeightedDistribution(t *testing.T) {
	r := newTestRegistry()
	r.Register(stub("cheap-1", "cheap", 100), 0, 0)
	r.Register(stub("mid-1", "mid", 100), 0, 0)
	r.Register(stub("premium-1", "premium", 100), 0, 0)

	const trials = 2000
	counts := make(map[string]int)
	for i := 0; i < trials; i++ {
		sel, err := r.Select(10)
		require.NoError(t, err)
		counts[sel.Name()]++
		r.ReportOutcome(sel, OutcomeSuccess)
	}

	assert.InDelta(t, 0.70, float64(counts["cheap-1"])/trials, 0.05)
	assert.InDelta(t, 0.25, float64(counts["mid-1"])/trials, 0.05)
	assert.Greater(t, counts["premium-1"], 0)
}

func TestSelectHighComplexityRoutesToPremium(t *testing.T) {
	r := newTestRegistry()
	r.Register(stub("cheap-1", "cheap", 100), 0, 0)
	r.Register(stub("premium-1", "premium", 100), 0, 0)

	for i := 0; i < 100; i++ {
		sel, err := r.Select(90)
		require.NoError(t, err)
		assert.Equal(t, "premium-1", sel.Name())
		r.ReportOutcome(sel, OutcomeSuccess)
	}
}

func TestSelectSkipsBackendOverComplexityCeiling(t *testing.T) {
	r := newTestRegistry()
	r.Register(stub("small", "cheap", 30), 0, 0)
	r.Register(stub("big", "cheap", 100), 0, 0)

	for i := 0; i < 50; i++ {
		sel, err := r.Select(60)
		require.NoError(t, err)
		assert.Equal(t, "big", sel.Name())
		r.ReportOutcome(sel, OutcomeSuccess)
	}
}

func TestSelectZeroTrafficToOpenBreaker(t *testing.T) {
	r := newTestRegistry()
	r.Register(stub("flaky", "cheap", 100), 0, 0)
	r.Register(stub("healthy", "cheap", 100), 0, 0)

	tripBackend(t, r, "flaky", []string{"healthy"})

	for i := 0; i < 200; i++ {
		sel, err := r.Select(10)
		require.NoError(t, err)
		assert.Equal(t, "healthy", sel.Name())
		r.ReportOutcome(sel, OutcomeSuccess)
	}
}

func TestSelectAllOpenReturnsNoBackendAvailable(t *testing.T) {
	r := newTestRegistry()
	r.Register(stub("only", "cheap", 100), 0, 0)

	tripBackend(t, r, "only", nil)

	_, err := r.Select(10)
	assert.True(t, errors.Is(err, ErrNoBackendAvailable))
}

func TestSelectFallbackIgnoresComplexityCeiling(t *testing.T) {
	r := newTestRegistry()
	r.Register(stub("small", "cheap", 30), 0, 0)

	// Nothing can take a score of 90, but dropping the request would be
	// worse than a lower-quality answer.
	sel, err := r.Select(90)
	require.NoError(t, err)
	assert.Equal(t, "small", sel.Name())
}

func TestSelectSkipsRateLimitedBackend(t *testing.T) {
	r := newTestRegistry()
	r.Register(stub("limited", "cheap", 100), 0.001, 1)
	r.Register(stub("open", "cheap", 100), 0, 0)

	countLimited := 0
	for i := 0; i < 50; i++ {
		sel, err := r.Select(10)
		require.NoError(t, err)
		if sel.Name() == "limited" {
			countLimited++
		}
		r.ReportOutcome(sel, OutcomeSuccess)
	}

	// One token in the bucket, essentially no refill during the test.
	assert.LessOrEqual(t, countLimited, 1)
}

func TestNextBestExcludesTriedBackends(t *testing.T) {
	r := newTestRegistry()
	r.Register(stub("first", "cheap", 100), 0, 0)
	r.Register(stub("second", "cheap", 100), 0, 0)

	sel, err := r.Select(10)
	require.NoError(t, err)

	next, err := r.NextBest(10, map[string]bool{sel.Name(): true})
	require.NoError(t, err)
	assert.NotEqual(t, sel.Name(), next.Name())

	_, err = r.NextBest(10, map[string]bool{"first": true, "second": true})
	assert.True(t, errors.Is(err, ErrNoBackendAvailable))
}

func TestStatesReportsAllBackends(t *testing.T) {
	r := newTestRegistry()
	r.Register(stub("a", "cheap", 100), 0, 0)
	r.Register(stub("b", "premium", 100), 0, 0)

	states := r.States()
	require.Len(t, states, 2)
	assert.Equal(t, "a", states[0].Name)
	assert.Equal(t, "closed", states[0].State)
	assert.Equal(t, "b", states[1].Name)
	assert.Equal(t, "premium", states[1].Tier)
}
