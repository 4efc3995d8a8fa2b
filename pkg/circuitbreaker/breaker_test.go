package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return NewCircuitBreaker("test-backend", Config{
		MaxRequests:      1,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		MaxCooldown:      10 * time.Minute,
		Clock:            clock.Now,
	})
}

func tripBreaker(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 5; i++ {
		gen, err := cb.Allow()
		require.NoError(t, err)
		cb.Record(gen, false)
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	assert.Equal(t, StateClosed, cb.State())

	_, err := cb.Allow()
	assert.NoError(t, err)
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	for i := 0; i < 4; i++ {
		gen, err := cb.Allow()
		require.NoError(t, err)
		cb.Record(gen, false)
		assert.Equal(t, StateClosed, cb.State(), "breaker opened early at failure %d", i+1)
	}

	gen, err := cb.Allow()
	require.NoError(t, err)
	cb.Record(gen, false)

	assert.Equal(t, StateOpen, cb.State())

	_, err = cb.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	for i := 0; i < 4; i++ {
		gen, err := cb.Allow()
		require.NoError(t, err)
		cb.Record(gen, false)
	}

	gen, err := cb.Allow()
	require.NoError(t, err)
	cb.Record(gen, true)

	// Four more failures should not trip; the streak restarted.
	for i := 0; i < 4; i++ {
		gen, err := cb.Allow()
		require.NoError(t, err)
		cb.Record(gen, false)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenAllowsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	tripBreaker(t, cb)
	clock.Advance(31 * time.Second)

	assert.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Allow()
	require.NoError(t, err)

	_, err = cb.Allow()
	assert.ErrorIs(t, err, ErrTooManyRequests)
}

func TestBreakerClosesAfterHalfOpenSuccess(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	tripBreaker(t, cb)
	clock.Advance(31 * time.Second)

	gen, err := cb.Allow()
	require.NoError(t, err)
	cb.Record(gen, true)

	assert.Equal(t, StateClosed, cb.State())

	_, err = cb.Allow()
	assert.NoError(t, err)
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	tripBreaker(t, cb)
	clock.Advance(31 * time.Second)

	gen, err := cb.Allow()
	require.NoError(t, err)
	cb.Record(gen, false)

	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerCooldownDoublesPerTrip(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	tripBreaker(t, cb)
	clock.Advance(31 * time.Second)

	// Fail the half-open trial: second trip, cooldown now 60s.
	gen, err := cb.Allow()
	require.NoError(t, err)
	cb.Record(gen, false)

	clock.Advance(59 * time.Second)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreakerCooldownCapped(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("test-backend", Config{
		MaxRequests:      1,
		FailureThreshold: 1,
		Cooldown:         30 * time.Second,
		MaxCooldown:      time.Minute,
		Clock:            clock.Now,
	})

	// Trip repeatedly; cooldown should never exceed MaxCooldown.
	for trip := 0; trip < 6; trip++ {
		if cb.State() == StateHalfOpen || cb.State() == StateClosed {
			gen, err := cb.Allow()
			require.NoError(t, err)
			cb.Record(gen, false)
		}
		require.Equal(t, StateOpen, cb.State())
		clock.Advance(61 * time.Second)
		require.Equal(t, StateHalfOpen, cb.State(), "trip %d exceeded max cooldown", trip+1)
	}
}

func TestBreakerIgnoresStaleGenerationOutcome(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	staleGen, err := cb.Allow()
	require.NoError(t, err)

	tripBreaker(t, cb)
	clock.Advance(31 * time.Second)

	gen, err := cb.Allow()
	require.NoError(t, err)

	// A late failure report from before the trip must not poison the
	// half-open trial.
	cb.Record(staleGen, false)
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.Record(gen, true)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerConcurrentRecords(t *testing.T) {
	cb := NewCircuitBreaker("test-backend", Config{
		MaxRequests:      1,
		FailureThreshold: 1000,
		Cooldown:         30 * time.Second,
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen, err := cb.Allow()
			if err != nil {
				return
			}
			cb.Record(gen, false)
		}()
	}
	wg.Wait()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(100), cb.ConsecutiveFailures())
}
