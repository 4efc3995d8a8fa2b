package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	MaxRequests      uint32
	FailureThreshold uint32
	Cooldown         time.Duration
	MaxCooldown      time.Duration
	OnStateChange    func(name string, from State, to State)
	Logger           *zap.Logger
	Clock            func() time.Time
}

// CircuitBreaker tracks the health of a single classification backend.
// The caller owns the I/O: Allow gates a request, Record reports its
// outcome. The open cooldown doubles on every consecutive trip and
// resets once the breaker closes again.
type CircuitBreaker struct {
	name             string
	maxRequests      uint32
	failureThreshold uint32
	cooldown         time.Duration
	maxCooldown      time.Duration
	onStateChange    func(name string, from State, to State)
	logger           *zap.Logger
	now              func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     counts
	trips      uint32
	expiry     time.Time
}

type counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		maxRequests:      cfg.MaxRequests,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		maxCooldown:      cfg.MaxCooldown,
		onStateChange:    cfg.OnStateChange,
		logger:           cfg.Logger,
		now:              cfg.Clock,
	}

	if cb.maxRequests == 0 {
		cb.maxRequests = 1
	}
	if cb.failureThreshold == 0 {
		cb.failureThreshold = 5
	}
	if cb.cooldown == 0 {
		cb.cooldown = 30 * time.Second
	}
	if cb.maxCooldown == 0 {
		cb.maxCooldown = 10 * time.Minute
	}
	if cb.now == nil {
		cb.now = time.Now
	}

	cb.toNewGeneration()

	return cb
}

// Allow reports whether a request may be sent to the backend right now.
// The returned generation must be passed back to Record so that an
// outcome from a previous generation cannot poison the current one.
func (cb *CircuitBreaker) Allow() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, generation := cb.currentState(cb.now())

	if state == StateOpen {
		return generation, ErrCircuitOpen
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.maxRequests {
		return generation, ErrTooManyRequests
	}

	cb.counts.Requests++
	return generation, nil
}

func (cb *CircuitBreaker) Record(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	state, current := cb.currentState(now)
	if current != generation {
		return
	}

	if success {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	cb.counts.TotalSuccesses++
	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0

	if state == StateHalfOpen {
		cb.trips = 0
		cb.setState(StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(state State, now time.Time) {
	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	if state == StateClosed && cb.counts.ConsecutiveFailures >= cb.failureThreshold {
		cb.setState(StateOpen, now)
	} else if state == StateHalfOpen {
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) (State, uint64) {
	if cb.state == StateOpen && cb.expiry.Before(now) {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	if state == StateOpen {
		cb.trips++
		cb.expiry = now.Add(cb.openCooldown())
	}

	cb.toNewGeneration()

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	if cb.logger != nil {
		cb.logger.Info("Circuit breaker state changed",
			zap.String("name", cb.name),
			zap.String("from", prev.String()),
			zap.String("to", state.String()),
			zap.Uint32("trips", cb.trips),
		)
	}
}

// openCooldown doubles with each consecutive trip, capped at maxCooldown.
func (cb *CircuitBreaker) openCooldown() time.Duration {
	d := cb.cooldown
	for i := uint32(1); i < cb.trips; i++ {
		d *= 2
		if d >= cb.maxCooldown {
			return cb.maxCooldown
		}
	}
	if d > cb.maxCooldown {
		d = cb.maxCooldown
	}
	return d
}

func (cb *CircuitBreaker) toNewGeneration() {
	cb.generation++
	cb.counts = counts{}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, _ := cb.currentState(cb.now())
	return state
}

func (cb *CircuitBreaker) ConsecutiveFailures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.counts.ConsecutiveFailures
}
