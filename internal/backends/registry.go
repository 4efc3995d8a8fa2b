package backends

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/catalyst-agent/backend/internal/metrics"
	"github.com/catalyst-agent/backend/pkg/circuitbreaker"
	"github.com/catalyst-agent/backend/pkg/logger"
)

// ErrNoBackendAvailable means every registered backend is tripped open;
// the caller decides whether to drop or degrade.
var ErrNoBackendAvailable = errors.New("no classification backend available")

type entry struct {
	backend Backend
	breaker *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Selection is a granted routing decision. It carries the breaker
// generation so the outcome report cannot poison a later generation.
type Selection struct {
	entry      *entry
	generation uint64
}

func (s *Selection) Backend() Backend {
	return s.entry.backend
}

func (s *Selection) Name() string {
	return s.entry.backend.Descriptor().Name
}

type Config struct {
	FailureThreshold uint32
	Cooldown         time.Duration
	MaxCooldown      time.Duration
	// Weights maps a complexity band (low/mid/high) to tier weights.
	Weights map[string]map[string]int
}

// Registry holds the backend set with per-backend circuit breakers and
// rate limiters, and picks a backend per request by weighted random
// choice among the healthy and capable ones.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	byName  map[string]*entry

	weights    map[string]map[string]int
	breakerCfg Config

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Weights == nil {
		cfg.Weights = map[string]map[string]int{
			"low":  {"cheap": 70, "mid": 25, "premium": 5},
			"mid":  {"mid": 80, "premium": 20},
			"high": {"premium": 100},
		}
	}

	return &Registry{
		byName:     make(map[string]*entry),
		weights:    cfg.Weights,
		breakerCfg: cfg,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register adds a backend. ratePerSec <= 0 disables rate limiting for
// that backend.
func (r *Registry) Register(b Backend, ratePerSec float64, burst int) {
	desc := b.Descriptor()

	breaker := circuitbreaker.NewCircuitBreaker(desc.Name, circuitbreaker.Config{
		MaxRequests:      1,
		FailureThreshold: r.breakerCfg.FailureThreshold,
		Cooldown:         r.breakerCfg.Cooldown,
		MaxCooldown:      r.breakerCfg.MaxCooldown,
		Logger:           logger.GetLogger(),
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	var limiter *rate.Limiter
	if ratePerSec > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}

	e := &entry{backend: b, breaker: breaker, limiter: limiter}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.byName[desc.Name] = e
	r.mu.Unlock()
}

// Select picks a backend for the given complexity score.
func (r *Registry) Select(complexity int) (*Selection, error) {
	return r.selectExcluding(complexity, nil)
}

// NextBest picks a backend like Select, skipping names already tried.
func (r *Registry) NextBest(complexity int, exclude map[string]bool) (*Selection, error) {
	return r.selectExcluding(complexity, exclude)
}

func (r *Registry) selectExcluding(complexity int, exclude map[string]bool) (*Selection, error) {
	r.mu.RLock()
	entries := make([]*entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	band := bandFor(complexity)
	tierWeights := r.weights[band]

	var candidates []*entry
	for _, e := range entries {
		desc := e.backend.Descriptor()
		if exclude[desc.Name] {
			continue
		}
		if desc.MaxComplexity < complexity {
			continue
		}
		if e.breaker.State() == circuitbreaker.StateOpen {
			continue
		}
		candidates = append(candidates, e)
	}

	for len(candidates) > 0 {
		i := r.weightedPick(candidates, tierWeights)
		picked := candidates[i]
		candidates = append(candidates[:i], candidates[i+1:]...)

		if picked.limiter != nil && !picked.limiter.Allow() {
			logger.Debug("Backend rate limited, skipping",
				zap.String("backend", picked.backend.Descriptor().Name))
			continue
		}

		gen, err := picked.breaker.Allow()
		if err != nil {
			continue
		}

		return &Selection{entry: picked, generation: gen}, nil
	}

	// No tier-eligible backend: fall back to the healthiest non-open
	// backend regardless of tier or complexity ceiling.
	var best *entry
	var bestFailures uint32
	for _, e := range entries {
		if exclude[e.backend.Descriptor().Name] {
			continue
		}
		if e.breaker.State() == circuitbreaker.StateOpen {
			continue
		}
		failures := e.breaker.ConsecutiveFailures()
		if best == nil || failures < bestFailures {
			best = e
			bestFailures = failures
		}
	}
	if best != nil {
		if gen, err := best.breaker.Allow(); err == nil {
			return &Selection{entry: best, generation: gen}, nil
		}
	}

	return nil, ErrNoBackendAvailable
}

// ReportOutcome feeds a request outcome into the selected backend's
// circuit breaker. Timeouts count as failures.
func (r *Registry) ReportOutcome(sel *Selection, outcome Outcome) {
	sel.entry.breaker.Record(sel.generation, outcome == OutcomeSuccess)
}

type Status struct {
	Name                string  `json:"name"`
	Tier                string  `json:"tier"`
	State               string  `json:"state"`
	ConsecutiveFailures uint32  `json:"consecutive_failures"`
	CostPerCall         float64 `json:"cost_per_call"`
	MaxComplexity       int     `json:"max_complexity"`
}

// States reports every backend's descriptor and breaker state.
func (r *Registry) States() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		desc := e.backend.Descriptor()
		statuses = append(statuses, Status{
			Name:                desc.Name,
			Tier:                desc.Tier,
			State:               e.breaker.State().String(),
			ConsecutiveFailures: e.breaker.ConsecutiveFailures(),
			CostPerCall:         desc.CostPerCall,
			MaxComplexity:       desc.MaxComplexity,
		})
	}

	return statuses
}

func (r *Registry) weightedPick(candidates []*entry, tierWeights map[string]int) int {
	sum := 0
	for _, e := range candidates {
		sum += tierWeights[e.backend.Descriptor().Tier]
	}

	r.rngMu.Lock()
	defer r.rngMu.Unlock()

	if sum == 0 {
		return r.rng.Intn(len(candidates))
	}

	roll := r.rng.Intn(sum)
	for i, e := range candidates {
		roll -= tierWeights[e.backend.Descriptor().Tier]
		if roll < 0 {
			return i
		}
	}

	return len(candidates) - 1
}

// bandFor buckets a complexity score into the routing table's bands.
func bandFor(complexity int) string {
	switch {
	case complexity <= 33:
		return "low"
	case complexity <= 66:
		return "mid"
	default:
		return "high"
	}
}
