package backends

import (
	"context"
	"time"

	"github.com/catalyst-agent/backend/internal/models"
)

// Descriptor is a backend's static configuration: read-only at runtime,
// only the attached circuit-breaker state changes.
type Descriptor struct {
	Name            string
	Tier            string
	CostPerCall     float64
	ExpectedLatency time.Duration
	MaxComplexity   int
}

// Backend is the single capability every classification backend
// exposes. The router treats local heuristics and cloud models
// identically through it.
type Backend interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, promptText string) (models.ResultPayload, error)
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
