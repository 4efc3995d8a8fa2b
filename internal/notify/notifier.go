package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/catalyst-agent/backend/internal/models"
	"github.com/catalyst-agent/backend/pkg/logger"
)

// Notifier receives terminal classification results. Implementations
// own their delivery guarantees; a slow or failing notifier must never
// block the worker pool.
type Notifier interface {
	Deliver(ctx context.Context, result *models.ClassificationResult) error
}

// LogNotifier writes results to the structured log. Useful as a default
// sink and in development.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Deliver(ctx context.Context, result *models.ClassificationResult) error {
	logger.Info("Classification result",
		zap.String("id", result.ID),
		zap.String("ticker", result.Ticker),
		zap.String("title", result.Title),
		zap.String("backend", result.BackendUsed),
		zap.String("label", result.Payload.Label),
		zap.Float64("score", result.Payload.Score),
		zap.Bool("cache_hit", result.CacheHit),
		zap.Bool("degraded", result.Degraded),
		zap.Int("latency_ms", result.LatencyMS),
	)
	return nil
}

// Fanout delivers to every notifier, collecting nothing: a failure in
// one sink is logged and does not stop the others.
type Fanout struct {
	notifiers []Notifier
}

func NewFanout(notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers}
}

func (f *Fanout) Deliver(ctx context.Context, result *models.ClassificationResult) error {
	for _, n := range f.notifiers {
		if err := n.Deliver(ctx, result); err != nil {
			logger.Warn("Notifier delivery failed", zap.Error(err))
		}
	}
	return nil
}
