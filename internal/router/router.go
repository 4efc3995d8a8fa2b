package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catalyst-agent/backend/internal/backends"
	"github.com/catalyst-agent/backend/internal/cache"
	"github.com/catalyst-agent/backend/internal/embedding"
	"github.com/catalyst-agent/backend/internal/metrics"
	"github.com/catalyst-agent/backend/internal/models"
	"github.com/catalyst-agent/backend/pkg/logger"
)

// ErrClassificationFailed means every retry and fallback option was
// exhausted. The caller decides whether to drop or emit a degraded
// result.
var ErrClassificationFailed = errors.New("classification failed")

type Config struct {
	MaxAttempts    int
	DefaultTimeout time.Duration
	CacheTTL       time.Duration
}

// Router orchestrates one classification request: semantic cache
// lookup, complexity scoring, tiered backend selection, invocation with
// timeout, and failover to the next-best backend on failure.
type Router struct {
	cache          *cache.ResponseCache
	registry       *backends.Registry
	embedder       embedding.Embedder
	scorer         *Scorer
	maxAttempts    int
	defaultTimeout time.Duration
	cacheTTL       time.Duration
}

func NewRouter(responseCache *cache.ResponseCache, registry *backends.Registry, embedder embedding.Embedder, cfg Config) *Router {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}

	return &Router{
		cache:          responseCache,
		registry:       registry,
		embedder:       embedder,
		scorer:         NewScorer(),
		maxAttempts:    cfg.MaxAttempts,
		defaultTimeout: cfg.DefaultTimeout,
		cacheTTL:       cfg.CacheTTL,
	}
}

// Classify runs the full request path. The cache is consulted first; a
// hit costs nothing and touches no backend. Cache failures of any kind
// downgrade to a miss, never a request failure.
func (r *Router) Classify(ctx context.Context, req models.ClassificationRequest) (*models.ClassificationResult, error) {
	start := time.Now()

	emb, err := r.embedder.Embed(ctx, req.PromptText)
	if err != nil {
		logger.Warn("Embedding failed, skipping cache",
			zap.String("feature", req.FeatureName),
			zap.Error(err),
		)
		emb = nil
	}

	if emb != nil {
		entry, ok, err := r.cache.Lookup(ctx, req.FeatureName, req.PromptText, emb)
		if err != nil {
			logger.Warn("Cache lookup failed, treating as miss", zap.Error(err))
		} else if ok {
			metrics.CacheHits.WithLabelValues("semantic").Inc()
			return &models.ClassificationResult{
				ID:           uuid.New().String(),
				Request:      req,
				BackendUsed:  "cache",
				Payload:      entry.Payload,
				CacheHit:     true,
				LatencyMS:    int(time.Since(start).Milliseconds()),
				CostEstimate: 0,
				CreatedAt:    time.Now(),
			}, nil
		}
	}
	metrics.CacheMisses.WithLabelValues("semantic").Inc()

	score := r.scorer.Score(req)
	timeout := req.MaxLatencyBudget
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	exclude := make(map[string]bool)
	var lastErr error

	sel, err := r.registry.Select(score)
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err != nil {
			lastErr = err
			break
		}

		payload, invErr := r.invoke(ctx, sel, req.PromptText, timeout)
		if invErr == nil {
			r.registry.ReportOutcome(sel, backends.OutcomeSuccess)
			metrics.BackendInvocations.WithLabelValues(sel.Name(), "success").Inc()

			desc := sel.Backend().Descriptor()
			metrics.ClassificationCost.WithLabelValues(sel.Name()).Add(desc.CostPerCall)

			if emb != nil {
				if err := r.cache.Store(ctx, req.FeatureName, req.PromptText, emb, payload, r.cacheTTL); err != nil {
					logger.Warn("Cache store failed", zap.Error(err))
				}
			}

			latency := time.Since(start)
			metrics.ClassifyDuration.WithLabelValues(sel.Name()).Observe(latency.Seconds())

			return &models.ClassificationResult{
				ID:           uuid.New().String(),
				Request:      req,
				BackendUsed:  sel.Name(),
				Payload:      payload,
				CacheHit:     false,
				LatencyMS:    int(latency.Milliseconds()),
				CostEstimate: desc.CostPerCall,
				CreatedAt:    time.Now(),
			}, nil
		}

		outcome := backends.OutcomeFailure
		if errors.Is(invErr, context.DeadlineExceeded) {
			outcome = backends.OutcomeTimeout
		}
		r.registry.ReportOutcome(sel, outcome)
		metrics.BackendInvocations.WithLabelValues(sel.Name(), outcome.String()).Inc()

		logger.Warn("Backend invocation failed",
			zap.String("backend", sel.Name()),
			zap.Int("attempt", attempt),
			zap.String("outcome", outcome.String()),
			zap.Error(invErr),
		)

		lastErr = invErr
		exclude[sel.Name()] = true
		sel, err = r.registry.NextBest(score, exclude)
	}

	return nil, fmt.Errorf("%w: %s", ErrClassificationFailed, lastErr)
}

// invoke calls one backend under a hard timeout. On deadline the call
// is abandoned; the backend's context is cancelled and the outcome is
// counted against its breaker.
func (r *Router) invoke(ctx context.Context, sel *backends.Selection, promptText string, timeout time.Duration) (models.ResultPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return sel.Backend().Invoke(ctx, promptText)
}
