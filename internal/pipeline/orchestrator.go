package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/catalyst-agent/backend/internal/backends"
	"github.com/catalyst-agent/backend/internal/cache"
	"github.com/catalyst-agent/backend/internal/dedup"
	"github.com/catalyst-agent/backend/internal/metrics"
	"github.com/catalyst-agent/backend/internal/models"
	"github.com/catalyst-agent/backend/internal/notify"
	"github.com/catalyst-agent/backend/internal/router"
	"github.com/catalyst-agent/backend/pkg/logger"
)

// ErrOverloaded means the bounded work queue stayed full past the
// submit timeout. The caller should back off; the drop is counted.
var ErrOverloaded = errors.New("ingestion queue overloaded")

type Config struct {
	Workers            int
	QueueCapacity      int
	SubmitTimeout      time.Duration
	ShutdownGrace      time.Duration
	DedupWindow        time.Duration
	DedupSweepInterval time.Duration
	CacheSweepInterval time.Duration
	DegradedFallback   bool
	FeatureName        string
}

func (cfg *Config) normalize() {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 2 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 15 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 2 * time.Hour
	}
	if cfg.DedupSweepInterval <= 0 {
		cfg.DedupSweepInterval = 5 * time.Minute
	}
	if cfg.CacheSweepInterval <= 0 {
		cfg.CacheSweepInterval = 5 * time.Minute
	}
	if cfg.FeatureName == "" {
		cfg.FeatureName = "catalyst-classify"
	}
}

// Orchestrator is the only component aware of the full pipeline shape:
// raw item -> dedup check -> (if new) classification -> result emission.
// Source adapters call Submit; a bounded worker pool does the rest.
type Orchestrator struct {
	store    *dedup.Store
	fp       *dedup.Fingerprinter
	router   *router.Router
	cache    *cache.ResponseCache
	notifier notify.Notifier
	fallback backends.Backend

	cfg   Config
	queue chan models.CatalystItem

	mu     sync.RWMutex
	closed bool

	cancel  context.CancelFunc
	workers *errgroup.Group
}

func NewOrchestrator(store *dedup.Store, fp *dedup.Fingerprinter, rtr *router.Router, responseCache *cache.ResponseCache, notifier notify.Notifier, fallback backends.Backend, cfg Config) *Orchestrator {
	cfg.normalize()

	return &Orchestrator{
		store:    store,
		fp:       fp,
		router:   rtr,
		cache:    responseCache,
		notifier: notifier,
		fallback: fallback,
		cfg:      cfg,
		queue:    make(chan models.CatalystItem, cfg.QueueCapacity),
	}
}

// Start launches the worker pool and the expiry sweeper.
func (o *Orchestrator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	o.workers = g

	for i := 0; i < o.cfg.Workers; i++ {
		g.Go(func() error {
			o.workerLoop(gctx)
			return nil
		})
	}

	// The sweeper lives outside the worker group so draining the queue
	// on shutdown does not wait on a ticker.
	go o.sweepLoop(ctx)

	logger.Info("Orchestrator started",
		zap.Int("workers", o.cfg.Workers),
		zap.Int("queue_capacity", o.cfg.QueueCapacity),
		zap.Duration("dedup_window", o.cfg.DedupWindow),
	)
}

// Submit runs the dedup check and, for a first sighting, enqueues the
// item for classification. It may return before classification
// finishes. A store failure fails closed: the item is dropped and the
// error surfaced, because processing anyway could double-alert.
func (o *Orchestrator) Submit(ctx context.Context, item models.CatalystItem) (dedup.Result, error) {
	metrics.ItemsSubmitted.WithLabelValues(item.SourceName).Inc()

	fingerprint := o.fp.Fingerprint(item)

	res, err := o.store.CheckAndMark(ctx, fingerprint, o.cfg.DedupWindow)
	if err != nil {
		metrics.ItemsDropped.WithLabelValues("store_unavailable").Inc()
		logger.Error("Dedup store unavailable, dropping item",
			zap.String("source", item.SourceName),
			zap.String("title", item.Title),
			zap.Error(err),
		)
		return dedup.Duplicate, err
	}

	if res == dedup.Duplicate {
		metrics.ItemsDuplicate.WithLabelValues(item.SourceName).Inc()
		logger.Debug("Duplicate event discarded",
			zap.String("fingerprint", fingerprint),
			zap.String("source", item.SourceName),
		)
		return dedup.Duplicate, nil
	}

	if err := o.enqueue(ctx, item); err != nil {
		metrics.ItemsDropped.WithLabelValues("overloaded").Inc()
		return dedup.New, err
	}

	metrics.QueueDepth.Set(float64(len(o.queue)))
	return dedup.New, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, item models.CatalystItem) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return ErrOverloaded
	}

	timer := time.NewTimer(o.cfg.SubmitTimeout)
	defer timer.Stop()

	select {
	case o.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrOverloaded
	}
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-o.queue:
			if !ok {
				return
			}
			metrics.QueueDepth.Set(float64(len(o.queue)))
			o.process(ctx, item)
		}
	}
}

// process classifies one deduplicated item and emits the result. A
// failure here never crashes the pool or sticks the queue.
func (o *Orchestrator) process(ctx context.Context, item models.CatalystItem) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ItemsDropped.WithLabelValues("panic").Inc()
			logger.Error("Worker recovered from panic",
				zap.Any("panic", r),
				zap.String("title", item.Title),
			)
		}
	}()

	req := models.ClassificationRequest{
		PromptText:  buildPrompt(item),
		FeatureName: o.cfg.FeatureName,
	}

	result, err := o.router.Classify(ctx, req)
	if err != nil {
		result = o.degraded(ctx, req, err)
		if result == nil {
			metrics.ItemsDropped.WithLabelValues("classification_failed").Inc()
			logger.Warn("Item dropped after classification failure",
				zap.String("source", item.SourceName),
				zap.String("title", item.Title),
				zap.Error(err),
			)
			return
		}
	}

	result.Ticker = item.Ticker
	result.Title = item.Title
	result.SourceName = item.SourceName

	if err := o.notifier.Deliver(ctx, result); err != nil {
		metrics.ResultsDelivered.WithLabelValues("error").Inc()
		logger.Warn("Result delivery failed",
			zap.String("id", result.ID),
			zap.Error(err),
		)
		return
	}
	metrics.ResultsDelivered.WithLabelValues("ok").Inc()
}

// degraded produces a local heuristic result when every backend option
// is exhausted, if the deployment opted in.
func (o *Orchestrator) degraded(ctx context.Context, req models.ClassificationRequest, cause error) *models.ClassificationResult {
	if !o.cfg.DegradedFallback || o.fallback == nil {
		return nil
	}

	payload, err := o.fallback.Invoke(ctx, req.PromptText)
	if err != nil {
		return nil
	}

	logger.Warn("Emitting degraded result from local heuristic",
		zap.Error(cause),
	)

	return &models.ClassificationResult{
		ID:          uuid.New().String(),
		Request:     req,
		BackendUsed: o.fallback.Descriptor().Name,
		Payload:     payload,
		Degraded:    true,
		CreatedAt:   time.Now(),
	}
}

func (o *Orchestrator) sweepLoop(ctx context.Context) {
	dedupTicker := time.NewTicker(o.cfg.DedupSweepInterval)
	cacheTicker := time.NewTicker(o.cfg.CacheSweepInterval)
	defer dedupTicker.Stop()
	defer cacheTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dedupTicker.C:
			if _, err := o.store.Sweep(ctx); err != nil {
				logger.Warn("Dedup sweep failed", zap.Error(err))
			}
		case <-cacheTicker.C:
			if o.cache == nil {
				continue
			}
			if _, err := o.cache.Sweep(ctx); err != nil {
				logger.Warn("Cache sweep failed", zap.Error(err))
			}
		}
	}
}

// Shutdown stops intake, drains the queue within the grace period, then
// cancels whatever is still in flight.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.cancel == nil {
		return nil
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	logger.Info("Orchestrator draining", zap.Int("queued", len(o.queue)))

	done := make(chan struct{})
	go func() {
		o.workers.Wait()
		close(done)
	}()

	grace := time.NewTimer(o.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		logger.Warn("Shutdown grace expired, cancelling in-flight work")
		o.cancel()
		<-done
	case <-ctx.Done():
		o.cancel()
		<-done
	}

	o.cancel()
	logger.Info("Orchestrator stopped")
	return nil
}

// QueueDepth reports the number of items waiting for a worker.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

func (o *Orchestrator) QueueCapacity() int {
	return o.cfg.QueueCapacity
}

func buildPrompt(item models.CatalystItem) string {
	var b strings.Builder

	if item.Ticker != "" {
		fmt.Fprintf(&b, "Ticker: %s\n", strings.ToUpper(item.Ticker))
	}
	fmt.Fprintf(&b, "Source: %s\n", item.SourceName)
	fmt.Fprintf(&b, "Headline: %s\n", item.Title)
	if item.BodyExcerpt != "" {
		fmt.Fprintf(&b, "Body: %s\n", item.BodyExcerpt)
	}

	return b.String()
}
