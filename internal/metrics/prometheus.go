package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ItemsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_items_submitted_total",
			Help: "Total items submitted by source adapters",
		},
		[]string{"source"},
	)

	ItemsDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_items_duplicate_total",
			Help: "Items discarded as duplicates of an already-seen event",
		},
		[]string{"source"},
	)

	ItemsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_items_dropped_total",
			Help: "Items dropped without classification",
		},
		[]string{"reason"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalyst_queue_depth",
			Help: "Items currently waiting in the classification queue",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_cache_hits_total",
			Help: "Response cache hits",
		},
		[]string{"layer"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_cache_misses_total",
			Help: "Response cache misses",
		},
		[]string{"layer"},
	)

	BackendInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_backend_invocations_total",
			Help: "Classification backend invocations by outcome",
		},
		[]string{"backend", "status"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalyst_breaker_state",
			Help: "Circuit breaker state per backend (0=closed, 1=half-open, 2=open)",
		},
		[]string{"backend"},
	)

	ClassifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalyst_classify_duration_seconds",
			Help:    "End-to-end classification duration",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"backend"},
	)

	ClassificationCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_classification_cost_usd",
			Help: "Estimated backend spend in USD",
		},
		[]string{"backend"},
	)

	ResultsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_results_delivered_total",
			Help: "Classification results handed to the notifier",
		},
		[]string{"status"},
	)
)

func Init() {
	prometheus.MustRegister(ItemsSubmitted)
	prometheus.MustRegister(ItemsDuplicate)
	prometheus.MustRegister(ItemsDropped)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(BackendInvocations)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(ClassifyDuration)
	prometheus.MustRegister(ClassificationCost)
	prometheus.MustRegister(ResultsDelivered)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
