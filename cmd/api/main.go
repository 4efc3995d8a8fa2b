package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/catalyst-agent/backend/internal/api/handlers"
	"github.com/catalyst-agent/backend/internal/backends"
	"github.com/catalyst-agent/backend/internal/cache"
	milvuscache "github.com/catalyst-agent/backend/internal/cache/milvus"
	rediscache "github.com/catalyst-agent/backend/internal/cache/redis"
	"github.com/catalyst-agent/backend/internal/dedup"
	"github.com/catalyst-agent/backend/internal/embedding"
	"github.com/catalyst-agent/backend/internal/metrics"
	"github.com/catalyst-agent/backend/internal/middleware/ratelimit"
	"github.com/catalyst-agent/backend/internal/middleware/security"
	"github.com/catalyst-agent/backend/internal/middleware/validation"
	"github.com/catalyst-agent/backend/internal/notify"
	"github.com/catalyst-agent/backend/internal/pipeline"
	"github.com/catalyst-agent/backend/internal/router"
	"github.com/catalyst-agent/backend/pkg/config"
	appLogger "github.com/catalyst-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Catalyst Agent API Server")

	metrics.Init()

	dedupStore, err := dedup.NewStore(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to open dedup store", zap.Error(err))
	}
	defer dedupStore.Close()

	if err := dedupStore.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize dedup schema", zap.Error(err))
	}

	responseCache, err := cache.NewResponseCache(cfg.SQLite.Path, cfg.Cache.SimilarityThreshold)
	if err != nil {
		appLogger.Fatal("Failed to open response cache", zap.Error(err))
	}
	defer responseCache.Close()

	if err := responseCache.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize cache schema", zap.Error(err))
	}

	var redisClient *rediscache.Client
	if cfg.Redis.Enabled {
		redisClient, err = rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without exact-match layer", zap.Error(err))
		} else {
			defer redisClient.Close()
			responseCache.SetExactLayer(redisClient)
		}
	}

	if cfg.Milvus.Enabled {
		milvusClient, err := milvuscache.NewClient(
			cfg.Milvus.Endpoint,
			cfg.Milvus.APIKey,
			cfg.Milvus.CollectionName,
			cfg.Milvus.VectorDim,
		)
		if err != nil {
			appLogger.Warn("Milvus unavailable, falling back to linear similarity scan", zap.Error(err))
		} else {
			defer milvusClient.Close()
			if err := milvusClient.CreateCollection(context.Background()); err != nil {
				appLogger.Warn("Failed to prepare Milvus collection", zap.Error(err))
			} else {
				responseCache.SetIndex(milvusClient)
			}
		}
	}

	registry := backends.NewRegistry(backends.Config{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		MaxCooldown:      time.Duration(cfg.Breaker.MaxCooldownSeconds) * time.Second,
		Weights:          cfg.Router.Weights,
	})

	var fallback backends.Backend
	for _, bc := range cfg.Backends {
		var b backends.Backend
		switch bc.Type {
		case "local":
			b = backends.NewLocalBackend(bc.Name)
			fallback = b
		case "openai":
			b = backends.NewOpenAIBackend(cfg.OpenAI.APIKey, backends.Descriptor{
				Name:            bc.Name,
				Tier:            bc.Tier,
				CostPerCall:     bc.CostPerCall,
				ExpectedLatency: time.Duration(bc.ExpectedLatencyMS) * time.Millisecond,
				MaxComplexity:   bc.MaxComplexity,
			}, bc.Model)
		default:
			appLogger.Warn("Unknown backend type, skipping",
				zap.String("name", bc.Name),
				zap.String("type", bc.Type),
			)
			continue
		}
		registry.Register(b, bc.RatePerSec, bc.RateBurst)
	}

	if fallback == nil {
		fallback = backends.NewLocalBackend("local-heuristic")
	}

	embedder := embedding.NewOpenAIEmbedder(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.EmbeddingModel,
		time.Duration(cfg.OpenAI.TimeoutSec)*time.Second,
		redisClient,
	)

	classRouter := router.NewRouter(responseCache, registry, embedder, router.Config{
		MaxAttempts:    cfg.Router.MaxAttempts,
		DefaultTimeout: time.Duration(cfg.Router.DefaultTimeoutSec) * time.Second,
		CacheTTL:       time.Duration(cfg.Cache.TTLHours) * time.Hour,
	})

	hub := notify.NewHub()
	notifier := notify.NewFanout(notify.NewLogNotifier(), hub)

	fingerprinter := dedup.NewFingerprinter(cfg.Dedup.MaxKeyTerms, cfg.Dedup.MinTermLength)

	orchestrator := pipeline.NewOrchestrator(dedupStore, fingerprinter, classRouter, responseCache, notifier, fallback, pipeline.Config{
		Workers:            cfg.Orchestrator.Workers,
		QueueCapacity:      cfg.Orchestrator.QueueCapacity,
		SubmitTimeout:      time.Duration(cfg.Orchestrator.SubmitTimeoutMS) * time.Millisecond,
		ShutdownGrace:      time.Duration(cfg.Orchestrator.ShutdownGraceSec) * time.Second,
		DedupWindow:        time.Duration(cfg.Dedup.WindowMinutes) * time.Minute,
		DedupSweepInterval: time.Duration(cfg.Dedup.SweepIntervalSeconds) * time.Second,
		CacheSweepInterval: time.Duration(cfg.Cache.SweepIntervalSeconds) * time.Second,
		DegradedFallback:   cfg.Orchestrator.DegradedFallback,
	})
	orchestrator.Start()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Source-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	sourceLimiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: 50,
		Burst:             100,
		Logger:            appLogger.GetLogger(),
	})
	defer sourceLimiter.Stop()

	ingestHandler := handlers.NewIngestHandler(orchestrator)
	statusHandler := handlers.NewStatusHandler(registry, orchestrator, hub)
	streamHandler := handlers.NewStreamHandler(hub)

	api := app.Group("/api/v1")

	api.Post("/items",
		sourceLimiter.Middleware(),
		validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}),
		ingestHandler.HandleSubmit,
	)

	api.Get("/backends", statusHandler.HandleBackends)
	api.Get("/stats", statusHandler.HandleStats)
	api.Get("/health", statusHandler.HandleHealth)

	api.Use("/results/ws", streamHandler.Upgrade)
	api.Get("/results/ws", streamHandler.HandleStream())

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Orchestrator.ShutdownGraceSec+5)*time.Second)
	defer cancel()

	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Orchestrator shutdown error", zap.Error(err))
	}
	app.Shutdown()
	appLogger.Info("Server stopped")
}
