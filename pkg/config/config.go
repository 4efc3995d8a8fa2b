package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	SQLite       SQLiteConfig
	Redis        RedisConfig
	Milvus       MilvusConfig
	OpenAI       OpenAIConfig
	Dedup        DedupConfig
	Cache        CacheConfig
	Breaker      BreakerConfig
	Router       RouterConfig
	Backends     []BackendConfig
	Orchestrator OrchestratorConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type OpenAIConfig struct {
	APIKey         string
	EmbeddingModel string
	EmbeddingDim   int
	TimeoutSec     int
}

type DedupConfig struct {
	WindowMinutes        int
	SweepIntervalSeconds int
	MaxKeyTerms          int
	MinTermLength        int
}

type CacheConfig struct {
	TTLHours             int
	SimilarityThreshold  float64
	SweepIntervalSeconds int
}

type BreakerConfig struct {
	FailureThreshold   int
	CooldownSeconds    int
	MaxCooldownSeconds int
}

type RouterConfig struct {
	MaxAttempts       int
	DefaultTimeoutSec int
	Weights           map[string]map[string]int
}

type BackendConfig struct {
	Name              string
	Type              string
	Tier              string
	Model             string
	CostPerCall       float64
	ExpectedLatencyMS int
	MaxComplexity     int
	RatePerSec        float64
	RateBurst         int
}

type OrchestratorConfig struct {
	Workers          int
	QueueCapacity    int
	SubmitTimeoutMS  int
	ShutdownGraceSec int
	DegradedFallback bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/catalyst-agent")

	viper.SetEnvPrefix("CATALYST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/catalyst.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.enabled", false)
	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "response_cache")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("openai.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("openai.embeddingDim", 1536)
	viper.SetDefault("openai.timeoutSec", 15)

	viper.SetDefault("dedup.windowMinutes", 120)
	viper.SetDefault("dedup.sweepIntervalSeconds", 300)
	viper.SetDefault("dedup.maxKeyTerms", 12)
	viper.SetDefault("dedup.minTermLength", 3)

	viper.SetDefault("cache.ttlHours", 24)
	viper.SetDefault("cache.similarityThreshold", 0.95)
	viper.SetDefault("cache.sweepIntervalSeconds", 300)

	viper.SetDefault("breaker.failureThreshold", 5)
	viper.SetDefault("breaker.cooldownSeconds", 30)
	viper.SetDefault("breaker.maxCooldownSeconds", 600)

	viper.SetDefault("router.maxAttempts", 3)
	viper.SetDefault("router.defaultTimeoutSec", 10)
	viper.SetDefault("router.weights", map[string]map[string]int{
		"low":  {"cheap": 70, "mid": 25, "premium": 5},
		"mid":  {"mid": 80, "premium": 20},
		"high": {"premium": 100},
	})

	// A config file normally lists the backend fleet; without one the
	// local heuristic keeps the pipeline serving instead of failing every
	// request with no backend available.
	viper.SetDefault("backends", []map[string]interface{}{
		{
			"name":          "local-heuristic",
			"type":          "local",
			"tier":          "local",
			"costPerCall":   0.0,
			"maxComplexity": 30,
		},
	})

	viper.SetDefault("orchestrator.workers", 8)
	viper.SetDefault("orchestrator.queueCapacity", 256)
	viper.SetDefault("orchestrator.submitTimeoutMS", 2000)
	viper.SetDefault("orchestrator.shutdownGraceSec", 15)
	viper.SetDefault("orchestrator.degradedFallback", true)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
