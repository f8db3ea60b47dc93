package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Embedding provider names. The external-a / external-b aliases are kept for
// deployments configured against the generic provider labels.
const (
	ProviderOpenAI      = "openai"
	ProviderOllama      = "ollama"
	ProviderLightweight = "lightweight"
	ProviderDisabled    = "disabled"
)

// Config holds all configuration for mnemo.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	Forget    ForgetConfig    `mapstructure:"forget"`
	Review    ReviewConfig    `mapstructure:"review"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Reasoner  ReasonerConfig  `mapstructure:"reasoner"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StoreConfig holds durable store settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP/WebSocket listener settings.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	RateLimitPerMin int `mapstructure:"rate_limit_per_min"`
	RateLimitBurst  int `mapstructure:"rate_limit_burst"`
}

// ListenAddr returns the address the HTTP server binds to.
func (s ServerConfig) ListenAddr() string { return fmt.Sprintf(":%d", s.Port) }

// EmbeddingConfig holds embedding provider settings. The breaker fields
// control the circuit breaker wrapped around remote providers.
type EmbeddingConfig struct {
	Provider        string        `mapstructure:"provider"`
	Dimensions      int           `mapstructure:"dimensions"` // 0 = use the provider default
	OpenAIAPIKey    string        `mapstructure:"openai_api_key"`
	OpenAIModel     string        `mapstructure:"openai_model"`
	OllamaBaseURL   string        `mapstructure:"ollama_base_url"`
	OllamaModel     string        `mapstructure:"ollama_model"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// String returns a safe representation with the API key masked.
func (e EmbeddingConfig) String() string {
	return fmt.Sprintf("EmbeddingConfig{Provider:%s, Dimensions:%d, OpenAIAPIKey:%s}",
		e.Provider, e.Dimensions, maskAPIKey(e.OpenAIAPIKey))
}

// SearchConfig holds recall pipeline settings.
type SearchConfig struct {
	DefaultLimit  int     `mapstructure:"default_limit"`
	MaxLimit      int     `mapstructure:"max_limit"`
	VectorWeight  float64 `mapstructure:"vector_weight"`
	TextWeight    float64 `mapstructure:"text_weight"`
	MinSimilarity float64 `mapstructure:"min_similarity"`
}

// ForgetConfig holds forgetting engine settings. TTLs are hours; -1 means
// the type is retained indefinitely.
type ForgetConfig struct {
	SoftThreshold         float64 `mapstructure:"soft_threshold"`
	HardThreshold         float64 `mapstructure:"hard_threshold"`
	WorkingTTLHours       int     `mapstructure:"working_ttl_hours"`
	EpisodicTTLHours      int     `mapstructure:"episodic_ttl_hours"`
	SemanticTTLHours      int     `mapstructure:"semantic_ttl_hours"`
	ProceduralTTLHours    int     `mapstructure:"procedural_ttl_hours"`
	MaxPerRun             int     `mapstructure:"max_per_run"`
	FeedbackCooldownHours int     `mapstructure:"feedback_cooldown_hours"`
}

// ReviewConfig holds spaced-repetition scheduler settings.
type ReviewConfig struct {
	MinIntervalDays  int     `mapstructure:"min_interval_days"`
	MaxIntervalDays  int     `mapstructure:"max_interval_days"`
	NeedsReviewBelow float64 `mapstructure:"needs_review_below"`
}

// CacheConfig holds query and embedding cache settings.
type CacheConfig struct {
	QueryEntries     int           `mapstructure:"query_entries"`
	QueryTTL         time.Duration `mapstructure:"query_ttl"`
	PatternThreshold float64       `mapstructure:"pattern_threshold"`
	EmbeddingEntries int           `mapstructure:"embedding_entries"`
}

// QueueConfig holds task queue settings.
type QueueConfig struct {
	Workers        int           `mapstructure:"workers"`
	Depth          int           `mapstructure:"depth"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
}

// AlertConfig holds alert monitor thresholds and cooldowns.
type AlertConfig struct {
	Cooldown           time.Duration `mapstructure:"cooldown"`
	History            int           `mapstructure:"history"`
	ResponseTimeWarnMs float64       `mapstructure:"response_time_warn_ms"`
	ResponseTimeCritMs float64       `mapstructure:"response_time_crit_ms"`
	MemoryWarnMB       float64       `mapstructure:"memory_warn_mb"`
	MemoryCritMB       float64       `mapstructure:"memory_crit_mb"`
	ErrorRateWarn      float64       `mapstructure:"error_rate_warn"`
	ErrorRateCrit      float64       `mapstructure:"error_rate_crit"`
	ThroughputWarn     float64       `mapstructure:"throughput_warn"`
	ThroughputCrit     float64       `mapstructure:"throughput_crit"`
}

// SweepConfig holds background job schedules in cron or @every syntax.
type SweepConfig struct {
	ForgetSchedule     string `mapstructure:"forget_schedule"`
	ReviewSchedule     string `mapstructure:"review_schedule"`
	AlertSchedule      string `mapstructure:"alert_schedule"`
	CheckpointSchedule string `mapstructure:"checkpoint_schedule"`
}

// ReasonerConfig holds the optional Claude re-ranker settings. Disabled by
// default; the deterministic ranking pipeline is the product surface.
type ReasonerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	MaxCandidates int    `mapstructure:"max_candidates"`
}

// String returns a safe representation with the API key masked.
func (r ReasonerConfig) String() string {
	return fmt.Sprintf("ReasonerConfig{Enabled:%t, APIKey:%s, Model:%s}",
		r.Enabled, maskAPIKey(r.APIKey), r.Model)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if key == "" {
		return ""
	}
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("store.path", filepath.Join(homeDir(), ".mnemo", "mnemo.db"))

	v.SetDefault("server.port", 3443)
	v.SetDefault("server.rate_limit_per_min", 300)
	v.SetDefault("server.rate_limit_burst", 30)

	v.SetDefault("embedding.provider", ProviderLightweight)
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.openai_model", "text-embedding-3-small")
	v.SetDefault("embedding.ollama_base_url", "http://localhost:11434")
	v.SetDefault("embedding.ollama_model", "nomic-embed-text")
	v.SetDefault("embedding.breaker_failures", 5)
	v.SetDefault("embedding.breaker_cooldown", 30*time.Second)

	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.max_limit", 100)
	v.SetDefault("search.vector_weight", 0.6)
	v.SetDefault("search.text_weight", 0.4)
	v.SetDefault("search.min_similarity", 0.5)

	v.SetDefault("forget.soft_threshold", 0.6)
	v.SetDefault("forget.hard_threshold", 0.7)
	v.SetDefault("forget.working_ttl_hours", 48)
	v.SetDefault("forget.episodic_ttl_hours", 90*24)
	v.SetDefault("forget.semantic_ttl_hours", -1)
	v.SetDefault("forget.procedural_ttl_hours", -1)
	v.SetDefault("forget.max_per_run", 50)
	v.SetDefault("forget.feedback_cooldown_hours", 24)

	v.SetDefault("review.min_interval_days", 1)
	v.SetDefault("review.max_interval_days", 365)
	v.SetDefault("review.needs_review_below", 0.7)

	v.SetDefault("cache.query_entries", 128)
	v.SetDefault("cache.query_ttl", 5*time.Minute)
	v.SetDefault("cache.pattern_threshold", 0.6)
	v.SetDefault("cache.embedding_entries", 512)

	v.SetDefault("queue.workers", 8)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.default_timeout", 30*time.Second)
	v.SetDefault("queue.max_retries", 2)
	v.SetDefault("queue.drain_timeout", 10*time.Second)

	v.SetDefault("alerts.cooldown", 5*time.Minute)
	v.SetDefault("alerts.history", 100)
	v.SetDefault("alerts.response_time_warn_ms", 500)
	v.SetDefault("alerts.response_time_crit_ms", 2000)
	v.SetDefault("alerts.memory_warn_mb", 512)
	v.SetDefault("alerts.memory_crit_mb", 1024)
	v.SetDefault("alerts.error_rate_warn", 0.05)
	v.SetDefault("alerts.error_rate_crit", 0.20)
	v.SetDefault("alerts.throughput_warn", 1)
	v.SetDefault("alerts.throughput_crit", 0)

	v.SetDefault("sweep.forget_schedule", "@every 1h")
	v.SetDefault("sweep.review_schedule", "@every 6h")
	v.SetDefault("sweep.alert_schedule", "@every 1m")
	v.SetDefault("sweep.checkpoint_schedule", "@every 15m")

	v.SetDefault("reasoner.enabled", false)
	v.SetDefault("reasoner.model", "claude-haiku-4-5-20251001")
	v.SetDefault("reasoner.max_candidates", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".mnemo"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("MNEMO")
	v.AutomaticEnv()

	// Documented knobs keep their unprefixed names.
	_ = v.BindEnv("store.path", "DB_PATH")
	_ = v.BindEnv("server.port", "MCP_SERVER_PORT")
	_ = v.BindEnv("embedding.provider", "EMBEDDING_PROVIDER")
	_ = v.BindEnv("embedding.dimensions", "EMBEDDING_DIMENSIONS")
	_ = v.BindEnv("embedding.openai_api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("embedding.ollama_base_url", "OLLAMA_BASE_URL")
	_ = v.BindEnv("search.default_limit", "SEARCH_DEFAULT_LIMIT")
	_ = v.BindEnv("search.max_limit", "SEARCH_MAX_LIMIT")
	_ = v.BindEnv("forget.working_ttl_hours", "FORGET_WORKING_TTL")
	_ = v.BindEnv("forget.episodic_ttl_hours", "FORGET_EPISODIC_TTL")
	_ = v.BindEnv("forget.semantic_ttl_hours", "FORGET_SEMANTIC_TTL")
	_ = v.BindEnv("forget.procedural_ttl_hours", "FORGET_PROCEDURAL_TTL")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("reasoner.api_key", "ANTHROPIC_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK — use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Embedding.Provider = CanonicalProvider(cfg.Embedding.Provider)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// CanonicalProvider maps provider aliases onto their canonical names.
func CanonicalProvider(name string) string {
	switch name {
	case "external-a":
		return ProviderOpenAI
	case "external-b":
		return ProviderOllama
	case "lexical", "":
		return ProviderLightweight
	case "none", "off":
		return ProviderDisabled
	default:
		return name
	}
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderLightweight, ProviderDisabled:
	default:
		return fmt.Errorf("embedding.provider %q is not one of openai, ollama, lightweight, disabled", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must be >= 0")
	}
	if err := c.Embedding.validateDimensions(); err != nil {
		return err
	}
	if c.Embedding.BreakerFailures == 0 {
		return fmt.Errorf("embedding.breaker_failures must be greater than 0")
	}
	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be greater than 0")
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search.max_limit (%d) must be >= search.default_limit (%d)", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Search.VectorWeight < 0 || c.Search.TextWeight < 0 {
		return fmt.Errorf("search weights must be >= 0")
	}
	if c.Search.VectorWeight+c.Search.TextWeight <= 0 {
		return fmt.Errorf("search.vector_weight + search.text_weight must be greater than 0")
	}
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("search.min_similarity must be between 0 and 1")
	}
	if c.Forget.SoftThreshold < 0 || c.Forget.SoftThreshold > 1 {
		return fmt.Errorf("forget.soft_threshold must be between 0 and 1")
	}
	if c.Forget.HardThreshold < c.Forget.SoftThreshold {
		return fmt.Errorf("forget.hard_threshold must be >= forget.soft_threshold")
	}
	if c.Forget.MaxPerRun <= 0 {
		return fmt.Errorf("forget.max_per_run must be greater than 0")
	}
	if c.Review.MinIntervalDays <= 0 {
		return fmt.Errorf("review.min_interval_days must be greater than 0")
	}
	if c.Review.MaxIntervalDays < c.Review.MinIntervalDays {
		return fmt.Errorf("review.max_interval_days must be >= review.min_interval_days")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be greater than 0")
	}
	if c.Cache.QueryEntries <= 0 || c.Cache.EmbeddingEntries <= 0 {
		return fmt.Errorf("cache entry bounds must be greater than 0")
	}
	if c.Cache.PatternThreshold < 0 || c.Cache.PatternThreshold > 1 {
		return fmt.Errorf("cache.pattern_threshold must be between 0 and 1")
	}
	return nil
}

// openAIModelDims caps the dimensions parameter per known OpenAI embedding
// model. Models absent from the map pass unchecked; the API rejects a bad
// pairing on the first call.
var openAIModelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// validateDimensions rejects dimension/provider pairings that every embed
// call would refuse at runtime. Zero always passes: it means the provider's
// natural dimension.
func (e *EmbeddingConfig) validateDimensions() error {
	if e.Dimensions == 0 {
		return nil
	}
	switch e.Provider {
	case ProviderDisabled:
		return fmt.Errorf("embedding.dimensions is set but embedding.provider is disabled")
	case ProviderLightweight:
		if e.Dimensions < 64 || e.Dimensions > 4096 {
			return fmt.Errorf("embedding.dimensions %d is outside [64, 4096] for the lightweight provider", e.Dimensions)
		}
	case ProviderOpenAI:
		model := e.OpenAIModel
		if model == "" {
			model = "text-embedding-3-small"
		}
		if limit, ok := openAIModelDims[model]; ok && e.Dimensions > limit {
			return fmt.Errorf("embedding.dimensions %d exceeds %s's maximum of %d", e.Dimensions, model, limit)
		}
	}
	// Ollama dimensions are model-defined on the server; nothing to check
	// statically.
	return nil
}

// TTLHoursFor returns the configured retention TTL in hours for a memory
// type; -1 means unbounded.
func (c *ForgetConfig) TTLHoursFor(memType string) int {
	switch memType {
	case "working":
		return c.WorkingTTLHours
	case "episodic":
		return c.EpisodicTTLHours
	case "semantic":
		return c.SemanticTTLHours
	case "procedural":
		return c.ProceduralTTLHours
	default:
		return -1
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
