package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderLightweight, cfg.Embedding.Provider)
	assert.Equal(t, 3443, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 100, cfg.Search.MaxLimit)
	assert.InDelta(t, 0.6, cfg.Search.VectorWeight, 1e-9)
	assert.InDelta(t, 0.4, cfg.Search.TextWeight, 1e-9)
	assert.InDelta(t, 0.6, cfg.Forget.SoftThreshold, 1e-9)
	assert.InDelta(t, 0.7, cfg.Forget.HardThreshold, 1e-9)
	assert.Equal(t, 48, cfg.Forget.WorkingTTLHours)
	assert.Equal(t, 90*24, cfg.Forget.EpisodicTTLHours)
	assert.Equal(t, -1, cfg.Forget.SemanticTTLHours)
	assert.Equal(t, 50, cfg.Forget.MaxPerRun)
	assert.Equal(t, 1, cfg.Review.MinIntervalDays)
	assert.Equal(t, 365, cfg.Review.MaxIntervalDays)
	assert.InDelta(t, 0.7, cfg.Review.NeedsReviewBelow, 1e-9)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Cache.QueryTTL)
	assert.False(t, cfg.Reasoner.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Store.Path)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/test-mnemo.db")
	t.Setenv("EMBEDDING_PROVIDER", "external-a")
	t.Setenv("SEARCH_DEFAULT_LIMIT", "25")
	t.Setenv("FORGET_WORKING_TTL", "12")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test-mnemo.db", cfg.Store.Path)
	assert.Equal(t, ProviderOpenAI, cfg.Embedding.Provider, "external-a alias is canonicalized")
	assert.Equal(t, 25, cfg.Search.DefaultLimit)
	assert.Equal(t, 12, cfg.Forget.WorkingTTLHours)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestCanonicalProvider(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"external-a", ProviderOpenAI},
		{"external-b", ProviderOllama},
		{"lexical", ProviderLightweight},
		{"", ProviderLightweight},
		{"none", ProviderDisabled},
		{"off", ProviderDisabled},
		{"openai", ProviderOpenAI},
		{"ollama", ProviderOllama},
		{"bogus", "bogus"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanonicalProvider(tc.in), "input %q", tc.in)
	}
}

func validConfig() *Config {
	return &Config{
		Store:  StoreConfig{Path: "/tmp/mnemo.db"},
		Server: ServerConfig{Port: 3443},
		Embedding: EmbeddingConfig{
			Provider:        ProviderLightweight,
			BreakerFailures: 5,
		},
		Search: SearchConfig{
			DefaultLimit:  10,
			MaxLimit:      100,
			VectorWeight:  0.6,
			TextWeight:    0.4,
			MinSimilarity: 0.5,
		},
		Forget: ForgetConfig{SoftThreshold: 0.6, HardThreshold: 0.7, MaxPerRun: 50},
		Review: ReviewConfig{MinIntervalDays: 1, MaxIntervalDays: 365},
		Cache:  CacheConfig{QueryEntries: 128, EmbeddingEntries: 512, PatternThreshold: 0.6},
		Queue:  QueueConfig{Workers: 8},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty store path", func(c *Config) { c.Store.Path = "" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "bogus" }},
		{"negative dimensions", func(c *Config) { c.Embedding.Dimensions = -1 }},
		{"zero breaker failures", func(c *Config) { c.Embedding.BreakerFailures = 0 }},
		{"zero default limit", func(c *Config) { c.Search.DefaultLimit = 0 }},
		{"max below default", func(c *Config) { c.Search.MaxLimit = 5 }},
		{"negative weight", func(c *Config) { c.Search.VectorWeight = -0.1 }},
		{"zero weight sum", func(c *Config) { c.Search.VectorWeight = 0; c.Search.TextWeight = 0 }},
		{"similarity above one", func(c *Config) { c.Search.MinSimilarity = 1.5 }},
		{"hard below soft", func(c *Config) { c.Forget.HardThreshold = 0.5 }},
		{"zero max per run", func(c *Config) { c.Forget.MaxPerRun = 0 }},
		{"zero review interval", func(c *Config) { c.Review.MinIntervalDays = 0 }},
		{"review max below min", func(c *Config) { c.Review.MaxIntervalDays = 0 }},
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }},
		{"zero cache entries", func(c *Config) { c.Cache.QueryEntries = 0 }},
		{"pattern threshold above one", func(c *Config) { c.Cache.PatternThreshold = 1.5 }},
		{"dimensions on disabled provider", func(c *Config) {
			c.Embedding.Provider = ProviderDisabled
			c.Embedding.Dimensions = 512
		}},
		{"lightweight dimensions below minimum", func(c *Config) { c.Embedding.Dimensions = 8 }},
		{"lightweight dimensions above maximum", func(c *Config) { c.Embedding.Dimensions = 100000 }},
		{"openai dimensions above model cap", func(c *Config) {
			c.Embedding.Provider = ProviderOpenAI
			c.Embedding.OpenAIModel = "text-embedding-3-small"
			c.Embedding.Dimensions = 3072
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_DimensionProviderPairings(t *testing.T) {
	// Zero means the provider's natural dimension and always passes.
	for _, provider := range []string{ProviderOpenAI, ProviderOllama, ProviderLightweight, ProviderDisabled} {
		cfg := validConfig()
		cfg.Embedding.Provider = provider
		assert.NoError(t, cfg.Validate(), provider)
	}

	// Reduced OpenAI dimensions are valid up to the model's cap.
	cfg := validConfig()
	cfg.Embedding.Provider = ProviderOpenAI
	cfg.Embedding.Dimensions = 256
	assert.NoError(t, cfg.Validate())

	// The large model accepts what the small one refuses.
	cfg.Embedding.OpenAIModel = "text-embedding-3-large"
	cfg.Embedding.Dimensions = 3072
	assert.NoError(t, cfg.Validate())

	// Unknown models pass; the API arbitrates on first call.
	cfg.Embedding.OpenAIModel = "some-future-model"
	cfg.Embedding.Dimensions = 9999
	assert.NoError(t, cfg.Validate())

	// Ollama dimensions are server-defined, never checked statically.
	cfg = validConfig()
	cfg.Embedding.Provider = ProviderOllama
	cfg.Embedding.Dimensions = 768
	assert.NoError(t, cfg.Validate())

	// In-range lightweight dimensions pass.
	cfg = validConfig()
	cfg.Embedding.Dimensions = 256
	assert.NoError(t, cfg.Validate())
}

func TestTTLHoursFor(t *testing.T) {
	f := &ForgetConfig{
		WorkingTTLHours:    48,
		EpisodicTTLHours:   2160,
		SemanticTTLHours:   -1,
		ProceduralTTLHours: -1,
	}
	assert.Equal(t, 48, f.TTLHoursFor("working"))
	assert.Equal(t, 2160, f.TTLHoursFor("episodic"))
	assert.Equal(t, -1, f.TTLHoursFor("semantic"))
	assert.Equal(t, -1, f.TTLHoursFor("procedural"))
	assert.Equal(t, -1, f.TTLHoursFor("unknown"))
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "", maskAPIKey(""))
	assert.Equal(t, "***", maskAPIKey("short"))
	assert.Equal(t, "sk-a****wxyz", maskAPIKey("sk-abcdefgh-tuvwxyz"))

	e := EmbeddingConfig{Provider: ProviderOpenAI, OpenAIAPIKey: "sk-abcdefgh-tuvwxyz"}
	assert.NotContains(t, e.String(), "abcdefgh")
}

func TestReviewConfig_DefaultsMatchSchedulerContract(t *testing.T) {
	// max_review interval bounds the ceil-growth; the scheduler relies on
	// min <= max holding after Load.
	cfg, err := Load()
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Review.MinIntervalDays, cfg.Review.MaxIntervalDays)
	assert.GreaterOrEqual(t, cfg.Forget.HardThreshold, cfg.Forget.SoftThreshold)
}
