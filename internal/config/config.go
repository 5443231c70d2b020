package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Fetch        FetchConfig        `yaml:"fetch" mapstructure:"fetch"`
	Browser      BrowserConfig      `yaml:"browser" mapstructure:"browser"`
	Archive      ArchiveConfig      `yaml:"archive" mapstructure:"archive"`
	SearchCache  SearchCacheConfig  `yaml:"search_cache" mapstructure:"search_cache"`
	Feed         FeedConfig         `yaml:"feed" mapstructure:"feed"`
	NewsIndex    NewsIndexConfig    `yaml:"news_index" mapstructure:"news_index"`
	Syndication  SyndicationConfig  `yaml:"syndication" mapstructure:"syndication"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Circuit      CircuitConfig      `yaml:"circuit" mapstructure:"circuit"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Batch        BatchConfig        `yaml:"batch" mapstructure:"batch"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	FactCheck    FactCheckConfig    `yaml:"factcheck" mapstructure:"factcheck"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Sites        SitesConfig        `yaml:"sites" mapstructure:"sites"`
	Jina         JinaConfig         `yaml:"jina" mapstructure:"jina"`
	Firecrawl    FirecrawlConfig    `yaml:"firecrawl" mapstructure:"firecrawl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the history backend.
type StoreConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	DSN        string `yaml:"dsn" mapstructure:"dsn"`
	MaxEntries int    `yaml:"max_entries" mapstructure:"max_entries"`
	MaxConns   int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns   int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FetchConfig configures the shared HTTP fetcher and the direct strategy.
type FetchConfig struct {
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
	EDGARUserAgent string  `yaml:"edgar_user_agent" mapstructure:"edgar_user_agent"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	MaxBodyMB      int     `yaml:"max_body_mb" mapstructure:"max_body_mb"`
	PerHostRate    float64 `yaml:"per_host_rate" mapstructure:"per_host_rate"`
	PerHostBurst   int     `yaml:"per_host_burst" mapstructure:"per_host_burst"`
}

// BrowserConfig selects and tunes the browser strategy backend.
type BrowserConfig struct {
	// Backend is "rod", "firecrawl", "jina" or "none".
	Backend           string `yaml:"backend" mapstructure:"backend"`
	ControlURL        string `yaml:"control_url" mapstructure:"control_url"`
	Bin               string `yaml:"bin" mapstructure:"bin"`
	BlockMedia        bool   `yaml:"block_media" mapstructure:"block_media"`
	IdleWaitMs        int    `yaml:"idle_wait_ms" mapstructure:"idle_wait_ms"`
	ChallengeWaitSecs int    `yaml:"challenge_wait_secs" mapstructure:"challenge_wait_secs"`
	WaitForMs         int    `yaml:"wait_for_ms" mapstructure:"wait_for_ms"`
}

// ArchiveConfig configures the snapshot archive strategy.
type ArchiveConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Mirrors []string `yaml:"mirrors" mapstructure:"mirrors"`
	Rounds  int      `yaml:"rounds" mapstructure:"rounds"`
}

// SearchCacheConfig configures the search-engine cache strategy.
type SearchCacheConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// FeedConfig configures the RSS/Atom strategy.
type FeedConfig struct {
	Enabled  bool    `yaml:"enabled" mapstructure:"enabled"`
	MinScore float64 `yaml:"min_score" mapstructure:"min_score"`
}

// NewsIndexConfig configures the paid news index strategy. It is only
// registered when a key is set.
type NewsIndexConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SyndicationConfig configures the tweet syndication strategy.
type SyndicationConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// OrchestratorConfig bounds strategy and URL run time.
type OrchestratorConfig struct {
	StrategyTimeoutSecs int            `yaml:"strategy_timeout_secs" mapstructure:"strategy_timeout_secs"`
	URLTimeoutSecs      int            `yaml:"url_timeout_secs" mapstructure:"url_timeout_secs"`
	TimeoutOverrides    map[string]int `yaml:"timeout_overrides" mapstructure:"timeout_overrides"`
}

// CircuitConfig configures the per-strategy circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// RetryConfig configures retries for API collaborators.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// AnthropicConfig holds Anthropic API settings for the summarizer.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxInputChars     int    `yaml:"max_input_chars" mapstructure:"max_input_chars"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	CacheTTL          string `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// FactCheckConfig holds Google Fact Check Tools settings.
type FactCheckConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Language  string `yaml:"language" mapstructure:"language"`
	MaxClaims int    `yaml:"max_claims" mapstructure:"max_claims"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// SitesConfig points at an optional extra site table merged over the
// embedded one.
type SitesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds Firecrawl API settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// StrategyTimeout returns the default per-strategy timeout.
func (c OrchestratorConfig) StrategyTimeout() time.Duration {
	return time.Duration(c.StrategyTimeoutSecs) * time.Second
}

// URLTimeout returns the whole-chain timeout for one URL.
func (c OrchestratorConfig) URLTimeout() time.Duration {
	return time.Duration(c.URLTimeoutSecs) * time.Second
}

// Timeouts returns the per-strategy overrides as durations.
func (c OrchestratorConfig) Timeouts() map[string]time.Duration {
	if len(c.TimeoutOverrides) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(c.TimeoutOverrides))
	for name, secs := range c.TimeoutOverrides {
		if secs > 0 {
			out[name] = time.Duration(secs) * time.Second
		}
	}
	return out
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return eris.New("config: store.dsn is required for postgres")
	}
	switch c.Browser.Backend {
	case "rod", "firecrawl", "jina", "none":
	default:
		return eris.Errorf("config: unsupported browser backend %q", c.Browser.Backend)
	}
	if c.Browser.Backend == "firecrawl" && c.Firecrawl.Key == "" {
		return eris.New("config: firecrawl.key is required for the firecrawl browser backend")
	}
	if c.Batch.Concurrency < 0 {
		return eris.Errorf("config: batch.concurrency must be positive, got %d", c.Batch.Concurrency)
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "digest.db")
	v.SetDefault("store.max_entries", 500)
	v.SetDefault("fetch.edgar_user_agent", "digest-cli research@example.com")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 1)
	v.SetDefault("fetch.max_body_mb", 4)
	v.SetDefault("fetch.per_host_rate", 2.0)
	v.SetDefault("fetch.per_host_burst", 2)
	v.SetDefault("browser.backend", "rod")
	v.SetDefault("browser.block_media", true)
	v.SetDefault("browser.idle_wait_ms", 500)
	v.SetDefault("browser.challenge_wait_secs", 15)
	v.SetDefault("browser.wait_for_ms", 2000)
	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.rounds", 2)
	v.SetDefault("search_cache.enabled", true)
	v.SetDefault("search_cache.endpoint", "https://webcache.googleusercontent.com/search?q=cache:")
	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.min_score", 0.7)
	v.SetDefault("news_index.base_url", "https://newsapi.org/v2")
	v.SetDefault("syndication.enabled", true)
	v.SetDefault("syndication.endpoint", "https://cdn.syndication.twimg.com/tweet-result")
	v.SetDefault("orchestrator.strategy_timeout_secs", 30)
	v.SetDefault("orchestrator.url_timeout_secs", 0)
	v.SetDefault("circuit.failure_threshold", 3)
	v.SetDefault("circuit.cooldown_secs", 60)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("batch.concurrency", 10)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.max_input_chars", 24000)
	v.SetDefault("anthropic.requests_per_minute", 5)
	v.SetDefault("anthropic.cache_ttl", "5m")
	v.SetDefault("factcheck.base_url", "https://factchecktools.googleapis.com/v1alpha1")
	v.SetDefault("factcheck.language", "en")
	v.SetDefault("factcheck.max_claims", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")

	// Registered so AutomaticEnv can bind them during Unmarshal.
	for _, key := range []string{
		"fetch.user_agent", "browser.control_url", "browser.bin",
		"news_index.key", "anthropic.key", "anthropic.base_url",
		"factcheck.key", "sites.path", "jina.key", "firecrawl.key",
	} {
		v.SetDefault(key, "")
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
