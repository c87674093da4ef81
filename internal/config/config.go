package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Locator    LocatorConfig    `yaml:"locator" mapstructure:"locator"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer" mapstructure:"analyzer"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the report store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	SearchBaseURL string  `yaml:"search_base_url" mapstructure:"search_base_url"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// FetchConfig configures static and dynamic page retrieval.
type FetchConfig struct {
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries          int     `yaml:"retries" mapstructure:"retries"`
	BackoffInitialMs int     `yaml:"backoff_initial_ms" mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes     int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	TLSFingerprint   bool    `yaml:"tls_fingerprint" mapstructure:"tls_fingerprint"`
	HostRateLimit    float64 `yaml:"host_rate_limit" mapstructure:"host_rate_limit"`
	EscalateOnBlock  bool    `yaml:"escalate_on_block" mapstructure:"escalate_on_block"`
}

// Timeout returns the per-fetch timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// BrowserConfig configures the headless browser session pool.
type BrowserConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	Bin            string `yaml:"bin" mapstructure:"bin"`
	Headless       bool   `yaml:"headless" mapstructure:"headless"`
	NoSandbox      bool   `yaml:"no_sandbox" mapstructure:"no_sandbox"`
	MaxSessions    int    `yaml:"max_sessions" mapstructure:"max_sessions"`
	RenderWaitSecs int    `yaml:"render_wait_secs" mapstructure:"render_wait_secs"`
	Stealth        bool   `yaml:"stealth" mapstructure:"stealth"`
}

// LocatorConfig configures fuzzy page-type matching.
type LocatorConfig struct {
	Threshold    float64             `yaml:"threshold" mapstructure:"threshold"`
	MaxLinks     int                 `yaml:"max_links" mapstructure:"max_links"`
	Vocabularies map[string][]string `yaml:"vocabularies" mapstructure:"vocabularies"`
}

// ReviewSite is one third-party review source searched by the review pass.
type ReviewSite struct {
	Name       string `yaml:"name" mapstructure:"name"`
	Domain     string `yaml:"domain" mapstructure:"domain"`
	Priority   int    `yaml:"priority" mapstructure:"priority"`
	MaxResults int    `yaml:"max_results" mapstructure:"max_results"`
}

// ExtractConfig bounds the extraction passes.
type ExtractConfig struct {
	MaxHeadings       int          `yaml:"max_headings" mapstructure:"max_headings"`
	MaxParagraphs     int          `yaml:"max_paragraphs" mapstructure:"max_paragraphs"`
	MinParagraphChars int          `yaml:"min_paragraph_chars" mapstructure:"min_paragraph_chars"`
	MinParagraphWords int          `yaml:"min_paragraph_words" mapstructure:"min_paragraph_words"`
	MaxLeaders        int          `yaml:"max_leaders" mapstructure:"max_leaders"`
	MaxReviewResults  int          `yaml:"max_review_results" mapstructure:"max_review_results"`
	SubPageChars      int          `yaml:"sub_page_chars" mapstructure:"sub_page_chars"`
	ReviewSites       []ReviewSite `yaml:"review_sites" mapstructure:"review_sites"`
}

// AnalyzerConfig holds prompt truncation cutoffs and model call policy.
type AnalyzerConfig struct {
	MaxInputChars     int `yaml:"max_input_chars" mapstructure:"max_input_chars"`
	SnippetChars      int `yaml:"snippet_chars" mapstructure:"snippet_chars"`
	ParagraphChars    int `yaml:"paragraph_chars" mapstructure:"paragraph_chars"`
	SubPageChars      int `yaml:"sub_page_chars" mapstructure:"sub_page_chars"`
	MaxParagraphs     int `yaml:"max_paragraphs" mapstructure:"max_paragraphs"`
	MaxHeadings       int `yaml:"max_headings" mapstructure:"max_headings"`
	MaxLeaders        int `yaml:"max_leaders" mapstructure:"max_leaders"`
	MaxReviewSnippets int `yaml:"max_review_snippets" mapstructure:"max_review_snippets"`
	MaxAttempts       int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffInitialMs  int `yaml:"backoff_initial_ms" mapstructure:"backoff_initial_ms"`
	BreakerThreshold  int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// WorkflowConfig holds the coordinator's time budget.
type WorkflowConfig struct {
	DeadlineSecs        int `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	LocateTimeoutSecs   int `yaml:"locate_timeout_secs" mapstructure:"locate_timeout_secs"`
	PassTimeoutSecs     int `yaml:"pass_timeout_secs" mapstructure:"pass_timeout_secs"`
	AnalysisReserveSecs int `yaml:"analysis_reserve_secs" mapstructure:"analysis_reserve_secs"`
	MinAnalysisSecs     int `yaml:"min_analysis_secs" mapstructure:"min_analysis_secs"`
}

// PricingConfig holds per-model Anthropic pricing.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// MonitoringConfig configures report-quality alerting.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	DegradedRateThreshold float64 `yaml:"degraded_rate_threshold" mapstructure:"degraded_rate_threshold"`
	AvgErrorsThreshold    float64 `yaml:"avg_errors_threshold" mapstructure:"avg_errors_threshold"`
	MinReports            int     `yaml:"min_reports" mapstructure:"min_reports"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	RepeatAfterSecs       int     `yaml:"repeat_after_secs" mapstructure:"repeat_after_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// DefaultVocabularies are the phrases each page type is matched against.
func DefaultVocabularies() map[string][]string {
	return map[string][]string{
		"leadership": {"leadership", "our team", "team", "meet the team", "management", "executives", "founders", "board of directors", "our people", "who we are", "about us", "about"},
		"careers":    {"careers", "jobs", "join us", "join our team", "work with us", "open positions", "hiring", "vacancies"},
		"reviews":    {"reviews", "testimonials", "customer stories", "case studies", "customers", "success stories"},
		"contact":    {"contact", "contact us", "get in touch", "locations", "offices"},
		"news":       {"news", "press", "newsroom", "media", "press releases", "announcements", "blog"},
		"investors":  {"investors", "investor relations", "funding", "shareholders"},
	}
}

// DefaultReviewSites is the review catalogue, ordered by priority.
func DefaultReviewSites() []ReviewSite {
	return []ReviewSite{
		{Name: "g2", Domain: "g2.com", Priority: 1, MaxResults: 4},
		{Name: "capterra", Domain: "capterra.com", Priority: 1, MaxResults: 4},
		{Name: "trustpilot", Domain: "trustpilot.com", Priority: 2, MaxResults: 3},
		{Name: "glassdoor", Domain: "glassdoor.com", Priority: 2, MaxResults: 3},
		{Name: "indeed", Domain: "indeed.com", Priority: 3, MaxResults: 2},
		{Name: "gartner", Domain: "gartner.com", Priority: 3, MaxResults: 2},
	}
}

// Load reads configuration from ./config.yaml (if present) and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// looks for an optional config.yaml in the working directory; an explicit
// path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("INSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if len(cfg.Locator.Vocabularies) == 0 {
		cfg.Locator.Vocabularies = DefaultVocabularies()
	}
	if len(cfg.Extract.ReviewSites) == 0 {
		cfg.Extract.ReviewSites = DefaultReviewSites()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "insight.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.temperature", 0.4)
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.rate_limit", 2.0)
	v.SetDefault("fetch.timeout_secs", 25)
	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.backoff_initial_ms", 3000)
	v.SetDefault("fetch.backoff_max_ms", 15000)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	v.SetDefault("fetch.max_body_bytes", 5*1024*1024)
	v.SetDefault("fetch.tls_fingerprint", true)
	v.SetDefault("fetch.host_rate_limit", 2.0)
	v.SetDefault("fetch.escalate_on_block", true)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.max_sessions", 4)
	v.SetDefault("browser.render_wait_secs", 7)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("locator.threshold", 0.8)
	v.SetDefault("locator.max_links", 400)
	v.SetDefault("extract.max_headings", 40)
	v.SetDefault("extract.max_paragraphs", 75)
	v.SetDefault("extract.min_paragraph_chars", 50)
	v.SetDefault("extract.min_paragraph_words", 5)
	v.SetDefault("extract.max_leaders", 15)
	v.SetDefault("extract.max_review_results", 18)
	v.SetDefault("extract.sub_page_chars", 4000)
	v.SetDefault("analyzer.max_input_chars", 20000)
	v.SetDefault("analyzer.snippet_chars", 500)
	v.SetDefault("analyzer.paragraph_chars", 1500)
	v.SetDefault("analyzer.sub_page_chars", 2500)
	v.SetDefault("analyzer.max_paragraphs", 12)
	v.SetDefault("analyzer.max_headings", 20)
	v.SetDefault("analyzer.max_leaders", 15)
	v.SetDefault("analyzer.max_review_snippets", 10)
	v.SetDefault("analyzer.max_attempts", 3)
	v.SetDefault("analyzer.backoff_initial_ms", 2000)
	v.SetDefault("analyzer.breaker_threshold", 5)
	v.SetDefault("analyzer.breaker_reset_secs", 60)
	v.SetDefault("workflow.deadline_secs", 300)
	v.SetDefault("workflow.locate_timeout_secs", 40)
	v.SetDefault("workflow.pass_timeout_secs", 120)
	v.SetDefault("workflow.analysis_reserve_secs", 90)
	v.SetDefault("workflow.min_analysis_secs", 20)
	v.SetDefault("pricing.anthropic", map[string]any{
		"claude-sonnet-4-5-20250929": map[string]any{"input": 3.0, "output": 15.0, "cache_write_mul": 1.25, "cache_read_mul": 0.1},
		"claude-haiku-4-5-20251001":  map[string]any{"input": 0.8, "output": 4.0, "cache_write_mul": 1.25, "cache_read_mul": 0.1},
	})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 360)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("monitoring.degraded_rate_threshold", 0.5)
	v.SetDefault("monitoring.avg_errors_threshold", 6)
	v.SetDefault("monitoring.min_reports", 5)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.repeat_after_secs", 3600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 3)
}

// Validate checks value ranges that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if c.Locator.Threshold <= 0 || c.Locator.Threshold > 1 {
		return eris.Errorf("config: locator.threshold must be in (0, 1], got %v", c.Locator.Threshold)
	}
	if c.Fetch.TimeoutSecs <= 0 {
		return eris.New("config: fetch.timeout_secs must be positive")
	}
	if c.Fetch.Retries < 0 {
		return eris.New("config: fetch.retries must not be negative")
	}
	if c.Workflow.DeadlineSecs <= 0 {
		return eris.New("config: workflow.deadline_secs must be positive")
	}
	if c.Analyzer.MaxInputChars <= 0 {
		return eris.New("config: analyzer.max_input_chars must be positive")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	return nil
}

// InitLogger initializes the global zap logger. When cfg.File is set, logs
// are also written to a size-rotated file.
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

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			zapCfg.Level,
		)
		logger = zap.New(zapcore.NewTee(logger.Core(), fileCore), zap.AddCaller())
	}

	zap.ReplaceGlobals(logger)
	return nil
}
