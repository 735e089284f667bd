package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Matcher    MatcherConfig    `yaml:"matcher" mapstructure:"matcher"`
	Deviation  DeviationConfig  `yaml:"deviation" mapstructure:"deviation"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// SourcesConfig holds endpoint lists for the upstream data sources.
type SourcesConfig struct {
	Envirofacts EndpointsConfig `yaml:"envirofacts" mapstructure:"envirofacts"`
	CAMPD       EndpointsConfig `yaml:"campd" mapstructure:"campd"`
	// FailureThreshold is the consecutive-failure count after which an
	// endpoint is demoted to the back of the rotation.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// EndpointsConfig lists primary and backup base URLs for one source.
type EndpointsConfig struct {
	Primary []string `yaml:"primary" mapstructure:"primary"`
	Backup  []string `yaml:"backup" mapstructure:"backup"`
}

// FetchConfig configures the HTTP fetch layer.
type FetchConfig struct {
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst        int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	Limit            int     `yaml:"limit" mapstructure:"limit"`
}

// CacheConfig configures the tiered response cache.
type CacheConfig struct {
	Capacity   int  `yaml:"capacity" mapstructure:"capacity"`
	FreshHours int  `yaml:"fresh_hours" mapstructure:"fresh_hours"`
	AgedDays   int  `yaml:"aged_days" mapstructure:"aged_days"`
	AllowStale bool `yaml:"allow_stale" mapstructure:"allow_stale"`
}

// MatcherConfig configures facility name matching.
type MatcherConfig struct {
	MinScore     float64 `yaml:"min_score" mapstructure:"min_score"`
	StatePenalty float64 `yaml:"state_penalty" mapstructure:"state_penalty"`
}

// DeviationConfig configures the per-pollutant deviation thresholds, in
// percent.
type DeviationConfig struct {
	Thresholds        map[string]float64 `yaml:"thresholds" mapstructure:"thresholds"`
	FallbackThreshold float64            `yaml:"fallback_threshold" mapstructure:"fallback_threshold"`
}

// ValidationConfig configures the validation engine.
type ValidationConfig struct {
	// MinMatches is the match count below which the low-density flag is
	// raised.
	MinMatches int `yaml:"min_matches" mapstructure:"min_matches"`
}

// AuditConfig configures the audit trail backend.
type AuditConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CROSSVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("sources.failure_threshold", 3)
	v.SetDefault("fetch.timeout_secs", 15)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.initial_backoff_ms", 1000)
	v.SetDefault("fetch.rate_limit", 5.0)
	v.SetDefault("fetch.rate_burst", 5)
	v.SetDefault("fetch.user_agent", "crossval/1.0")
	v.SetDefault("fetch.limit", 100)
	v.SetDefault("cache.capacity", 10)
	v.SetDefault("cache.fresh_hours", 24)
	v.SetDefault("cache.aged_days", 7)
	v.SetDefault("cache.allow_stale", true)
	v.SetDefault("matcher.min_score", 0.5)
	v.SetDefault("matcher.state_penalty", 0.2)
	v.SetDefault("deviation.thresholds", map[string]float64{
		"co2": 15.0,
		"nox": 20.0,
		"so2": 25.0,
	})
	v.SetDefault("deviation.fallback_threshold", 20.0)
	v.SetDefault("validation.min_matches", 3)
	v.SetDefault("audit.driver", "none")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
