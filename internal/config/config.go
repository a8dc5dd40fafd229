package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/leadfactory/leadfactory/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig             `yaml:"store" mapstructure:"store"`
	Hunter     HunterConfig            `yaml:"hunter" mapstructure:"hunter"`
	DataAxle   DataAxleConfig          `yaml:"dataaxle" mapstructure:"dataaxle"`
	Pricing    PricingConfig           `yaml:"pricing" mapstructure:"pricing"`
	RateLimits []model.RateLimitConfig `yaml:"rate_limits" mapstructure:"rate_limits"`
	Guardrail  GuardrailConfig         `yaml:"guardrail" mapstructure:"guardrail"`
	Ledger     LedgerConfig            `yaml:"ledger" mapstructure:"ledger"`
	Enrich     EnrichConfig            `yaml:"enrich" mapstructure:"enrich"`
	Server     ServerConfig            `yaml:"server" mapstructure:"server"`
	Log        LogConfig               `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. Driver selects postgres or
// sqlite; DatabaseURL is the pgx DSN, SQLitePath the on-disk database file.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// HunterConfig holds Hunter.io API settings.
type HunterConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// DataAxleConfig holds Data Axle API settings.
type DataAxleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PricingConfig holds per-provider unit pricing.
type PricingConfig struct {
	Hunter   HunterPricing   `yaml:"hunter" mapstructure:"hunter"`
	DataAxle DataAxlePricing `yaml:"dataaxle" mapstructure:"dataaxle"`
}

// HunterPricing holds Hunter.io per-operation pricing (USD per call).
type HunterPricing struct {
	EmailLookup float64 `yaml:"email_lookup" mapstructure:"email_lookup"`
}

// DataAxlePricing holds Data Axle per-operation pricing (USD per call).
type DataAxlePricing struct {
	BusinessMatch float64 `yaml:"business_match" mapstructure:"business_match"`
}

// GuardrailConfig configures the cost guardrail manager.
type GuardrailConfig struct {
	Limits           []model.CostLimit `yaml:"limits" mapstructure:"limits"`
	CacheTTL         time.Duration     `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	AlertWebhookURL  string            `yaml:"alert_webhook_url" mapstructure:"alert_webhook_url"`
	AlertMinInterval time.Duration     `yaml:"alert_min_interval" mapstructure:"alert_min_interval"`
}

// LedgerConfig configures cost record retention.
type LedgerConfig struct {
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
}

// EnrichConfig configures the bucket enrichment flow.
type EnrichConfig struct {
	BudgetUSD       float64       `yaml:"budget_usd" mapstructure:"budget_usd"`
	MaxBuckets      int           `yaml:"max_buckets" mapstructure:"max_buckets"`
	Concurrency     int           `yaml:"concurrency" mapstructure:"concurrency"`
	DiscoveryWindow time.Duration `yaml:"discovery_window" mapstructure:"discovery_window"`
	StrategiesFile  string        `yaml:"strategies_file" mapstructure:"strategies_file"`
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
	v.SetEnvPrefix("LEADFACTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Credential and URL keys default empty so env-only values
	// are visible to Unmarshal.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "leadfactory.db")
	v.SetDefault("hunter.key", "")
	v.SetDefault("dataaxle.key", "")
	v.SetDefault("guardrail.alert_webhook_url", "")
	v.SetDefault("enrich.strategies_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("hunter.base_url", "https://api.hunter.io/v2")
	v.SetDefault("dataaxle.base_url", "https://api.data-axle.com/v1")
	v.SetDefault("pricing.hunter.email_lookup", 0.01)
	v.SetDefault("pricing.dataaxle.business_match", 0.05)
	v.SetDefault("ledger.retention_days", 90)
	v.SetDefault("guardrail.cache_ttl", "60s")
	v.SetDefault("guardrail.alert_min_interval", "5m")
	v.SetDefault("enrich.budget_usd", 0.0)
	v.SetDefault("enrich.max_buckets", 0)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("enrich.discovery_window", "720h")
	v.SetDefault("rate_limits", defaultRateLimits())
	v.SetDefault("guardrail.limits", defaultCostLimits())

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

// defaultRateLimits returns the out-of-the-box provider rate limits.
func defaultRateLimits() []map[string]any {
	return []map[string]any{
		{
			"provider":            "hunter",
			"requests_per_minute": 30.0,
			"burst":               5,
		},
		{
			"provider":            "dataaxle",
			"requests_per_minute": 60.0,
			"burst":               10,
			"cost_per_minute_usd": 1.0,
			"cost_burst_usd":      0.25,
		},
	}
}

// defaultCostLimits returns the out-of-the-box spending guardrails: a hard
// global daily cap plus per-provider daily caps that block on breach.
func defaultCostLimits() []map[string]any {
	return []map[string]any{
		{
			"name":      "global_daily",
			"scope":     "global",
			"period":    "daily",
			"limit_usd": 100.0,
			"actions":   []string{"alert", "block"},
			"enabled":   true,
		},
		{
			"name":      "hunter_daily",
			"scope":     "provider",
			"provider":  "hunter",
			"period":    "daily",
			"limit_usd": 25.0,
			"actions":   []string{"alert", "block"},
			"enabled":   true,
		},
		{
			"name":      "dataaxle_daily",
			"scope":     "provider",
			"provider":  "dataaxle",
			"period":    "daily",
			"limit_usd": 50.0,
			"actions":   []string{"alert", "throttle"},
			"enabled":   true,
		},
		{
			"name":      "global_monthly",
			"scope":     "global",
			"period":    "monthly",
			"limit_usd": 1000.0,
			"actions":   []string{"alert", "block"},
			"breaker": map[string]any{
				"enabled":           true,
				"failure_threshold": 5,
				"recovery_timeout":  "10m",
			},
			"enabled": true,
		},
	}
}

// Validate checks that configuration required for the given mode is present.
// Modes: enrich (store + provider credentials), serve (store + port),
// migrate (store only).
func (c *Config) Validate(mode string) error {
	var problems []string

	storeOK := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				problems = append(problems, "store.sqlite_path is required")
			}
		default:
			problems = append(problems, "store.driver must be postgres or sqlite")
		}
	}

	switch mode {
	case "enrich":
		storeOK()
		if c.Hunter.Key == "" {
			problems = append(problems, "hunter.key is required")
		}
		if c.DataAxle.Key == "" {
			problems = append(problems, "dataaxle.key is required")
		}
		if c.Enrich.Concurrency < 1 || c.Enrich.Concurrency > 50 {
			problems = append(problems, "enrich.concurrency must be between 1 and 50")
		}
	case "serve":
		storeOK()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "migrate":
		storeOK()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
