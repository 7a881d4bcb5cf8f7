package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/materialshub/catalog-ingest/internal/monitor"
	"github.com/materialshub/catalog-ingest/internal/pipeline"
	"github.com/materialshub/catalog-ingest/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig           `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig       `yaml:"anthropic" mapstructure:"anthropic"`
	Voyage    VoyageConfig          `yaml:"voyage" mapstructure:"voyage"`
	Mivaa     MivaaConfig           `yaml:"mivaa" mapstructure:"mivaa"`
	Gate      pipeline.GateConfig   `yaml:"gate" mapstructure:"gate"`
	Router    pipeline.RouterConfig `yaml:"router" mapstructure:"router"`
	Engine    pipeline.EngineConfig `yaml:"engine" mapstructure:"engine"`
	Monitor   monitor.Config        `yaml:"monitor" mapstructure:"monitor"`
	Pricing   PricingConfig         `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig          `yaml:"server" mapstructure:"server"`
	Log       LogConfig             `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string           `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	HaikuModel  string  `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string  `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// VoyageConfig holds Voyage AI embedding API settings.
type VoyageConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// MivaaConfig holds the document extraction service settings.
type MivaaConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PricingConfig holds per-model token pricing for cost tracking.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Voyage    VoyagePricing           `yaml:"voyage" mapstructure:"voyage"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// VoyagePricing holds embedding pricing.
type VoyagePricing struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// ServerConfig configures the status HTTP server.
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
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "catalog.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("gate.min_quality", 0.6)
	v.SetDefault("gate.strict_min_quality", 0.7)
	v.SetDefault("gate.min_length", 50)
	v.SetDefault("gate.max_length", 5000)
	v.SetDefault("gate.similarity_threshold", 0.85)
	v.SetDefault("gate.borderline_policy", "review")
	v.SetDefault("router.accept_threshold", 0.90)
	v.SetDefault("router.escalate_threshold", 0.70)
	v.SetDefault("engine.unit_concurrency", 4)
	v.SetDefault("engine.max_job_retries", 3)
	v.SetDefault("engine.focused_mode", true)
	v.SetDefault("engine.workers", 2)
	v.SetDefault("engine.poll_interval", "2s")
	v.SetDefault("monitor.interval", "60s")
	v.SetDefault("monitor.stuck_threshold", "30m")
	v.SetDefault("monitor.max_retries", 3)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.rate_per_sec", 5)
	v.SetDefault("voyage.base_url", "https://api.voyageai.com/v1")
	v.SetDefault("voyage.model", "voyage-3.5")
	v.SetDefault("voyage.batch_size", 96)
	v.SetDefault("mivaa.base_url", "http://localhost:8000")
	v.SetDefault("mivaa.timeout_secs", 120)
	v.SetDefault("pricing.voyage.per_mtok", 0.06)

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
