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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Scanner   ScannerConfig   `yaml:"scanner" mapstructure:"scanner"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer" mapstructure:"analyzer"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the collector daemon.
type ServerConfig struct {
	Port               int    `yaml:"port" mapstructure:"port"`
	BaseURL            string `yaml:"base_url" mapstructure:"base_url"`
	DrainIntervalSecs  int    `yaml:"drain_interval_secs" mapstructure:"drain_interval_secs"`
	ShutdownGraceSecs  int    `yaml:"shutdown_grace_secs" mapstructure:"shutdown_grace_secs"`
	MaxPayloadBytes    int64  `yaml:"max_payload_bytes" mapstructure:"max_payload_bytes"`
	SubscriberBacklog  int    `yaml:"subscriber_backlog" mapstructure:"subscriber_backlog"`
}

// IngestConfig seeds the user-editable ingestion settings on first launch
// and sizes the session's in-memory structures.
type IngestConfig struct {
	MaxRetention   int  `yaml:"max_retention" mapstructure:"max_retention"`
	AutoAnalyze    bool `yaml:"auto_analyze" mapstructure:"auto_analyze"`
	DedupCacheSize int  `yaml:"dedup_cache_size" mapstructure:"dedup_cache_size"`
	LogCap         int  `yaml:"log_cap" mapstructure:"log_cap"`
	ClipboardCap   int  `yaml:"clipboard_cap" mapstructure:"clipboard_cap"`
}

// ScannerConfig configures the URL parameter scanner.
type ScannerConfig struct {
	AutoScan         bool     `yaml:"auto_scan" mapstructure:"auto_scan"`
	WatchURL         string   `yaml:"watch_url" mapstructure:"watch_url"`
	PollIntervalMs   int      `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	FiltersEnabled   bool     `yaml:"filters_enabled" mapstructure:"filters_enabled"`
	AllowedKeys      []string `yaml:"allowed_keys" mapstructure:"allowed_keys"`
	DeniedKeys       []string `yaml:"denied_keys" mapstructure:"denied_keys"`
	ParameterAliases map[string]string `yaml:"parameter_aliases" mapstructure:"parameter_aliases"`
}

// AnalyzerConfig selects and throttles the analysis collaborator.
type AnalyzerConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"` // "heuristic" or "claude"
	RatePerMinute int    `yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
	MaxAttempts   int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	QueueDepth    int    `yaml:"queue_depth" mapstructure:"queue_depth"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
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
	v.SetEnvPrefix("SINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "signal-sink.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.drain_interval_secs", 5)
	v.SetDefault("server.shutdown_grace_secs", 10)
	v.SetDefault("server.max_payload_bytes", 4<<20)
	v.SetDefault("server.subscriber_backlog", 64)
	v.SetDefault("ingest.max_retention", 1000)
	v.SetDefault("ingest.auto_analyze", true)
	v.SetDefault("ingest.dedup_cache_size", 4096)
	v.SetDefault("ingest.log_cap", 500)
	v.SetDefault("ingest.clipboard_cap", 100)
	v.SetDefault("scanner.auto_scan", true)
	v.SetDefault("scanner.poll_interval_ms", 500)
	v.SetDefault("analyzer.provider", "heuristic")
	v.SetDefault("analyzer.rate_per_minute", 30)
	v.SetDefault("analyzer.max_attempts", 3)
	v.SetDefault("analyzer.queue_depth", 256)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
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
