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
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	PIK    PIKConfig    `yaml:"pik" mapstructure:"pik"`
	Email  EmailConfig  `yaml:"email" mapstructure:"email"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Sync   SyncConfig   `yaml:"sync" mapstructure:"sync"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"` // sqlite file path
}

// PIKConfig configures the upstream source client.
type PIKConfig struct {
	APIBase        string `yaml:"api_base" mapstructure:"api_base"`
	APIVersion     string `yaml:"api_version" mapstructure:"api_version"`
	SiteURL        string `yaml:"site_url" mapstructure:"site_url"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestDelayMS int    `yaml:"request_delay_ms" mapstructure:"request_delay_ms"`
	PageLimit      int    `yaml:"page_limit" mapstructure:"page_limit"`
	MaxOffset      int    `yaml:"max_offset" mapstructure:"max_offset"`
}

// Timeout returns the request timeout as a duration.
func (c PIKConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RequestDelay returns the inter-request throttle as a duration.
func (c PIKConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMS) * time.Millisecond
}

// EmailConfig configures outbound notification delivery.
type EmailConfig struct {
	Enabled   bool       `yaml:"enabled" mapstructure:"enabled"`
	From      string     `yaml:"from" mapstructure:"from"`
	FromName  string     `yaml:"from_name" mapstructure:"from_name"`
	DefaultTo string     `yaml:"default_to" mapstructure:"default_to"` // price-drop digest recipient
	SMTP      SMTPConfig `yaml:"smtp" mapstructure:"smtp"`
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host       string `yaml:"host" mapstructure:"host"`
	Port       int    `yaml:"port" mapstructure:"port"`
	Username   string `yaml:"username" mapstructure:"username"`
	Password   string `yaml:"password" mapstructure:"password"`
	Encryption string `yaml:"encryption" mapstructure:"encryption"` // tls | ssl | none
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// SyncConfig configures ingestion cycle behavior.
type SyncConfig struct {
	Source        string `yaml:"source" mapstructure:"source"` // api | site
	LockTTLMins   int    `yaml:"lock_ttl_mins" mapstructure:"lock_ttl_mins"`
	FetchParallel int    `yaml:"fetch_parallel" mapstructure:"fetch_parallel"`
}

// LockTTL returns how long a stale cycle lock is honored.
func (c SyncConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMins) * time.Minute
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
	v.SetEnvPrefix("PIK_TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/tracker.db")
	v.SetDefault("pik.api_base", "https://api.pik.ru")
	v.SetDefault("pik.api_version", "v2")
	v.SetDefault("pik.site_url", "https://www.pik.ru")
	v.SetDefault("pik.timeout_secs", 30)
	v.SetDefault("pik.request_delay_ms", 0)
	v.SetDefault("pik.page_limit", 100)
	v.SetDefault("pik.max_offset", 2000)
	v.SetDefault("email.from", "noreply@localhost")
	v.SetDefault("email.from_name", "PIK Tracker")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.encryption", "tls")
	v.SetDefault("server.port", 8080)
	v.SetDefault("sync.source", "api")
	v.SetDefault("sync.lock_ttl_mins", 15)
	v.SetDefault("sync.fetch_parallel", 4)
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
