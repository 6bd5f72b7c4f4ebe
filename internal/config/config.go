package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/newthinker/stratsync/internal/core"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	AutoOptOut AutoOptOutConfig `mapstructure:"auto_opt_out"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects and configures the entity store.
type StoreConfig struct {
	Provider string          `mapstructure:"provider"` // "memory", "http" or "blob"
	SeedFile string          `mapstructure:"seed_file"`
	HTTP     HTTPStoreConfig `mapstructure:"http"`
	Blob     BlobConfig      `mapstructure:"blob"`
}

type HTTPStoreConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type BlobConfig struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// PipelineConfig controls how and when the refresh cycle runs.
type PipelineConfig struct {
	RefreshSchedule string `mapstructure:"refresh_schedule"`
	TradeEntity     string `mapstructure:"trade_entity"`
	StrategyEntity  string `mapstructure:"strategy_entity"`
	TradeLimit      int    `mapstructure:"trade_limit"`
}

// ReconcileConfig holds the write pacing of the reconciliation scheduler.
type ReconcileConfig struct {
	Debounce      time.Duration `mapstructure:"debounce"`
	MinInterval   time.Duration `mapstructure:"min_interval"`
	RetryCooldown time.Duration `mapstructure:"retry_cooldown"`
	BatchSize     int           `mapstructure:"batch_size"`
	ItemDelay     time.Duration `mapstructure:"item_delay"`
	BatchDelay    time.Duration `mapstructure:"batch_delay"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// AutoOptOutConfig holds the automatic opt-out policy.
type AutoOptOutConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MinTrades       int           `mapstructure:"min_trades"`
	MaxProfitFactor float64       `mapstructure:"max_profit_factor"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
}

// NotifyConfig lists receivers for policy events.
type NotifyConfig struct {
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from file on top of Defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Provider: "memory",
			HTTP: HTTPStoreConfig{
				Timeout:       15 * time.Second,
				RatePerSecond: 2,
				Burst:         1,
				Breaker: BreakerConfig{
					Enabled:      true,
					MaxRequests:  1,
					Interval:     time.Minute,
					Timeout:      30 * time.Second,
					FailureRatio: 0.5,
					MinRequests:  5,
				},
			},
			Blob: BlobConfig{
				Type: "localfs",
				Path: "data",
			},
		},
		Pipeline: PipelineConfig{
			RefreshSchedule: "@every 30s",
			TradeEntity:     "Trade",
			StrategyEntity:  "Strategy",
		},
		Reconcile: ReconcileConfig{
			Debounce:      2 * time.Second,
			MinInterval:   10 * time.Second,
			RetryCooldown: 15 * time.Second,
			BatchSize:     3,
			ItemDelay:     500 * time.Millisecond,
			BatchDelay:    2 * time.Second,
			WriteTimeout:  15 * time.Second,
		},
		AutoOptOut: AutoOptOutConfig{
			Enabled:         false,
			MinTrades:       20,
			MaxProfitFactor: 1.0,
			Cooldown:        30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}

	switch c.Store.Provider {
	case "memory":
	case "http":
		if c.Store.HTTP.BaseURL == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("store.http.base_url required when provider is http"))
		}
		if c.Store.HTTP.RatePerSecond < 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("store.http.rate_per_second cannot be negative, got %f", c.Store.HTTP.RatePerSecond))
		}
	case "blob":
		switch c.Store.Blob.Type {
		case "localfs":
			if c.Store.Blob.Path == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("store.blob.path required for localfs"))
			}
		case "s3":
			if c.Store.Blob.S3.Bucket == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("store.blob.s3.bucket required for s3"))
			}
		default:
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("unknown blob type %q", c.Store.Blob.Type))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown store provider %q", c.Store.Provider))
	}

	if c.Pipeline.TradeEntity == "" || c.Pipeline.StrategyEntity == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("pipeline.trade_entity and pipeline.strategy_entity are required"))
	}
	if c.Pipeline.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.Pipeline.RefreshSchedule); err != nil {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("refresh_schedule: %w", err))
		}
	}

	// Reconcile validation
	r := c.Reconcile
	if r.BatchSize < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("reconcile.batch_size must be at least 1, got %d", r.BatchSize))
	}
	for name, d := range map[string]time.Duration{
		"debounce":       r.Debounce,
		"min_interval":   r.MinInterval,
		"retry_cooldown": r.RetryCooldown,
		"item_delay":     r.ItemDelay,
		"batch_delay":    r.BatchDelay,
	} {
		if d < 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("reconcile.%s cannot be negative, got %s", name, d))
		}
	}

	if c.AutoOptOut.MinTrades < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("auto_opt_out.min_trades must be at least 1, got %d", c.AutoOptOut.MinTrades))
	}
	if c.AutoOptOut.MaxProfitFactor <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("auto_opt_out.max_profit_factor must be positive, got %f", c.AutoOptOut.MaxProfitFactor))
	}

	seen := make(map[string]bool)
	for i, wh := range c.Notify.Webhooks {
		if wh.URL == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("notify.webhooks[%d].url required", i))
		}
		name := wh.Name
		if name == "" {
			name = "webhook"
		}
		if seen[name] {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("notify.webhooks: duplicate name %q", name))
		}
		seen[name] = true
	}

	return nil
}
