package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/newthinker/stratsync/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9090

store:
  provider: blob
  blob:
    type: localfs
    path: "/tmp/stratsync"

reconcile:
  min_interval: 20s
  batch_size: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Store.Provider != "blob" || cfg.Store.Blob.Path != "/tmp/stratsync" {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Reconcile.MinInterval != 20*time.Second {
		t.Errorf("expected min_interval 20s, got %s", cfg.Reconcile.MinInterval)
	}
	if cfg.Reconcile.BatchSize != 5 {
		t.Errorf("expected batch_size 5, got %d", cfg.Reconcile.BatchSize)
	}
	// Unset keys keep their defaults.
	if cfg.Reconcile.RetryCooldown != 15*time.Second {
		t.Errorf("expected default retry_cooldown 15s, got %s", cfg.Reconcile.RetryCooldown)
	}
	if cfg.Pipeline.RefreshSchedule != "@every 30s" {
		t.Errorf("expected default schedule, got %q", cfg.Pipeline.RefreshSchedule)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("STRATSYNC_TEST_API_KEY", "from-env")
	path := writeConfig(t, `
store:
  provider: http
  http:
    base_url: "https://store.example.com"
    api_key: "${STRATSYNC_TEST_API_KEY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Store.HTTP.APIKey != "from-env" {
		t.Errorf("expected api key from env, got %q", cfg.Store.HTTP.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Reconcile.MinInterval != 10*time.Second || cfg.Reconcile.BatchSize != 3 {
		t.Errorf("unexpected reconcile defaults: %+v", cfg.Reconcile)
	}
	if cfg.AutoOptOut.MinTrades != 20 || cfg.AutoOptOut.MaxProfitFactor != 1.0 {
		t.Errorf("unexpected opt-out defaults: %+v", cfg.AutoOptOut)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr *core.Error
	}{
		{"valid defaults", func(c *Config) {}, nil},
		{"invalid port - zero", func(c *Config) { c.Server.Port = 0 }, core.ErrConfigInvalid},
		{"invalid port - too high", func(c *Config) { c.Server.Port = 70000 }, core.ErrConfigInvalid},
		{"unknown provider", func(c *Config) { c.Store.Provider = "postgres" }, core.ErrConfigInvalid},
		{"http without base url", func(c *Config) { c.Store.Provider = "http" }, core.ErrConfigMissing},
		{"http ok", func(c *Config) {
			c.Store.Provider = "http"
			c.Store.HTTP.BaseURL = "http://localhost:9000"
		}, nil},
		{"s3 without bucket", func(c *Config) {
			c.Store.Provider = "blob"
			c.Store.Blob.Type = "s3"
		}, core.ErrConfigMissing},
		{"unknown blob type", func(c *Config) {
			c.Store.Provider = "blob"
			c.Store.Blob.Type = "gcs"
		}, core.ErrConfigInvalid},
		{"bad schedule", func(c *Config) { c.Pipeline.RefreshSchedule = "every now and then" }, core.ErrConfigInvalid},
		{"cron schedule", func(c *Config) { c.Pipeline.RefreshSchedule = "*/5 * * * *" }, nil},
		{"zero batch size", func(c *Config) { c.Reconcile.BatchSize = 0 }, core.ErrConfigInvalid},
		{"negative delay", func(c *Config) { c.Reconcile.ItemDelay = -time.Second }, core.ErrConfigInvalid},
		{"zero min trades", func(c *Config) { c.AutoOptOut.MinTrades = 0 }, core.ErrConfigInvalid},
		{"missing entity", func(c *Config) { c.Pipeline.TradeEntity = "" }, core.ErrConfigMissing},
		{"webhook without url", func(c *Config) {
			c.Notify.Webhooks = []WebhookConfig{{Name: "ops"}}
		}, core.ErrConfigMissing},
		{"duplicate webhook names", func(c *Config) {
			c.Notify.Webhooks = []WebhookConfig{{URL: "http://a"}, {URL: "http://b"}}
		}, core.ErrConfigInvalid},
		{"two named webhooks", func(c *Config) {
			c.Notify.Webhooks = []WebhookConfig{{Name: "ops", URL: "http://a"}, {Name: "audit", URL: "http://b"}}
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
