package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  secret: s3cret
settings:
  exchange_rate: "450"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Storage.Driver != "memory" || cfg.Settings.Source != "static" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.Events.Memory || cfg.Rewards.PointsPerOrder != 1 || cfg.Alerting.Timeout != 5*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	s, err := cfg.Settings.Static()
	if err != nil || !s.ExchangeRate.Equal(decimal.NewFromInt(450)) {
		t.Fatalf("static settings: %+v %v", s, err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
auth:
  secret: from-file
storage:
  driver: mysql
  mysql:
    dsn: file-dsn
    conn_max_lifetime: 30m
settings:
  exchange_rate: "450"
`)
	t.Setenv("RELAY_JWT_SECRET", "from-env")
	t.Setenv("RELAY_MYSQL_DSN", "env-dsn")
	t.Setenv("RELAY_RABBITMQ_URL", "amqp://guest:guest@mq:5672/")
	t.Setenv("RELAY_RATE_LIMIT", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.Secret != "from-env" || cfg.Storage.MySQL.DSN != "env-dsn" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Storage.MySQL.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("duration not parsed: %v", cfg.Storage.MySQL.ConnMaxLifetime)
	}
	if cfg.Events.RabbitMQ == nil || cfg.Events.RabbitMQ.URL != "amqp://guest:guest@mq:5672/" || cfg.Events.Memory {
		t.Fatalf("rabbitmq override: %+v", cfg.Events)
	}
	if cfg.Server.RateLimit != 5 || cfg.Server.Burst != 6 {
		t.Fatalf("rate limit override: %+v", cfg.Server)
	}
}

func TestValidateRejectsBadCombinations(t *testing.T) {
	cases := map[string]string{
		"missing secret": `settings: {exchange_rate: "450"}`,
		"bad driver":     "auth: {secret: x}\nstorage: {driver: sqlite}\nsettings: {exchange_rate: \"450\"}",
		"zero rate":      "auth: {secret: x}\nsettings: {exchange_rate: \"0\"}",
		"file no path":   "auth: {secret: x}\nsettings: {source: file}",
		"bad window":     "auth: {secret: x}\nsettings: {exchange_rate: \"1\", window: weekly}",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestCalendarWindow(t *testing.T) {
	window, err := SettingsConfig{Window: "calendar", Timezone: "UTC"}.QuotaWindow()
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	now := time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC)
	if got := window(now); !got.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window start: %v", got)
	}
}
