package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := &Config{
		IngestAddr:       ":8080",
		DashboardAddr:    ":9001",
		DashboardOrigins: []string{"*"},
		StatusAddr:       ":9090",
		HubCapacity:      1000,
		MetricsInterval:  10 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
	}
	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("defaults (-want +got):\n%s", diff)
	}
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--ingest-addr", "127.0.0.1:7000",
		"--hub-capacity", "16",
		"--max-connections", "64",
		"--metrics-interval", "2s",
		"--filter-regex", "disk,timeout",
		"--filter-field", "source=tcp_stream",
		"--filter-level", "error",
		"--console",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.IngestAddr != "127.0.0.1:7000" || cfg.HubCapacity != 16 || cfg.MaxConnections != 64 {
		t.Errorf("unexpected addresses/limits: %+v", cfg)
	}
	if cfg.MetricsInterval != 2*time.Second {
		t.Errorf("MetricsInterval = %s, want 2s", cfg.MetricsInterval)
	}
	if !cfg.Console {
		t.Error("Console = false, want true")
	}
	wantFilter := FilterConfig{Regex: []string{"disk", "timeout"}, Fields: []string{"source=tcp_stream"}, Level: "error"}
	if diff := cmp.Diff(wantFilter, cfg.Filter); diff != "" {
		t.Errorf("filter (-want +got):\n%s", diff)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LOGSTREAMER_DASHBOARD_ADDR", ":9999")
	t.Setenv("LOGSTREAMER_FILTER_LEVEL", "WARN")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DashboardAddr != ":9999" {
		t.Errorf("DashboardAddr = %q, want :9999", cfg.DashboardAddr)
	}
	if cfg.Filter.Level != "WARN" {
		t.Errorf("Filter.Level = %q, want WARN", cfg.Filter.Level)
	}

	// Explicit flags win over the environment.
	cfg, err = Load([]string{"--dashboard-addr", ":1234"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DashboardAddr != ":1234" {
		t.Errorf("DashboardAddr = %q, want :1234", cfg.DashboardAddr)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logstreamer.yaml")
	data := `
ingest_addr: ":7070"
hub_capacity: 50
filter:
  level: INFO
  regex:
    - "^GET "
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IngestAddr != ":7070" || cfg.HubCapacity != 50 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Filter.Level != "INFO" || len(cfg.Filter.Regex) != 1 || cfg.Filter.Regex[0] != "^GET " {
		t.Errorf("filter from file = %+v", cfg.Filter)
	}
	if cfg.DashboardAddr != ":9001" {
		t.Errorf("DashboardAddr = %q, want default :9001", cfg.DashboardAddr)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Error("expected error for missing config file, got nil")
	}
}

func TestLoadHelp(t *testing.T) {
	if _, err := Load([]string{"--help"}); !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("Load(--help) error = %v, want pflag.ErrHelp", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			IngestAddr:      ":8080",
			DashboardAddr:   ":9001",
			HubCapacity:     10,
			MetricsInterval: time.Second,
			LogLevel:        "info",
			LogFormat:       "json",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero capacity", mutate: func(c *Config) { c.HubCapacity = 0 }, wantErr: "hub_capacity"},
		{name: "negative connections", mutate: func(c *Config) { c.MaxConnections = -1 }, wantErr: "max_connections"},
		{name: "zero interval", mutate: func(c *Config) { c.MetricsInterval = 0 }, wantErr: "metrics_interval"},
		{name: "unknown filter level", mutate: func(c *Config) { c.Filter.Level = "fatal" }, wantErr: "filter.level"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "log_format"},
		{name: "missing ingest addr", mutate: func(c *Config) { c.IngestAddr = "" }, wantErr: "ingest_addr"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tc.wantErr)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	c := Config{LogLevel: "warn"}
	lvl, err := c.SlogLevel()
	if err != nil || lvl != slog.LevelWarn {
		t.Errorf("SlogLevel() = %v, %v; want WARN, nil", lvl, err)
	}
}
