package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/troppes/strixlog/logstreamer/internal/filter"
	"github.com/troppes/strixlog/logstreamer/internal/hub"
	"github.com/troppes/strixlog/logstreamer/internal/metrics"
	"github.com/troppes/strixlog/logstreamer/internal/model"
)

// EnvPrefix prefixes environment overrides, e.g. LOGSTREAMER_INGEST_ADDR.
const EnvPrefix = "LOGSTREAMER"

// Config holds the application configuration.
type Config struct {
	IngestAddr       string        `mapstructure:"ingest_addr"`
	DashboardAddr    string        `mapstructure:"dashboard_addr"`
	DashboardOrigins []string      `mapstructure:"dashboard_origins"`
	StatusAddr       string        `mapstructure:"status_addr"`
	HubCapacity      int           `mapstructure:"hub_capacity"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MetricsInterval  time.Duration `mapstructure:"metrics_interval"`
	Filter           FilterConfig  `mapstructure:"filter"`
	Docker           bool          `mapstructure:"docker"`
	Console          bool          `mapstructure:"console"`
	Gops             bool          `mapstructure:"gops"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
}

// FilterConfig is the startup filter applied to every ingested line.
type FilterConfig struct {
	Regex  []string `mapstructure:"regex"`
	Fields []string `mapstructure:"fields"` // field=value
	Level  string   `mapstructure:"level"`
}

// Spec converts the config section into a filter spec.
func (f FilterConfig) Spec() filter.Spec {
	return filter.Spec{Regex: f.Regex, Fields: f.Fields, Level: f.Level}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"ingest-addr":       "ingest_addr",
	"dashboard-addr":    "dashboard_addr",
	"dashboard-origins": "dashboard_origins",
	"status-addr":       "status_addr",
	"hub-capacity":      "hub_capacity",
	"max-connections":   "max_connections",
	"metrics-interval":  "metrics_interval",
	"filter-regex":      "filter.regex",
	"filter-field":      "filter.fields",
	"filter-level":      "filter.level",
	"docker":            "docker",
	"console":           "console",
	"gops":              "gops",
	"log-level":         "log_level",
	"log-format":        "log_format",
}

// Load parses args (without the program name), applies environment
// overrides and an optional config file, and validates the result.
// Precedence: flags set on the command line, then environment, then the
// config file, then defaults. pflag.ErrHelp is returned for -h.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("logstreamer", pflag.ContinueOnError)
	configFile := fs.String("config", "", "Path to a YAML config file")
	fs.String("ingest-addr", ":8080", "TCP address for log producers")
	fs.String("dashboard-addr", ":9001", "WebSocket address for dashboards")
	fs.StringSlice("dashboard-origins", []string{"*"}, "Browser origins allowed to open dashboard sessions")
	fs.String("status-addr", ":9090", "HTTP address for health and metrics")
	fs.Int("hub-capacity", hub.DefaultCapacity, "Records retained for lagging dashboards")
	fs.Int("max-connections", 0, "Maximum concurrent ingest connections (0 = unlimited)")
	fs.Duration("metrics-interval", metrics.DefaultInterval, "Metrics reporting interval")
	fs.StringSlice("filter-regex", nil, "Forward only messages matching any of these patterns")
	fs.StringSlice("filter-field", nil, "Require field=value on records carrying the field")
	fs.String("filter-level", "", "Forward only records of this level")
	fs.Bool("docker", false, "Also stream logs from local Docker containers")
	fs.Bool("console", false, "Print forwarded records to stdout")
	fs.Bool("gops", false, "Start the gops diagnostics agent")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "text", "Log format: text or json")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.IngestAddr == "" {
		errs = append(errs, errors.New("ingest_addr is required"))
	}
	if c.DashboardAddr == "" {
		errs = append(errs, errors.New("dashboard_addr is required"))
	}
	if c.HubCapacity <= 0 {
		errs = append(errs, fmt.Errorf("hub_capacity must be positive, got %d", c.HubCapacity))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("max_connections must not be negative, got %d", c.MaxConnections))
	}
	if c.MetricsInterval <= 0 {
		errs = append(errs, fmt.Errorf("metrics_interval must be positive, got %s", c.MetricsInterval))
	}
	if c.Filter.Level != "" {
		if _, err := model.ParseLevel(c.Filter.Level); err != nil {
			errs = append(errs, fmt.Errorf("filter.level: %w", err))
		}
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(c.LogLevel))
	return lvl, err
}
