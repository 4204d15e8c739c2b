// Package config loads application configuration and sets up logging.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Input    InputConfig    `yaml:"input" mapstructure:"input"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	GLEIF    GLEIFConfig    `yaml:"gleif" mapstructure:"gleif"`
	PDL      PDLConfig      `yaml:"pdl" mapstructure:"pdl"`
	Lookup   LookupConfig   `yaml:"lookup" mapstructure:"lookup"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// InputConfig locates the dataset to enrich.
type InputConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	Encoding string `yaml:"encoding" mapstructure:"encoding"`
}

// OutputConfig locates the enriched dataset and the daily summaries.
type OutputConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`
	SummaryDir string `yaml:"summary_dir" mapstructure:"summary_dir"`
}

// GLEIFConfig configures the LEI registry client.
type GLEIFConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
	DelayMS   int    `yaml:"delay_ms" mapstructure:"delay_ms"`
}

// Delay returns the per-request stagger.
func (c GLEIFConfig) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

// PDLConfig configures the firmographics client.
type PDLConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	Key           string `yaml:"api_key" mapstructure:"api_key"`
	BatchSize     int    `yaml:"batch_size" mapstructure:"batch_size"`
	DelayMS       int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	Fallback      bool   `yaml:"fallback" mapstructure:"fallback"`
	TripAfter     int    `yaml:"trip_after" mapstructure:"trip_after"`
	TripResetSecs int    `yaml:"trip_reset_secs" mapstructure:"trip_reset_secs"`
}

// Delay returns the per-request stagger.
func (c PDLConfig) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

// TripReset returns how long a tripped enrich endpoint stays skipped.
func (c PDLConfig) TripReset() time.Duration {
	return time.Duration(c.TripResetSecs) * time.Second
}

// LookupConfig configures the shared HTTP client of a run.
type LookupConfig struct {
	TimeoutSecs  int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxIdleConns int `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
}

// Timeout returns the per-call HTTP timeout.
func (c LookupConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ScheduleConfig configures recurring runs.
type ScheduleConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// Interval returns the tick interval.
func (c ScheduleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// StoreConfig configures run history persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
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
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("input.path", "data/forward_firm_universe.xlsx")
	v.SetDefault("input.encoding", "")
	v.SetDefault("output.path", "data/enriched_forward_firm_universe.csv")
	v.SetDefault("output.summary_dir", "")
	v.SetDefault("gleif.base_url", "https://api.gleif.org/api/v1")
	v.SetDefault("gleif.batch_size", 60)
	v.SetDefault("gleif.delay_ms", 100)
	v.SetDefault("pdl.base_url", "https://api.peopledatalabs.com")
	v.SetDefault("pdl.api_key", "")
	v.SetDefault("pdl.batch_size", 50)
	v.SetDefault("pdl.delay_ms", 200)
	v.SetDefault("pdl.fallback", true)
	v.SetDefault("pdl.trip_after", 5)
	v.SetDefault("pdl.trip_reset_secs", 300)
	v.SetDefault("lookup.timeout_secs", 30)
	v.SetDefault("lookup.max_idle_conns", 20)
	v.SetDefault("schedule.interval_secs", 20)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "entity-enrich.db")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
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

// Validate checks the settings a command mode depends on. Modes: run,
// schedule, serve, report, runs.
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "run", "schedule", "serve":
		require(c.Input.Path != "", "input.path is required")
		require(c.Output.Path != "", "output.path is required")
		require(c.PDL.Key != "", "pdl.api_key is required (set ENRICH_PDL_API_KEY)")
		require(c.GLEIF.BaseURL != "", "gleif.base_url is required")
		require(c.PDL.BaseURL != "", "pdl.base_url is required")
		require(c.GLEIF.BatchSize > 0, "gleif.batch_size must be positive")
		require(c.PDL.BatchSize > 0, "pdl.batch_size must be positive")
		require(c.GLEIF.DelayMS >= 0, "gleif.delay_ms must not be negative")
		require(c.PDL.DelayMS >= 0, "pdl.delay_ms must not be negative")
		require(c.Lookup.TimeoutSecs > 0, "lookup.timeout_secs must be positive")
		if mode == "schedule" {
			require(c.Schedule.IntervalSecs > 0, "schedule.interval_secs must be positive")
		}
		if mode == "serve" {
			require(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be between 1 and 65535")
		}
	case "report":
		require(c.Input.Path != "", "input.path is required")
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported (sqlite, postgres)", c.Store.Driver))
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
