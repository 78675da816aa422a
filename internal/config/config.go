// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration. Fields are populated from
// a YAML file, WEBPILOT_* environment variables, or the defaults below.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Wait    WaitConfig    `mapstructure:"wait" yaml:"wait"`
	Ledger  LedgerConfig  `mapstructure:"ledger" yaml:"ledger"`
}

// LoggerConfig configures the zap bootstrap in internal/observability.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File output, rotated by lumberjack. Empty disables the file core.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig configures the embedded browser surface.
type BrowserConfig struct {
	Headless        bool   `mapstructure:"headless" yaml:"headless"`
	UserAgent       string `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth     int    `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int    `mapstructure:"window_height" yaml:"window_height"`
	IgnoreTLSErrors bool   `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// NetworkConfig configures navigation and interception behavior.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// CaptureBodies controls whether intercepted exchanges retain their
	// request/response body payloads in the ledger.
	CaptureBodies bool `mapstructure:"capture_bodies" yaml:"capture_bodies"`
	// BlockedHosts lists hosts the surface refuses to load. Blocked loads
	// surface as hostblocked events.
	BlockedHosts []string `mapstructure:"blocked_hosts" yaml:"blocked_hosts"`
}

// WaitConfig carries the default bounds for the wait family. Selector and
// function waits use the timeout/interval pair; request waits use the
// times/interval pair.
type WaitConfig struct {
	DefaultTimeout  time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	DefaultInterval time.Duration `mapstructure:"default_interval" yaml:"default_interval"`
	RequestTimes    int           `mapstructure:"request_times" yaml:"request_times"`
	RequestInterval time.Duration `mapstructure:"request_interval" yaml:"request_interval"`
	AuthTimeout     time.Duration `mapstructure:"auth_timeout" yaml:"auth_timeout"`
}

// LedgerConfig configures the request ledger.
type LedgerConfig struct {
	// MaxEntries is a soft high-water mark for captured exchanges per page.
	// Zero means unbounded.
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly; there is no external input here.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads the config file at path (or the standard search locations when
// path is empty), applies WEBPILOT_* environment overrides, and unmarshals.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("webpilot")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("WEBPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config file found; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)

	v.SetDefault("network.navigation_timeout", 60*time.Second)
	v.SetDefault("network.request_timeout", 30*time.Second)
	v.SetDefault("network.capture_bodies", true)

	v.SetDefault("wait.default_timeout", 60*time.Second)
	v.SetDefault("wait.default_interval", 100*time.Millisecond)
	v.SetDefault("wait.request_times", 10)
	v.SetDefault("wait.request_interval", time.Second)
	v.SetDefault("wait.auth_timeout", 60*time.Second)

	v.SetDefault("ledger.max_entries", 0)
}
