// Package config loads fieldsync configuration.
//
// Values are resolved in order: explicit config file, fieldsync.yaml in
// the working directory or ~/.config/fieldsync/, FIELDSYNC_* environment
// variables, then built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all daemon and CLI settings.
type Config struct {
	// DataDir holds the queue database and daemon logs.
	DataDir string `mapstructure:"data_dir"`

	// RemoteURL is the base URL of the hosted backend.
	RemoteURL string `mapstructure:"remote_url"`

	// APIKey authenticates against the backend's REST layer.
	APIKey string `mapstructure:"api_key"`

	// MaxAttempts is the retry ceiling per queue item.
	MaxAttempts int `mapstructure:"max_attempts"`

	// BaseDelay is the exponential backoff base.
	BaseDelay time.Duration `mapstructure:"base_delay"`

	// Debounce is how long connectivity must stay up before a drain.
	Debounce time.Duration `mapstructure:"debounce"`

	// PollInterval is how often to re-probe reachability.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// ProbeURL is the reachability check endpoint.
	ProbeURL string `mapstructure:"probe_url"`

	// StateFile is the platform link-state file; empty means the probe
	// alone decides.
	StateFile string `mapstructure:"state_file"`

	// DashboardAddr is the WebSocket dashboard listen address; empty
	// disables the dashboard.
	DashboardAddr string `mapstructure:"dashboard_addr"`

	// LogFile, when set, routes daemon logs to a rotating file.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration from the given file, or from the default
// search paths when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()

	home, _ := os.UserHomeDir()

	// Every key needs a default so environment-only values survive
	// Unmarshal.
	v.SetDefault("data_dir", filepath.Join(home, ".fieldsync"))
	v.SetDefault("remote_url", "")
	v.SetDefault("api_key", "")
	v.SetDefault("state_file", "")
	v.SetDefault("log_file", "")
	v.SetDefault("max_attempts", 3)
	v.SetDefault("base_delay", 2*time.Second)
	v.SetDefault("debounce", 1500*time.Millisecond)
	v.SetDefault("poll_interval", 30*time.Second)
	v.SetDefault("probe_url", "http://connectivitycheck.gstatic.com/generate_204")
	v.SetDefault("dashboard_addr", ":8799")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fieldsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home != "" {
			v.AddConfigPath(filepath.Join(home, ".config", "fieldsync"))
		}
	}

	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// DBPath returns the queue database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "fieldsync.db")
}

// Validate checks settings required for talking to the backend.
func (c *Config) Validate() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("remote_url is required (set FIELDSYNC_REMOTE_URL or the config file)")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", c.MaxAttempts)
	}
	return nil
}
