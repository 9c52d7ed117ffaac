package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the tunables of the agent. Threshold and settle delay are
// policy knobs, not correctness requirements.
type Config struct {
	ListenAddress    string
	DatabasePath     string
	ThresholdPercent float64
	SettleDelay      time.Duration
	PollInterval     time.Duration
	RequestTimeout   time.Duration
}

// Init wires viper: explicit config file if given, otherwise
// ~/.watchtrackd.yaml, with WATCHTRACKD_* environment overrides.
func Init(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("failed to locate home directory: %w", err)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".watchtrackd")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("watchtrackd")
	viper.AutomaticEnv()

	SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine, defaults apply.
	}
	return nil
}

// SetDefaults registers every known key with its default value.
func SetDefaults() {
	viper.SetDefault("listen", "127.0.0.1:8123")
	viper.SetDefault("database", "")
	viper.SetDefault("threshold_percent", 70.0)
	viper.SetDefault("settle_delay", "700ms")
	viper.SetDefault("poll_interval", "500ms")
	viper.SetDefault("request_timeout", "5s")
	viper.SetDefault("loglevel", "info")
}

// Load materializes the Config from viper, resolving the database path to the
// platform app-data directory when unset.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddress:    viper.GetString("listen"),
		DatabasePath:     viper.GetString("database"),
		ThresholdPercent: viper.GetFloat64("threshold_percent"),
		SettleDelay:      viper.GetDuration("settle_delay"),
		PollInterval:     viper.GetDuration("poll_interval"),
		RequestTimeout:   viper.GetDuration("request_timeout"),
	}
	if cfg.DatabasePath == "" {
		path, err := DefaultDatabasePath()
		if err != nil {
			return nil, err
		}
		cfg.DatabasePath = path
	}
	return cfg, nil
}

// DefaultDatabasePath returns the platform-specific app data location.
func DefaultDatabasePath() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	var applicationDirectory string
	switch runtime.GOOS {
	case "darwin":
		applicationDirectory = filepath.Join(homeDirectory, "Library", "Application Support", "WatchTrack")
	case "windows":
		applicationDirectory = filepath.Join(homeDirectory, "AppData", "Roaming", "WatchTrack")
	default: // linux and others
		applicationDirectory = filepath.Join(homeDirectory, ".local", "share", "WatchTrack")
	}
	return filepath.Join(applicationDirectory, "watches.db"), nil
}
