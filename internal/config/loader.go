package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	v          *viper.Viper
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "CARTSYNC",
		v:          viper.New(),
	}
}

// Load reads configuration from defaults, file and environment, in that order.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setDefaults(cfg)

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		l.v.SetConfigName("cartsync")
		for _, dir := range l.defaultDirs() {
			l.v.AddConfigPath(dir)
		}
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file %s: %w", l.v.ConfigFileUsed(), err)
			}
		}
	}

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// A data_dir override moves the dependent state dir unless it was set explicitly.
	defaults := DefaultConfig()
	if cfg.Storage.DataDir != defaults.Storage.DataDir && cfg.Storage.StateDir == defaults.Storage.StateDir {
		cfg.Storage.StateDir = filepath.Join(cfg.Storage.DataDir, "state")
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFileUsed reports the file the loader read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// defaultDirs returns default config file locations.
func (l *Loader) defaultDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "cartsync"),
			filepath.Join(homeDir, ".cartsync"),
		)
	}

	return dirs
}

// setDefaults registers every key so env overrides apply during Unmarshal.
func (l *Loader) setDefaults(cfg *Config) {
	defaults := map[string]interface{}{
		"api.base_url":              cfg.API.BaseURL,
		"api.events_url":            cfg.API.EventsURL,
		"api.asset_base_url":        cfg.API.AssetBaseURL,
		"api.timeout":               cfg.API.Timeout,
		"api.max_retries":           cfg.API.MaxRetries,
		"api.retry_delay":           cfg.API.RetryDelay,
		"api.rate_limit":            cfg.API.RateLimit,
		"api.burst":                 cfg.API.Burst,
		"api.user_agent":            cfg.API.UserAgent,
		"auth.email":                cfg.Auth.Email,
		"auth.password":             cfg.Auth.Password,
		"storage.data_dir":          cfg.Storage.DataDir,
		"storage.state_dir":         cfg.Storage.StateDir,
		"storage.backend":           cfg.Storage.Backend,
		"cart.reconcile_guard":      cfg.Cart.ReconcileGuard,
		"cart.currency":             cfg.Cart.Currency,
		"cart.event_buffer":         cfg.Cart.EventBuffer,
		"checkout.default_shipping": cfg.Checkout.DefaultShipping,
		"checkout.tax_rate":         cfg.Checkout.TaxRate,
		"log.level":                 cfg.Log.Level,
		"log.format":                cfg.Log.Format,
		"log.file":                  cfg.Log.File,
		"log.color":                 cfg.Log.Color,
	}

	for key, value := range defaults {
		l.v.SetDefault(key, value)
	}
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	cfg := DefaultConfig()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
