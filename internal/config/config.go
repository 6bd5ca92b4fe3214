// Package config handles configuration loading for conclave.
// It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for conclave.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Session  SessionConfig  `mapstructure:"session"`
	Conflict ConflictConfig `mapstructure:"conflict"`
	Registry RegistryConfig `mapstructure:"registry"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	State    StateConfig    `mapstructure:"state"`
	Log      LogConfig      `mapstructure:"log"`
}

// EngineConfig holds execution tunables.
type EngineConfig struct {
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// ConflictConfig holds conflict resolution settings.
type ConflictConfig struct {
	DefaultPolicy string `mapstructure:"default_policy"`
}

// RegistryConfig holds the worker registry location.
type RegistryConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// WorkerConfig holds the worker command settings.
type WorkerConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	WorkDir string   `mapstructure:"workdir"`
}

// StateConfig holds the history database location.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds debug logging settings.
type LogConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CONCLAVE_*)
// 2. Project config (.conclave.yaml in current directory or parent)
// 3. User config (~/.config/conclave/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over user config.
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CONCLAVE")
	v.BindEnv("registry.path", "CONCLAVE_REGISTRY_PATH")
	v.BindEnv("state.path", "CONCLAVE_STATE_PATH")
	v.BindEnv("worker.command", "CONCLAVE_WORKER_COMMAND")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Registry.Path = expandEnv(cfg.Registry.Path)
	cfg.State.Path = expandEnv(cfg.State.Path)
	cfg.Log.Path = expandEnv(cfg.Log.Path)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Registry.Path = expandEnv(cfg.Registry.Path)
	cfg.State.Path = expandEnv(cfg.State.Path)
	cfg.Log.Path = expandEnv(cfg.Log.Path)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if
// it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_concurrent_tasks", 5)
	v.SetDefault("engine.task_timeout", "5m")
	v.SetDefault("engine.retry_delay", "1s")

	v.SetDefault("session.idle_timeout", "300s")
	v.SetDefault("session.reap_interval", "30s")

	v.SetDefault("conflict.default_policy", "majority_vote")

	v.SetDefault("registry.path", "")
	v.SetDefault("registry.watch", true)

	v.SetDefault("worker.command", "")
	v.SetDefault("worker.args", []string{})
	v.SetDefault("worker.workdir", "")

	v.SetDefault("state.path", "")
	v.SetDefault("log.path", "")
}

// getUserConfigDir returns the XDG config directory for conclave.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "conclave")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "conclave")
	}
	return filepath.Join(home, ".config", "conclave")
}

// findProjectConfig searches for .conclave.yaml in the current
// directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".conclave.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrentTasks: 5,
			TaskTimeout:        5 * time.Minute,
			RetryDelay:         time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:  300 * time.Second,
			ReapInterval: 30 * time.Second,
		},
		Conflict: ConflictConfig{
			DefaultPolicy: "majority_vote",
		},
		Registry: RegistryConfig{
			Watch: true,
		},
	}
}
