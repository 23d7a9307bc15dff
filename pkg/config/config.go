package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Auth    AuthConfig    `mapstructure:"auth"`
	History HistoryConfig `mapstructure:"history"`
	Mock    MockConfig    `mapstructure:"mock"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds backend endpoint configuration
type ServerConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"-"`
	TimeoutStr string        `mapstructure:"timeout"` // For parsing string duration
}

// ChatConfig holds conversation behavior configuration
type ChatConfig struct {
	Streaming    bool `mapstructure:"streaming"`
	ShowThinking bool `mapstructure:"show_thinking"`
}

// AuthConfig holds login credentials, usually supplied via environment
type AuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// HistoryConfig holds conversation persistence configuration
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// MockConfig holds the local mock backend configuration
type MockConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

var cfg *Config

// Get returns the loaded configuration. Falls back to defaults when Load
// has not run, which keeps tests independent of the filesystem.
func Get() *Config {
	if cfg == nil {
		c, err := Load("")
		if err != nil {
			c = &Config{}
		}
		cfg = c
	}
	return cfg
}

// Load reads configuration from the given file, or searches ./.sage and the
// XDG config location for settings.yaml. Environment variables win over
// file values.
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.sage") // Check project directory first
		viper.AddConfigPath(filepath.Join(xdgConfigHome, "sage"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings.yaml")
	}

	viper.AutomaticEnv()
	bindEnvironmentVariables()

	// A missing settings file is fine; defaults and environment carry.
	_ = viper.ReadInConfig()

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := processDurations(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults() {
	// Server defaults point at the local mock backend so the client works
	// out of the box.
	viper.SetDefault("server.base_url", "http://localhost:8787")
	viper.SetDefault("server.timeout", "60s")

	// Chat defaults
	viper.SetDefault("chat.streaming", true)
	viper.SetDefault("chat.show_thinking", true)

	// Auth defaults
	viper.SetDefault("auth.username", "")
	viper.SetDefault("auth.password", "")

	// History defaults
	viper.SetDefault("history.path", "./.sage/history.db")

	// Mock backend defaults
	viper.SetDefault("mock.addr", ":8787")

	// Logging defaults
	viper.SetDefault("logging.log_file", "./.sage/system.log")
	viper.SetDefault("logging.preserve", false)
	viper.SetDefault("logging.level", "info")
}

// bindEnvironmentVariables binds specific environment variables to Viper keys
func bindEnvironmentVariables() {
	viper.BindEnv("server.base_url", "SAGE_SERVER_URL")
	viper.BindEnv("server.timeout", "SAGE_SERVER_TIMEOUT")
	viper.BindEnv("chat.streaming", "SAGE_STREAMING")
	viper.BindEnv("chat.show_thinking", "SAGE_SHOW_THINKING")
	viper.BindEnv("auth.username", "SAGE_USERNAME")
	viper.BindEnv("auth.password", "SAGE_PASSWORD")
	viper.BindEnv("history.path", "SAGE_HISTORY_PATH")
	viper.BindEnv("mock.addr", "SAGE_MOCK_ADDR")
	viper.BindEnv("logging.log_file", "SAGE_LOG_FILE")
	viper.BindEnv("logging.preserve", "SAGE_LOG_PRESERVE")
	viper.BindEnv("logging.level", "SAGE_LOG_LEVEL")
}

// processDurations converts string durations to time.Duration
func processDurations(cfg *Config) error {
	if cfg.Server.TimeoutStr != "" {
		d, err := time.ParseDuration(cfg.Server.TimeoutStr)
		if err != nil {
			return fmt.Errorf("invalid server.timeout: %w", err)
		}
		cfg.Server.Timeout = d
	} else if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 60 * time.Second
	}
	return nil
}

// GetConfigFileUsed returns the path to the config file being used
func GetConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// Reset clears the loaded configuration and viper state, for tests.
func Reset() {
	cfg = nil
	viper.Reset()
}
