package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/overseer/internal/logging"
)

// Config represents the bootstrap configuration loaded from disk before the
// store is available: where the database lives, how to reach the remote
// session service, and how the process itself behaves. All user-tunable
// engine behavior lives in profile settings inside the store, not here.
type Config struct {
	Version string          `yaml:"version"`
	Server  *ServerConfig   `yaml:"server"`
	Store   *StoreConfig    `yaml:"store"`
	Remote  *RemoteConfig   `yaml:"remote"`
	Logging *logging.Config `yaml:"logging"`
}

// ServerConfig holds the API listener settings.
type ServerConfig struct {
	// Host is the network interface to bind to (e.g., "127.0.0.1").
	Host string `yaml:"host"`
	// Port is the TCP port number to listen on.
	Port int `yaml:"port"`
}

// StoreConfig holds database settings.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// RemoteConfig holds remote session service settings.
type RemoteConfig struct {
	// BaseURL is the root of the session service API.
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates requests. ${VAR} references are expanded at load.
	APIKey string `yaml:"api_key"`
	// TimeoutSeconds bounds a single remote call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Server: &ServerConfig{
			Host: "127.0.0.1",
			Port: 9180,
		},
		Store: &StoreConfig{
			Path: filepath.Join(homeDir, ".overseer", "overseer.db"),
		},
		Remote: &RemoteConfig{
			APIKey:         "${OVERSEER_API_KEY}",
			TimeoutSeconds: 30,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file, falling back to defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Store != nil {
		config.Store.Path = expandPath(config.Store.Path)
	}

	return config, nil
}

// Save saves configuration to a file.
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".overseer", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
