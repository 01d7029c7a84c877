// Package config handles memorymind configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./memorymind.yaml, ~/.config/memorymind/config.yaml, /etc/memorymind/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"memorymind.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "memorymind", "config.yaml"))
	}

	paths = append(paths, "/etc/memorymind/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all memorymind configuration.
type Config struct {
	Listen    ListenConfig `yaml:"listen"`
	Memory    MemoryConfig `yaml:"memory"`
	DataDir   string       `yaml:"data_dir"`
	OwnerID   string       `yaml:"owner_id"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // text or json
}

// ListenConfig defines the memory server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8420
	// Streaming frames responses as server-sent events when the caller
	// accepts text/event-stream. Plain JSON bodies otherwise.
	Streaming bool `yaml:"streaming"`
}

// MemoryConfig defines how the client reaches the memory server.
type MemoryConfig struct {
	// URL is the JSON-RPC endpoint, e.g. http://127.0.0.1:8420/mcp.
	URL string `yaml:"url"`
	// RequestTimeoutSec bounds a single request attempt (default 15).
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
	// RetryAttempts is the total number of attempts per operation (default 3).
	RetryAttempts int `yaml:"retry_attempts"`
	// RetryBaseDelayMS is the backoff unit in milliseconds (default 1000).
	// The wait before attempt n is n times this value.
	RetryBaseDelayMS int `yaml:"retry_base_delay_ms"`
	// BreakerFailureThreshold opens the circuit after this many
	// consecutive failures (default 5).
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold"`
	// BreakerRecoverySec is how long the circuit stays open before a
	// single probe is allowed through (default 30).
	BreakerRecoverySec int `yaml:"breaker_recovery_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8420},
		Memory: MemoryConfig{
			URL:                     "http://127.0.0.1:8420/mcp",
			RequestTimeoutSec:       15,
			RetryAttempts:           3,
			RetryBaseDelayMS:        1000,
			BreakerFailureThreshold: 5,
			BreakerRecoverySec:      30,
		},
		DataDir: "data",
		OwnerID: "default",
	}
}

// Validate reports configuration values the process cannot run with.
func (c *Config) Validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen port %d out of range", c.Listen.Port)
	}
	if c.Memory.URL == "" {
		return fmt.Errorf("memory.url is required")
	}
	if c.Memory.RetryAttempts < 1 {
		return fmt.Errorf("memory.retry_attempts must be at least 1")
	}
	if c.Memory.BreakerFailureThreshold < 1 {
		return fmt.Errorf("memory.breaker_failure_threshold must be at least 1")
	}
	return nil
}
