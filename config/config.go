// Package config loads the SDK's YAML configuration with layered
// precedence: built-in defaults overlaid by an optional config file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	MatchOn  []string       `yaml:"match_on"`
	Registry RegistryConfig `yaml:"registry"`
	Events   EventsConfig   `yaml:"events"`
}

// StoreConfig configures the annotation store client.
type StoreConfig struct {
	// QueryURL is the annotation store's query endpoint.
	QueryURL string `yaml:"query_url"`

	// Timeout bounds individual store requests.
	// Format: Go duration string (e.g., "30s")
	// Default: 30s
	Timeout string `yaml:"timeout,omitempty"`
}

// GetTimeout parses the request timeout string and returns a duration.
// Returns the default value if not set or invalid.
func (c *StoreConfig) GetTimeout() time.Duration {
	if c == nil || c.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// RegistryConfig selects and configures the entity registry backend.
type RegistryConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`

	// RedisURL is the connection string for the redis backend.
	RedisURL string `yaml:"redis_url,omitempty"`

	// TTL is the expiry for persisted entity documents; unset keeps
	// them indefinitely.
	// Format: Go duration string (e.g., "24h")
	TTL string `yaml:"ttl,omitempty"`
}

// GetTTL parses the persistence TTL string and returns a duration.
// Returns zero (no expiry) if not set or invalid.
func (c *RegistryConfig) GetTTL() time.Duration {
	if c == nil || c.TTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 0
	}
	return d
}

// EventsConfig configures change-notification publication.
type EventsConfig struct {
	// NATSURL, when set, enables publishing expansions to NATS.
	NATSURL string `yaml:"nats_url,omitempty"`

	// Subject is the NATS subject; empty selects the default.
	Subject string `yaml:"subject,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			QueryURL: "http://localhost:3001/query",
		},
		MatchOn: []string{"history.generatedBy", "creator"},
		Registry: RegistryConfig{
			Backend: "memory",
		},
	}
}

// Load returns the defaults overlaid with the file at path. An empty
// path yields the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	overlay := &Config{}
	if err := yaml.Unmarshal(data, overlay); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.Merge(overlay)
	return cfg, nil
}

// Merge overlays non-zero fields of other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Store.QueryURL != "" {
		c.Store.QueryURL = other.Store.QueryURL
	}
	if other.Store.Timeout != "" {
		c.Store.Timeout = other.Store.Timeout
	}
	if len(other.MatchOn) > 0 {
		c.MatchOn = other.MatchOn
	}
	if other.Registry.Backend != "" {
		c.Registry.Backend = other.Registry.Backend
	}
	if other.Registry.RedisURL != "" {
		c.Registry.RedisURL = other.Registry.RedisURL
	}
	if other.Registry.TTL != "" {
		c.Registry.TTL = other.Registry.TTL
	}
	if other.Events.NATSURL != "" {
		c.Events.NATSURL = other.Events.NATSURL
	}
	if other.Events.Subject != "" {
		c.Events.Subject = other.Events.Subject
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown registry backend %q", c.Registry.Backend)
	}
	if c.Registry.Backend == "redis" && c.Registry.RedisURL == "" {
		return fmt.Errorf("config: redis backend requires redis_url")
	}
	if c.Store.QueryURL == "" {
		return fmt.Errorf("config: store query_url is required")
	}
	if c.Store.Timeout != "" {
		if _, err := time.ParseDuration(c.Store.Timeout); err != nil {
			return fmt.Errorf("config: invalid store timeout %q: %w", c.Store.Timeout, err)
		}
	}
	if c.Registry.TTL != "" {
		if _, err := time.ParseDuration(c.Registry.TTL); err != nil {
			return fmt.Errorf("config: invalid registry ttl %q: %w", c.Registry.TTL, err)
		}
	}
	return nil
}
