package config

import (
	"fmt"
	"time"

	"github.com/erauner12/taskboard-sync/internal/model"
)

// MaxPageSize mirrors the server's list limit cap
const MaxPageSize = 200

// Config holds all configuration for a board sync client
type Config struct {
	APIBaseURL    string `json:"apiBaseUrl"`
	StreamBaseURL string `json:"streamBaseUrl,omitempty"` // derived from APIBaseURL when empty
	ProjectID     string `json:"projectId"`

	PageSize             int    `json:"pageSize"`
	OrderBy              string `json:"orderBy"`
	MaxConcurrentFetches int    `json:"maxConcurrentFetches"`

	ReconnectBaseMs int `json:"reconnectBaseMs"`
	ReconnectMaxMs  int `json:"reconnectMaxMs"`
	FrameIntervalMs int `json:"frameIntervalMs"`

	Auth AuthConfig `json:"auth"`
	Sim  SimConfig  `json:"sim"`

	Debug    bool   `json:"debug"`
	LogLevel string `json:"logLevel"`
}

// AuthConfig enables HS256 bearer tokens when Secret is set
type AuthConfig struct {
	Secret   string `json:"secret,omitempty"`
	Subject  string `json:"subject,omitempty"`
	TokenTTL string `json:"tokenTtl,omitempty"` // Go duration, e.g. "1h"
}

// SimConfig configures the in-memory board simulator
type SimConfig struct {
	Addr      string `json:"addr"`
	SeedTasks int    `json:"seedTasks"`
}

// Enabled reports whether the client should send bearer tokens
func (a AuthConfig) Enabled() bool {
	return a.Secret != ""
}

// TTL returns the token lifetime, one hour when unset or invalid
func (a AuthConfig) TTL() time.Duration {
	if d, err := time.ParseDuration(a.TokenTTL); err == nil && d > 0 {
		return d
	}
	return time.Hour
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}

	if c.ProjectID == "" {
		return ErrMissingProjectID
	}

	if c.PageSize < 0 || c.PageSize > MaxPageSize {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, c.PageSize)
	}

	if c.OrderBy != "" {
		if _, err := model.ParseOrderBy(c.OrderBy); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOrderBy, err)
		}
	}

	if c.ReconnectBaseMs < 0 || c.ReconnectMaxMs < 0 || (c.ReconnectMaxMs > 0 && c.ReconnectBaseMs > c.ReconnectMaxMs) {
		return ErrInvalidReconnect
	}

	if c.Auth.Enabled() && c.Auth.Subject == "" {
		return ErrMissingJWTSubject
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:      "http://localhost:8081",
		PageSize:        25,
		OrderBy:         string(model.DefaultOrderBy),
		ReconnectBaseMs: 1000,
		ReconnectMaxMs:  8000,
		FrameIntervalMs: 16,
		Sim: SimConfig{
			Addr: ":8081",
		},
		Debug:    false,
		LogLevel: "info",
	}
}

// Order returns the parsed list ordering, the default when unset or invalid
func (c *Config) Order() model.OrderBy {
	if o, err := model.ParseOrderBy(c.OrderBy); err == nil {
		return o
	}
	return model.DefaultOrderBy
}

// ReconnectBase returns the first reconnect delay
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMs) * time.Millisecond
}

// ReconnectMax caps the reconnect delay
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxMs) * time.Millisecond
}

// FrameInterval is how long the reconciler batches stream messages
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMs) * time.Millisecond
}
