package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Load loads configuration from a file path and applies environment variable overrides
// Validation is deferred to allow CLI flag overrides to be applied first
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	applyEnvironmentOverrides(cfg)

	// Call cfg.Validate() after applying CLI overrides in the caller
	return cfg, nil
}

// loadFromFile decodes a JSON file over cfg; fields absent from the file keep their defaults
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrConfigFileNotFound
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}
	return nil
}

// applyEnvironmentOverrides applies configuration from environment variables
func applyEnvironmentOverrides(cfg *Config) {
	if apiURL := os.Getenv("BOARD_API_BASE_URL"); apiURL != "" {
		cfg.APIBaseURL = apiURL
	}

	if streamURL := os.Getenv("BOARD_STREAM_BASE_URL"); streamURL != "" {
		cfg.StreamBaseURL = streamURL
	}

	if projectID := os.Getenv("BOARD_PROJECT_ID"); projectID != "" {
		cfg.ProjectID = projectID
	}

	// Malformed numbers are ignored so Validate sees the file or default value
	if pageSize := os.Getenv("BOARD_PAGE_SIZE"); pageSize != "" {
		if n, err := strconv.Atoi(pageSize); err == nil {
			cfg.PageSize = n
		}
	}

	if orderBy := os.Getenv("BOARD_ORDER_BY"); orderBy != "" {
		cfg.OrderBy = orderBy
	}

	if debug := os.Getenv("BOARD_DEBUG"); debug == "true" || debug == "1" {
		cfg.Debug = true
	}

	if logLevel := os.Getenv("BOARD_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if secret := os.Getenv("BOARD_JWT_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}

	if subject := os.Getenv("BOARD_JWT_SUBJECT"); subject != "" {
		cfg.Auth.Subject = subject
	}
}

// LoadFromEnvironment creates a configuration using only environment variables
// Validation is deferred to allow CLI flag overrides to be applied first
func LoadFromEnvironment() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvironmentOverrides(cfg)
	return cfg, nil
}
