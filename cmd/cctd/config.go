// config.go - Configuration management for the ledger daemon
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cctoken/internal/commitment"
)

// Config represents the daemon configuration
type Config struct {
	// Storage
	DataDir    string `json:"data_dir"`
	InMemory   bool   `json:"in_memory"`
	SyncWrites bool   `json:"sync_writes"`

	// HTTP host
	Listen string `json:"listen"`

	// Deployment, applied once when the store is empty
	Token       TokenConfig `json:"token"`
	HashVersion string      `json:"hash_version"`

	// Logging
	Log LogConfig `json:"log"`

	// Admission
	RateLimit RateLimitConfig `json:"rate_limit"`

	// Seconds between background supply audits; 0 disables them
	AuditIntervalSeconds int `json:"audit_interval_seconds"`
}

// TokenConfig seeds the token metadata
type TokenConfig struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Operator string `json:"operator"`
}

// LogConfig controls the console, file and audit sinks
type LogConfig struct {
	Level      string `json:"level"`
	Console    bool   `json:"console"`
	File       string `json:"file"`
	AuditFile  string `json:"audit_file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// RateLimitConfig bounds operation submissions per caller
type RateLimitConfig struct {
	Burst        int `json:"burst"`
	Refill       int `json:"refill"`
	PeriodMillis int `json:"period_millis"`
}

// Period returns the refill period
func (r RateLimitConfig) Period() time.Duration {
	return time.Duration(r.PeriodMillis) * time.Millisecond
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "data",
		SyncWrites: true,
		Listen:     "127.0.0.1:8545",
		Token: TokenConfig{
			Name:     "Confidential Commitment Token",
			Symbol:   "CCT",
			Operator: "operator",
		},
		HashVersion: commitment.HashSHA3V1,
		Log: LogConfig{
			Level:      "info",
			Console:    true,
			File:       "cctd.log",
			AuditFile:  "audit.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		RateLimit: RateLimitConfig{
			Burst:        20,
			Refill:       5,
			PeriodMillis: 1000,
		},
		AuditIntervalSeconds: 60,
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		config := DefaultConfig()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("data_dir is required unless in_memory is set")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Token.Operator == "" {
		return fmt.Errorf("token.operator is required")
	}
	if _, err := commitment.DefaultParamsWithHash(c.HashVersion); err != nil {
		return fmt.Errorf("hash_version: %w", err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	if c.RateLimit.Burst < 0 || c.RateLimit.Refill < 0 || c.RateLimit.PeriodMillis < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if c.RateLimit.Burst > 0 && (c.RateLimit.Refill == 0 || c.RateLimit.PeriodMillis == 0) {
		return fmt.Errorf("rate_limit.refill and rate_limit.period_millis must be positive when burst is set")
	}
	if c.AuditIntervalSeconds < 0 {
		return fmt.Errorf("audit_interval_seconds must not be negative")
	}
	return nil
}

// Params returns the group parameters selected by the configuration
func (c *Config) Params() (*commitment.Params, error) {
	return commitment.DefaultParamsWithHash(c.HashVersion)
}
