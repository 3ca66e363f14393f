// Copyright 2024-2026 Aiku AI

// Package config holds the service configuration. Defaults come from the
// embedded example config; Load layers a .env file, a YAML file and
// HOOKRELAY_ environment variables on top.
package config

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-hookrelay/pkg/connector"
)

//go:embed example-config.yaml
var ExampleConfig string

type Config struct {
	Mattermost connector.Config `yaml:"mattermost"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Bot        BotConfig        `yaml:"bot"`
	Relay      RelayConfig      `yaml:"relay"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type HTTPConfig struct {
	ListenAddr   string  `yaml:"listen_addr" validate:"required"`
	RateLimit    float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst        int     `yaml:"burst" validate:"gte=0"`
	MaxBodyBytes int64   `yaml:"max_body_bytes" validate:"gte=0"`
}

type DatabaseConfig struct {
	Driver  string `yaml:"driver" validate:"oneof=mysql memory"`
	DSN     string `yaml:"dsn" validate:"required_if=Driver mysql"`
	MaxOpen int    `yaml:"max_open" validate:"gte=0"`
	MaxIdle int    `yaml:"max_idle" validate:"gte=0"`
}

type BotConfig struct {
	Prefix             string `yaml:"prefix" validate:"required"`
	GeneralRole        string `yaml:"general_role"`
	AdminRole          string `yaml:"admin_role"`
	ApprovalChannel    string `yaml:"approval_channel"`
	DestinationChannel string `yaml:"destination_channel"`
	HookAddress        string `yaml:"hook_address" validate:"required,url"`
}

type RelayConfig struct {
	ChannelSize     int `yaml:"channel_size" validate:"gt=0"`
	ThreadCacheSize int `yaml:"thread_cache_size" validate:"gte=0"`
}

type AuthConfig struct {
	// HashCost is the bcrypt cost for issued tokens.
	HashCost       int           `yaml:"hash_cost" validate:"gte=4,lte=31"`
	TokenLength    int           `yaml:"token_length" validate:"gte=16"`
	NotifyAttempts uint          `yaml:"notify_attempts" validate:"gte=1"`
	NotifyDelay    time.Duration `yaml:"notify_delay" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`
	File  string `yaml:"file"`
}

var validate = validator.New()

// Default returns the configuration described by the embedded example.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExampleConfig), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse embedded config: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct constraints and prepares derived values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Mattermost.PostProcess(); err != nil {
		return fmt.Errorf("invalid displayname template: %w", err)
	}
	return nil
}
