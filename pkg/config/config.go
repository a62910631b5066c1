// Package config loads the gateway's runtime configuration from
// config.json with environment overrides for secrets and paths.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	envConfigPath        = "AGP_CONFIG"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Bus       BusConfig       `json:"bus"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// AgentConfig describes the engine defaults and the workspace location.
type AgentConfig struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Workspace  string `json:"workspace"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `json:"openai"`
}

// OpenAIProviderConfig configures the OpenAI engine client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url,omitempty"`
	APIKeyEnv             string `json:"api_key_env,omitempty"`
	Organization          string `json:"organization,omitempty"`
	Project               string `json:"project,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds,omitempty"`
}

// BusConfig tunes inbound admission control.
type BusConfig struct {
	// MaxInboundDepth caps the inbound queue; 0 means unbounded,
	// unset (negative) means the built-in default.
	MaxInboundDepth *int `json:"max_inbound_depth,omitempty"`

	// CooldownSeconds is the per-sender cooldown; 0 disables it,
	// unset means the built-in default.
	CooldownSeconds *float64 `json:"cooldown_seconds,omitempty"`
}

// SchedulerConfig tunes the job service.
type SchedulerConfig struct {
	TickSeconds int `json:"tick_seconds,omitempty"`
}

// HeartbeatConfig controls the periodic prompt service.
type HeartbeatConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"interval_minutes,omitempty"`
}

// GatewayConfig configures the status endpoint bind address.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// SchedulerTickInterval resolves the tick period, zero when unset.
func (c *Config) SchedulerTickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// HeartbeatInterval resolves the heartbeat period, zero when unset.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.IntervalMinutes) * time.Minute
}

// Load resolves config.json, unmarshals it, and applies environment
// overrides.
func Load() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse unmarshals raw config JSON and applies environment overrides.
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides injects selected env-driven settings on top of file
// config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values into a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is AGP_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
