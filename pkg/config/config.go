package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath        = "NLROUTE_CONFIG"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"

	defaultShortMessageMaxLength = 100
	defaultConfidenceThreshold   = 60.0
	defaultOpenAIKeyEnv          = "OPENAI_API_KEY"
	defaultIntentModel           = "gpt-5-mini"
	defaultGatewayHost           = "127.0.0.1"
	defaultGatewayPort           = 18790
	defaultWebhookPort           = 18791
)

// ErrConfigNotFound reports that no config file exists at any searched location.
var ErrConfigNotFound = errors.New("config file not found")

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the root runtime configuration loaded from config.json or config.yaml.
type Config struct {
	Bot       BotConfig       `json:"bot" yaml:"bot"`
	Channels  ChannelsConfig  `json:"channels" yaml:"channels"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Intent    IntentConfig    `json:"intent" yaml:"intent"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// BotConfig holds dispatch-wide settings shared by every channel.
type BotConfig struct {
	Nickname               string   `json:"nickname" yaml:"nickname"`
	CommandStart           []string `json:"command_start" yaml:"command_start"`
	SuperUsers             []string `json:"super_users" yaml:"super_users"`
	// ShortMessageMaxLength and ConfidenceThreshold default only when absent
	// from the file; an explicit 0 is kept.
	ShortMessageMaxLength  int      `json:"short_message_max_length" yaml:"short_message_max_length"`
	ConfidenceThreshold    float64  `json:"confidence_threshold" yaml:"confidence_threshold"`
	DispatchTimeoutSeconds int      `json:"dispatch_timeout_seconds" yaml:"dispatch_timeout_seconds"`
}

// DispatchTimeout is zero when dispatch is unbounded.
func (b BotConfig) DispatchTimeout() time.Duration {
	if b.DispatchTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(b.DispatchTimeoutSeconds) * time.Second
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI   OpenAIProviderConfig   `json:"openai" yaml:"openai"`
	OpenCode OpenCodeProviderConfig `json:"opencode" yaml:"opencode"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	APIKeyEnv             string `json:"api_key_env" yaml:"api_key_env"`
	BaseURL               string `json:"base_url" yaml:"base_url"`
	Organization          string `json:"organization" yaml:"organization"`
	Project               string `json:"project" yaml:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// OpenCodeProviderConfig configures a classifier backed by an opencode server.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url"`
	Username              string `json:"username" yaml:"username"`
	PasswordEnv           string `json:"password_env" yaml:"password_env"`
	Agent                 string `json:"agent" yaml:"agent"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// IntentConfig configures the LLM-backed intent processor.
type IntentConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Provider string   `json:"provider" yaml:"provider"`
	Model    string   `json:"model" yaml:"model"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	OnlyToMe *bool    `json:"only_to_me,omitempty" yaml:"only_to_me,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Webhook  WebhookConfig  `json:"webhook" yaml:"webhook"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allow_from" yaml:"allow_from"`
}

// WebhookConfig configures the HTTP message channel.
type WebhookConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
	Token   string `json:"token" yaml:"token"`
}

// Addr is the listen address for the webhook server.
func (w WebhookConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// GatewayConfig configures the status server bind settings.
type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Addr is the listen address for the status server.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// LoadConfig resolves the config file, unmarshals it, and applies defaults and environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFile(configPath)
}

// LoadFile reads one config file. The format follows the file extension;
// ${VAR} references are expanded before parsing.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content = interpolateEnv(content)

	// Numeric bot settings are prefilled so an explicit zero in the file survives.
	cfg := Config{Bot: defaultBotConfig()}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and no file behind it.
func Default() *Config {
	cfg := Config{Bot: defaultBotConfig()}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

// Validate reports settings no component can run with.
func (c *Config) Validate() error {
	if c.Bot.ShortMessageMaxLength < 0 {
		return fmt.Errorf("bot.short_message_max_length must not be negative, got %d", c.Bot.ShortMessageMaxLength)
	}
	if c.Bot.ConfidenceThreshold < 0 {
		return fmt.Errorf("bot.confidence_threshold must not be negative, got %v", c.Bot.ConfidenceThreshold)
	}
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		return fmt.Errorf("channels.telegram.token is required when telegram is enabled (or set %s)", envTelegramBotToken)
	}
	if c.Intent.Enabled {
		switch strings.ToLower(strings.TrimSpace(c.Intent.Provider)) {
		case "openai":
		case "opencode":
			if strings.TrimSpace(c.Providers.OpenCode.BaseURL) == "" {
				return errors.New("providers.opencode.base_url is required when intent.provider is opencode")
			}
		default:
			return fmt.Errorf("intent.provider %q is not supported", c.Intent.Provider)
		}
	}

	return nil
}

func defaultBotConfig() BotConfig {
	return BotConfig{
		ShortMessageMaxLength: defaultShortMessageMaxLength,
		ConfidenceThreshold:   defaultConfidenceThreshold,
	}
}

func applyDefaults(cfg *Config) {
	if len(cfg.Bot.CommandStart) == 0 {
		cfg.Bot.CommandStart = []string{"/"}
	}
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKeyEnv) == "" {
		cfg.Providers.OpenAI.APIKeyEnv = defaultOpenAIKeyEnv
	}
	if strings.TrimSpace(cfg.Intent.Provider) == "" {
		cfg.Intent.Provider = "openai"
	}
	if strings.TrimSpace(cfg.Intent.Model) == "" {
		cfg.Intent.Model = defaultIntentModel
	}
	if cfg.Intent.OnlyToMe == nil {
		onlyToMe := true
		cfg.Intent.OnlyToMe = &onlyToMe
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = defaultGatewayHost
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = defaultGatewayPort
	}
	if cfg.Channels.Webhook.Host == "" {
		cfg.Channels.Webhook.Host = defaultGatewayHost
	}
	if cfg.Channels.Webhook.Port == 0 {
		cfg.Channels.Webhook.Port = defaultWebhookPort
	}
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
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

// interpolateEnv replaces ${VAR} with the variable's value. Unset variables are left as written.
func interpolateEnv(content []byte) []byte {
	return envVarPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if value, ok := os.LookupEnv(string(name)); ok {
			return []byte(value)
		}
		return match
	})
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
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
// Precedence is NLROUTE_CONFIG first, then cwd-local fallback paths.
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
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config", "config.yaml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w (checked %s)", ErrConfigNotFound, strings.Join(candidates, ", "))
}
