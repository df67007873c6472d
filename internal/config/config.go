// Package config loads groupmind settings from a JSON file, environment
// variables and a secrets file, in increasing order of precedence for
// non-secret keys. Secrets come from the environment or the secrets file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Telegram   TelegramConfig
	Completion CompletionConfig
	OpenRouter OpenRouterConfig
	Ollama     OllamaConfig
	Cache      CacheConfig
	Bot        BotConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type TelegramConfig struct {
	BaseURL     string
	PollTimeout int // seconds
	BotToken    string
}

type CompletionConfig struct {
	Provider string // "openrouter" or "ollama"
	Model    string
	Timeout  string
}

type OpenRouterConfig struct {
	APIKey string
}

type OllamaConfig struct {
	BaseURL string
}

type CacheConfig struct {
	Size   int
	TTL    string
	Policy string // "first" or "best"
}

type BotConfig struct {
	MaxConcurrency int
}

const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Telegram: TelegramConfig{
			BaseURL:     "https://api.telegram.org",
			PollTimeout: 30,
		},
		Completion: CompletionConfig{
			Provider: ProviderOpenRouter,
			Model:    "openai/gpt-4o-mini",
			Timeout:  "10s",
		},
		Ollama: OllamaConfig{BaseURL: "http://localhost:11434"},
		Cache: CacheConfig{
			Size:   50,
			TTL:    "1h",
			Policy: "first",
		},
		Bot: BotConfig{MaxConcurrency: 64},
	}
}

// Load reads configuration from $XDG_CONFIG_HOME/groupmind/config.json,
// applies GROUPMIND_* environment overrides and fills secrets from the
// secrets file when the environment does not provide them.
func Load() (Config, error) {
	return loadWith(newFileBackend(ConfigFilePath()), NewSecrets())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := applySecrets(&cfg, secrets); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks what the bot needs to run: a bot token, credentials for
// the selected completion provider and parseable durations.
func (c Config) Validate() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("missing required config: Telegram bot token. "+
			"Set GROUPMIND_TELEGRAM_BOT_TOKEN or run `groupmind config set telegram.bot_token <token>`"))
	}
	switch c.Completion.Provider {
	case ProviderOpenRouter:
		if c.OpenRouter.APIKey == "" {
			errs = append(errs, errors.New("missing required config: OpenRouter API key. "+
				"Set GROUPMIND_OPENROUTER_API_KEY or run `groupmind config set openrouter.api_key <key>`"))
		}
	case ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("completion.provider must be %q or %q, got %q", ProviderOpenRouter, ProviderOllama, c.Completion.Provider))
	}
	if _, err := time.ParseDuration(c.Completion.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("completion.timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
		errs = append(errs, fmt.Errorf("cache.ttl: %w", err))
	}
	if p := strings.ToLower(c.Cache.Policy); p != "first" && p != "best" {
		errs = append(errs, fmt.Errorf("cache.policy must be \"first\" or \"best\", got %q", c.Cache.Policy))
	}
	return errors.Join(errs...)
}

// CompletionTimeout returns completion.timeout, or 10s if it does not parse.
func (c Config) CompletionTimeout() time.Duration {
	return parseDurationOr(c.Completion.Timeout, 10*time.Second)
}

// CacheTTL returns cache.ttl, or one hour if it does not parse.
func (c Config) CacheTTL() time.Duration {
	return parseDurationOr(c.Cache.TTL, time.Hour)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
