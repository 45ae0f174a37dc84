// Package config holds the engine settings loaded from file, environment,
// and flags.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ProviderSettings configures one chat provider. The API key is never
// logged or serialized.
type ProviderSettings struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"-" mapstructure:"api_key"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// CacheSettings configures the request cache.
type CacheSettings struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Directory string        `yaml:"directory" mapstructure:"directory"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// RetrySettings configures the resilient client.
type RetrySettings struct {
	MaxRetries     int           `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// LoopSettings configures the turn loop.
type LoopSettings struct {
	MaxTurns         int `yaml:"max_turns" mapstructure:"max_turns"`
	MaxSpeakAttempts int `yaml:"max_speak_attempts" mapstructure:"max_speak_attempts"`
}

// Settings is the full engine configuration.
type Settings struct {
	Provider  string                      `yaml:"provider" mapstructure:"provider"`
	Providers map[string]ProviderSettings `yaml:"providers" mapstructure:"providers"`
	Cache     CacheSettings               `yaml:"cache" mapstructure:"cache"`
	Retry     RetrySettings               `yaml:"retry" mapstructure:"retry"`
	Loop      LoopSettings                `yaml:"loop" mapstructure:"loop"`

	StoreDirectory string `yaml:"store_directory" mapstructure:"store_directory"`
	ProjectRoot    string `yaml:"project_root" mapstructure:"project_root"`
	LogLevel       string `yaml:"log_level" mapstructure:"log_level"`
}

func Default() *Settings {
	return &Settings{
		Provider:  "claude",
		Providers: map[string]ProviderSettings{},
		Cache: CacheSettings{
			Enabled: true,
			TTL:     5 * 24 * time.Hour,
		},
		Retry: RetrySettings{
			MaxRetries:     3,
			InitialBackoff: 1 * time.Second,
			RequestTimeout: 120 * time.Second,
		},
		Loop: LoopSettings{
			MaxTurns:         5,
			MaxSpeakAttempts: 3,
		},
		LogLevel: "info",
	}
}

// Load reads settings from the given viper instance over the defaults, then
// picks up API keys from the environment.
func Load(v *viper.Viper) (*Settings, error) {
	settings := Default()
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal settings")
	}

	for name, provider := range settings.Providers {
		if provider.APIKey == "" {
			provider.APIKey = apiKeyFromEnv(name)
			settings.Providers[name] = provider
		}
	}

	return settings, nil
}

func apiKeyFromEnv(provider string) string {
	switch provider {
	case "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}

// DefaultConfigPath is where the CLI looks for a config file when none is
// given.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".parley", "config.yaml")
}

// MarshalZerologObject logs the settings without secrets.
func (s *Settings) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("provider", s.Provider).
		Bool("cacheEnabled", s.Cache.Enabled).
		Int("maxRetries", s.Retry.MaxRetries).
		Int("maxTurns", s.Loop.MaxTurns).
		Str("logLevel", s.LogLevel)
}

// Dump renders the settings as YAML for inspection. API keys are excluded by
// their yaml tags.
func (s *Settings) Dump() (string, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal settings")
	}
	return string(data), nil
}
