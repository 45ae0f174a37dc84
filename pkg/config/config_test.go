package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	v := viper.New()
	v.Set("provider", "openai")
	v.Set("loop.max_turns", 9)

	settings, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "openai", settings.Provider)
	assert.Equal(t, 9, settings.Loop.MaxTurns)

	// Untouched defaults survive.
	assert.Equal(t, 3, settings.Retry.MaxRetries)
	assert.True(t, settings.Cache.Enabled)
}

func TestDumpExcludesAPIKeys(t *testing.T) {
	settings := Default()
	settings.Providers["claude"] = ProviderSettings{
		BaseURL: "https://api.anthropic.com",
		APIKey:  "sk-secret",
		Model:   "test-model",
	}

	dump, err := settings.Dump()
	require.NoError(t, err)

	assert.Contains(t, dump, "api.anthropic.com")
	assert.Contains(t, dump, "test-model")
	assert.NotContains(t, dump, "sk-secret")
}
