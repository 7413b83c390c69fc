package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when a provider that needs a key has none configured.
var ErrNoAPIKey = errors.New("no API key configured")

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// EnvVar returns the conventional API key environment variable for a provider kind.
func EnvVar(kind string) string {
	switch kind {
	case KindAnthropic:
		return "ANTHROPIC_API_KEY"
	case KindOpenAI:
		return "OPENAI_API_KEY"
	case KindGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// ResolveAPIKey returns the API key for a provider.
// It checks in order: config file value, the kind's environment variable.
func ResolveAPIKey(p ProviderConfig) (string, KeySource) {
	if p.APIKey != "" {
		key := os.ExpandEnv(p.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig
		}
	}
	if env := EnvVar(p.Kind); env != "" {
		if key := os.Getenv(env); key != "" {
			return key, KeySourceEnv
		}
	}
	return "", KeySourceNone
}

// RequiresAPIKey reports whether the provider cannot run without a key.
// OpenAI-compatible local servers and Bedrock authenticate differently.
func RequiresAPIKey(p ProviderConfig) bool {
	switch p.Kind {
	case KindAnthropic:
		return !p.UseBedrock
	case KindGemini:
		return true
	case KindOpenAI:
		return p.BaseURL == "" || strings.Contains(p.BaseURL, "api.openai.com")
	default:
		return false
	}
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and the last 4.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// Masked returns a copy of the config with API keys masked for display.
func (c *Config) Masked() *Config {
	out := *c
	out.Quality.Tiers = append([]string(nil), c.Quality.Tiers...)
	out.Local.APIKey = MaskAPIKey(c.Local.APIKey)
	out.Escalation.APIKey = MaskAPIKey(c.Escalation.APIKey)
	return &out
}
