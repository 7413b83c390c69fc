package config

import (
	"testing"
)

func TestResolveAPIKey(t *testing.T) {
	t.Run("from config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key")

		key, src := ResolveAPIKey(ProviderConfig{Kind: KindAnthropic, APIKey: "sk-ant-config-key"})
		if key != "sk-ant-config-key" || src != KeySourceConfig {
			t.Errorf("got (%q, %s), want config key", key, src)
		}
	})

	t.Run("from environment variable", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-openai")

		key, src := ResolveAPIKey(ProviderConfig{Kind: KindOpenAI})
		if key != "sk-openai" || src != KeySourceEnv {
			t.Errorf("got (%q, %s), want env key", key, src)
		}
	})

	t.Run("unexpanded reference falls through", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")

		key, src := ResolveAPIKey(ProviderConfig{Kind: KindGemini, APIKey: "${MISSING_VAR_FOR_TEST}"})
		if key != "" || src != KeySourceNone {
			t.Errorf("got (%q, %s), want none", key, src)
		}
	})
}

func TestRequiresAPIKey(t *testing.T) {
	tests := []struct {
		name string
		p    ProviderConfig
		want bool
	}{
		{"anthropic direct", ProviderConfig{Kind: KindAnthropic}, true},
		{"anthropic bedrock", ProviderConfig{Kind: KindAnthropic, UseBedrock: true}, false},
		{"gemini", ProviderConfig{Kind: KindGemini}, true},
		{"openai hosted", ProviderConfig{Kind: KindOpenAI}, true},
		{"openai local server", ProviderConfig{Kind: KindOpenAI, BaseURL: "http://localhost:11434/v1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RequiresAPIKey(tt.p); got != tt.want {
				t.Errorf("RequiresAPIKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"empty", "", "(not set)"},
		{"short", "sk-ant-abc", "***"},
		{"normal", "sk-ant-REDACTED", "sk-ant-...1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskAPIKey(tt.key); got != tt.want {
				t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestMaskedLeavesOriginal(t *testing.T) {
	cfg := Default()
	cfg.Escalation.APIKey = "sk-ant-REDACTED"

	masked := cfg.Masked()
	if masked.Escalation.APIKey != "sk-ant-...1234" {
		t.Errorf("masked key = %q", masked.Escalation.APIKey)
	}
	if cfg.Escalation.APIKey != "sk-ant-REDACTED" {
		t.Error("Masked must not modify the receiver")
	}
}
