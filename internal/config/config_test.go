package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Local.Kind != KindOpenAI {
		t.Errorf("expected local kind %q, got %q", KindOpenAI, cfg.Local.Kind)
	}
	if cfg.Escalation.Kind != KindAnthropic {
		t.Errorf("expected escalation kind %q, got %q", KindAnthropic, cfg.Escalation.Kind)
	}
	if cfg.EscalationPolicy.TimeoutThreshold != 30*time.Second {
		t.Errorf("expected timeout threshold 30s, got %v", cfg.EscalationPolicy.TimeoutThreshold)
	}
	if cfg.EscalationPolicy.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", cfg.EscalationPolicy.MaxRetries)
	}
	if cfg.EscalationPolicy.HistorySize != 5 {
		t.Errorf("expected history size 5, got %d", cfg.EscalationPolicy.HistorySize)
	}
	if !cfg.Quality.Enabled {
		t.Error("expected quality.enabled to be true")
	}
	if !cfg.Quality.RefinesTier("local") || cfg.Quality.RefinesTier("escalation") {
		t.Errorf("expected quality loop on local tier only, got %v", cfg.Quality.Tiers)
	}
	if !cfg.Queue.ExclusiveStart {
		t.Error("expected queue.exclusive_start to be true")
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
local:
  kind: openai
  model: qwen2.5-coder
  base_url: http://gpu-box:8000/v1
escalation:
  kind: gemini
  model: gemini-2.5-pro
  api_key: ${TANDEM_TEST_KEY}
quality:
  max_iterations: 5
  threshold: 0.9
  tiers: [local, escalation]
escalation_policy:
  timeout_threshold: 10s
  max_retries: 2
queue:
  max_items: 20
  exclusive_start: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("TANDEM_TEST_KEY", "gem-secret")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Local.Model != "qwen2.5-coder" {
		t.Errorf("expected local model 'qwen2.5-coder', got %q", cfg.Local.Model)
	}
	if cfg.Local.BaseURL != "http://gpu-box:8000/v1" {
		t.Errorf("unexpected base url %q", cfg.Local.BaseURL)
	}
	if cfg.Escalation.Kind != KindGemini {
		t.Errorf("expected escalation kind gemini, got %q", cfg.Escalation.Kind)
	}
	if cfg.Escalation.APIKey != "gem-secret" {
		t.Errorf("expected expanded api key, got %q", cfg.Escalation.APIKey)
	}
	if cfg.Quality.MaxIterations != 5 {
		t.Errorf("expected max_iterations 5, got %d", cfg.Quality.MaxIterations)
	}
	if !cfg.Quality.RefinesTier("escalation") {
		t.Errorf("expected escalation tier in %v", cfg.Quality.Tiers)
	}
	if cfg.EscalationPolicy.TimeoutThreshold != 10*time.Second {
		t.Errorf("expected timeout threshold 10s, got %v", cfg.EscalationPolicy.TimeoutThreshold)
	}
	if cfg.Queue.ExclusiveStart {
		t.Error("expected queue.exclusive_start to be false")
	}

	// Keys not present in the file keep their defaults.
	if cfg.EscalationPolicy.ConsecutiveFailures != 2 {
		t.Errorf("expected default consecutive failures 2, got %d", cfg.EscalationPolicy.ConsecutiveFailures)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("expected default cache ttl 30m, got %v", cfg.Cache.TTL)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("queue:\n  max_items: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TANDEM_QUEUE_MAX_ITEMS", "42")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Queue.MaxItems != 42 {
		t.Errorf("expected env override 42, got %d", cfg.Queue.MaxItems)
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Escalation.Model = "claude-opus-4-1-20250805"
	cfg.EscalationPolicy.MaxRetries = 9

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	got, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if got.Escalation.Model != cfg.Escalation.Model {
		t.Errorf("model = %q, want %q", got.Escalation.Model, cfg.Escalation.Model)
	}
	if got.EscalationPolicy.MaxRetries != 9 {
		t.Errorf("max retries = %d, want 9", got.EscalationPolicy.MaxRetries)
	}
}

func TestPolicyConversionClamps(t *testing.T) {
	cfg := Default()
	cfg.Quality.Threshold = 7
	cfg.EscalationPolicy.MaxRetries = 0
	cfg.EscalationPolicy.TimeoutThreshold = 45 * time.Second

	p := cfg.Policy()
	if p.Quality.Threshold != 0.8 {
		t.Errorf("expected clamped threshold 0.8, got %v", p.Quality.Threshold)
	}
	if p.Escalation.MaxRetries != 3 {
		t.Errorf("expected clamped max retries 3, got %d", p.Escalation.MaxRetries)
	}
	if p.Escalation.TimeoutThreshold != 45*time.Second {
		t.Errorf("expected timeout threshold 45s, got %v", p.Escalation.TimeoutThreshold)
	}
}

func TestReloadHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("escalation_policy:\n  max_retries: 4\n"), 0644); err != nil {
		t.Fatal(err)
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}

	var got *Config
	var gotErr error
	handler := reloadHandler(v, func(cfg *Config, err error) { got, gotErr = cfg, err })

	if err := os.WriteFile(path, []byte("escalation_policy:\n  max_retries: 6\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}

	handler(fsnotify.Event{Name: path, Op: fsnotify.Chmod})
	if got != nil {
		t.Fatal("chmod events must not trigger a reload")
	}

	handler(fsnotify.Event{Name: path, Op: fsnotify.Write})
	if gotErr != nil {
		t.Fatalf("unexpected reload error: %v", gotErr)
	}
	if got == nil || got.EscalationPolicy.MaxRetries != 6 {
		t.Errorf("expected reloaded max_retries 6, got %+v", got)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	if result := expandEnv("${TEST_VAR}"); result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}
	if result := expandEnv("prefix-${TEST_VAR}-suffix"); result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if dir := getUserConfigDir(); dir != "/custom/config/tandem" {
		t.Errorf("expected %q, got %q", "/custom/config/tandem", dir)
	}
}

func TestLoadWithProjectOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	project := t.TempDir()
	nested := filepath.Join(project, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, projectConfigName), []byte("delegation:\n  max_tasks: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Delegation.MaxTasks != 3 {
		t.Errorf("expected project override max_tasks 3, got %d", cfg.Delegation.MaxTasks)
	}
}

func TestSettings(t *testing.T) {
	cfg := Default()
	s := cfg.Settings()

	if got := s["escalation_policy.max_retries"]; got != 3 {
		t.Errorf("escalation_policy.max_retries = %v, want 3", got)
	}
	if got := s["local.kind"]; got != KindOpenAI {
		t.Errorf("local.kind = %v, want %s", got, KindOpenAI)
	}
	if got := s["escalation_policy.timeout_threshold"]; got != "30s" {
		t.Errorf("escalation_policy.timeout_threshold = %v, want 30s", got)
	}
}
