// Package config handles configuration loading and management for tandem.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/tandem/internal/policy"
)

const (
	appName           = "tandem"
	projectConfigName = ".tandem.yaml"
	envPrefix         = "TANDEM"
)

// Provider kinds.
const (
	KindAnthropic = "anthropic"
	KindOpenAI    = "openai"
	KindGemini    = "gemini"
	// KindEcho is an offline provider for dry runs.
	KindEcho = "echo"
)

// Config holds all configuration for tandem.
type Config struct {
	Local            ProviderConfig         `mapstructure:"local"`
	Escalation       ProviderConfig         `mapstructure:"escalation"`
	Quality          QualityConfig          `mapstructure:"quality"`
	EscalationPolicy EscalationPolicyConfig `mapstructure:"escalation_policy"`
	Queue            QueueConfig            `mapstructure:"queue"`
	Delegation       DelegationConfig       `mapstructure:"delegation"`
	Cache            CacheConfig            `mapstructure:"cache"`
	Retry            RetryConfig            `mapstructure:"retry"`
	Breaker          BreakerConfig          `mapstructure:"breaker"`
	State            StateConfig            `mapstructure:"state"`
	Log              LogConfig              `mapstructure:"log"`
	Telemetry        TelemetryConfig        `mapstructure:"telemetry"`
}

// ProviderConfig describes the text generation backend of one tier.
type ProviderConfig struct {
	// Kind is one of anthropic, openai, gemini or echo.
	Kind  string `mapstructure:"kind"`
	Model string `mapstructure:"model"`
	// BaseURL points the openai kind at any compatible server (Ollama, vLLM, LM Studio).
	BaseURL string `mapstructure:"base_url"`
	// APIKey may reference environment variables as ${VAR}.
	APIKey      string        `mapstructure:"api_key"`
	UseBedrock  bool          `mapstructure:"use_bedrock"`
	AWSRegion   string        `mapstructure:"aws_region"`
	AWSProfile  string        `mapstructure:"aws_profile"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
}

// QualityConfig holds critique loop settings.
type QualityConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxIterations   int           `mapstructure:"max_iterations"`
	Threshold       float64       `mapstructure:"threshold"`
	Verify          bool          `mapstructure:"verify"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	ValidationFloor float64       `mapstructure:"validation_floor"`
	// Tiers lists the tiers whose output is refined by the loop.
	Tiers []string `mapstructure:"tiers"`
	// Validate enables critique-based validation of local tier output.
	Validate bool `mapstructure:"validate"`
}

// EscalationPolicyConfig holds escalation decision thresholds.
type EscalationPolicyConfig struct {
	TimeoutThreshold    time.Duration `mapstructure:"timeout_threshold"`
	MaxRetries          int           `mapstructure:"max_retries"`
	ConsecutiveFailures int           `mapstructure:"consecutive_failures"`
	HistorySize         int           `mapstructure:"history_size"`
	EscalationTimeout   time.Duration `mapstructure:"escalation_timeout"`
}

// QueueConfig holds todo queue settings.
type QueueConfig struct {
	MaxItems       int  `mapstructure:"max_items"`
	ExclusiveStart bool `mapstructure:"exclusive_start"`
}

// DelegationConfig holds sub-agent settings.
type DelegationConfig struct {
	MaxTasks    int `mapstructure:"max_tasks"`
	Parallelism int `mapstructure:"parallelism"`
}

// CacheConfig holds generation cache settings.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	MaxBytes int64         `mapstructure:"max_bytes"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RetryConfig holds transport retry settings.
type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// StateConfig holds persistence settings.
type StateConfig struct {
	// Path is the SQLite database file. Empty means .tandem/state.db in the working directory.
	Path string `mapstructure:"path"`
}

// LogConfig holds log file settings.
type LogConfig struct {
	Path   string `mapstructure:"path"`
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds metrics export settings.
type TelemetryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	OTLPEndpoint string        `mapstructure:"otlp_endpoint"`
	Insecure     bool          `mapstructure:"insecure"`
	Interval     time.Duration `mapstructure:"interval"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TANDEM_*, provider API key variables)
// 2. Project config (.tandem.yaml in current directory or parent)
// 3. User config (~/.config/tandem/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file on top of the defaults.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

// Watch loads the file at path and invokes onChange with the reloaded
// configuration every time the file is written. Reload errors are passed to
// onChange with a nil config. The watch lasts for the life of the process.
func Watch(path string, onChange func(*Config, error)) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(reloadHandler(v, onChange))
	v.WatchConfig()
	return cfg, nil
}

func reloadHandler(v *viper.Viper, onChange func(*Config, error)) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshal(v)
		if err != nil {
			onChange(nil, fmt.Errorf("reloading %s: %w", e.Name, err))
			return
		}
		onChange(cfg, nil)
	}
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	for key, val := range flatten(cfg) {
		v.Set(key, val)
	}
	return v.WriteConfig()
}

// flatten maps a config to dotted viper keys.
func flatten(cfg *Config) map[string]any {
	out := map[string]any{}
	for prefix, p := range map[string]ProviderConfig{"local": cfg.Local, "escalation": cfg.Escalation} {
		out[prefix+".kind"] = p.Kind
		out[prefix+".model"] = p.Model
		out[prefix+".base_url"] = p.BaseURL
		out[prefix+".api_key"] = p.APIKey
		out[prefix+".use_bedrock"] = p.UseBedrock
		out[prefix+".aws_region"] = p.AWSRegion
		out[prefix+".aws_profile"] = p.AWSProfile
		out[prefix+".timeout"] = p.Timeout.String()
		out[prefix+".max_tokens"] = p.MaxTokens
		out[prefix+".temperature"] = p.Temperature
	}

	out["quality.enabled"] = cfg.Quality.Enabled
	out["quality.max_iterations"] = cfg.Quality.MaxIterations
	out["quality.threshold"] = cfg.Quality.Threshold
	out["quality.verify"] = cfg.Quality.Verify
	out["quality.call_timeout"] = cfg.Quality.CallTimeout.String()
	out["quality.validation_floor"] = cfg.Quality.ValidationFloor
	out["quality.tiers"] = cfg.Quality.Tiers
	out["quality.validate"] = cfg.Quality.Validate

	out["escalation_policy.timeout_threshold"] = cfg.EscalationPolicy.TimeoutThreshold.String()
	out["escalation_policy.max_retries"] = cfg.EscalationPolicy.MaxRetries
	out["escalation_policy.consecutive_failures"] = cfg.EscalationPolicy.ConsecutiveFailures
	out["escalation_policy.history_size"] = cfg.EscalationPolicy.HistorySize
	out["escalation_policy.escalation_timeout"] = cfg.EscalationPolicy.EscalationTimeout.String()

	out["queue.max_items"] = cfg.Queue.MaxItems
	out["queue.exclusive_start"] = cfg.Queue.ExclusiveStart
	out["delegation.max_tasks"] = cfg.Delegation.MaxTasks
	out["delegation.parallelism"] = cfg.Delegation.Parallelism

	out["cache.enabled"] = cfg.Cache.Enabled
	out["cache.max_bytes"] = cfg.Cache.MaxBytes
	out["cache.ttl"] = cfg.Cache.TTL.String()
	out["retry.max_tries"] = cfg.Retry.MaxTries
	out["retry.initial_interval"] = cfg.Retry.InitialInterval.String()
	out["retry.max_interval"] = cfg.Retry.MaxInterval.String()
	out["breaker.max_failures"] = cfg.Breaker.MaxFailures
	out["breaker.cooldown"] = cfg.Breaker.Cooldown.String()

	out["state.path"] = cfg.State.Path
	out["log.path"] = cfg.Log.Path
	out["log.level"] = cfg.Log.Level
	out["log.format"] = cfg.Log.Format
	out["telemetry.enabled"] = cfg.Telemetry.Enabled
	out["telemetry.otlp_endpoint"] = cfg.Telemetry.OTLPEndpoint
	out["telemetry.insecure"] = cfg.Telemetry.Insecure
	out["telemetry.interval"] = cfg.Telemetry.Interval.String()
	return out
}

// Settings returns the configuration as dotted keys, e.g. "quality.threshold".
func (c *Config) Settings() map[string]any {
	return flatten(c)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Policy converts the file configuration into validated policy parameters.
func (c *Config) Policy() *policy.Config {
	p := &policy.Config{
		Queue: policy.QueuePolicy{
			MaxItems:       c.Queue.MaxItems,
			ExclusiveStart: c.Queue.ExclusiveStart,
		},
		Delegation: policy.DelegationPolicy{
			MaxTasks:    c.Delegation.MaxTasks,
			Parallelism: c.Delegation.Parallelism,
		},
		Quality: policy.QualityPolicy{
			Enabled:         c.Quality.Enabled,
			MaxIterations:   c.Quality.MaxIterations,
			Threshold:       c.Quality.Threshold,
			Verify:          c.Quality.Verify,
			CallTimeout:     c.Quality.CallTimeout,
			ValidationFloor: c.Quality.ValidationFloor,
		},
		Escalation: policy.EscalationPolicy{
			TimeoutThreshold:    c.EscalationPolicy.TimeoutThreshold,
			MaxRetries:          c.EscalationPolicy.MaxRetries,
			ConsecutiveFailures: c.EscalationPolicy.ConsecutiveFailures,
			HistorySize:         c.EscalationPolicy.HistorySize,
			EscalationTimeout:   c.EscalationPolicy.EscalationTimeout,
		},
	}
	_ = p.Validate()
	return p
}

// RefinesTier reports whether the quality loop applies to the named tier.
func (q QualityConfig) RefinesTier(tier string) bool {
	for _, t := range q.Tiers {
		if strings.EqualFold(strings.TrimSpace(t), tier) {
			return true
		}
	}
	return false
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Local.APIKey = expandEnv(cfg.Local.APIKey)
	cfg.Escalation.APIKey = expandEnv(cfg.Escalation.APIKey)
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	for key, val := range flatten(d) {
		v.SetDefault(key, val)
	}
}

// getUserConfigDir returns the XDG config directory for tandem.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// findProjectConfig searches for .tandem.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	p := policy.Default()
	return &Config{
		Local: ProviderConfig{
			Kind:        KindOpenAI,
			Model:       "llama3.1:8b",
			BaseURL:     "http://localhost:11434/v1",
			Timeout:     2 * time.Minute,
			MaxTokens:   4096,
			Temperature: 0.2,
		},
		Escalation: ProviderConfig{
			Kind:        KindAnthropic,
			Model:       "claude-sonnet-4-5-20250929",
			Timeout:     5 * time.Minute,
			MaxTokens:   8192,
			Temperature: 0.2,
		},
		Quality: QualityConfig{
			Enabled:         p.Quality.Enabled,
			MaxIterations:   p.Quality.MaxIterations,
			Threshold:       p.Quality.Threshold,
			Verify:          p.Quality.Verify,
			CallTimeout:     p.Quality.CallTimeout,
			ValidationFloor: p.Quality.ValidationFloor,
			Tiers:           []string{"local"},
			Validate:        true,
		},
		EscalationPolicy: EscalationPolicyConfig{
			TimeoutThreshold:    p.Escalation.TimeoutThreshold,
			MaxRetries:          p.Escalation.MaxRetries,
			ConsecutiveFailures: p.Escalation.ConsecutiveFailures,
			HistorySize:         p.Escalation.HistorySize,
			EscalationTimeout:   p.Escalation.EscalationTimeout,
		},
		Queue: QueueConfig{
			MaxItems:       p.Queue.MaxItems,
			ExclusiveStart: p.Queue.ExclusiveStart,
		},
		Delegation: DelegationConfig{
			MaxTasks:    p.Delegation.MaxTasks,
			Parallelism: p.Delegation.Parallelism,
		},
		Cache: CacheConfig{
			Enabled:  true,
			MaxBytes: 64 << 20,
			TTL:      30 * time.Minute,
		},
		Retry: RetryConfig{
			MaxTries:        3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			Insecure:     true,
			Interval:     15 * time.Second,
		},
	}
}
