// Package config loads runtime configuration: YAML file, environment
// overrides, defaults merged underneath, then validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/miniagent/pkg/reducer"
	"github.com/codeready-toolchain/miniagent/pkg/turn"
)

// Storage backends.
const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

// Config is the full runtime configuration.
type Config struct {
	// DataRoot is the base directory for file persistence.
	DataRoot string `yaml:"data_root"`
	// Storage selects the event store backend: file or postgres.
	Storage string `yaml:"storage"`
	// HTTPPort is the API listen port.
	HTTPPort int `yaml:"http_port"`
	// DebounceMS is the quiet period before a turn starts. Zero is a
	// legal value (same-tick batching), so the field is a pointer to keep
	// "unset" distinguishable.
	DebounceMS *int `yaml:"debounce_ms"`
	// IdleTimeoutMS is the inactivity window ending a stream-until-idle.
	IdleTimeoutMS int `yaml:"idle_timeout_ms"`
	// MailboxSize bounds each actor's command queue.
	MailboxSize int `yaml:"mailbox_size"`
	// SubscriberBuffer is the per-subscriber broadcast depth.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	Turn TurnConfig `yaml:"turn"`
	LLM  LLMConfig  `yaml:"llm"`
}

// TurnConfig tunes the turn service.
type TurnConfig struct {
	// Attempts bounds turn-start retries.
	Attempts int `yaml:"attempts"`
	// TimeoutMS bounds one streaming attempt end to end.
	TimeoutMS int `yaml:"timeout_ms"`
}

// LLMConfig is the default model configuration for sessions that never set
// their own.
type LLMConfig struct {
	APIFormat string `yaml:"api_format"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// Default returns the built-in configuration.
func Default() *Config {
	debounce := 10
	return &Config{
		DataRoot:         ".mini-agent",
		Storage:          StorageFile,
		HTTPPort:         8080,
		DebounceMS:       &debounce,
		IdleTimeoutMS:    50,
		MailboxSize:      256,
		SubscriberBuffer: 64,
		Turn: TurnConfig{
			Attempts:  2,
			TimeoutMS: 120000,
		},
		LLM: LLMConfig{
			APIFormat: turn.FormatOpenAIChat,
			Model:     "gpt-4o-mini",
		},
	}
}

// ErrInvalidConfig tags every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads the YAML file at path (skipped when path is empty or the file
// is absent), expands ${VAR} references, applies MINIAGENT_* environment
// overrides, merges defaults underneath, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			slog.Debug("no config file, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := mergo.Merge(cfg, Default()); err != nil {
		return nil, fmt.Errorf("merging config defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment win over the file.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				slog.Warn("ignoring non-numeric env override", "key", key, "value", v)
			}
		}
	}

	setString("MINIAGENT_DATA_ROOT", &cfg.DataRoot)
	setString("MINIAGENT_STORAGE", &cfg.Storage)
	setInt("MINIAGENT_HTTP_PORT", &cfg.HTTPPort)
	setInt("MINIAGENT_IDLE_TIMEOUT_MS", &cfg.IdleTimeoutMS)
	setInt("MINIAGENT_MAILBOX_SIZE", &cfg.MailboxSize)
	setInt("MINIAGENT_SUBSCRIBER_BUFFER", &cfg.SubscriberBuffer)
	setInt("MINIAGENT_TURN_ATTEMPTS", &cfg.Turn.Attempts)
	setInt("MINIAGENT_TURN_TIMEOUT_MS", &cfg.Turn.TimeoutMS)
	setString("MINIAGENT_LLM_API_FORMAT", &cfg.LLM.APIFormat)
	setString("MINIAGENT_LLM_MODEL", &cfg.LLM.Model)
	setString("MINIAGENT_LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString("MINIAGENT_LLM_API_KEY_ENV", &cfg.LLM.APIKeyEnv)

	if v := os.Getenv("MINIAGENT_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DebounceMS = &n
		} else {
			slog.Warn("ignoring non-numeric env override", "key", "MINIAGENT_DEBOUNCE_MS", "value", v)
		}
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Storage != StorageFile && c.Storage != StoragePostgres {
		return fail("storage must be %q or %q, got %q", StorageFile, StoragePostgres, c.Storage)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fail("http_port %d out of range", c.HTTPPort)
	}
	if c.DebounceMS != nil && *c.DebounceMS < 0 {
		return fail("debounce_ms must be >= 0, got %d", *c.DebounceMS)
	}
	if c.IdleTimeoutMS < 1 {
		return fail("idle_timeout_ms must be >= 1, got %d", c.IdleTimeoutMS)
	}
	if c.MailboxSize < 1 {
		return fail("mailbox_size must be >= 1, got %d", c.MailboxSize)
	}
	if c.SubscriberBuffer < 1 {
		return fail("subscriber_buffer must be >= 1, got %d", c.SubscriberBuffer)
	}
	if c.Turn.Attempts < 1 {
		return fail("turn.attempts must be >= 1, got %d", c.Turn.Attempts)
	}
	if c.LLM.APIFormat != "" {
		known := false
		for _, f := range turn.Formats() {
			if c.LLM.APIFormat == f {
				known = true
				break
			}
		}
		if !known {
			return fail("llm.api_format %q not in %v", c.LLM.APIFormat, turn.Formats())
		}
	}
	return nil
}

// Debounce returns the quiet period as a duration. An explicit zero maps to
// a negative duration, which the actor treats as same-tick batching.
func (c *Config) Debounce() time.Duration {
	if c.DebounceMS == nil {
		return 0
	}
	if *c.DebounceMS == 0 {
		return -1
	}
	return time.Duration(*c.DebounceMS) * time.Millisecond
}

// IdleTimeout returns the stream-until-idle inactivity window.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

// TurnTimeout returns the per-attempt turn bound.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Turn.TimeoutMS) * time.Millisecond
}

// DefaultLLM returns the default model configuration in reducer form.
func (c *Config) DefaultLLM() reducer.LLMConfig {
	return reducer.LLMConfig{
		APIFormat: c.LLM.APIFormat,
		Model:     c.LLM.Model,
		BaseURL:   c.LLM.BaseURL,
		APIKeyEnv: c.LLM.APIKeyEnv,
	}
}
