// Package config loads meepo settings from a YAML file and MEEPO_ prefixed
// environment variables. Credentials are never part of the configuration;
// callers supply them when building agents.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hupe1980/meepo/bridge"
	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/hierarchy"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/memory"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix prefixes environment overrides: MEEPO_PROVIDER_MAX_TOKENS
// sets provider.max_tokens.
const DefaultEnvPrefix = "MEEPO_"

// Config is the root configuration.
type Config struct {
	Log         LogConfig         `koanf:"log"`
	Provider    ProviderConfig    `koanf:"provider"`
	Coordinator CoordinatorConfig `koanf:"coordinator"`
	Memory      MemoryConfig      `koanf:"memory"`
	Bridge      BridgeConfig      `koanf:"bridge"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// ProviderConfig selects the provider backend and its call defaults.
type ProviderConfig struct {
	Tag                 string `koanf:"tag" validate:"required"`
	BaseURL             string `koanf:"base_url" validate:"omitempty,url"`
	Organization        string `koanf:"organization"`
	core.ProviderConfig `koanf:",squash"`
}

// CoordinatorConfig tunes retries and limits of the hierarchy coordinator.
type CoordinatorConfig struct {
	MaxAttempts     int           `koanf:"max_attempts" validate:"gte=1,lte=20"`
	InitialInterval time.Duration `koanf:"initial_interval" validate:"gt=0"`
	Multiplier      float64       `koanf:"multiplier" validate:"gte=1"`
	MaxInterval     time.Duration `koanf:"max_interval" validate:"gtefield=InitialInterval"`
	Jitter          float64       `koanf:"jitter" validate:"gte=0,lte=1"`
	TaskTimeout     time.Duration `koanf:"task_timeout" validate:"gte=0"`
	MaxParallel     int           `koanf:"max_parallel" validate:"gte=0"`
}

// MemoryConfig selects the session store.
type MemoryConfig struct {
	Backend     string `koanf:"backend" validate:"oneof=inmemory sqlite"`
	DSN         string `koanf:"dsn" validate:"required_if=Backend sqlite"`
	MaxMessages int    `koanf:"max_messages" validate:"gte=0"`
}

// BridgeConfig tunes the tool bridge.
type BridgeConfig struct {
	PreviewLen int `koanf:"preview_len" validate:"gte=0"`
}

// Options configure Load.
type Options struct {
	EnvPrefix string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:      LogConfig{Level: "info", Format: "json"},
		Provider: ProviderConfig{Tag: "openai", ProviderConfig: core.ProviderConfig{MaxTokens: 4096, Timeout: 60 * time.Second}},
		Coordinator: CoordinatorConfig{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			Multiplier:      2,
			MaxInterval:     5 * time.Second,
			Jitter:          0.2,
		},
		Memory: MemoryConfig{Backend: "inmemory"},
		Bridge: BridgeConfig{PreviewLen: 200},
	}
}

func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"log.level":                    d.Log.Level,
		"log.format":                   d.Log.Format,
		"provider.tag":                 d.Provider.Tag,
		"provider.max_tokens":          d.Provider.MaxTokens,
		"provider.timeout":             d.Provider.Timeout.String(),
		"coordinator.max_attempts":     d.Coordinator.MaxAttempts,
		"coordinator.initial_interval": d.Coordinator.InitialInterval.String(),
		"coordinator.multiplier":       d.Coordinator.Multiplier,
		"coordinator.max_interval":     d.Coordinator.MaxInterval.String(),
		"coordinator.jitter":           d.Coordinator.Jitter,
		"memory.backend":               d.Memory.Backend,
		"bridge.preview_len":           d.Bridge.PreviewLen,
	}
}

// Load reads defaults, then the YAML file at path (skipped when empty), then
// environment overrides, and validates the result.
func Load(path string, optFns ...func(o *Options)) (*Config, error) {
	opts := Options{EnvPrefix: DefaultEnvPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}

	k := koanf.New(".")
	for key, v := range defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, invalid("defaults", err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, invalid(fmt.Sprintf("read %s", path), err)
		}
	}

	if err := k.Load(env.Provider(opts.EnvPrefix, ".", envKey(opts.EnvPrefix)), nil); err != nil {
		return nil, invalid("environment", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, invalid("decode", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps PREFIX_SECTION_FIELD_NAME to section.field_name.
func envKey(prefix string) func(string) string {
	return func(name string) string {
		name = strings.ToLower(strings.TrimPrefix(name, prefix))
		section, field, ok := strings.Cut(name, "_")
		if !ok {
			return name
		}
		return section + "." + field
	}
}

func invalid(op string, err error) error {
	return core.NewError(core.KindInvalidConfig, "config."+op, "failed to load configuration", err)
}

// Validate checks every section.
func (c *Config) Validate() error {
	return core.ValidateStruct(c)
}

// Logger builds a ContextLogger writing to w.
func (c LogConfig) Logger(w io.Writer) (*logging.ContextLogger, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, invalid("log", err)
	}
	return logging.NewLogger(&logging.LoggerConfig{Level: level, Format: c.Format, Output: w}), nil
}

// Credentials combines the configured endpoint with an API key supplied by
// the caller.
func (c ProviderConfig) Credentials(apiKey string) core.Credentials {
	return core.Credentials{APIKey: apiKey, BaseURL: c.BaseURL, Organization: c.Organization}
}

// Defaults returns the provider call defaults.
func (c ProviderConfig) Defaults() core.ProviderConfig { return c.ProviderConfig }

// Apply copies the coordinator settings onto hierarchy options.
func (c CoordinatorConfig) Apply(o *hierarchy.Options) {
	o.MaxAttempts = c.MaxAttempts
	o.InitialInterval = c.InitialInterval
	o.Multiplier = c.Multiplier
	o.MaxInterval = c.MaxInterval
	o.RandomizationFactor = c.Jitter
	o.TaskTimeout = c.TaskTimeout
	o.MaxParallel = c.MaxParallel
}

// Apply copies the bridge settings onto bridge options.
func (c BridgeConfig) Apply(o *bridge.Options) {
	o.PreviewLen = c.PreviewLen
}

// OpenStore creates the configured memory store. The returned close function
// releases database handles and is never nil.
func (c MemoryConfig) OpenStore() (memory.Store, func() error, error) {
	switch c.Backend {
	case "sqlite":
		s, err := memory.OpenSQLite(c.DSN, func(o *memory.SQLiteOptions) { o.MaxMessages = c.MaxMessages })
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s := memory.NewInMemoryStore(func(o *memory.InMemoryOptions) { o.MaxMessages = c.MaxMessages })
		return s, func() error { return nil }, nil
	}
}
