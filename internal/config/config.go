// Package config loads relgraph settings from defaults, an optional TOML
// file and RELGRAPH_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. The first underscore after
// the prefix separates section from key: RELGRAPH_ENGINE_MAX_STEPS sets
// engine.max_steps.
const EnvPrefix = "RELGRAPH_"

// Config is the full relgraph configuration.
type Config struct {
	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`

	Engine struct {
		MaxSteps int `koanf:"max_steps"`
	} `koanf:"engine"`

	Journal struct {
		Path string `koanf:"path"`
	} `koanf:"journal"`

	Transport struct {
		Endpoint  string        `koanf:"endpoint"`
		Timeout   time.Duration `koanf:"timeout"`
		RateLimit float64       `koanf:"rate_limit"`
		Burst     int           `koanf:"burst"`
	} `koanf:"transport"`

	Mail struct {
		CurrentPartner int64 `koanf:"current_partner"`
	} `koanf:"mail"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":            "info",
		"log.format":           "text",
		"engine.max_steps":     10000,
		"journal.path":         ":memory:",
		"transport.endpoint":   "",
		"transport.timeout":    "10s",
		"transport.rate_limit": 5.0,
		"transport.burst":      5,
		"mail.current_partner": 0,
	}
}

// Load reads the configuration. An empty path tries ./relgraph.toml and
// $HOME/.relgraph.toml; a missing default file is not an error, a missing
// explicit one is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, p := range []string{"./relgraph.toml", "$HOME/.relgraph.toml"} {
			p = os.ExpandEnv(p)
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config %s: %w", p, err)
			}
			break
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(key, "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func Validate(cfg *Config) error {
	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	if cfg.Engine.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps must be positive, got %d", cfg.Engine.MaxSteps)
	}
	if cfg.Transport.Timeout <= 0 {
		return fmt.Errorf("transport.timeout must be positive, got %s", cfg.Transport.Timeout)
	}
	if cfg.Transport.RateLimit > 0 && cfg.Transport.Burst <= 0 {
		return fmt.Errorf("transport.burst must be positive when rate_limit is set")
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Logger builds the process logger described by the log section.
func (c *Config) Logger(verbose bool) *slog.Logger {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Sample is a commented starting configuration.
const Sample = `# relgraph configuration

[log]
level = "info"
format = "text"

[engine]
# recomputations allowed per (record, field) in one batch
max_steps = 10000

[journal]
path = ":memory:"

[transport]
endpoint = "https://odoo.example.com"
timeout = "10s"
rate_limit = 5.0
burst = 5

[mail]
current_partner = 3
`

// InitConfig writes Sample to path. It refuses to overwrite a file.
func InitConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(Sample), 0o644)
}
