// Package config loads the engine daemon's configuration from YAML or JSON
// files, with environment variable overrides for deployment secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	Server  Server  `yaml:"server" json:"server"`
	Store   Store   `yaml:"store" json:"store"`
	Engine  Engine  `yaml:"engine" json:"engine"`
	Logging Logging `yaml:"logging" json:"logging"`
	Tracing Tracing `yaml:"tracing" json:"tracing"`
	AI      AI      `yaml:"ai" json:"ai"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Store selects and configures the persistence backend.
type Store struct {
	// Driver is one of "memory", "sqlite", "mysql".
	Driver string `yaml:"driver" json:"driver"`

	// Path is the database file for the sqlite driver.
	Path string `yaml:"path" json:"path"`

	// DSN is the connection string for the mysql driver. Overridable via
	// FLOWMATIC_STORE_DSN.
	DSN string `yaml:"dsn" json:"dsn"`
}

// Engine tunes execution scheduling.
type Engine struct {
	MaxConcurrency int      `yaml:"max_concurrency" json:"max_concurrency"`
	NodeTimeout    Duration `yaml:"node_timeout" json:"node_timeout"`
}

// Duration decodes Go duration strings ("30s", "2m") from YAML and JSON.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.parse(raw)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.parse(raw)
}

func (d *Duration) parse(raw string) error {
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Logging configures the structured logger.
type Logging struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level" json:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format" json:"format"`
}

// Tracing configures the OpenTelemetry span emitter.
type Tracing struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// AI holds provider credentials for the ai.generate handler. Every key is
// overridable via environment so config files never need secrets:
// ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY.
type AI struct {
	AnthropicKey string `yaml:"anthropic_key" json:"anthropic_key"`
	OpenAIKey    string `yaml:"openai_key" json:"openai_key"`
	GoogleKey    string `yaml:"google_key" json:"google_key"`
}

// Default returns the configuration used when no file is given: in-memory
// store, local listener, text logs.
func Default() Config {
	return Config{
		Server:  Server{Addr: ":8080"},
		Store:   Store{Driver: "memory"},
		Logging: Logging{Level: "info", Format: "text"},
		Tracing: Tracing{ServiceName: "flowmatic-engine"},
	}
}

// FromFile loads configuration from a file, auto-detecting format by
// extension (.yaml, .yml, .json), then applies environment overrides.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data over the defaults.
func FromYAML(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.applyEnv()
	return cfg, cfg.validate()
}

// FromJSON parses JSON data over the defaults.
func FromJSON(data []byte) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	cfg.applyEnv()
	return cfg, cfg.validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FLOWMATIC_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FLOWMATIC_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.AI.AnthropicKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.AI.OpenAIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.AI.GoogleKey = v
	}
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}
