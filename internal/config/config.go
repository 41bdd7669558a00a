// Package config loads the gateway configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/wilhg/toolgate/pkg/credential"
	"github.com/wilhg/toolgate/pkg/gateway"
)

// Environment overrides.
const (
	EnvAddr        = "TOOLGATE_ADDR"
	EnvLogLevel    = "TOOLGATE_LOG_LEVEL"
	EnvDatabaseURL = "TOOLGATE_DATABASE_URL"
)

type Server struct {
	Addr string `yaml:"addr" toml:"addr"`
}

type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type Telemetry struct {
	Stdout      bool   `yaml:"stdout" toml:"stdout"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// Journal selects where invocations are recorded. An empty DatabaseURL keeps
// the journal in memory, bounded to MaxEntries.
type Journal struct {
	DatabaseURL string `yaml:"database_url" toml:"database_url"`
	MaxEntries  int    `yaml:"max_entries" toml:"max_entries"`
}

// Config is the gateway configuration.
type Config struct {
	Server     Server                    `yaml:"server" toml:"server"`
	Log        Log                       `yaml:"log" toml:"log"`
	Telemetry  Telemetry                 `yaml:"telemetry" toml:"telemetry"`
	Journal    Journal                   `yaml:"journal" toml:"journal"`
	EnvFiles   []string                  `yaml:"env_files" toml:"env_files"`
	Interfaces []gateway.InterfaceConfig `yaml:"interfaces" toml:"interfaces"`
}

// Default returns a config with no interfaces.
func Default() *Config {
	return &Config{
		Server:    Server{Addr: ":8080"},
		Log:       Log{Level: "info", Format: "text"},
		Telemetry: Telemetry{ServiceName: "toolgate"},
	}
}

// Load reads path (YAML or TOML by extension), loads its env files so that
// ${VAR} references can resolve, applies environment overrides and validates.
// An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, raw, cfg); err != nil {
			return nil, err
		}
		if _, err := credential.LoadEnvFiles(resolvePaths(filepath.Dir(path), cfg.EnvFiles)...); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, raw []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(raw), cfg)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 && !allUnderInterfaces(undec) {
			return fmt.Errorf("parse %s: unknown keys %v", path, undec)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}
	return nil
}

// allUnderInterfaces reports whether every undecoded key belongs to an
// adapter config table, which is free-form.
func allUnderInterfaces(keys []toml.Key) bool {
	for _, k := range keys {
		if len(k) < 2 || k[0] != "interfaces" || k[1] != "config" {
			return false
		}
	}
	return true
}

func resolvePaths(dir string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" && !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		out = append(out, p)
	}
	return out
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Journal.DatabaseURL = v
	}
}

// Validate checks interface entries and log settings.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	seen := make(map[string]bool, len(c.Interfaces))
	for i, ic := range c.Interfaces {
		if ic.Protocol == "" {
			return fmt.Errorf("interfaces[%d]: protocol is required", i)
		}
		name := ic.Name
		if name == "" {
			name = ic.Protocol
		}
		if seen[name] {
			return fmt.Errorf("interfaces[%d]: duplicate interface name %q", i, name)
		}
		seen[name] = true
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the process logger writing to w.
func NewLogger(c Log, w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
