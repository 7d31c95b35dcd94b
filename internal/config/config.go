// Package config loads and validates the relay configuration.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the relay configuration. Durations are expressed in
// milliseconds, matching the extension's own settings surface.
type Config struct {
	// Host is the listen address. The relay's trust model is
	// localhost-only; non-loopback hosts are accepted without a check.
	Host string `yaml:"host" json:"host"`

	// Port is the TCP listen port.
	Port int `yaml:"port" json:"port"`

	// Token, when set, is required as the token query parameter on /cdp.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// ExtensionIDs overrides the compiled-in extension allowlist.
	ExtensionIDs []string `yaml:"extensionIds,omitempty" json:"extensionIds,omitempty"`

	PingIntervalMs       int `yaml:"pingIntervalMs,omitempty" json:"pingIntervalMs,omitempty"`
	CommandTimeoutMs     int `yaml:"commandTimeoutMs,omitempty" json:"commandTimeoutMs,omitempty"`
	LongCommandTimeoutMs int `yaml:"longCommandTimeoutMs,omitempty" json:"longCommandTimeoutMs,omitempty"`

	MaxClientQueueBytes  int `yaml:"maxClientQueueBytes,omitempty" json:"maxClientQueueBytes,omitempty"`
	MaxClientQueueFrames int `yaml:"maxClientQueueFrames,omitempty" json:"maxClientQueueFrames,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty" json:"logLevel,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Host:                 "127.0.0.1",
		Port:                 19988,
		PingIntervalMs:       30000,
		CommandTimeoutMs:     30000,
		LongCommandTimeoutMs: 60000,
		MaxClientQueueBytes:  1 << 20,
		MaxClientQueueFrames: 1024,
		LogLevel:             "info",
	}
}

// Load reads a YAML config file on top of the defaults. Environment
// variables in the file body are expanded. An empty path returns the
// defaults. BROWSERWRIGHT_* environment overrides apply last.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
			return c, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BROWSERWRIGHT_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("BROWSERWRIGHT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("BROWSERWRIGHT_TOKEN"); v != "" {
		c.Token = v
	}
}

// Validate checks the configuration for values the relay cannot run with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SlogLevel maps the configured log level onto slog.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
