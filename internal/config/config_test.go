package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "127.0.0.1", c.Host)
	assert.Equal(t, 19988, c.Port)
	assert.Empty(t, c.Token)
	assert.Equal(t, 30000, c.PingIntervalMs)
	assert.Equal(t, 30000, c.CommandTimeoutMs)
	assert.Equal(t, 60000, c.LongCommandTimeoutMs)
	assert.Equal(t, 1<<20, c.MaxClientQueueBytes)
	require.NoError(t, c.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := "port: 20001\ntoken: ${RELAY_TEST_TOKEN}\nextensionIds:\n  - aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\nlogLevel: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("RELAY_TEST_TOKEN", "from-env")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20001, c.Port)
	assert.Equal(t, "from-env", c.Token, "env vars in the file body expand")
	assert.Equal(t, []string{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}, c.ExtensionIDs)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "127.0.0.1", c.Host, "unset fields keep their defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BROWSERWRIGHT_HOST", "0.0.0.0")
	t.Setenv("BROWSERWRIGHT_PORT", "20500")
	t.Setenv("BROWSERWRIGHT_TOKEN", "tok")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 20500, c.Port)
	assert.Equal(t, "tok", c.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"port at bounds", func(c *Config) { c.Port = 65535 }, false},
		{"empty host", func(c *Config) { c.Host = "" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAddrAndLevel(t *testing.T) {
	c := Default()
	assert.Equal(t, "127.0.0.1:19988", c.Addr())
	assert.Equal(t, slog.LevelInfo, c.SlogLevel())

	c.LogLevel = "warn"
	assert.Equal(t, slog.LevelWarn, c.SlogLevel())
}
