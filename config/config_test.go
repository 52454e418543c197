package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Check())
	assert.Equal(t, ":9201", c.Listen.Addr())
	assert.True(t, c.Store.EnableAOVs)
	assert.False(t, c.Store.MultiFrame)
	assert.Contains(t, c.String(), "max_connections: 16")
}

func TestConfig_LoadYAML(t *testing.T) {
	t.Setenv("TEST_LISTEN_HOST", "127.0.0.1")
	c := Default()
	err := c.LoadYAML([]byte(`
listen:
  address: ${TEST_LISTEN_HOST}
  port: 9300
store:
  multi_frame: true
  lock_warn: 250ms
log:
  level: debug
`), true)
	require.NoError(t, err)
	require.NoError(t, c.Check())
	assert.Equal(t, "127.0.0.1:9300", c.Listen.Addr())
	assert.True(t, c.Store.MultiFrame)
	assert.True(t, c.Store.EnableAOVs, "omitted keys keep defaults")
	assert.Equal(t, 250*time.Millisecond, c.Store.LockWarn)
	assert.Equal(t, "debug", c.Log.Level)

	err = c.LoadYAML([]byte("listen:\n  bogus: 1\n"), false)
	assert.Error(t, err, "unknown keys are rejected")
}

func TestConfig_LoadYAMLFile(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "atonstream.yaml")
	require.NoError(t, os.WriteFile(fpath, []byte("http:\n  address: ''\n"), 0o644))
	c := Default()
	require.NoError(t, c.LoadYAMLFile(fpath, false))
	assert.Equal(t, "", c.HTTP.Address)

	err := c.LoadYAMLFile(filepath.Join(t.TempDir(), "missing.yaml"), false)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_LoadEnv(t *testing.T) {
	c := Default()
	t.Setenv("ATON_PORT", "9555")
	require.NoError(t, c.LoadEnv())
	assert.Equal(t, 9555, c.Listen.Port)

	t.Setenv("ATON_PORT", "nope")
	assert.Error(t, c.LoadEnv())
}

func TestConfig_Check(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		errMsg string
	}{
		{"port", func(c *Config) { c.Listen.Port = 70000 }, "listen.port"},
		{"max-connections", func(c *Config) { c.Listen.MaxConnections = 0 }, "listen.max_connections"},
		{"lock-warn", func(c *Config) { c.Store.LockWarn = -time.Second }, "store.lock_warn"},
		{"http", func(c *Config) { c.HTTP.Address = "nope" }, "http.address"},
		{"log", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(&c)
			assert.ErrorContains(t, c.Check(), tt.errMsg)
		})
	}
}
