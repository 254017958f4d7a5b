// ABOUTME: Tests for YAML config loading, env expansion, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.Equal(t, NetworkLocal, cfg.Server.NetworkMode)
	assert.Equal(t, "talkto.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Agents.GhostRefreshInterval)
	assert.True(t, cfg.AllowLocalhost())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9000
  advertise_host: talkto.example.com
database:
  path: /data/talkto.db
agents:
  ghost_refresh_interval: 10s
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.Equal(t, "talkto.example.com:9000", cfg.AdvertiseAddr())
	assert.Equal(t, "/data/talkto.db", cfg.Database.Path)
	assert.Equal(t, 10*time.Second, cfg.Agents.GhostRefreshInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_TALKTO_SECRET", "s3cret-value")
	path := writeConfig(t, `
auth:
  jwt_secret: "${TEST_TALKTO_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-value", cfg.Auth.JWTSecret)
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "${TEST_TALKTO_DOES_NOT_EXIST}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TALKTO_HOST", "10.0.0.5")
	t.Setenv("TALKTO_PORT", "4321")
	t.Setenv("TALKTO_DB_PATH", "/tmp/override.db")
	t.Setenv("TALKTO_PROMPTS_DIR", "/etc/talkto/prompts")

	path := writeConfig(t, `
server:
  port: 9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5:4321", cfg.Addr(), "env overrides beat the file")
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, "/etc/talkto/prompts", cfg.Prompts.Dir)
}

func TestLoad_BadPortEnv(t *testing.T) {
	t.Setenv("TALKTO_PORT", "not-a-port")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TALKTO_PORT")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
agents:
  ghost_refresh_interval: "soon"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost_refresh_interval")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(c *Config) {}, ""},
		{"port out of range", func(c *Config) { c.Server.Port = 0 }, "out of range"},
		{"bad network mode", func(c *Config) { c.Server.NetworkMode = "mesh" }, "network_mode"},
		{"tailscale needs hostname", func(c *Config) { c.Server.NetworkMode = NetworkTailscale }, "tailscale.hostname"},
		{"tailscale with hostname ok", func(c *Config) {
			c.Server.NetworkMode = NetworkTailscale
			c.Tailscale.Hostname = "talkto"
		}, ""},
		{"db path required", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestAllowLocalhost_Explicit(t *testing.T) {
	path := writeConfig(t, `
auth:
  allow_localhost: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.AllowLocalhost())
}
