package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.Equal(t, "https://serv.amazingmarvin.com/api", cfg.Upstream.BaseURL)
	assert.Empty(t, cfg.Redis.URL, "in-memory store is the default")
	assert.False(t, cfg.ChangeFeed.Enabled())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("BASE_URL", "https://mcp.example.com")
	t.Setenv("MARVIN_API_KEY", "server-key")
	t.Setenv("OAUTH_SIGNING_SECRET", "env-secret")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("REDIS_DB", "2")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "https://mcp.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "server-key", cfg.Upstream.APIKey)
	assert.Equal(t, "env-secret", cfg.OAuth.SigningSecret)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, 2, cfg.Redis.DB)
}

func TestLoadConfigIgnoresBadPort(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port, "a non-numeric PORT keeps the default")
}

func TestLoadConfigYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 3000
  baseUrl: https://file.example.com
oauth:
  signingSecret: file-secret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "https://file.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "file-secret", cfg.OAuth.SigningSecret)
	// Fields the file does not set keep their defaults.
	assert.Equal(t, "https://serv.amazingmarvin.com/api", cfg.Upstream.BaseURL)
}

func TestLoadConfigEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 3000\n"), 0o600))

	t.Setenv("PORT", "4000")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{not yaml"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := GetDefaultConfig()
	valid.OAuth.SigningSecret = "secret"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"empty base URL", func(c *Config) { c.Server.BaseURL = "" }, "base URL cannot be empty"},
		{"bad base URL scheme", func(c *Config) { c.Server.BaseURL = "ftp://example.com" }, "invalid base URL scheme"},
		{"missing signing secret", func(c *Config) { c.OAuth.SigningSecret = "" }, "OAUTH_SIGNING_SECRET is required"},
		{"empty upstream URL", func(c *Config) { c.Upstream.BaseURL = "" }, "upstream base URL cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
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

func TestChangeFeedEnabled(t *testing.T) {
	full := ChangeFeedConfig{Host: "h", Database: "d", User: "u", Password: "p"}
	assert.True(t, full.Enabled())

	partial := full
	partial.Password = ""
	assert.False(t, partial.Enabled(), "partial change-feed config must stay disabled")
	assert.False(t, ChangeFeedConfig{}.Enabled())
}
