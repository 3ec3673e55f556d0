package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "branchline.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, "echo", cfg.Agent.Provider)
	assert.Equal(t, 256, cfg.Runtime.SubscriberBuffer)
	assert.Equal(t, 100, cfg.Runtime.PageLimit)
	assert.Equal(t, 1000, cfg.Runtime.MaxPageLimit)
	assert.Equal(t, time.Duration(0), cfg.Runtime.RunTimeout)
	assert.True(t, cfg.Jobs.Enabled)
	assert.Equal(t, time.Minute, cfg.Jobs.RecoveryInterval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9000
jwt_secret = "from-file"

[runtime]
run_timeout = "90s"

[agent]
provider = "gemini"
model = "gemini-2.5-flash"
`)
	t.Setenv("BRANCHLINE_SERVER_PORT", "9100")
	t.Setenv("BRANCHLINE_AGENT_API_KEY", "secret-key")
	t.Setenv("BRANCHLINE_DATABASE_URL", "postgres://example/db")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "from-file", cfg.Server.JWTSecret)
	assert.Equal(t, 90*time.Second, cfg.Runtime.RunTimeout)
	assert.Equal(t, "gemini", cfg.Agent.Provider)
	assert.Equal(t, "secret-key", cfg.Agent.APIKey)
	assert.Equal(t, "postgres://example/db", cfg.Database.URL)
	require.NoError(t, Validate(cfg))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := LoadConfig(writeConfig(t, "[server]\njwt_secret = \"s\"\n"))
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown provider", func(c *Config) { c.Agent.Provider = "skynet" }, false},
		{"hosted provider without key", func(c *Config) { c.Agent.Provider = "openai" }, false},
		{"ollama needs model", func(c *Config) { c.Agent.Provider = "ollama" }, false},
		{"ollama with model", func(c *Config) { c.Agent.Provider = "ollama"; c.Agent.Model = "llama3" }, true},
		{"no secret", func(c *Config) { c.Server.JWTSecret = "" }, false},
		{"dev headers without secret", func(c *Config) { c.Server.JWTSecret = ""; c.Server.AllowDevHeaders = true }, true},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, false},
		{"page limit above max", func(c *Config) { c.Runtime.PageLimit = 5000 }, false},
		{"negative timeout", func(c *Config) { c.Runtime.RunTimeout = -time.Second }, false},
		{"jobs without interval", func(c *Config) { c.Jobs.RecoveryInterval = 0 }, false},
		{"jobs disabled", func(c *Config) { c.Jobs.Enabled = false; c.Jobs.RecoveryInterval = 0 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base(t)
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "branchline.toml")
	require.NoError(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))

	assert.Error(t, InitConfig(path))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "agent.api_key", envKey("BRANCHLINE_AGENT_API_KEY"))
	assert.Equal(t, "server.port", envKey("BRANCHLINE_SERVER_PORT"))
}
