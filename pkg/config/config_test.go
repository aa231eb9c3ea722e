package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("DESKPILOT_LLM_API_KEY", "llm-key")
	t.Setenv("DESKPILOT_SANDBOX_API_KEY", "sandbox-key")
	t.Setenv("DESKPILOT_SANDBOX_BASE_URL", "https://sandbox.example.com")
	cfg, err := Load(NewViper())
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.Equal(t, 1, cfg.LLM.MaxRetries)
	assert.Equal(t, 2, cfg.Agent.MaxRoundTrips)
	assert.Equal(t, 500*time.Millisecond, cfg.Sandbox.ScreenshotWait)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.LaunchWait)
	assert.Equal(t, "llm-key", cfg.LLM.APIKey)
	assert.Equal(t, "sandbox-key", cfg.Sandbox.APIKey)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ProviderKeyFallback(t *testing.T) {
	t.Setenv("DESKPILOT_LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.LLM.APIKey)
}

func TestLoad_DurationFromEnv(t *testing.T) {
	t.Setenv("DESKPILOT_SANDBOX_SCREENSHOT_WAIT", "1500ms")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Sandbox.ScreenshotWait)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  providers:
    - type: gemini
      api_keys: [g1, g2]
      models: [gemini-2.5-flash]
    - type: ollama
      models: [qwen2.5vl]
sandbox:
  backend: chromium
  chromium:
    apps:
      search: https://duckduckgo.com
agent:
  max_round_trips: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := NewViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	cfg, err := Load(v)
	require.NoError(t, err)

	groups := cfg.LLM.ProviderGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"g1", "g2"}, groups[0].APIKeys)
	assert.Equal(t, "ollama", groups[1].Type)
	assert.Equal(t, "https://duckduckgo.com", cfg.Sandbox.Chromium.Apps["search"])
	assert.Equal(t, 4, cfg.Agent.MaxRoundTrips)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing llm key",
			mutate:  func(c *Config) { c.LLM.APIKey = "" },
			wantErr: "api key is required",
		},
		{
			name:    "missing sandbox key",
			mutate:  func(c *Config) { c.Sandbox.APIKey = "" },
			wantErr: "sandbox.api_key",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Sandbox.Backend = "vnc" },
			wantErr: "unknown sandbox.backend",
		},
		{
			name:    "round trips below two",
			mutate:  func(c *Config) { c.Agent.MaxRoundTrips = 1 },
			wantErr: "max_round_trips",
		},
		{
			name: "ollama needs no key",
			mutate: func(c *Config) {
				c.LLM.Provider = "ollama"
				c.LLM.APIKey = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateControl(t *testing.T) {
	cfg := validConfig(t)
	assert.Error(t, cfg.ValidateControl())

	cfg.Control.APIKey = "ctl"
	cfg.Control.BaseURL = "https://control.example.com"
	assert.NoError(t, cfg.ValidateControl())
}

func TestValidateChannels(t *testing.T) {
	cfg := validConfig(t)
	assert.Equal(t, time.Second, cfg.Channels.ThinkingDelay)
	assert.Equal(t, 9453, cfg.Channels.Web.Port)
	require.NoError(t, cfg.ValidateChannels())

	cfg.Channels.Telegram.Enabled = true
	assert.ErrorContains(t, cfg.ValidateChannels(), "channels.telegram.token")
	cfg.Channels.Telegram.Token = "123:abc"
	require.NoError(t, cfg.ValidateChannels())

	cfg.Channels.Web.Enabled = false
	cfg.Channels.Telegram.Enabled = false
	assert.ErrorContains(t, cfg.ValidateChannels(), "no channel is enabled")
}

func TestWatch_SignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := Watch(ctx, zaptest.NewLogger(t), path)

	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o600))

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a reload signal")
	}

	cancel()
	for range ch {
	}
}
