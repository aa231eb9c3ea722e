package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// DESKPILOT_SANDBOX_API_KEY for sandbox.api_key.
const EnvPrefix = "DESKPILOT"

// Config is the complete application configuration. It is assembled by viper
// from defaults, an optional config file and DESKPILOT_* environment variables.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Control  ControlConfig  `mapstructure:"control"`
	Channels ChannelsConfig `mapstructure:"channels"`
}

// LoggerConfig controls the zap logger and its optional rotating file sink.
type LoggerConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is "console" for human-readable lines or "json".
	Format      string `mapstructure:"format"`
	ServiceName string `mapstructure:"service_name"`
	// LogFile enables a JSON file sink rotated by lumberjack when non-empty.
	LogFile    string `mapstructure:"log_file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	AddSource  bool   `mapstructure:"add_source"`
}

// LLMConfig selects the completion provider(s).
//
// The single-provider fields (Provider, APIKey, BaseURL, Model) cover the
// common case and can be set entirely from the environment. Providers, when
// present in the config file, takes precedence and lists provider groups in
// fallback order.
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
	// MaxTokens is the output token budget of every completion request.
	MaxTokens int `mapstructure:"max_tokens"`
	// MaxRetries is the number of passes the fallback client makes over all
	// provider/model combinations. 1 means no retry.
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// DebugDir, when set, records every request and response as JSONL.
	DebugDir  string           `mapstructure:"debug_dir"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig is one provider group: every API key is tried against every
// model before the next group is attempted.
type ProviderConfig struct {
	Type    string         `mapstructure:"type"`
	APIKeys []string       `mapstructure:"api_keys"`
	Models  []string       `mapstructure:"models"`
	BaseURL string         `mapstructure:"base_url"`
	Options map[string]any `mapstructure:"options"`
}

// SandboxConfig selects and configures the desktop sandbox backend.
type SandboxConfig struct {
	// Backend is "remote", "chromium" or "xdesktop".
	Backend  string        `mapstructure:"backend"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Template string        `mapstructure:"template"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// RateLimit caps remote API requests per second. Zero disables pacing.
	RateLimit float64 `mapstructure:"rate_limit"`
	// ScreenshotWait is the settle delay before every screen capture.
	ScreenshotWait time.Duration `mapstructure:"screenshot_wait"`
	// LaunchWait is the settle delay after launching an application.
	LaunchWait time.Duration  `mapstructure:"launch_wait"`
	Display    string         `mapstructure:"display"`
	Chromium   ChromiumConfig `mapstructure:"chromium"`
}

// ChromiumConfig configures the local headless browser backend.
type ChromiumConfig struct {
	Headless bool   `mapstructure:"headless"`
	Width    int    `mapstructure:"width"`
	Height   int    `mapstructure:"height"`
	ExecPath string `mapstructure:"exec_path"`
	StartURL string `mapstructure:"start_url"`
	// Apps maps application names accepted by launch-application to URLs.
	Apps map[string]string `mapstructure:"apps"`
}

// AgentConfig tunes the conversation turn loop.
type AgentConfig struct {
	// MaxRoundTrips bounds the model requests per instruction that may carry
	// actions. The default of 2 is one action round plus one follow-up.
	MaxRoundTrips int `mapstructure:"max_round_trips"`
	// SystemPrompt overrides the built-in instruction listing the actions.
	SystemPrompt string `mapstructure:"system_prompt"`
	// Demo lists the instructions executed by `deskpilot run` without args.
	Demo []string `mapstructure:"demo"`
}

// ControlConfig points at the agent-control service.
type ControlConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Template string        `mapstructure:"template"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ChannelsConfig enables the front-ends served by `deskpilot serve`.
type ChannelsConfig struct {
	Web      WebConfig      `mapstructure:"web"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	// ThinkingDelay is how long an instruction may run before the channel
	// shows a thinking indicator.
	ThinkingDelay time.Duration `mapstructure:"thinking_delay"`
	// RequestTimeout bounds one instruction including its actions.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type WebConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	// MessageLimit is the maximum length of one outgoing Telegram message.
	MessageLimit int `mapstructure:"message_limit"`
	// APIEndpoint overrides the Bot API URL format, e.g. for a self-hosted
	// Bot API server. It takes the token and method as %s verbs.
	APIEndpoint string `mapstructure:"api_endpoint"`
}

// providerKeyEnv lists the conventional key variables per provider type.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// SetDefaults registers every key with viper. Keys without a default still
// need one so that AutomaticEnv overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "deskpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.add_source", false)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.max_retries", 1)
	v.SetDefault("llm.retry_delay", 500*time.Millisecond)
	v.SetDefault("llm.debug_dir", "")

	v.SetDefault("sandbox.backend", "remote")
	v.SetDefault("sandbox.api_key", "")
	v.SetDefault("sandbox.base_url", "")
	v.SetDefault("sandbox.template", "desktop")
	v.SetDefault("sandbox.timeout", 5*time.Minute)
	v.SetDefault("sandbox.rate_limit", 0)
	v.SetDefault("sandbox.screenshot_wait", 500*time.Millisecond)
	v.SetDefault("sandbox.launch_wait", 2*time.Second)
	v.SetDefault("sandbox.display", ":0")
	v.SetDefault("sandbox.chromium.headless", true)
	v.SetDefault("sandbox.chromium.width", 1280)
	v.SetDefault("sandbox.chromium.height", 800)
	v.SetDefault("sandbox.chromium.exec_path", "")
	v.SetDefault("sandbox.chromium.start_url", "about:blank")

	v.SetDefault("agent.max_round_trips", 2)
	v.SetDefault("agent.system_prompt", "")

	v.SetDefault("control.base_url", "")
	v.SetDefault("control.api_key", "")
	v.SetDefault("control.template", "")
	v.SetDefault("control.timeout", 60*time.Second)

	v.SetDefault("channels.web.enabled", true)
	v.SetDefault("channels.web.port", 9453)
	v.SetDefault("channels.telegram.enabled", false)
	v.SetDefault("channels.telegram.token", "")
	v.SetDefault("channels.telegram.message_limit", 4000)
	v.SetDefault("channels.telegram.api_endpoint", "")
	v.SetDefault("channels.thinking_delay", time.Second)
	v.SetDefault("channels.request_timeout", 5*time.Minute)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load unmarshals v into a Config and fills credentials from the conventional
// provider environment variables when the DESKPILOT_* ones are absent.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		if name, ok := providerKeyEnv[cfg.LLM.Provider]; ok {
			cfg.LLM.APIKey = os.Getenv(name)
		}
	}
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		if len(p.APIKeys) == 0 {
			if key := os.Getenv(providerKeyEnv[p.Type]); key != "" {
				p.APIKeys = []string{key}
			}
		}
	}
	return &cfg, nil
}

// ProviderGroups returns the provider groups in fallback order, synthesizing
// a single group from the flat fields when no list is configured.
func (c LLMConfig) ProviderGroups() []ProviderConfig {
	if len(c.Providers) > 0 {
		return c.Providers
	}
	group := ProviderConfig{Type: c.Provider, BaseURL: c.BaseURL}
	if c.APIKey != "" {
		group.APIKeys = []string{c.APIKey}
	}
	if c.Model != "" {
		group.Models = []string{c.Model}
	}
	return []ProviderConfig{group}
}

// Validate checks that the settings needed by the turn loop are present.
// Control and channel settings are checked by the commands that use them.
func (c *Config) Validate() error {
	var errs []error

	groups := c.LLM.ProviderGroups()
	for i, g := range groups {
		if g.Type == "" {
			errs = append(errs, fmt.Errorf("llm provider %d: type is required", i))
			continue
		}
		if len(g.Models) == 0 {
			errs = append(errs, fmt.Errorf("llm provider %q: at least one model is required", g.Type))
		}
		if g.Type != "ollama" && len(g.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("llm provider %q: api key is required", g.Type))
		}
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("llm.max_tokens must be positive"))
	}
	if c.LLM.MaxRetries < 1 {
		errs = append(errs, errors.New("llm.max_retries must be at least 1"))
	}

	switch c.Sandbox.Backend {
	case "remote":
		if c.Sandbox.APIKey == "" {
			errs = append(errs, errors.New("sandbox.api_key is required for the remote backend"))
		}
		if c.Sandbox.BaseURL == "" {
			errs = append(errs, errors.New("sandbox.base_url is required for the remote backend"))
		}
	case "chromium", "xdesktop":
	default:
		errs = append(errs, fmt.Errorf("unknown sandbox.backend %q", c.Sandbox.Backend))
	}
	if c.Sandbox.ScreenshotWait < 0 || c.Sandbox.LaunchWait < 0 {
		errs = append(errs, errors.New("sandbox settle delays must not be negative"))
	}

	if c.Agent.MaxRoundTrips < 2 {
		errs = append(errs, errors.New("agent.max_round_trips must be at least 2"))
	}

	return errors.Join(errs...)
}

// ValidateControl checks the settings used by the control facade.
func (c *Config) ValidateControl() error {
	if c.Control.APIKey == "" {
		return errors.New("control.api_key is required")
	}
	if c.Control.BaseURL == "" {
		return errors.New("control.base_url is required")
	}
	return nil
}

// ValidateChannels checks the settings used by `deskpilot serve`.
func (c *Config) ValidateChannels() error {
	var errs []error
	ch := c.Channels
	if !ch.Web.Enabled && !ch.Telegram.Enabled {
		errs = append(errs, errors.New("no channel is enabled"))
	}
	if ch.Web.Enabled && (ch.Web.Port < 0 || ch.Web.Port > 65535) {
		errs = append(errs, fmt.Errorf("channels.web.port %d is out of range", ch.Web.Port))
	}
	if ch.Telegram.Enabled {
		if ch.Telegram.Token == "" {
			errs = append(errs, errors.New("channels.telegram.token is required"))
		}
		if ch.Telegram.MessageLimit <= 0 {
			errs = append(errs, errors.New("channels.telegram.message_limit must be positive"))
		}
	}
	if ch.RequestTimeout <= 0 {
		errs = append(errs, errors.New("channels.request_timeout must be positive"))
	}
	return errors.Join(errs...)
}
