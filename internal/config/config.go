// Package config loads and validates the application configuration from
// defaults, an optional YAML file and AUTOGLM_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Model  ModelConfig  `mapstructure:"model" yaml:"model"`
	Agent  AgentConfig  `mapstructure:"agent" yaml:"agent"`
	Timing TimingConfig `mapstructure:"timing" yaml:"timing"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig tunes the HTTP surface and the streaming relay.
type ServerConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	AuthToken string `mapstructure:"auth_token" yaml:"-"`

	// Relay buffering. A pending chunk is flushed as one SSE event once it
	// reaches FlushBytes or FlushInterval has passed since the last flush.
	FlushBytes    int           `mapstructure:"flush_bytes" yaml:"flush_bytes"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	// KeepaliveInterval bounds client-connection idleness, not worker
	// liveness.
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
	// ResultGrace is how long the relay waits for the worker to exit on its
	// own after the result marker before killing it.
	ResultGrace time.Duration `mapstructure:"result_grace" yaml:"result_grace"`
	// LogTailBytes bounds diagnostic payloads (logs, tracebacks, raw output
	// tails) included in responses and events.
	LogTailBytes int `mapstructure:"log_tail_bytes" yaml:"log_tail_bytes"`
}

// ModelConfig describes the OpenAI-compatible inference endpoint.
type ModelConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries  uint64        `mapstructure:"max_retries" yaml:"max_retries"`
}

// AgentConfig holds the server-level defaults for agent runs. Each request
// may override any of these per run.
type AgentConfig struct {
	DeviceID             string `mapstructure:"device_id" yaml:"device_id"`
	Lang                 string `mapstructure:"lang" yaml:"lang"`
	MaxSteps             int    `mapstructure:"max_steps" yaml:"max_steps"`
	BatchActions         bool   `mapstructure:"batch_actions" yaml:"batch_actions"`
	BatchSize            int    `mapstructure:"batch_size" yaml:"batch_size"`
	MemoryFile           string `mapstructure:"memory_file" yaml:"memory_file"`
	AutoConfirmSensitive bool   `mapstructure:"auto_confirm_sensitive" yaml:"auto_confirm_sensitive"`
}

// TimingConfig holds the settle delays of the text-entry protocol and the
// device command timeout. Keyboard switching and text commit on a physical
// device are asynchronous; removing a delay risks lost keystrokes.
type TimingConfig struct {
	KeyboardSwitchDelay  time.Duration `mapstructure:"keyboard_switch_delay" yaml:"keyboard_switch_delay"`
	TextClearDelay       time.Duration `mapstructure:"text_clear_delay" yaml:"text_clear_delay"`
	TextInputDelay       time.Duration `mapstructure:"text_input_delay" yaml:"text_input_delay"`
	KeyboardRestoreDelay time.Duration `mapstructure:"keyboard_restore_delay" yaml:"keyboard_restore_delay"`
	CommandTimeout       time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "autoglm")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.flush_bytes", 4096)
	v.SetDefault("server.flush_interval", "250ms")
	v.SetDefault("server.keepalive_interval", "10s")
	v.SetDefault("server.result_grace", "2s")
	v.SetDefault("server.log_tail_bytes", 20000)

	// -- Model --
	v.SetDefault("model.base_url", "http://localhost:8000/v1")
	v.SetDefault("model.model", "autoglm-phone-9b")
	v.SetDefault("model.api_key", "EMPTY")
	v.SetDefault("model.api_timeout", "120s")
	v.SetDefault("model.temperature", 0.0)
	v.SetDefault("model.top_p", 0.85)
	v.SetDefault("model.max_tokens", 3000)
	v.SetDefault("model.max_retries", 2)

	// -- Agent --
	v.SetDefault("agent.lang", "cn")
	v.SetDefault("agent.max_steps", 100)
	v.SetDefault("agent.batch_actions", false)
	v.SetDefault("agent.batch_size", 3)
	v.SetDefault("agent.auto_confirm_sensitive", false)

	// -- Timing --
	v.SetDefault("timing.keyboard_switch_delay", "1s")
	v.SetDefault("timing.text_clear_delay", "500ms")
	v.SetDefault("timing.text_input_delay", "500ms")
	v.SetDefault("timing.keyboard_restore_delay", "500ms")
	v.SetDefault("timing.command_timeout", "30s")
}

// NewConfigFromViper creates a configuration instance from a viper object,
// binding sensitive fields to environment variables.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("AUTOGLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("model.api_key", "AUTOGLM_MODEL_API_KEY")
	v.BindEnv("server.auth_token", "AUTOGLM_SERVER_AUTH_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.Server.FlushBytes <= 0 {
		return fmt.Errorf("server.flush_bytes must be a positive integer")
	}
	if c.Server.FlushInterval <= 0 {
		return fmt.Errorf("server.flush_interval must be a positive duration")
	}
	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is a required configuration field")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.BatchSize < 1 {
		c.Agent.BatchSize = 1
	}
	return nil
}
