// Package config loads gateway configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/chatgate/chatgate/internal/httperr"
)

// MCP server transport types.
const (
	ClientTypeSSE            = "sse"
	ClientTypeStreamableHTTP = "streamable_http"
	ClientTypeStdio          = "stdio"
)

// Config holds the application configuration.
type Config struct {
	LLM        LLMConfig         `mapstructure:"llm"`
	Agent      AgentConfig       `mapstructure:"agent"`
	Server     ServerConfig      `mapstructure:"server"`
	History    HistoryConfig     `mapstructure:"history"`
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
	LogLevel   string            `mapstructure:"log_level"`
}

// LLMConfig holds the LLM provider configuration.
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	MaxTurns     int    `mapstructure:"max_turns"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Host            string   `mapstructure:"host"`
	Port            string   `mapstructure:"port"`
	MaxPromptLength int      `mapstructure:"max_prompt_length"`
	MaxBodyBytes    int64    `mapstructure:"max_body_bytes"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

// HistoryConfig holds the conversation store configuration.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MCPServerConfig describes one MCP tool server to connect to.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    string            `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Headers map[string]string `mapstructure:"headers"`
}

// Load reads configuration from config.yaml (or the file named by
// CONFIG_PATH), applies defaults and environment overrides, and validates it.
func Load() (*Config, error) {
	v := viper.New()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("agent.max_turns", 5)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.max_prompt_length", 2000)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("history.dsn", "chatgate.db")
	v.SetDefault("log_level", "info")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Common provider variables that don't follow the key layout.
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = v.BindEnv("llm.model", "LLM_MODEL")
	_ = v.BindEnv("history.dsn", "HISTORY_DSN")
	_ = v.BindEnv("server.port", "PORT")

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; env vars may carry everything.
		var notFound viper.ConfigFileNotFoundError
		if os.Getenv("CONFIG_PATH") != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and bounds.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return httperr.Configuration("llm.api_key (or OPENAI_API_KEY) is required")
	}
	if c.LLM.Model == "" {
		return httperr.Configuration("llm.model cannot be empty")
	}
	if c.Agent.MaxTurns <= 0 {
		return httperr.Configuration("agent.max_turns must be > 0")
	}
	if c.Server.Port == "" {
		return httperr.Configuration("server.port cannot be empty")
	}
	if c.Server.MaxPromptLength <= 0 {
		return httperr.Configuration("server.max_prompt_length must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return httperr.Configuration("server.max_body_bytes must be > 0")
	}
	return nil
}
