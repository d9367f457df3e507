package llm

import (
	"github.com/sashabaranov/go-openai"

	"github.com/chatgate/chatgate/internal/config"
)

// NewClient creates an OpenAI-compatible client for the configured provider.
func NewClient(cfg config.LLMConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}
