package config

import (
	"errors"
	"os"
	"testing"

	"github.com/chatgate/chatgate/internal/httperr"
)

const sampleConfig = `
llm:
  api_key: dummy
  base_url: https://api.example.com
  model: gpt-4o
  temperature: 0.2
agent:
  max_turns: 8
  system_prompt: "You are a test assistant."
server:
  host: 127.0.0.1
  port: "9090"
  max_prompt_length: 500
  allowed_origins: ["http://localhost:3000"]
history:
  dsn: /tmp/test.db
mcp_servers:
  - name: db-tools
    type: stdio
    command: ./mock
    args: ["--flag"]
    env:
      FOO: bar
  - name: remote
    type: streamable_http
    url: https://tools.example.com/mcp
    headers:
      Authorization: Bearer xyz
`

func writeConfig(t *testing.T, content string) {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()
	t.Setenv("CONFIG_PATH", tmp.Name())
	// Neutralize host environment so only the file under test is read.
	// Empty values count as unset (viper's AllowEmptyEnv defaults to false).
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("PORT", "")
}

func TestLoad_FullConfig(t *testing.T) {
	writeConfig(t, sampleConfig)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "dummy" || cfg.LLM.Model != "gpt-4o" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Agent.MaxTurns != 8 {
		t.Fatalf("expected max_turns 8, got %d", cfg.Agent.MaxTurns)
	}
	if cfg.Server.Port != "9090" || cfg.Server.MaxPromptLength != 500 {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.History.DSN != "/tmp/test.db" {
		t.Fatalf("unexpected history dsn: %s", cfg.History.DSN)
	}
	if len(cfg.MCPServers) != 2 {
		t.Fatalf("expected 2 mcp servers, got %d", len(cfg.MCPServers))
	}
	s := cfg.MCPServers[0]
	if s.Type != ClientTypeStdio || s.Command != "./mock" {
		t.Fatalf("unexpected stdio server: %+v", s)
	}
	if len(s.Args) != 1 || s.Args[0] != "--flag" {
		t.Fatalf("unexpected args: %v", s.Args)
	}
	if v := s.Env["foo"]; v != "bar" {
		t.Fatalf("env not parsed: %v", s.Env)
	}
	if cfg.MCPServers[1].Type != ClientTypeStreamableHTTP {
		t.Fatalf("unexpected second server type: %s", cfg.MCPServers[1].Type)
	}
}

func TestLoad_Defaults(t *testing.T) {
	writeConfig(t, "llm:\n  api_key: dummy\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.MaxPromptLength != 2000 {
		t.Fatalf("expected default max prompt length 2000, got %d", cfg.Server.MaxPromptLength)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected default body limit 1MB, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Agent.MaxTurns != 5 {
		t.Fatalf("expected default max_turns 5, got %d", cfg.Agent.MaxTurns)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Fatalf("expected default model, got %s", cfg.LLM.Model)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %s", cfg.LogLevel)
	}
}

func TestLoad_MissingAPIKeyIsConfigurationError(t *testing.T) {
	writeConfig(t, "server:\n  port: \"8080\"\n")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing api key")
	}
	var he *httperr.Error
	if !errors.As(err, &he) || he.Code != httperr.CodeConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	writeConfig(t, "llm:\n  api_key: from-file\n  model: gpt-4o\n")
	t.Setenv("LLM_MODEL", "gpt-4o-mini")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("expected env override, got %s", cfg.LLM.Model)
	}
}
