// Package agent runs the LLM tool-call loop against tools discovered from
// configured MCP servers.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/history"
	"github.com/chatgate/chatgate/internal/llm"
	"github.com/chatgate/chatgate/internal/logger"
)

const defaultSystemPrompt = "You are a helpful AI assistant with access to database tools. Use them when they help answer the user's question, and respond accurately and concisely."

// Loop states.
var (
	stateCallLLM  stateless.State = "CallLLM"
	stateRunTools stateless.State = "RunTools"
	stateDone     stateless.State = "Done"
	stateFailed   stateless.State = "Failed"
)

// Loop triggers.
var (
	triggerStart          stateless.Trigger = "Start"
	triggerToolsRequested stateless.Trigger = "ToolsRequested"
	triggerContentReady   stateless.Trigger = "ContentReady"
	triggerToolsDone      stateless.Trigger = "ToolsDone"
	triggerFailed         stateless.Trigger = "Failed"
)

// MCPClient is the subset of the mcp-go client the agent depends on.
type MCPClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Agent loops an LLM against MCP-discovered tools until a final answer with
// no further tool calls is produced, persisting each completed turn.
type Agent struct {
	llmClient    llm.Client
	llmCfg       config.LLMConfig
	systemPrompt string
	maxTurns     int

	mcpClients []MCPClient
	llmTools   []openai.Tool
	toolRoutes map[string]MCPClient

	store *history.Store
}

// New builds an agent, connecting to each configured MCP server and
// registering its tools. Per-server failures are logged and skipped; an agent
// with zero tools is still usable for plain chat.
func New(ctx context.Context, llmClient llm.Client, cfg *config.Config, store *history.Store) *Agent {
	a := &Agent{
		llmClient:    llmClient,
		llmCfg:       cfg.LLM,
		systemPrompt: cfg.Agent.SystemPrompt,
		maxTurns:     cfg.Agent.MaxTurns,
		toolRoutes:   make(map[string]MCPClient),
		store:        store,
	}
	if a.systemPrompt == "" {
		a.systemPrompt = defaultSystemPrompt
	}

	for _, serverCfg := range cfg.MCPServers {
		mcpC, err := connect(ctx, serverCfg)
		if err != nil {
			logger.L.Error("MCP server unavailable, skipping", "name", serverCfg.Name, "error", err)
			continue
		}
		a.mcpClients = append(a.mcpClients, mcpC)
		a.registerTools(ctx, serverCfg.Name, mcpC)
	}

	if len(cfg.MCPServers) > 0 && len(a.mcpClients) == 0 {
		logger.L.Warn("no MCP servers could be initialized", "configured", len(cfg.MCPServers))
	}
	return a
}

// connect creates, starts and initializes one MCP client.
func connect(ctx context.Context, serverCfg config.MCPServerConfig) (MCPClient, error) {
	var (
		mcpC *client.Client
		err  error
	)
	switch serverCfg.Type {
	case config.ClientTypeSSE:
		var opts []transport.ClientOption
		if len(serverCfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewSSEMCPClient(serverCfg.URL, opts...)
	case config.ClientTypeStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(serverCfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewStreamableHttpClient(serverCfg.URL, opts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range serverCfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		mcpC, err = client.NewStdioMCPClient(serverCfg.Command, env, serverCfg.Args...)
	default:
		return nil, fmt.Errorf("unsupported MCP server type %q (want sse, streamable_http or stdio)", serverCfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	// Stdio transports start themselves on creation.
	if serverCfg.Type != config.ClientTypeStdio {
		if err := mcpC.Start(ctx); err != nil {
			closeQuietly(mcpC, serverCfg.Name)
			return nil, fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{Capabilities: mcp.ClientCapabilities{}},
	}
	if _, err := mcpC.Initialize(ctx, initReq); err != nil {
		closeQuietly(mcpC, serverCfg.Name)
		return nil, fmt.Errorf("initialize: %w", err)
	}
	logger.L.Info("MCP server initialized", "name", serverCfg.Name, "type", serverCfg.Type)
	return mcpC, nil
}

func closeQuietly(c MCPClient, name string) {
	if err := c.Close(); err != nil {
		logger.L.Warn("MCP client close error", "name", name, "error", err)
	}
}

// registerTools lists the server's tools and exposes them to the LLM as
// function tools. First registration wins on name conflicts.
func (a *Agent) registerTools(ctx context.Context, serverName string, mcpC MCPClient) {
	serverTools, err := mcpC.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		logger.L.Warn("failed to list tools", "name", serverName, "error", err)
		return
	}
	for _, mcpTool := range serverTools.Tools {
		if _, exists := a.toolRoutes[mcpTool.Name]; exists {
			logger.L.Warn("tool already registered from another server, skipping", "tool", mcpTool.Name, "name", serverName)
			continue
		}
		a.toolRoutes[mcpTool.Name] = mcpC
		a.llmTools = append(a.llmTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  toolSchema(mcpTool),
			},
		})
		logger.L.Info("registered tool", "tool", mcpTool.Name, "name", serverName)
	}
}

// toolSchema picks the tool's JSON schema, falling back to an empty object
// schema when the server sent none.
func toolSchema(t mcp.Tool) json.RawMessage {
	emptySchema := json.RawMessage(`{"type":"object","properties":{}}`)
	if len(t.RawInputSchema) > 0 && string(t.RawInputSchema) != "null" {
		return t.RawInputSchema
	}
	b, err := json.Marshal(t.InputSchema)
	if err != nil || string(b) == "null" || string(b) == "{}" {
		return emptySchema
	}
	return b
}

// Close releases all MCP client connections.
func (a *Agent) Close() error {
	var errs []error
	for _, c := range a.mcpClients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.mcpClients = nil
	return errors.Join(errs...)
}

// runState carries the loop's mutable data across FSM states.
type runState struct {
	messages []openai.ChatCompletionMessage
	resp     *openai.ChatCompletionResponse
	final    string
	err      error
	turn     int
}

// Process runs one chat turn: prior thread history plus the new prompt are
// looped against the LLM and tools until a final answer is produced, then the
// completed turn is persisted.
func (a *Agent) Process(ctx context.Context, threadID, prompt string) (string, error) {
	run := &runState{messages: a.seedMessages(ctx, threadID, prompt)}

	fsm := stateless.NewStateMachine(stateCallLLM)

	fsm.Configure(stateCallLLM).
		PermitReentry(triggerStart).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if run.turn >= a.maxTurns {
				run.err = fmt.Errorf("exceeded maximum of %d interaction turns", a.maxTurns)
				return fsm.FireCtx(ctx, triggerFailed)
			}
			run.turn++
			logger.L.Debug("calling LLM", "thread_id", threadID, "turn", run.turn)

			resp, err := a.llmClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       a.llmCfg.Model,
				Temperature: a.llmCfg.Temperature,
				Messages:    run.messages,
				Tools:       a.llmTools,
			})
			if err != nil {
				run.err = err
				return fsm.FireCtx(ctx, triggerFailed)
			}
			run.resp = &resp

			if len(resp.Choices) == 0 {
				run.err = errors.New("LLM returned no choices")
				return fsm.FireCtx(ctx, triggerFailed)
			}
			if len(resp.Choices[0].Message.ToolCalls) > 0 {
				return fsm.FireCtx(ctx, triggerToolsRequested)
			}
			return fsm.FireCtx(ctx, triggerContentReady)
		}).
		Permit(triggerToolsRequested, stateRunTools).
		Permit(triggerContentReady, stateDone).
		Permit(triggerFailed, stateFailed)

	fsm.Configure(stateRunTools).
		OnEntry(func(ctx context.Context, _ ...any) error {
			assistantMsg := run.resp.Choices[0].Message
			run.messages = append(run.messages, assistantMsg)
			for _, toolCall := range assistantMsg.ToolCalls {
				run.messages = append(run.messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    a.callTool(ctx, toolCall),
					ToolCallID: toolCall.ID,
					Name:       toolCall.Function.Name,
				})
			}
			return fsm.FireCtx(ctx, triggerToolsDone)
		}).
		Permit(triggerToolsDone, stateCallLLM).
		Permit(triggerFailed, stateFailed)

	fsm.Configure(stateDone).
		OnEntry(func(_ context.Context, _ ...any) error {
			run.final = messageText(run.resp.Choices[0].Message)
			return nil
		})

	fsm.Configure(stateFailed).
		OnEntry(func(_ context.Context, _ ...any) error {
			if run.err == nil {
				run.err = errors.New("agent loop failed without a specific error")
			}
			return nil
		})

	// Reentering the initial state runs its OnEntry, which drives the loop to
	// a terminal state; the transitions above are all synchronous.
	if err := fsm.FireCtx(ctx, triggerStart); err != nil {
		if run.err != nil {
			return "", run.err
		}
		return "", fmt.Errorf("agent loop start: %w", err)
	}

	current, err := fsm.State(ctx)
	if err != nil {
		return "", fmt.Errorf("agent loop state: %w", err)
	}
	switch current {
	case stateDone:
		a.persistTurn(threadID, prompt, run.final)
		return run.final, nil
	case stateFailed:
		return "", run.err
	default:
		return "", fmt.Errorf("agent loop ended in unexpected state %v", current)
	}
}

// seedMessages builds the message list for a turn: system prompt, prior
// thread history, then the new user prompt.
func (a *Agent) seedMessages(ctx context.Context, threadID, prompt string) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: a.systemPrompt},
	}
	prior, err := a.store.List(ctx, threadID)
	if err != nil {
		logger.L.Warn("failed to load thread history, continuing without it", "thread_id", threadID, "error", err)
	}
	for _, m := range prior {
		switch m.Role {
		case history.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case history.RoleAssistant:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content})
		}
	}
	return append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
}

// persistTurn stores the completed user/assistant exchange. History writes
// are best-effort; a storage failure must not fail the chat response.
func (a *Agent) persistTurn(threadID, prompt, answer string) {
	// The request context may already be near its deadline; give the write
	// its own short budget.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now().UTC()
	if err := a.store.Append(ctx, history.Message{ThreadID: threadID, Role: history.RoleUser, Content: prompt, CreatedAt: now}); err != nil {
		logger.L.Error("failed to persist user turn", "thread_id", threadID, "error", err)
	}
	if err := a.store.Append(ctx, history.Message{ThreadID: threadID, Role: history.RoleAssistant, Content: answer, CreatedAt: now}); err != nil {
		logger.L.Error("failed to persist assistant turn", "thread_id", threadID, "error", err)
	}
}

// callTool routes one tool call to its MCP server and normalizes the result
// to text for the LLM.
func (a *Agent) callTool(ctx context.Context, toolCall openai.ToolCall) string {
	name := toolCall.Function.Name
	mcpC, ok := a.toolRoutes[name]
	if !ok {
		logger.L.Warn("LLM requested unknown tool", "tool", name)
		return "Error: tool " + name + " is not available"
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
		logger.L.Error("failed to parse tool arguments", "tool", name, "error", err)
		return "Error: could not parse arguments for tool " + name
	}

	logger.L.Debug("calling tool", "tool", name, "arguments", args)
	result, err := mcpC.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		logger.L.Warn("tool call failed", "tool", name, "error", err)
		return fmt.Sprintf("Error: tool %s failed: %v", name, err)
	}
	return toolResultText(result)
}

// toolResultText extracts a textual payload from an MCP tool result: the
// first text content part, else the whole result marshaled as JSON.
func toolResultText(result *mcp.CallToolResult) string {
	for _, item := range result.Content {
		if text, ok := item.(mcp.TextContent); ok {
			if result.IsError && text.Text != "" {
				return "Error: " + text.Text
			}
			return text.Text
		}
	}
	if result.IsError {
		return "Tool execution resulted in an error without specific text."
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "Tool executed successfully, but result could not be formatted."
	}
	return string(b)
}

// messageText normalizes the closed set of assistant content shapes to plain
// text: a plain string, or a list of parts whose text parts are joined.
func messageText(msg openai.ChatCompletionMessage) string {
	if msg.Content != "" {
		return msg.Content
	}
	var parts []string
	for _, part := range msg.MultiContent {
		if part.Type == openai.ChatMessagePartTypeText && part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "\n")
}
