package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/becomeliminal/nim-goodmem/core"
)

// Defaults applied when Input leaves a field unset.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
	DefaultMaxTurns  = 20
)

// MessageCreator is the part of the Anthropic client the engine calls.
// *anthropic.MessageService satisfies it.
type MessageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Plugin observes and shapes a turn. OnUserMessage runs once per turn
// before any inference, BeforeModel before every inference and AfterModel
// after every inference that produced text, and always after the final one.
// A returned error aborts the turn.
type Plugin interface {
	Name() string
	OnUserMessage(ctx context.Context, inv *core.Invocation, msg *core.Content) error
	BeforeModel(ctx context.Context, inv *core.Invocation, req *core.ModelRequest) error
	AfterModel(ctx context.Context, inv *core.Invocation, resp *core.Content) error
}

// Engine is the agent runner that executes tools and manages Claude API interactions.
type Engine struct {
	client   MessageCreator
	registry *ToolRegistry
	plugins  []Plugin
	logger   *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithPlugin adds a plugin. Plugins run in the order they were added.
func WithPlugin(p Plugin) Option {
	return func(e *Engine) {
		e.plugins = append(e.plugins, p)
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a new engine. Pass &client.Messages for a real client.
func NewEngine(client MessageCreator, registry *ToolRegistry, opts ...Option) *Engine {
	if registry == nil {
		registry = NewToolRegistry()
	}
	e := &Engine{
		client:   client,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's tool registry.
func (e *Engine) Registry() *ToolRegistry {
	return e.registry
}

// Input represents the input to an agent run.
type Input struct {
	// Invocation identifies the app, user and session of the turn.
	Invocation *core.Invocation

	// Message is the user's turn: text plus any attachments.
	Message core.Content

	// History contains previous messages in the conversation.
	History []anthropic.MessageParam

	SystemPrompt string
	Model        string
	MaxTokens    int64
	MaxTurns     int

	// AvailableTools filters which tools from the registry are available.
	// If empty, all registered tools are available.
	AvailableTools []string
}

// ToolExecution records a single tool call made during a run.
type ToolExecution struct {
	Tool       string          `json:"tool"`
	Input      json.RawMessage `json:"input"`
	Result     any             `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// TokenUsage tracks Claude API token consumption.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Output represents the output from an agent run.
type Output struct {
	// Text is the agent's final text response.
	Text string

	// ToolsUsed records all tools invoked during this run.
	ToolsUsed []ToolExecution

	// History is the conversation including this turn, ready to be passed
	// back as the next Input.History.
	History []anthropic.MessageParam

	TokensUsed TokenUsage
}

// Run executes one user turn: plugins see the message, the model is called
// until it stops asking for tools, and plugins see the final response.
func (e *Engine) Run(ctx context.Context, input *Input) (*Output, error) {
	if input == nil || input.Invocation == nil {
		return nil, errors.New("engine: input with an invocation is required")
	}

	msg := input.Message
	msg.Role = core.RoleUser
	inv := *input.Invocation
	if inv.SessionID == "" {
		inv.SessionID = uuid.NewString()
	}
	inv.Input = &msg

	for _, p := range e.plugins {
		if err := p.OnUserMessage(ctx, &inv, &msg); err != nil {
			return nil, fmt.Errorf("plugin %s: user message: %w", p.Name(), err)
		}
	}

	model := input.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := input.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	maxTurns := input.MaxTurns
	if maxTurns == 0 {
		maxTurns = DefaultMaxTurns
	}
	systemPrompt := input.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	var apiTools []anthropic.ToolUnionParam
	if len(input.AvailableTools) > 0 {
		apiTools = e.registry.ToAPIToolsFiltered(FilterByNames(input.AvailableTools...))
	} else {
		apiTools = e.registry.ToAPITools()
	}

	messages := append([]anthropic.MessageParam(nil), input.History...)
	out := &Output{}

	for turn := 0; ; turn++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("engine: %w", ctx.Err())
		}
		if turn >= maxTurns {
			return nil, fmt.Errorf("engine: exceeded maximum turns (%d)", maxTurns)
		}

		req := core.ModelRequest{System: systemPrompt}
		if turn == 0 {
			req.Prompt = msg.Text
		}
		for _, p := range e.plugins {
			if err := p.BeforeModel(ctx, &inv, &req); err != nil {
				return nil, fmt.Errorf("plugin %s: before model: %w", p.Name(), err)
			}
		}
		if turn == 0 {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userText(req.Prompt, msg.Attachments))))
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: maxTokens,
			Messages:  messages,
			System:    []anthropic.TextBlockParam{{Text: req.System}},
		}
		if len(apiTools) > 0 {
			params.Tools = apiTools
		}

		resp, err := e.client.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("claude API error: %w", err)
		}
		out.TokensUsed.InputTokens += resp.Usage.InputTokens
		out.TokensUsed.OutputTokens += resp.Usage.OutputTokens
		messages = append(messages, resp.ToParam())

		var text strings.Builder
		var toolUses []anthropic.ContentBlockUnion
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				toolUses = append(toolUses, block)
			}
		}

		// Every inference with text is reported, interim ones included.
		if text.Len() > 0 || len(toolUses) == 0 {
			reply := &core.Content{Role: core.RoleAgent, Text: text.String()}
			for _, p := range e.plugins {
				if err := p.AfterModel(ctx, &inv, reply); err != nil {
					return nil, fmt.Errorf("plugin %s: after model: %w", p.Name(), err)
				}
			}
		}

		if len(toolUses) == 0 {
			out.Text = text.String()
			out.History = messages
			return out, nil
		}

		toolResults := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
		for _, block := range toolUses {
			result, exec := e.executeTool(ctx, &inv, block.ID, block.Name, block.Input)
			toolResults = append(toolResults, result)
			out.ToolsUsed = append(out.ToolsUsed, exec)
		}

		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}
}

// executeTool runs one tool_use block and returns the block to send back
// to the model.
func (e *Engine) executeTool(ctx context.Context, inv *core.Invocation, blockID, name string, input json.RawMessage) (anthropic.ContentBlockParamUnion, ToolExecution) {
	exec := ToolExecution{Tool: name, Input: input}

	tool, ok := e.registry.Get(name)
	if !ok {
		exec.Error = fmt.Sprintf("unknown tool: %s", name)
		return anthropic.NewToolResultBlock(blockID, exec.Error, true), exec
	}

	start := time.Now()
	result, err := tool.Execute(ctx, &core.ToolParams{
		Invocation: inv,
		Input:      input,
		RequestID:  uuid.NewString(),
	})
	exec.DurationMs = time.Since(start).Milliseconds()

	switch {
	case err != nil:
		exec.Error = err.Error()
	case result == nil:
		exec.Error = "tool returned no result"
	case !result.Success:
		exec.Error = result.Error
	}
	if exec.Error != "" {
		e.logger.Warn("engine: tool failed", "tool", name, "err", exec.Error)
		return anthropic.NewToolResultBlock(blockID, exec.Error, true), exec
	}

	exec.Result = result.Data
	data, err := json.Marshal(result.Data)
	if err != nil {
		exec.Error = fmt.Sprintf("encode tool result: %v", err)
		return anthropic.NewToolResultBlock(blockID, exec.Error, true), exec
	}
	e.logger.Debug("engine: tool executed", "tool", name, "duration_ms", exec.DurationMs)
	return anthropic.NewToolResultBlock(blockID, string(data), false), exec
}

// userText is the text sent for the user's turn. Attachments are listed by
// name so the model knows they exist; their bytes reach memory through the
// plugin and tools, not the model.
func userText(prompt string, attachments []core.Attachment) string {
	if len(attachments) == 0 {
		if prompt == "" {
			return "(empty message)"
		}
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	for _, a := range attachments {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		name := a.Name
		if name == "" {
			name = "unnamed"
		}
		fmt.Fprintf(&b, "[attached file: %s (%s, %d bytes)]", name, a.MIMEType, len(a.Data))
	}
	return b.String()
}

// DefaultSystemPrompt is the default system prompt for the agent.
const DefaultSystemPrompt = `You are a helpful assistant with long-term memory.

GUIDELINES:
- Be conversational and helpful
- Ask clarifying questions when needed
- Use tools when you have enough information

MEMORY:
- Relevant memories may appear before the user's message between BEGIN MEMORY and END MEMORY. Use them only when they help answer the current message.
- Call goodmem_save when the user asks you to remember something, or shares a fact worth keeping.
- Call goodmem_fetch to look up something the user told you before that is not already in context.

REASONING PATTERN:
When using tools, include a "thought" field explaining why you are calling the tool and what you expect it to return.`
