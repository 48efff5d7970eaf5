package core

import (
	"context"
	"encoding/json"
)

// BaseInput is embedded by tool inputs to accept the optional "thought"
// field the engine asks models to include with every tool call.
type BaseInput struct {
	Thought string `json:"thought,omitempty"`
}

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	ToolName        string
	ToolDescription string
	InputSchema     map[string]any
}

// ToolParams carries a single tool invocation.
type ToolParams struct {
	Invocation *Invocation
	Input      json.RawMessage
	RequestID  string
}

// ToolResult is what a tool hands back to the model. Tools report
// recoverable failures with Success=false and a readable Error rather than
// returning a Go error, so the model can keep the conversation going.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Tool is an action the agent can decide to invoke.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, params *ToolParams) (*ToolResult, error)
}
