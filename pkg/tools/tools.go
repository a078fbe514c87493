package tools

import "context"

// Executor runs tool calls. Implementations never fail past this boundary:
// every failure is encoded in the returned result with IsError set.
type Executor interface {
	HandleToolUse(ctx context.Context, call ToolCall) ToolCallResult
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, call ToolCall) ToolCallResult

func (f ExecutorFunc) HandleToolUse(ctx context.Context, call ToolCall) ToolCallResult {
	return f(ctx, call)
}

// Handler implements a single tool. A returned error is turned into an
// error result by the Registry.
type Handler func(ctx context.Context, call ToolCall) (*ToolCallResult, error)

// ToolSet is a group of tools sharing one backend (builtin, MCP server...).
type ToolSet interface {
	Tools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, call ToolCall) (*ToolCallResult, error)
}

// Startable is implemented by toolsets that hold a connection.
type Startable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func ResultError(content string) *ToolCallResult {
	return &ToolCallResult{
		IsError: true,
		Content: content,
	}
}

func ResultSuccess(content string) *ToolCallResult {
	return &ToolCallResult{
		Content: content,
	}
}
