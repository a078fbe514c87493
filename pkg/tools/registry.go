package tools

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/docker/agentloop/pkg/concurrent"
)

const (
	canceledMessage = "The tool call was canceled by the user."
	noOutput        = "(no output)"
)

type registered struct {
	tool    Tool
	handler Handler
	schema  *gojsonschema.Schema
}

// Registry is an Executor dispatching calls to registered handlers by name.
// It is safe for concurrent use.
type Registry struct {
	entries *concurrent.Map[string, registered]
	tracer  trace.Tracer
	logger  *slog.Logger
}

type RegistryOption func(*Registry)

func WithTracer(tracer trace.Tracer) RegistryOption {
	return func(r *Registry) {
		r.tracer = tracer
	}
}

func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: concurrent.NewMap[string, registered](),
		tracer:  noop.NewTracerProvider().Tracer(""),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Executor = (*Registry)(nil)

// Register adds a tool. The tool's parameters must be a valid JSON schema.
func (r *Registry) Register(tool Tool, handler Handler) error {
	if tool.Name == "" {
		return errors.New("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Schema()))
	if err != nil {
		return fmt.Errorf("invalid parameters schema for tool %s: %w", tool.Name, err)
	}

	if _, exists := r.entries.Load(tool.Name); exists {
		r.logger.Warn("Replacing already registered tool", "tool", tool.Name)
	}
	r.entries.Store(tool.Name, registered{tool: tool, handler: handler, schema: schema})
	return nil
}

// AddToolSet registers every tool exposed by ts.
func (r *Registry) AddToolSet(ctx context.Context, ts ToolSet) error {
	list, err := ts.Tools(ctx)
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}
	for _, t := range list {
		if err := r.Register(t, ts.CallTool); err != nil {
			return err
		}
	}
	return nil
}

// Tools returns the registered tool definitions sorted by name.
func (r *Registry) Tools() []Tool {
	var list []Tool
	r.entries.Range(func(_ string, e registered) bool {
		list = append(list, e.tool)
		return true
	})
	slices.SortFunc(list, func(a, b Tool) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return list
}

func (r *Registry) HandleToolUse(ctx context.Context, call ToolCall) ToolCallResult {
	ctx, span := r.tracer.Start(ctx, "tools.call", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	res := r.handle(ctx, span, call)
	res.ToolCallID = call.ID
	if strings.TrimSpace(res.Content) == "" {
		res.Content = noOutput
	}
	return res
}

func (r *Registry) handle(ctx context.Context, span trace.Span, call ToolCall) ToolCallResult {
	entry, ok := r.entries.Load(call.Name)
	if !ok {
		r.logger.Warn("Tool call rejected: tool not available", "tool", call.Name)
		span.SetStatus(codes.Error, "tool not found")
		return *ResultError(fmt.Sprintf("Tool '%s' is not available.", call.Name))
	}

	if msg := validate(entry.schema, call.Arguments); msg != "" {
		r.logger.Debug("Tool arguments rejected by schema", "tool", call.Name, "errors", msg)
		span.SetStatus(codes.Error, "invalid arguments")
		return *ResultError(fmt.Sprintf("Invalid arguments for tool '%s': %s", call.Name, msg))
	}

	r.logger.Debug("Calling tool", "tool", call.Name, "call_id", call.ID)
	res, err := entry.handler(ctx, call)
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)):
		r.logger.Debug("Tool handler canceled by context", "tool", call.Name)
		span.SetStatus(codes.Ok, "tool handler canceled by user")
		return *ResultError(canceledMessage)
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool handler error")
		r.logger.Error("Error calling tool", "tool", call.Name, "error", err)
		return *ResultError(fmt.Sprintf("Error calling tool: %v", err))
	case res == nil:
		span.SetStatus(codes.Ok, "tool handler completed")
		return ToolCallResult{}
	}

	span.SetStatus(codes.Ok, "tool handler completed")
	r.logger.Debug("Tool call completed", "tool", call.Name, "output_length", len(res.Content), "is_error", res.IsError)
	return *res
}

func validate(schema *gojsonschema.Schema, args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err.Error()
	}
	if result.Valid() {
		return ""
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
