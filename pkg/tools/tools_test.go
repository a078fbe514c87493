package tools

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupArgs struct {
	Query string `json:"query" jsonschema:"what to look up"`
	Limit int    `json:"limit,omitempty"`
}

func newLookupRegistry(t *testing.T, handler Handler) *Registry {
	t.Helper()

	r := NewRegistry()
	require.NoError(t, r.Register(Tool{
		Name:        "lookup",
		Description: "Look something up",
		Parameters:  MustSchemaFor[lookupArgs](),
	}, handler))
	return r
}

func TestRegistry_HandleToolUse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		call    ToolCall
		handler Handler
		want    ToolCallResult
	}{
		{
			name: "success",
			call: ToolCall{ID: "t1", Name: "lookup", Arguments: map[string]any{"query": "x"}},
			handler: NewHandler(func(_ context.Context, args lookupArgs) (*ToolCallResult, error) {
				return ResultSuccess("found " + args.Query), nil
			}),
			want: ToolCallResult{ToolCallID: "t1", Content: "found x"},
		},
		{
			name: "unknown tool",
			call: ToolCall{ID: "t2", Name: "missing"},
			handler: func(context.Context, ToolCall) (*ToolCallResult, error) {
				return ResultSuccess("unreachable"), nil
			},
			want: ToolCallResult{ToolCallID: "t2", IsError: true, Content: "Tool 'missing' is not available."},
		},
		{
			name: "handler error",
			call: ToolCall{ID: "t3", Name: "lookup", Arguments: map[string]any{"query": "x"}},
			handler: func(context.Context, ToolCall) (*ToolCallResult, error) {
				return nil, errors.New("boom")
			},
			want: ToolCallResult{ToolCallID: "t3", IsError: true, Content: "Error calling tool: boom"},
		},
		{
			name: "empty output",
			call: ToolCall{ID: "t4", Name: "lookup", Arguments: map[string]any{"query": "x"}},
			handler: func(context.Context, ToolCall) (*ToolCallResult, error) {
				return ResultSuccess("  "), nil
			},
			want: ToolCallResult{ToolCallID: "t4", Content: "(no output)"},
		},
		{
			name: "canceled",
			call: ToolCall{ID: "t5", Name: "lookup", Arguments: map[string]any{"query": "x"}},
			handler: func(context.Context, ToolCall) (*ToolCallResult, error) {
				return nil, context.Canceled
			},
			want: ToolCallResult{ToolCallID: "t5", IsError: true, Content: "The tool call was canceled by the user."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newLookupRegistry(t, tt.handler)
			got := r.HandleToolUse(t.Context(), tt.call)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_RejectsArgumentsViolatingSchema(t *testing.T) {
	t.Parallel()

	called := false
	r := newLookupRegistry(t, func(context.Context, ToolCall) (*ToolCallResult, error) {
		called = true
		return ResultSuccess("ok"), nil
	})

	res := r.HandleToolUse(t.Context(), ToolCall{ID: "t1", Name: "lookup", Arguments: map[string]any{"limit": 3}})

	assert.False(t, called)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "Invalid arguments for tool 'lookup'")
	assert.Contains(t, res.Content, "query")
}

func TestRegistry_RegisterValidation(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	noop := func(context.Context, ToolCall) (*ToolCallResult, error) { return nil, nil }

	require.Error(t, r.Register(Tool{}, noop))
	require.Error(t, r.Register(Tool{Name: "x"}, nil))
	require.Error(t, r.Register(Tool{Name: "bad", Parameters: map[string]any{"type": 12}}, noop))
	require.NoError(t, r.Register(Tool{Name: "b"}, noop))
	require.NoError(t, r.Register(Tool{Name: "a"}, noop))

	list := r.Tools()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "b", list[1].Name)
}

type fakeToolSet struct{}

func (fakeToolSet) Tools(context.Context) ([]Tool, error) {
	return []Tool{{Name: "echo"}}, nil
}

func (fakeToolSet) CallTool(_ context.Context, call ToolCall) (*ToolCallResult, error) {
	return ResultSuccess(call.Name), nil
}

func TestRegistry_AddToolSet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.AddToolSet(t.Context(), fakeToolSet{}))

	res := r.HandleToolUse(t.Context(), ToolCall{ID: "e1", Name: "echo"})
	assert.Equal(t, ToolCallResult{ToolCallID: "e1", Content: "echo"}, res)
}

func TestRegistry_ConcurrentCalls(t *testing.T) {
	t.Parallel()

	r := newLookupRegistry(t, NewHandler(func(_ context.Context, args lookupArgs) (*ToolCallResult, error) {
		return ResultSuccess(args.Query), nil
	}))

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			res := r.HandleToolUse(t.Context(), ToolCall{ID: "c", Name: "lookup", Arguments: map[string]any{"query": "q"}})
			assert.Equal(t, "q", res.Content)
		})
	}
	wg.Wait()
}

func TestSchemaFor(t *testing.T) {
	t.Parallel()

	schema, err := SchemaFor[lookupArgs]()
	require.NoError(t, err)

	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")
	assert.Equal(t, []any{"query"}, schema["required"])
}

func TestToolSchemaDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "object", Tool{Name: "x"}.Schema()["type"])
}
