package builtin

import (
	"context"
	"strings"

	"github.com/docker/agentloop/pkg/concurrent"
	"github.com/docker/agentloop/pkg/tools"
)

const ToolNameThink = "think"

type ThinkTool struct {
	thoughts *concurrent.Slice[string]
}

var _ tools.ToolSet = (*ThinkTool)(nil)

type ThinkArgs struct {
	Thought string `json:"thought" jsonschema:"The thought to think about"`
}

func NewThinkTool() *ThinkTool {
	return &ThinkTool{thoughts: concurrent.NewSlice[string]()}
}

func (t *ThinkTool) think(_ context.Context, params ThinkArgs) (*tools.ToolCallResult, error) {
	t.thoughts.Append(params.Thought)
	return tools.ResultSuccess("Thoughts:\n" + strings.Join(t.thoughts.All(), "\n")), nil
}

func (t *ThinkTool) Tools(context.Context) ([]tools.Tool, error) {
	return []tools.Tool{
		{
			Name:        ToolNameThink,
			Description: "Use the tool to think about something. It will not obtain new information or change anything, but just append the thought to the log. Use it when complex reasoning or some cache memory is needed.",
			Parameters:  tools.MustSchemaFor[ThinkArgs](),
			Annotations: tools.Annotations{Title: "Think", ReadOnlyHint: true},
		},
	}, nil
}

func (t *ThinkTool) CallTool(ctx context.Context, call tools.ToolCall) (*tools.ToolCallResult, error) {
	return handlerSet{ToolNameThink: tools.NewHandler(t.think)}.call(ctx, call)
}
