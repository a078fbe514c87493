package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/docker/agentloop/pkg/tools"
)

func TestMessageKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
		want Kind
	}{
		{"user", NewUserMessage("hi"), KindUser},
		{"system", NewSystemMessage("be nice"), KindSystem},
		{"assistant text", Message{Role: MessageRoleAssistant, Blocks: []Block{TextBlock("hello")}}, KindAssistantText},
		{"assistant tool use", Message{Role: MessageRoleAssistant, Blocks: []Block{
			TextBlock("let me check"),
			ToolUseBlock(tools.ToolCall{ID: "t1", Name: "lookup"}),
		}}, KindAssistantToolUse},
		{"tool result", NewToolResultMessage(Message{}, []tools.ToolCallResult{{ToolCallID: "t1"}}), KindToolResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.msg.Kind())
		})
	}
}

func TestNewToolResultMessage(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	assistant := Message{
		Role:      MessageRoleAssistant,
		CreatedAt: created,
		Blocks: []Block{
			ToolUseBlock(tools.ToolCall{ID: "a"}),
			ToolUseBlock(tools.ToolCall{ID: "b"}),
		},
	}

	msg := NewToolResultMessage(assistant, []tools.ToolCallResult{
		{ToolCallID: "a", Content: "1"},
		{ToolCallID: "b", Content: "2", IsError: true},
	})

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, MessageRoleTool, msg.Role)
	assert.True(t, msg.CreatedAt.After(created))
	assert.Equal(t, time.Microsecond, msg.CreatedAt.Sub(created))
	assert.Len(t, msg.ToolResults(), 2)
	assert.True(t, msg.References(map[string]bool{"b": true}))
	assert.False(t, msg.References(map[string]bool{"c": true}))
	assert.Equal(t, []string{"a", "b"}, []string{assistant.ToolCalls()[0].ID, assistant.ToolCalls()[1].ID})
}

func TestUsageAdd(t *testing.T) {
	t.Parallel()

	u := Usage{InputTokens: 1, OutputTokens: 2}
	u.Add(&Usage{InputTokens: 10, OutputTokens: 20, CachedInputTokens: 5})
	u.Add(nil)

	assert.Equal(t, Usage{InputTokens: 11, OutputTokens: 22, CachedInputTokens: 5}, u)
}

func TestCompletionRequestDefaults(t *testing.T) {
	t.Parallel()

	var req CompletionRequest
	assert.Equal(t, DefaultMaxTurns, req.Turns())
	assert.Equal(t, int64(4096), req.MaxTokensOr(4096))

	n := int64(100)
	req = CompletionRequest{MaxTurns: 3, MaxTokens: &n}
	assert.Equal(t, 3, req.Turns())
	assert.Equal(t, int64(100), req.MaxTokensOr(4096))
}
