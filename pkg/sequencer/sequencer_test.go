package sequencer

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/tools"
)

func user(id string) chat.Message {
	m := chat.NewUserMessage(id)
	m.ID = id
	return m
}

func assistant(id string, callIDs ...string) chat.Message {
	m := chat.Message{ID: id, Role: chat.MessageRoleAssistant}
	for _, c := range callIDs {
		m.Blocks = append(m.Blocks, chat.ToolUseBlock(tools.ToolCall{ID: c, Name: "lookup"}))
	}
	if len(callIDs) == 0 {
		m.Blocks = []chat.Block{chat.TextBlock(id)}
	}
	return m
}

func result(id string, callIDs ...string) chat.Message {
	var results []tools.ToolCallResult
	for _, c := range callIDs {
		results = append(results, tools.ToolCallResult{ToolCallID: c, Content: "ok"})
	}
	m := chat.NewToolResultMessage(chat.Message{}, results)
	m.ID = id
	return m
}

func ids(msgs []chat.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []chat.Message
		want []string
	}{
		{
			name: "already sequenced",
			in:   []chat.Message{user("u1"), assistant("a1", "t1"), result("r1", "t1"), assistant("a2")},
			want: []string{"u1", "a1", "r1", "a2"},
		},
		{
			name: "drops leading tool results",
			in:   []chat.Message{result("r0", "t0"), result("r00", "t00"), user("u1"), assistant("a1")},
			want: []string{"u1", "a1"},
		},
		{
			name: "moves distant result next to its tool use",
			in:   []chat.Message{user("u1"), assistant("a1", "t1", "t2"), user("u2"), assistant("a2"), result("r1", "t2")},
			want: []string{"u1", "a1", "r1", "u2", "a2"},
		},
		{
			name: "picks the nearest matching result",
			in:   []chat.Message{assistant("a1", "t1"), user("u2"), result("r1", "t1"), result("r2", "t1")},
			want: []string{"a1", "r1", "u2", "r2"},
		},
		{
			name: "several tool uses",
			in: []chat.Message{
				user("u1"),
				assistant("a1", "t1"),
				assistant("a2", "t2"),
				result("r2", "t2"),
				result("r1", "t1"),
			},
			want: []string{"u1", "a1", "r1", "a2", "r2"},
		},
		{
			name: "unresolved tool use is left alone",
			in:   []chat.Message{user("u1"), assistant("a1", "t1")},
			want: []string{"u1", "a1"},
		},
		{
			name: "empty",
			in:   nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := New(slog.New(slog.DiscardHandler)).Normalize(tt.in)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestNormalize_AdjacencyInvariant(t *testing.T) {
	t.Parallel()

	in := []chat.Message{
		user("u1"),
		assistant("a1", "t1", "t2", "t3"),
		user("u2"),
		assistant("a2"),
		user("u3"),
		result("r1", "t1", "t2", "t3"),
	}

	out := New(nil).Normalize(in)

	useIdx, resIdx := -1, -1
	for i, m := range out {
		switch m.ID {
		case "a1":
			useIdx = i
		case "r1":
			resIdx = i
		}
	}
	require.NotEqual(t, -1, useIdx)
	assert.Equal(t, useIdx+1, resIdx)
	assert.Len(t, out, len(in))
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := []chat.Message{assistant("a1", "t1"), user("u1"), result("r1", "t1")}
	before := ids(in)

	_ = New(nil).Normalize(in)

	assert.Equal(t, before, ids(in))
}

func TestCheck(t *testing.T) {
	t.Parallel()

	s := New(nil)

	require.NoError(t, s.Check([]chat.Message{user("u1"), assistant("a1", "t1"), result("r1", "t1"), assistant("a2")}))

	err := s.Check([]chat.Message{user("u1"), assistant("a1", "t1", "t2"), result("r1", "t1")})
	var unresolved *UnresolvedToolUseError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, []string{"t2"}, unresolved.IDs)

	err = s.Check([]chat.Message{result("r0", "t9"), user("u1")})
	var orphan *OrphanToolResultError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, "t9", orphan.ToolCallID)
	assert.Equal(t, 0, orphan.Index)

	// a result only resolves a tool use once
	err = s.Check([]chat.Message{assistant("a1", "t1"), result("r1", "t1"), result("r2", "t1")})
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, 2, orphan.Index)
}

func TestValidate_LogsTrailingToolUseAndReturnsHistory(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	s := New(slog.New(slog.NewTextHandler(&logs, nil)))

	history := []chat.Message{user("u1"), assistant("a1", "t1")}
	got := s.Validate(t.Context(), history)

	assert.Equal(t, history, got)
	assert.Len(t, got, 2)
	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "unresolved tool use: t1")
}
