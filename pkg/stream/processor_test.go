package stream_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/stream"
	"github.com/docker/agentloop/pkg/stream/streamtest"
	"github.com/docker/agentloop/pkg/tools"
)

type recorder struct {
	events []stream.Event
}

func (r *recorder) emit(ev stream.Event) { r.events = append(r.events, ev) }

func (r *recorder) types() []string {
	var out []string
	for _, ev := range r.events {
		out = append(out, typeOf(ev))
	}
	return out
}

func typeOf(ev stream.Event) string {
	switch e := ev.(type) {
	case *stream.StreamTaskStartedEvent:
		return e.Type
	case *stream.TextEvent:
		return e.Type
	case *stream.ThinkingEvent:
		return e.Type
	case *stream.ThinkingSignatureEvent:
		return e.Type
	case *stream.ToolCallEvent:
		return e.Type
	case *stream.ToolResultEvent:
		return e.Type
	case *stream.UsageEvent:
		return e.Type
	case *stream.StreamTaskCompletedEvent:
		return e.Type
	default:
		return "other"
	}
}

func feed(t *testing.T, p *stream.Processor, events []stream.RawEvent) {
	t.Helper()
	for _, ev := range events {
		err := p.HandleEvent(t.Context(), ev)
		require.NoError(t, err)
	}
}

func TestProcessor_TextOnly(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p := stream.NewProcessor(stream.WithEmitter(rec.emit))

	feed(t, p, []stream.RawEvent{
		stream.MessageStart{ID: "m1"},
		stream.BlockStart{Index: 0, Kind: stream.BlockText, Text: ""},
		stream.BlockDelta{Index: 0, Kind: stream.DeltaText, Text: "Hi"},
		stream.BlockStop{Index: 0},
		stream.MessageStop{},
	})

	assert.Equal(t, []stream.Event{
		stream.StreamTaskStarted("m1"),
		stream.Text("m1", "Hi"),
		stream.StreamTaskCompleted("m1"),
	}, rec.events)

	msg := p.FinalMessage()
	require.NotNil(t, msg)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, chat.MessageRoleAssistant, msg.Role)
	assert.Equal(t, []chat.Block{chat.TextBlock("Hi")}, msg.Blocks)
	assert.Equal(t, chat.KindAssistantText, msg.Kind())
}

func TestProcessor_ToolUseExecutesSynchronously(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	var executed []tools.ToolCall
	executor := tools.ExecutorFunc(func(_ context.Context, call tools.ToolCall) tools.ToolCallResult {
		executed = append(executed, call)
		return tools.ToolCallResult{Content: "found"}
	})
	p := stream.NewProcessor(stream.WithEmitter(rec.emit), stream.WithExecutor(executor))

	feed(t, p, []stream.RawEvent{
		stream.MessageStart{ID: "m1"},
		stream.BlockStart{Index: 0, Kind: stream.BlockToolUse, ToolID: "t1", ToolName: "lookup"},
		stream.BlockDelta{Index: 0, Kind: stream.DeltaJSON, Text: `{"q":"x"}`},
		stream.BlockStop{Index: 0},
	})

	assert.True(t, p.HasToolUses())
	assert.True(t, p.HasAllToolResults())
	assert.Nil(t, p.FinalMessage())

	require.Len(t, executed, 1)
	assert.Equal(t, map[string]any{"q": "x"}, executed[0].Arguments)

	assert.Equal(t, []string{"stream_task_started", "tool_call", "tool_result"}, rec.types())

	callEvent := rec.events[1].(*stream.ToolCallEvent)
	assert.Equal(t, "m1", callEvent.MessageID)
	require.Len(t, callEvent.ToolCalls, 1)
	assert.Equal(t, "t1", callEvent.ToolCalls[0].ID)
	assert.Equal(t, "lookup", callEvent.ToolCalls[0].Name)

	resultEvent := rec.events[2].(*stream.ToolResultEvent)
	assert.Equal(t, "tool_result_t1", resultEvent.Message.ID)
	assert.Equal(t, []tools.ToolCallResult{{ToolCallID: "t1", Content: "found"}}, resultEvent.Message.ToolResults())

	feed(t, p, []stream.RawEvent{stream.MessageStop{}})
	msg := p.FinalMessage()
	require.NotNil(t, msg)
	assert.Equal(t, chat.KindAssistantToolUse, msg.Kind())
	assert.Equal(t, []tools.ToolCallResult{{ToolCallID: "t1", Content: "found"}}, p.ToolResults())
}

func TestProcessor_JSONAssembledAcrossDeltas(t *testing.T) {
	t.Parallel()

	p := stream.NewProcessor()
	feed(t, p, streamtest.NewBuilder().
		Start("m1").
		ToolUse(0, "t1", "calc", `{"a":`, `1}`).
		Stop("tool_use").
		Events())

	calls := p.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"a": float64(1)}, calls[0].Arguments)
	assert.JSONEq(t, `{"a":1}`, calls[0].RawArguments)
}

func TestProcessor_LaneIsolation(t *testing.T) {
	t.Parallel()

	executor := tools.ExecutorFunc(func(_ context.Context, call tools.ToolCall) tools.ToolCallResult {
		return tools.ToolCallResult{Content: call.Name}
	})
	p := stream.NewProcessor(stream.WithExecutor(executor))

	feed(t, p, []stream.RawEvent{
		stream.MessageStart{ID: "m1"},
		stream.BlockStart{Index: 0, Kind: stream.BlockThinking},
		stream.BlockStart{Index: 1, Kind: stream.BlockToolUse, ToolID: "a", ToolName: "first"},
		stream.BlockStart{Index: 2, Kind: stream.BlockText},
		stream.BlockStart{Index: 3, Kind: stream.BlockToolUse, ToolID: "b", ToolName: "second"},
		stream.BlockDelta{Index: 1, Kind: stream.DeltaJSON, Text: `{"x":`},
		stream.BlockDelta{Index: 3, Kind: stream.DeltaJSON, Text: `{"y":`},
		stream.BlockDelta{Index: 0, Kind: stream.DeltaThinking, Text: "hmm "},
		stream.BlockDelta{Index: 2, Kind: stream.DeltaText, Text: "Hello "},
		stream.BlockDelta{Index: 3, Kind: stream.DeltaJSON, Text: `"two"}`},
		stream.BlockDelta{Index: 0, Kind: stream.DeltaThinking, Text: "ok"},
		stream.BlockDelta{Index: 1, Kind: stream.DeltaJSON, Text: `"one"}`},
		stream.BlockDelta{Index: 2, Kind: stream.DeltaText, Text: "world"},
		stream.BlockDelta{Index: 0, Kind: stream.DeltaSignature, Text: "sig"},
		stream.BlockStop{Index: 3},
		stream.BlockStop{Index: 1},
		stream.BlockStop{Index: 0},
		stream.BlockStop{Index: 2},
		stream.MessageStop{},
	})

	msg := p.FinalMessage()
	require.NotNil(t, msg)
	require.Len(t, msg.Blocks, 4)

	assert.Equal(t, chat.ThinkingBlock("hmm ok", "sig"), msg.Blocks[0])

	// tool uses in completion order
	assert.Equal(t, "b", msg.Blocks[1].ToolCall.ID)
	assert.Equal(t, map[string]any{"y": "two"}, msg.Blocks[1].ToolCall.Arguments)
	assert.Equal(t, "a", msg.Blocks[2].ToolCall.ID)
	assert.Equal(t, map[string]any{"x": "one"}, msg.Blocks[2].ToolCall.Arguments)

	assert.Equal(t, chat.TextBlock("Hello world"), msg.Blocks[3])

	results := p.ToolResults()
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ToolCallID)
	assert.Equal(t, "second", results[0].Content)
}

func TestProcessor_ThinkingSignatureGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		signature string
		wantBlock bool
	}{
		{name: "signed thinking is kept", signature: "abc", wantBlock: true},
		{name: "unsigned thinking is dropped", signature: "", wantBlock: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &recorder{}
			p := stream.NewProcessor(stream.WithEmitter(rec.emit))
			feed(t, p, streamtest.NewBuilder().
				Start("m1").
				Thinking(0, "reasoning", tt.signature).
				Text(1, "answer").
				Stop("end_turn").
				Events())

			msg := p.FinalMessage()
			require.NotNil(t, msg)

			var thinking []chat.Block
			for _, b := range msg.Blocks {
				if b.Type == chat.BlockTypeThinking {
					thinking = append(thinking, b)
				}
			}

			if tt.wantBlock {
				assert.Equal(t, []chat.Block{chat.ThinkingBlock("reasoning", tt.signature)}, thinking)
				assert.Contains(t, rec.events, stream.ThinkingSignature("m1", true))
			} else {
				assert.Empty(t, thinking)
				assert.NotContains(t, rec.types(), "thinking_signature")
			}
			assert.Contains(t, rec.types(), "thinking")
		})
	}
}

func TestProcessor_SynthesizesUnterminatedText(t *testing.T) {
	t.Parallel()

	p := stream.NewProcessor()
	feed(t, p, []stream.RawEvent{
		stream.MessageStart{ID: "m1"},
		stream.BlockStart{Index: 0, Kind: stream.BlockText, Text: "Hel"},
		stream.BlockDelta{Index: 0, Kind: stream.DeltaText, Text: "lo"},
		stream.MessageStop{},
	})

	msg := p.FinalMessage()
	require.NotNil(t, msg)
	assert.Equal(t, "Hello", msg.Text())
}

func TestProcessor_MalformedToolArguments(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	executor := tools.ExecutorFunc(func(context.Context, tools.ToolCall) tools.ToolCallResult {
		calls.Add(1)
		return tools.ToolCallResult{Content: "nope"}
	})
	rec := &recorder{}
	p := stream.NewProcessor(stream.WithEmitter(rec.emit), stream.WithExecutor(executor))

	feed(t, p, streamtest.NewBuilder().
		Start("m1").
		ToolUse(0, "t1", "lookup", `{"q": "x"`, `,,}`).
		Stop("tool_use").
		Events())

	assert.Zero(t, calls.Load())
	assert.True(t, p.HasToolUses())
	assert.False(t, p.HasAllToolResults())
	assert.Empty(t, p.PendingToolCalls())

	assert.Contains(t, rec.types(), "tool_call")
	assert.NotContains(t, rec.types(), "tool_result")

	msg := p.FinalMessage()
	require.NotNil(t, msg)
	require.Len(t, msg.ToolCalls(), 1)
	assert.Equal(t, "lookup", msg.ToolCalls()[0].Name)
	assert.Empty(t, msg.ToolCalls()[0].Arguments)
}

func TestProcessor_TwoPhaseExecution(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p := stream.NewProcessor(stream.WithEmitter(rec.emit))
	feed(t, p, streamtest.NewBuilder().
		Start("m1").
		ToolUse(0, "t1", "a", `{}`).
		ToolUse(1, "t2", "b").
		Stop("tool_use").
		Events())

	assert.False(t, p.HasAllToolResults())
	pending := p.PendingToolCalls()
	require.Len(t, pending, 2)

	require.NoError(t, p.AddToolResult(tools.ToolCallResult{ToolCallID: "t2", Content: "2"}))
	require.Error(t, p.AddToolResult(tools.ToolCallResult{ToolCallID: "t2", Content: "again"}))
	require.Error(t, p.AddToolResult(tools.ToolCallResult{ToolCallID: "unknown"}))
	assert.False(t, p.HasAllToolResults())

	require.NoError(t, p.AddToolResult(tools.ToolCallResult{ToolCallID: "t1", Content: "1"}))
	assert.True(t, p.HasAllToolResults())
	assert.Empty(t, p.PendingToolCalls())

	results := p.ToolResults()
	assert.Equal(t, []string{"t2", "t1"}, []string{results[0].ToolCallID, results[1].ToolCallID})
}

func TestProcessor_RejectsIllegalTransitions(t *testing.T) {
	t.Parallel()

	p := stream.NewProcessor()

	err := p.HandleEvent(t.Context(), stream.BlockStart{Index: 0, Kind: stream.BlockText})
	require.ErrorIs(t, err, stream.ErrUnexpectedEvent)

	require.NoError(t, p.HandleEvent(t.Context(), stream.MessageStart{ID: "m1"}))
	require.ErrorIs(t, p.HandleEvent(t.Context(), stream.MessageStart{ID: "m2"}), stream.ErrUnexpectedEvent)

	require.ErrorIs(t, p.HandleEvent(t.Context(), stream.BlockDelta{Index: 0, Kind: stream.DeltaText, Text: "x"}), stream.ErrUnexpectedEvent)

	require.NoError(t, p.HandleEvent(t.Context(), stream.BlockStart{Index: 0, Kind: stream.BlockText}))
	require.ErrorIs(t, p.HandleEvent(t.Context(), stream.BlockStart{Index: 0, Kind: stream.BlockText}), stream.ErrUnexpectedEvent)
	require.ErrorIs(t, p.HandleEvent(t.Context(), stream.BlockDelta{Index: 0, Kind: stream.DeltaJSON, Text: "{}"}), stream.ErrUnexpectedEvent)
	require.NoError(t, p.HandleEvent(t.Context(), stream.BlockDelta{Index: 0, Kind: stream.DeltaText, Text: "ok"}))
	require.NoError(t, p.HandleEvent(t.Context(), stream.BlockStop{Index: 0}))

	require.ErrorIs(t, p.HandleEvent(t.Context(), stream.BlockDelta{Index: 0, Kind: stream.DeltaText, Text: "late"}), stream.ErrUnexpectedEvent)
	require.ErrorIs(t, p.HandleEvent(t.Context(), stream.BlockStop{Index: 0}), stream.ErrUnexpectedEvent)
	require.ErrorIs(t, p.HandleEvent(t.Context(), stream.BlockStart{Index: -1}), stream.ErrUnexpectedEvent)
	require.NoError(t, p.HandleEvent(t.Context(), stream.Ping{}))

	require.NoError(t, p.HandleEvent(t.Context(), stream.MessageStop{}))
	require.ErrorIs(t, p.HandleEvent(t.Context(), stream.BlockStart{Index: 1, Kind: stream.BlockText}), stream.ErrUnexpectedEvent)

	assert.Equal(t, "ok", p.FinalMessage().Text())
}

func TestProcessor_StreamErrorIsTerminal(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p := stream.NewProcessor(stream.WithEmitter(rec.emit))
	boom := errors.New("overloaded")

	require.NoError(t, p.HandleEvent(t.Context(), stream.MessageStart{ID: "m1"}))
	err := p.HandleEvent(t.Context(), stream.StreamError{Err: boom})
	require.ErrorIs(t, err, stream.ErrStreamFailed)
	require.ErrorIs(t, err, boom)

	err = p.HandleEvent(t.Context(), stream.MessageStop{})
	require.ErrorIs(t, err, stream.ErrStreamFailed)

	assert.Equal(t, stream.StateFailed, p.State())
	assert.Equal(t, boom, p.Err())
	assert.Nil(t, p.FinalMessage())
	assert.Equal(t, []string{"stream_task_started"}, rec.types())
}

func TestProcessor_UsageAndStopReason(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p := stream.NewProcessor(stream.WithEmitter(rec.emit))
	feed(t, p, []stream.RawEvent{
		stream.MessageStart{ID: "m1", Model: "claude"},
		stream.MessageDelta{Usage: &chat.Usage{InputTokens: 3}},
		stream.MessageDelta{StopReason: "end_turn", Usage: &chat.Usage{OutputTokens: 4}},
		stream.MessageStop{},
	})

	msg := p.FinalMessage()
	require.NotNil(t, msg)
	assert.Equal(t, "end_turn", msg.StopReason)
	assert.Equal(t, "claude", msg.Model)
	assert.Equal(t, &chat.Usage{InputTokens: 3, OutputTokens: 4}, msg.Usage)
	assert.Empty(t, msg.Blocks)
	assert.Contains(t, rec.events, stream.Usage("m1", chat.Usage{InputTokens: 3, OutputTokens: 4}))
}

func TestParseArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{raw: "", want: map[string]any{}},
		{raw: "   ", want: map[string]any{}},
		{raw: `{"a":1}`, want: map[string]any{"a": float64(1)}},
		{raw: `"a":1`, want: map[string]any{"a": float64(1)}},
		{raw: `{}`, want: map[string]any{}},
		{raw: `{"a":`, wantErr: true},
		{raw: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()

			got, err := stream.ParseArguments(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
