package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/sequencer"
	"github.com/docker/agentloop/pkg/session"
	"github.com/docker/agentloop/pkg/stream"
	"github.com/docker/agentloop/pkg/stream/streamtest"
	"github.com/docker/agentloop/pkg/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedProvider hands out one prepared stream per CreateStream call.
type scriptedProvider struct {
	mu      sync.Mutex
	streams []*streamtest.Stream
	next    func(turn int) *streamtest.Stream
	err     error
	seen    [][]chat.Message
}

func (p *scriptedProvider) ID() string { return "test/test-model" }

func (p *scriptedProvider) CreateStream(_ context.Context, _ *chat.CompletionRequest, msgs []chat.Message) (stream.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	turn := len(p.seen)
	p.seen = append(p.seen, msgs)
	if p.next != nil {
		return p.next(turn), nil
	}
	if turn >= len(p.streams) {
		return nil, errors.New("no more scripted streams")
	}
	return p.streams[turn], nil
}

func (p *scriptedProvider) calls() [][]chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen
}

type eventLog struct {
	mu     sync.Mutex
	events []stream.Event
}

func (l *eventLog) emit(ev stream.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(match func(stream.Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if match(ev) {
			n++
		}
	}
	return n
}

func (l *eventLog) last() stream.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return nil
	}
	return l.events[len(l.events)-1]
}

func isCompleted(ev stream.Event) bool {
	_, ok := ev.(*stream.CompletedEvent)
	return ok
}

func echoExecutor() tools.Executor {
	return tools.ExecutorFunc(func(_ context.Context, call tools.ToolCall) tools.ToolCallResult {
		return tools.ToolCallResult{ToolCallID: call.ID, Content: "ran " + call.Name}
	})
}

func TestRunTextOnly(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{streams: []*streamtest.Stream{
		streamtest.NewBuilder().Start("m1").Text(0, "Hel", "lo").Stop("end_turn").Build(),
	}}
	var log eventLog

	history, err := New(p).Run(t.Context(), []chat.Message{chat.NewUserMessage("hi")}, &chat.CompletionRequest{}, log.emit)
	require.NoError(t, err)

	require.Len(t, history, 2)
	assert.Equal(t, chat.KindAssistantText, history[1].Kind())
	assert.Equal(t, "Hello", history[1].Text())
	assert.True(t, isCompleted(log.last()))
	assert.Equal(t, 1, log.count(isCompleted))
	assert.True(t, p.streams[0].Closed())
}

func TestRunToolRoundTrip(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{streams: []*streamtest.Stream{
		streamtest.NewBuilder().Start("m1").Text(0, "Checking").ToolUse(1, "t1", "lookup", `{"q":`, `"go"}`).Stop("tool_use").Build(),
		streamtest.NewBuilder().Start("m2").Text(0, "Done").Stop("end_turn").Build(),
	}}
	var log eventLog

	history, err := New(p, WithExecutor(echoExecutor())).Run(t.Context(), []chat.Message{chat.NewUserMessage("hi")}, &chat.CompletionRequest{}, log.emit)
	require.NoError(t, err)

	require.Len(t, history, 4)
	assert.Equal(t, chat.KindAssistantToolUse, history[1].Kind())
	assert.Equal(t, chat.KindToolResult, history[2].Kind())
	assert.Equal(t, chat.KindAssistantText, history[3].Kind())

	results := history[2].ToolResults()
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].ToolCallID)
	assert.Equal(t, "ran lookup", results[0].Content)
	assert.True(t, history[2].CreatedAt.After(history[1].CreatedAt))

	calls := p.calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[0], 1)
	assert.Len(t, calls[1], 3)
	assert.NoError(t, sequencer.New(nil).Check(history))

	// One event per executed call, then one for the combined message.
	assert.Equal(t, 2, log.count(func(ev stream.Event) bool {
		e, ok := ev.(*stream.ToolResultEvent)
		return ok && e.MessageID == history[1].ID
	}))
	assert.Equal(t, 1, log.count(func(ev stream.Event) bool {
		e, ok := ev.(*stream.ToolResultEvent)
		return ok && e.Message.ID == history[2].ID
	}))
}

func TestRunEmitsCombinedToolResults(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{streams: []*streamtest.Stream{
		streamtest.NewBuilder().Start("m1").
			ToolUse(0, "t1", "lookup", `{"q":"a"}`).
			ToolUse(1, "t2", "search", `{"q":"b"}`).
			Stop("tool_use").Build(),
		streamtest.NewBuilder().Start("m2").Text(0, "Done").Stop("end_turn").Build(),
	}}
	var log eventLog

	history, err := New(p, WithExecutor(echoExecutor())).Run(t.Context(), []chat.Message{chat.NewUserMessage("hi")}, &chat.CompletionRequest{}, log.emit)
	require.NoError(t, err)
	require.Len(t, history, 4)

	var combined []*stream.ToolResultEvent
	log.mu.Lock()
	for _, ev := range log.events {
		if e, ok := ev.(*stream.ToolResultEvent); ok && e.Message.ID == history[2].ID {
			combined = append(combined, e)
		}
	}
	log.mu.Unlock()

	require.Len(t, combined, 1)
	assert.Equal(t, history[1].ID, combined[0].MessageID)
	assert.Equal(t, history[2], combined[0].Message)

	results := combined[0].Message.ToolResults()
	require.Len(t, results, 2)
	assert.Equal(t, "t1", results[0].ToolCallID)
	assert.Equal(t, "t2", results[1].ToolCallID)
}

func TestRunStopsAtMaxTurns(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{next: func(turn int) *streamtest.Stream {
		id := "t" + string(rune('a'+turn))
		return streamtest.NewBuilder().Start("m"+id).ToolUse(0, id, "lookup", `{}`).Stop("tool_use").Build()
	}}
	var log eventLog

	history, err := New(p, WithExecutor(echoExecutor())).Run(t.Context(), []chat.Message{chat.NewUserMessage("loop")}, &chat.CompletionRequest{MaxTurns: 3}, log.emit)
	require.NoError(t, err)

	assert.Len(t, p.calls(), 3)
	assert.Len(t, history, 7)
	assert.Equal(t, 1, log.count(func(ev stream.Event) bool {
		e, ok := ev.(*stream.MaxTurnsReachedEvent)
		return ok && e.MaxTurns == 3
	}))
	assert.True(t, isCompleted(log.last()))
}

func TestRunDefaultMaxTurns(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{next: func(turn int) *streamtest.Stream {
		return streamtest.NewBuilder().Start("m").ToolUse(0, "", "lookup", `{}`).Stop("tool_use").Build()
	}}

	_, err := New(p, WithExecutor(echoExecutor())).Run(t.Context(), nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, p.calls(), chat.DefaultMaxTurns)
}

func TestRunMissingToolResults(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{streams: []*streamtest.Stream{
		streamtest.NewBuilder().Start("m1").ToolUse(0, "t1", "lookup", `{}`).Stop("tool_use").Build(),
	}}
	var log eventLog

	history, err := New(p).Run(t.Context(), []chat.Message{chat.NewUserMessage("hi")}, &chat.CompletionRequest{}, log.emit)
	require.ErrorIs(t, err, ErrMissingToolResults)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 0, runErr.Turn)

	require.Len(t, history, 2)
	assert.Equal(t, chat.KindAssistantToolUse, history[1].Kind())
	assert.Zero(t, log.count(isCompleted))
}

func TestRunMalformedArgumentsStops(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{streams: []*streamtest.Stream{
		streamtest.NewBuilder().Start("m1").ToolUse(0, "t1", "lookup", `{"q":`).Stop("tool_use").Build(),
	}}

	_, err := New(p, WithExecutor(echoExecutor())).Run(t.Context(), nil, &chat.CompletionRequest{}, nil)
	require.ErrorIs(t, err, ErrMissingToolResults)
}

func TestRunStreamFailurePreservesHistory(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection dropped")
	p := &scriptedProvider{streams: []*streamtest.Stream{
		streamtest.NewBuilder().Start("m1").ToolUse(0, "t1", "lookup", `{}`).Stop("tool_use").Build(),
		streamtest.NewBuilder().Start("m2").Add(
			stream.BlockStart{Index: 0, Kind: stream.BlockText},
			stream.BlockDelta{Index: 0, Kind: stream.DeltaText, Text: "par"},
			stream.StreamError{Err: boom},
		).Build(),
	}}
	var log eventLog

	history, err := New(p, WithExecutor(echoExecutor())).Run(t.Context(), []chat.Message{chat.NewUserMessage("hi")}, &chat.CompletionRequest{}, log.emit)
	require.ErrorIs(t, err, ErrIncompleteStream)
	require.ErrorIs(t, err, stream.ErrStreamFailed)
	require.ErrorIs(t, err, boom)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 1, runErr.Turn)

	require.Len(t, history, 3)
	assert.Zero(t, log.count(isCompleted))
	assert.Equal(t, 1, log.count(func(ev stream.Event) bool {
		_, ok := ev.(*stream.ErrorEvent)
		return ok
	}))
}

func TestRunStreamEndsEarly(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{streams: []*streamtest.Stream{
		streamtest.NewBuilder().Start("m1").Text(0, "cut").Build(),
	}}

	history, err := New(p).Run(t.Context(), []chat.Message{chat.NewUserMessage("hi")}, &chat.CompletionRequest{}, nil)
	require.ErrorIs(t, err, ErrIncompleteStream)
	assert.Len(t, history, 1)
}

func TestRunCreateStreamError(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{err: errors.New(`POST "/v1/messages": 503 Service Unavailable`)}

	_, err := New(p).Run(t.Context(), nil, &chat.CompletionRequest{}, nil)
	require.Error(t, err)
	assert.Equal(t, 503, StatusCode(err))
	assert.True(t, IsRetryable(err))
}

func TestRunSkipsUnexpectedEvents(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{streams: []*streamtest.Stream{
		streamtest.NewBuilder().Start("m1").
			Add(stream.BlockDelta{Index: 3, Kind: stream.DeltaText, Text: "stray"}).
			Text(0, "ok").
			Add(stream.BlockStop{Index: 0}).
			Stop("end_turn").Build(),
	}}

	history, err := New(p).Run(t.Context(), nil, &chat.CompletionRequest{}, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ok", history[0].Text())
}

func TestRunCancellation(t *testing.T) {
	t.Parallel()

	s := streamtest.NewBuilder().Start("m1").Text(0, "partial").Hang().Build()
	p := &scriptedProvider{streams: []*streamtest.Stream{s}}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var log eventLog
	onEvent := func(ev stream.Event) {
		log.emit(ev)
		if _, ok := ev.(*stream.TextEvent); ok {
			cancel()
		}
	}

	history, err := New(p).Run(ctx, []chat.Message{chat.NewUserMessage("hi")}, &chat.CompletionRequest{}, onEvent)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, history, 1)
	assert.True(t, s.Closed())
	assert.Zero(t, log.count(isCompleted))
	assert.Len(t, p.calls(), 1)
}

func TestRunPersistsMessages(t *testing.T) {
	t.Parallel()

	store := session.NewInMemoryStore()
	sess := session.New(session.WithTitle("persist"))
	require.NoError(t, store.AddSession(t.Context(), sess))

	p := &scriptedProvider{streams: []*streamtest.Stream{
		streamtest.NewBuilder().Start("m1").ToolUse(0, "t1", "lookup", `{}`).Stop("tool_use").Build(),
		streamtest.NewBuilder().Start("m2").Text(0, "Done").Stop("end_turn").Build(),
	}}

	history, err := New(p, WithExecutor(echoExecutor()), WithStore(store, sess.ID)).Run(t.Context(), nil, &chat.CompletionRequest{}, nil)
	require.NoError(t, err)

	stored, err := store.GetSession(t.Context(), sess.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, len(history))
	for i := range history {
		assert.Equal(t, history[i].ID, stored.Messages[i].ID)
	}
}

func TestRunDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{streams: []*streamtest.Stream{
		streamtest.NewBuilder().Start("m1").Text(0, "hi").Stop("end_turn").Build(),
	}}
	input := make([]chat.Message, 1, 8)
	input[0] = chat.NewUserMessage("hi")

	history, err := New(p).Run(t.Context(), input, &chat.CompletionRequest{}, nil)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Len(t, input, 1)
	assert.Equal(t, chat.MessageRoleUser, input[0].Role)
}
