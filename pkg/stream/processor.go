package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/tools"
)

var (
	// ErrUnexpectedEvent is returned for events that are illegal in the
	// current state (delta after stop, start on a used index...). They are
	// ignored by the processor.
	ErrUnexpectedEvent = errors.New("unexpected stream event")
	// ErrStreamFailed is returned once the provider reported an error.
	ErrStreamFailed = errors.New("stream failed")
)

const toolResultIDPrefix = "tool_result_"

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Processor accumulates the raw events of one provider call into Events and
// a final assistant message. It is not safe for concurrent use.
//
// When an executor is configured, tool calls run synchronously while the
// tool-use block stop is handled: no further events are processed until the
// result is available. Without an executor, callers drive execution through
// PendingToolCalls and AddToolResult.
type Processor struct {
	logger   *slog.Logger
	executor tools.Executor
	emit     func(Event)
	now      func() time.Time

	state      State
	messageID  string
	model      string
	stopReason string
	usage      *chat.Usage
	createdAt  time.Time
	err        error

	lanes     arena
	text      []byte
	thinking  []chat.Block
	toolUses  []tools.ToolCall
	malformed map[string]bool
	results   *orderedmap.OrderedMap[string, tools.ToolCallResult]
}

type ProcessorOption func(*Processor)

func WithExecutor(executor tools.Executor) ProcessorOption {
	return func(p *Processor) {
		p.executor = executor
	}
}

func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithEmitter sets the callback receiving every Event as it is produced.
func WithEmitter(emit func(Event)) ProcessorOption {
	return func(p *Processor) {
		p.emit = emit
	}
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{
		logger:    slog.Default(),
		emit:      func(Event) {},
		now:       time.Now,
		malformed: map[string]bool{},
		results:   orderedmap.New[string, tools.ToolCallResult](),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) State() State       { return p.state }
func (p *Processor) MessageID() string  { return p.messageID }
func (p *Processor) StopReason() string { return p.stopReason }

// Err returns the provider error that failed the stream, if any.
func (p *Processor) Err() error { return p.err }

// HandleEvent processes one raw event. Errors wrapping ErrUnexpectedEvent
// are informational; ErrStreamFailed means the stream is over.
func (p *Processor) HandleEvent(ctx context.Context, raw RawEvent) error {
	if p.state == StateFailed {
		return fmt.Errorf("%w: event after failure", ErrStreamFailed)
	}

	switch ev := raw.(type) {
	case Ping:
		return nil
	case StreamError:
		return p.fail(ev.Err)
	case MessageStart:
		return p.start(ev)
	}

	if p.state != StateStreaming {
		return p.reject(raw, fmt.Errorf("%w: %T while %s", ErrUnexpectedEvent, raw, p.state))
	}

	switch ev := raw.(type) {
	case BlockStart:
		return p.blockStart(ev)
	case BlockDelta:
		return p.blockDelta(ev)
	case BlockStop:
		return p.blockStop(ctx, ev)
	case MessageDelta:
		p.messageDelta(ev)
		return nil
	case MessageStop:
		p.messageStop()
		return nil
	default:
		return p.reject(raw, fmt.Errorf("%w: unknown event %T", ErrUnexpectedEvent, raw))
	}
}

func (p *Processor) reject(raw RawEvent, err error) error {
	p.logger.Warn("Ignoring stream event", "message_id", p.messageID, "event", fmt.Sprintf("%T", raw), "error", err)
	return err
}

func (p *Processor) fail(err error) error {
	if err == nil {
		err = errors.New("unknown provider error")
	}
	p.state = StateFailed
	p.err = err
	p.logger.Error("Provider stream failed", "message_id", p.messageID, "error", err)
	return fmt.Errorf("%w: %w", ErrStreamFailed, err)
}

func (p *Processor) start(ev MessageStart) error {
	if p.state != StateIdle {
		return p.reject(ev, fmt.Errorf("%w: message start while %s", ErrUnexpectedEvent, p.state))
	}

	p.messageID = ev.ID
	if p.messageID == "" {
		p.messageID = uuid.NewString()
	}
	p.model = ev.Model
	p.createdAt = p.now()
	p.state = StateStreaming

	p.logger.Debug("Stream started", "message_id", p.messageID, "model", p.model)
	p.emit(StreamTaskStarted(p.messageID))
	return nil
}

func (p *Processor) blockStart(ev BlockStart) error {
	s, err := p.lanes.at(ev.Index)
	if err != nil {
		return p.reject(ev, err)
	}
	if s.tag != slotEmpty {
		return p.reject(ev, fmt.Errorf("%w: block %d already started", ErrUnexpectedEvent, ev.Index))
	}

	s.open(ev)
	switch ev.Kind {
	case BlockText:
		if ev.Text != "" {
			p.emit(Text(p.messageID, ev.Text))
		}
	case BlockThinking:
		if ev.Thinking != "" {
			p.emit(Thinking(p.messageID, ev.Thinking))
		}
	case BlockToolUse:
		if ev.ToolID == "" {
			s.toolID = uuid.NewString()
			p.logger.Debug("Tool use block without id, generated one", "index", ev.Index, "tool_call_id", s.toolID)
		}
		p.logger.Debug("Tool use started", "message_id", p.messageID, "index", ev.Index, "tool", ev.ToolName)
	}
	return nil
}

func (p *Processor) blockDelta(ev BlockDelta) error {
	s, err := p.lanes.open(ev.Index)
	if err != nil {
		return p.reject(ev, err)
	}
	if !s.accepts(ev.Kind) {
		return p.reject(ev, fmt.Errorf("%w: %s delta on %s block %d", ErrUnexpectedEvent, ev.Kind, s.kind, ev.Index))
	}

	switch ev.Kind {
	case DeltaText:
		s.buf = append(s.buf, ev.Text...)
		p.emit(Text(p.messageID, ev.Text))
	case DeltaThinking:
		s.buf = append(s.buf, ev.Text...)
		p.emit(Thinking(p.messageID, ev.Text))
	case DeltaSignature:
		s.signature += ev.Text
	case DeltaJSON:
		s.buf = append(s.buf, ev.Text...)
	}
	return nil
}

func (p *Processor) blockStop(ctx context.Context, ev BlockStop) error {
	s, err := p.lanes.open(ev.Index)
	if err != nil {
		return p.reject(ev, err)
	}

	switch s.kind {
	case BlockText:
		p.text = append(p.text, s.buf...)
	case BlockThinking:
		if s.signature != "" {
			p.thinking = append(p.thinking, chat.ThinkingBlock(string(s.buf), s.signature))
			p.emit(ThinkingSignature(p.messageID, true))
		} else {
			p.logger.Debug("Dropping unsigned thinking block", "message_id", p.messageID, "index", ev.Index)
		}
	case BlockToolUse:
		call := tools.ToolCall{
			ID:           s.toolID,
			Name:         s.toolName,
			RawArguments: string(s.buf),
		}
		s.finalize()
		p.finishToolUse(ctx, call)
		return nil
	}

	s.finalize()
	return nil
}

func (p *Processor) finishToolUse(ctx context.Context, call tools.ToolCall) {
	args, err := ParseArguments(call.RawArguments)
	if err != nil {
		p.logger.Error("Failed to parse tool call arguments",
			"message_id", p.messageID, "tool", call.Name, "tool_call_id", call.ID, "error", err)
		call.Arguments = map[string]any{}
		p.malformed[call.ID] = true
		p.toolUses = append(p.toolUses, call)
		p.emit(ToolCall(p.messageID, p.ToolCalls()))
		return
	}

	call.Arguments = args
	p.toolUses = append(p.toolUses, call)
	p.emit(ToolCall(p.messageID, p.ToolCalls()))

	if p.executor == nil {
		return
	}

	p.logger.Debug("Executing tool call", "message_id", p.messageID, "tool", call.Name, "tool_call_id", call.ID)
	p.record(p.executor.HandleToolUse(ctx, call), call.ID)
}

func (p *Processor) record(result tools.ToolCallResult, callID string) {
	result.ToolCallID = callID
	p.results.Set(callID, result)

	p.emit(ToolResult(p.messageID, chat.Message{
		ID:        toolResultIDPrefix + callID,
		Role:      chat.MessageRoleTool,
		Blocks:    []chat.Block{chat.ToolResultBlock(result)},
		CreatedAt: p.now(),
	}))
}

func (p *Processor) messageDelta(ev MessageDelta) {
	if ev.StopReason != "" {
		p.stopReason = ev.StopReason
	}
	if ev.Usage != nil {
		if p.usage == nil {
			p.usage = &chat.Usage{}
		}
		p.usage.Add(ev.Usage)
		p.emit(Usage(p.messageID, *p.usage))
	}
}

func (p *Processor) messageStop() {
	for _, s := range p.lanes.openSlots() {
		switch s.kind {
		case BlockText:
			p.text = append(p.text, s.buf...)
		case BlockToolUse:
			p.logger.Warn("Tool use block never finished, dropping it",
				"message_id", p.messageID, "tool", s.toolName, "tool_call_id", s.toolID)
		}
		s.finalize()
	}

	p.state = StateComplete
	p.logger.Debug("Stream completed", "message_id", p.messageID, "stop_reason", p.stopReason,
		"tool_calls", len(p.toolUses), "thinking_blocks", len(p.thinking))
	p.emit(StreamTaskCompleted(p.messageID))
}

// FinalMessage returns the assembled assistant message, or nil if the stream
// has not completed. Signed thinking blocks come first, then tool uses, then
// the text, each group in completion order.
func (p *Processor) FinalMessage() *chat.Message {
	if p.state != StateComplete {
		return nil
	}

	blocks := make([]chat.Block, 0, len(p.thinking)+len(p.toolUses)+1)
	blocks = append(blocks, p.thinking...)
	for _, call := range p.toolUses {
		blocks = append(blocks, chat.ToolUseBlock(call))
	}
	if len(p.text) > 0 {
		blocks = append(blocks, chat.TextBlock(string(p.text)))
	}

	msg := &chat.Message{
		ID:         p.messageID,
		Role:       chat.MessageRoleAssistant,
		Blocks:     blocks,
		CreatedAt:  p.createdAt,
		Model:      p.model,
		StopReason: p.stopReason,
	}
	if p.usage != nil {
		u := *p.usage
		msg.Usage = &u
	}
	return msg
}

func (p *Processor) HasToolUses() bool {
	return len(p.toolUses) > 0
}

func (p *Processor) HasAllToolResults() bool {
	for _, call := range p.toolUses {
		if _, ok := p.results.Get(call.ID); !ok {
			return false
		}
	}
	return true
}

// ToolCalls returns a copy of the finalized tool uses in completion order.
func (p *Processor) ToolCalls() []tools.ToolCall {
	return append([]tools.ToolCall(nil), p.toolUses...)
}

// ToolResults returns the recorded results in the order they were produced.
func (p *Processor) ToolResults() []tools.ToolCallResult {
	results := make([]tools.ToolCallResult, 0, p.results.Len())
	for pair := p.results.Oldest(); pair != nil; pair = pair.Next() {
		results = append(results, pair.Value)
	}
	return results
}

// PendingToolCalls returns finalized, well-formed tool calls that have no
// result yet.
func (p *Processor) PendingToolCalls() []tools.ToolCall {
	var pending []tools.ToolCall
	for _, call := range p.toolUses {
		if p.malformed[call.ID] {
			continue
		}
		if _, ok := p.results.Get(call.ID); !ok {
			pending = append(pending, call)
		}
	}
	return pending
}

// AddToolResult records the result of a pending tool call.
func (p *Processor) AddToolResult(result tools.ToolCallResult) error {
	for _, call := range p.PendingToolCalls() {
		if call.ID == result.ToolCallID {
			p.record(result, call.ID)
			return nil
		}
	}
	return fmt.Errorf("no pending tool call with id %q", result.ToolCallID)
}

// ParseArguments decodes streamed tool arguments. Empty input is an empty
// object and a payload missing its wrapping braces gets them added.
func ParseArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		trimmed = "{" + trimmed + "}"
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
