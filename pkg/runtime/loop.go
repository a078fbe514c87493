package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/model/provider"
	"github.com/docker/agentloop/pkg/sequencer"
	"github.com/docker/agentloop/pkg/session"
	"github.com/docker/agentloop/pkg/stream"
	"github.com/docker/agentloop/pkg/tools"
)

// Loop drives a conversation through repeated model turns until the model
// stops requesting tools or the turn cap is reached.
type Loop struct {
	provider  provider.Provider
	executor  tools.Executor
	logger    *slog.Logger
	tracer    trace.Tracer
	sequencer *sequencer.Sequencer
	store     session.Store
	sessionID string
}

type Opt func(*Loop)

func WithExecutor(executor tools.Executor) Opt {
	return func(l *Loop) {
		l.executor = executor
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(l *Loop) {
		l.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Opt {
	return func(l *Loop) {
		l.tracer = tracer
	}
}

// WithStore persists every message appended to the history under sessionID.
func WithStore(store session.Store, sessionID string) Opt {
	return func(l *Loop) {
		l.store = store
		l.sessionID = sessionID
	}
}

func New(p provider.Provider, opts ...Opt) *Loop {
	l := &Loop{
		provider: p,
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.sequencer = sequencer.New(l.logger)
	return l
}

// Run executes turns starting from history and returns the grown history.
// The returned history is valid even when err is non-nil: it holds every
// message completed before the failure. onEvent may be nil.
func (l *Loop) Run(ctx context.Context, history []chat.Message, req *chat.CompletionRequest, onEvent func(stream.Event)) ([]chat.Message, error) {
	if onEvent == nil {
		onEvent = func(stream.Event) {}
	}
	if req == nil {
		req = &chat.CompletionRequest{}
	}

	maxTurns := req.Turns()
	ctx, span := l.tracer.Start(ctx, "runtime.run", trace.WithAttributes(
		attribute.String("provider", l.provider.ID()),
		attribute.String("model", req.Model),
		attribute.Int("max_turns", maxTurns),
	))
	defer span.End()

	history = slices.Clone(history)
	l.logger.Debug("Starting agent run", "provider", l.provider.ID(), "messages", len(history), "max_turns", maxTurns)

	for turn := range maxTurns {
		if err := ctx.Err(); err != nil {
			return l.abort(ctx, span, history, turn, err, onEvent)
		}

		msg, proc, err := l.runTurn(ctx, turn, history, req, onEvent)
		if err != nil {
			return l.abort(ctx, span, history, turn, err, onEvent)
		}

		history = l.append(ctx, history, *msg)
		if !msg.HasToolUse() {
			l.logger.Debug("Agent run finished", "turns", turn+1, "stop_reason", msg.StopReason)
			return l.finish(ctx, span, history, onEvent), nil
		}

		if !proc.HasAllToolResults() {
			pending := make([]string, 0)
			for _, c := range proc.PendingToolCalls() {
				pending = append(pending, c.ID)
			}
			err := fmt.Errorf("%w: %d of %d calls resolved", ErrMissingToolResults, len(proc.ToolResults()), len(proc.ToolCalls()))
			l.logger.Error("Tool calls finished without results", "message_id", msg.ID, "pending", pending)
			return l.abort(ctx, span, history, turn, err, onEvent)
		}

		results := chat.NewToolResultMessage(*msg, proc.ToolResults())
		history = l.append(ctx, history, results)
		onEvent(stream.ToolResult(msg.ID, results))
	}

	l.logger.Warn("Maximum turns reached", "max_turns", maxTurns)
	onEvent(stream.MaxTurnsReached(maxTurns))
	return l.finish(ctx, span, history, onEvent), nil
}

func (l *Loop) runTurn(ctx context.Context, turn int, history []chat.Message, req *chat.CompletionRequest, onEvent func(stream.Event)) (*chat.Message, *stream.Processor, error) {
	ctx, span := l.tracer.Start(ctx, "runtime.turn", trace.WithAttributes(
		attribute.Int("turn", turn),
	))
	defer span.End()

	s, err := l.provider.CreateStream(ctx, req, l.sequencer.Normalize(history))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "creating stream")
		return nil, nil, fmt.Errorf("creating stream: %w", err)
	}
	defer s.Close()

	// Closing the stream is what unblocks a pending Recv on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		stream.Monitor(monitorCtx, l.logger, s.States())
		return nil
	})

	proc := stream.NewProcessor(
		stream.WithExecutor(l.executor),
		stream.WithLogger(l.logger),
		stream.WithEmitter(onEvent),
	)
	err = l.consume(ctx, s, proc)

	stopMonitor()
	_ = g.Wait()

	msg := proc.FinalMessage()
	if msg == nil {
		if err == nil {
			err = ErrIncompleteStream
		} else {
			err = fmt.Errorf("%w: %w", ErrIncompleteStream, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "incomplete stream")
		return nil, proc, err
	}
	if msg.Model == "" {
		msg.Model = req.Model
	}

	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.Int("tool_calls", len(proc.ToolCalls())),
	)
	span.SetStatus(codes.Ok, "turn completed")
	return msg, proc, nil
}

// consume feeds raw events to proc until the stream ends. Events the
// processor rejects as out of order are skipped; a stream failure ends
// the turn.
func (l *Loop) consume(ctx context.Context, s stream.Stream, proc *stream.Processor) error {
	for {
		raw, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("receiving stream event: %w", err)
		}

		if err := proc.HandleEvent(ctx, raw); err != nil {
			if errors.Is(err, stream.ErrUnexpectedEvent) {
				continue
			}
			return err
		}
		if proc.State() == stream.StateComplete {
			return nil
		}
	}
}

func (l *Loop) append(ctx context.Context, history []chat.Message, msg chat.Message) []chat.Message {
	history = append(history, msg)
	if l.store == nil {
		return history
	}
	if err := l.store.AddMessage(ctx, l.sessionID, &msg); err != nil {
		l.logger.Error("Failed to persist message", "session_id", l.sessionID, "message_id", msg.ID, "error", err)
	}
	return history
}

func (l *Loop) finish(ctx context.Context, span trace.Span, history []chat.Message, onEvent func(stream.Event)) []chat.Message {
	history = l.sequencer.Validate(ctx, history)
	span.SetStatus(codes.Ok, "run completed")
	onEvent(stream.Completed())
	return history
}

func (l *Loop) abort(ctx context.Context, span trace.Span, history []chat.Message, turn int, err error, onEvent func(stream.Event)) ([]chat.Message, error) {
	runErr := &RunError{Turn: turn, Err: err}
	span.RecordError(runErr)
	span.SetStatus(codes.Error, "run failed")

	if errors.Is(err, context.Canceled) {
		l.logger.Debug("Agent run canceled", "turn", turn)
	} else {
		l.logger.Error("Agent run failed", "turn", turn, "status_code", StatusCode(err), "retryable", IsRetryable(err), "error", err)
		onEvent(stream.Error(runErr.Error()))
	}

	history = l.sequencer.Validate(ctx, history)
	return history, runErr
}
