package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/docker/agentloop/pkg/api"
	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/concurrent"
	"github.com/docker/agentloop/pkg/model/provider"
	"github.com/docker/agentloop/pkg/runtime"
	"github.com/docker/agentloop/pkg/session"
	"github.com/docker/agentloop/pkg/stream"
	"github.com/docker/agentloop/pkg/tools"
)

// ErrSessionBusy is returned when a run is requested on a session that is
// already running.
var ErrSessionBusy = errors.New("session is already running")

// Agent is everything a run needs besides the conversation. It is swapped
// as a whole when the configuration changes.
type Agent struct {
	Provider provider.Provider
	Executor tools.Executor
	Request  *chat.CompletionRequest
}

// SessionManager runs agent loops on stored sessions.
type SessionManager struct {
	store   session.Store
	agent   atomic.Pointer[Agent]
	running *concurrent.Map[string, context.CancelFunc]
	// streams mirrors the assistant message being streamed in each
	// running session; current maps session ids to that message id.
	streams *stream.StateStore
	current *concurrent.Map[string, string]
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewSessionManager(store session.Store, agent *Agent, logger *slog.Logger, tracer trace.Tracer) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	sm := &SessionManager{
		store:   store,
		running: concurrent.NewMap[string, context.CancelFunc](),
		streams: stream.NewStateStore(),
		current: concurrent.NewMap[string, string](),
		logger:  logger,
		tracer:  tracer,
	}
	sm.agent.Store(agent)
	return sm
}

// SetAgent replaces the agent used by future runs. Runs in flight keep
// the agent they started with.
func (sm *SessionManager) SetAgent(agent *Agent) {
	sm.agent.Store(agent)
	sm.logger.Info("Agent updated", "provider", agent.Provider.ID())
}

func (sm *SessionManager) GetSessions(ctx context.Context) ([]session.Summary, error) {
	return sm.store.GetSessionSummaries(ctx)
}

func (sm *SessionManager) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return sm.store.GetSession(ctx, id)
}

// Streaming returns the in-progress assistant message of a running session.
func (sm *SessionManager) Streaming(id string) (stream.StreamingState, bool) {
	messageID, ok := sm.current.Load(id)
	if !ok {
		return stream.StreamingState{}, false
	}
	return sm.streams.Get(messageID)
}

// DeleteSession cancels any run on the session and removes it.
func (sm *SessionManager) DeleteSession(ctx context.Context, id string) error {
	if cancel, ok := sm.running.Load(id); ok {
		cancel()
	}
	return sm.store.DeleteSession(ctx, id)
}

// RunSession appends the user message to the session, creating the session
// if needed, and runs the agent loop in the background. The returned
// channel carries the run's events and is closed when the run ends.
// Cancelling ctx cancels the run.
func (sm *SessionManager) RunSession(ctx context.Context, id string, req api.RunRequest) (<-chan stream.Event, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, errors.New("message is required")
	}

	agent := sm.agent.Load()
	if agent == nil {
		return nil, errors.New("no agent configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	claimed := false
	sm.running.Update(id, func(current context.CancelFunc, ok bool) context.CancelFunc {
		if ok {
			return current
		}
		claimed = true
		return cancel
	})
	if !claimed {
		cancel()
		return nil, ErrSessionBusy
	}

	history, err := sm.prepare(ctx, id, req.Title, message)
	if err != nil {
		sm.running.Delete(id)
		cancel()
		return nil, err
	}

	loop := runtime.New(agent.Provider,
		runtime.WithExecutor(agent.Executor),
		runtime.WithLogger(sm.logger.With("session_id", id)),
		runtime.WithTracer(sm.tracer),
		runtime.WithStore(sm.store, id),
	)

	events := make(chan stream.Event, 64)
	go func() {
		defer close(events)
		defer sm.running.Delete(id)
		defer sm.forget(id)
		defer cancel()

		_, err := loop.Run(runCtx, history, agent.Request, func(ev stream.Event) {
			sm.track(id, ev)
			select {
			case events <- ev:
			case <-runCtx.Done():
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			sm.logger.Error("Session run failed", "session_id", id, "error", err)
		}
	}()

	return events, nil
}

func (sm *SessionManager) track(id string, ev stream.Event) {
	if started, ok := ev.(*stream.StreamTaskStartedEvent); ok {
		if previous, ok := sm.current.Load(id); ok {
			sm.streams.Delete(previous)
		}
		sm.current.Store(id, started.MessageID)
	}
	sm.streams.Apply(ev)
}

func (sm *SessionManager) forget(id string) {
	if messageID, ok := sm.current.Load(id); ok {
		sm.streams.Delete(messageID)
	}
	sm.current.Delete(id)
}

func (sm *SessionManager) prepare(ctx context.Context, id, title, message string) ([]chat.Message, error) {
	user := chat.NewUserMessage(message)

	sess, err := sm.store.GetSession(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		sess = session.New(
			session.WithID(id),
			session.WithTitle(cmp.Or(title, session.TitleFrom(message))),
			session.WithMessages(user),
		)
		if err := sm.store.AddSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		return sess.Messages, nil
	case err != nil:
		return nil, err
	}

	if err := sm.store.AddMessage(ctx, id, &user); err != nil {
		return nil, fmt.Errorf("storing message: %w", err)
	}
	return append(sess.Messages, user), nil
}
