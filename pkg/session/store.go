package session

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/concurrent"
)

var (
	ErrEmptyID  = errors.New("session ID cannot be empty")
	ErrNotFound = errors.New("session not found")
)

// Store persists sessions and their messages.
type Store interface {
	AddSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// GetSessionSummaries returns every session, newest first.
	GetSessionSummaries(ctx context.Context) ([]Summary, error)
	DeleteSession(ctx context.Context, id string) error

	// AddMessage appends msg to the session at the next position.
	AddMessage(ctx context.Context, sessionID string, msg *chat.Message) error

	Close() error
}

// InMemoryStore keeps sessions in process memory.
type InMemoryStore struct {
	sessions *concurrent.Map[string, Session]
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: concurrent.NewMap[string, Session](),
	}
}

func (s *InMemoryStore) AddSession(_ context.Context, session *Session) error {
	if session.ID == "" {
		return ErrEmptyID
	}
	cp := *session
	cp.Messages = slices.Clone(session.Messages)
	s.sessions.Store(session.ID, cp)
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	session, ok := s.sessions.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	session.Messages = slices.Clone(session.Messages)
	return &session, nil
}

func (s *InMemoryStore) GetSessionSummaries(_ context.Context) ([]Summary, error) {
	var summaries []Summary
	s.sessions.Range(func(_ string, session Session) bool {
		summaries = append(summaries, session.Summary())
		return true
	})
	sortSummaries(summaries)
	return summaries, nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if _, ok := s.sessions.Load(id); !ok {
		return ErrNotFound
	}
	s.sessions.Delete(id)
	return nil
}

func (s *InMemoryStore) AddMessage(_ context.Context, sessionID string, msg *chat.Message) error {
	if sessionID == "" {
		return ErrEmptyID
	}
	if _, ok := s.sessions.Load(sessionID); !ok {
		return ErrNotFound
	}
	s.sessions.Update(sessionID, func(session Session, _ bool) Session {
		session.Messages = append(slices.Clone(session.Messages), *msg)
		return session
	})
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func sortSummaries(summaries []Summary) {
	slices.SortFunc(summaries, func(a, b Summary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
