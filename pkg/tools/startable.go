package tools

import (
	"context"
	"sync"
)

// StartableToolSet wraps a ToolSet with lazy, single-flight start semantics.
type StartableToolSet struct {
	ToolSet

	mu      sync.Mutex
	started bool
}

func NewStartable(ts ToolSet) *StartableToolSet {
	return &StartableToolSet{ToolSet: ts}
}

func (s *StartableToolSet) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Start starts the toolset once. Concurrent callers block until the attempt
// completes; a failed attempt is retried by the next call. Toolsets that
// are not Startable start trivially.
func (s *StartableToolSet) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if startable, ok := s.ToolSet.(Startable); ok {
		if err := startable.Start(ctx); err != nil {
			return err
		}
	}
	s.started = true
	return nil
}

func (s *StartableToolSet) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	if startable, ok := s.ToolSet.(Startable); ok {
		return startable.Stop(ctx)
	}
	return nil
}

// StopAll stops every toolset, returning the first error.
func StopAll(ctx context.Context, toolsets []*StartableToolSet) error {
	var first error
	for _, ts := range toolsets {
		if err := ts.Stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
