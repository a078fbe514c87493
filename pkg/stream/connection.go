package stream

import (
	"context"
	"log/slog"
	"sync"
)

type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionState is one transition of the transport connection. Err is only
// set for StatusDisconnected when the connection ended abnormally.
type ConnectionState struct {
	Status Status
	Err    error
}

const stateFeedBuffer = 8

// StateFeed is the publishing side of a States channel. Publishing never
// blocks: when nobody reads, extra transitions are dropped.
type StateFeed struct {
	mu     sync.Mutex
	ch     chan ConnectionState
	closed bool
}

func NewStateFeed() *StateFeed {
	return &StateFeed{
		ch: make(chan ConnectionState, stateFeedBuffer),
	}
}

func (f *StateFeed) Publish(state ConnectionState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	select {
	case f.ch <- state:
	default:
	}
}

func (f *StateFeed) States() <-chan ConnectionState {
	return f.ch
}

// Close publishes a final disconnected state and closes the channel.
func (f *StateFeed) Close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	select {
	case f.ch <- ConnectionState{Status: StatusDisconnected, Err: err}:
	default:
	}
	f.closed = true
	close(f.ch)
}

// Monitor logs connection transitions until states is closed or ctx is done.
// It only observes: transport failures reach the agent loop through the
// event stream itself.
func Monitor(ctx context.Context, logger *slog.Logger, states <-chan ConnectionState) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			switch {
			case state.Err != nil:
				logger.Warn("Provider connection lost", "status", state.Status.String(), "error", state.Err)
			default:
				logger.Debug("Provider connection state changed", "status", state.Status.String())
			}
		}
	}
}
