package base

import (
	"errors"
	"io"
	"slices"
	"sync"

	"github.com/docker/agentloop/pkg/stream"
)

// NextFunc pulls the events decoded from the next provider chunk. It
// returns io.EOF once the provider is done. An empty batch is allowed.
type NextFunc func() ([]stream.RawEvent, error)

// Stream adapts a provider SDK stream to stream.Stream. Recv is only called
// from one goroutine; Close may race with it.
type Stream struct {
	next      NextFunc
	closer    func() error
	feed      *stream.StateFeed
	queue     []stream.RawEvent
	connected bool
	done      bool
	closeOnce sync.Once
	closeErr  error
}

var _ stream.Stream = (*Stream)(nil)

func NewStream(next NextFunc, closer func() error) *Stream {
	feed := stream.NewStateFeed()
	feed.Publish(stream.ConnectionState{Status: stream.StatusConnecting})

	return &Stream{
		next:   next,
		closer: closer,
		feed:   feed,
	}
}

func (s *Stream) Recv() (stream.RawEvent, error) {
	for len(s.queue) == 0 {
		if s.done {
			return nil, io.EOF
		}

		events, err := s.next()
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				s.feed.Close(nil)
				return nil, io.EOF
			}
			s.feed.Close(err)
			return nil, err
		}

		if !s.connected {
			s.connected = true
			s.feed.Publish(stream.ConnectionState{Status: stream.StatusConnected})
		}
		s.queue = events
	}

	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

func (s *Stream) States() <-chan stream.ConnectionState {
	return s.feed.States()
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer()
		}
		s.feed.Close(nil)
	})
	return s.closeErr
}

// Blocks tracks which content block indexes an adapter has opened, for
// providers whose wire format has no explicit block start or stop.
type Blocks struct {
	open map[int]stream.BlockKind
}

func NewBlocks() *Blocks {
	return &Blocks{open: make(map[int]stream.BlockKind)}
}

// Ensure returns the BlockStart for index when it is not open yet.
func (b *Blocks) Ensure(index int, kind stream.BlockKind) []stream.RawEvent {
	if _, ok := b.open[index]; ok {
		return nil
	}
	b.open[index] = kind
	return []stream.RawEvent{stream.BlockStart{Index: index, Kind: kind}}
}

// Start records an explicitly started block.
func (b *Blocks) Start(start stream.BlockStart) stream.RawEvent {
	b.open[start.Index] = start.Kind
	return start
}

func (b *Blocks) IsOpen(index int) bool {
	_, ok := b.open[index]
	return ok
}

// Stop closes index if it is open.
func (b *Blocks) Stop(index int) []stream.RawEvent {
	if _, ok := b.open[index]; !ok {
		return nil
	}
	delete(b.open, index)
	return []stream.RawEvent{stream.BlockStop{Index: index}}
}

// StopAll closes every open block in index order.
func (b *Blocks) StopAll() []stream.RawEvent {
	indexes := make([]int, 0, len(b.open))
	for index := range b.open {
		indexes = append(indexes, index)
	}
	slices.Sort(indexes)

	events := make([]stream.RawEvent, 0, len(indexes))
	for _, index := range indexes {
		events = append(events, stream.BlockStop{Index: index})
	}
	clear(b.open)
	return events
}
