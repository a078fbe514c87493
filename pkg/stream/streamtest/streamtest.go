// Package streamtest provides an in-memory stream.Stream for tests.
package streamtest

import (
	"io"
	"sync"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/stream"
)

// Stream replays a fixed list of raw events.
type Stream struct {
	mu     sync.Mutex
	events []stream.RawEvent
	idx    int
	err    error
	closed bool
	block  chan struct{}
	feed   *stream.StateFeed
}

func (s *Stream) Recv() (stream.RawEvent, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	if s.idx >= len(s.events) {
		block := s.block
		err := s.err
		s.mu.Unlock()
		if block != nil {
			<-block
			return nil, io.ErrClosedPipe
		}
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	ev := s.events[s.idx]
	s.idx++
	s.mu.Unlock()
	return ev, nil
}

func (s *Stream) States() <-chan stream.ConnectionState {
	return s.feed.States()
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.block != nil {
		close(s.block)
	}
	s.feed.Close(nil)
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Builder assembles raw event sequences fluently.
type Builder struct {
	events []stream.RawEvent
	err    error
	block  bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Add(events ...stream.RawEvent) *Builder {
	b.events = append(b.events, events...)
	return b
}

func (b *Builder) Start(id string) *Builder {
	return b.Add(stream.MessageStart{ID: id, Model: "test-model"})
}

// Text adds a complete text block at index.
func (b *Builder) Text(index int, chunks ...string) *Builder {
	b.Add(stream.BlockStart{Index: index, Kind: stream.BlockText})
	for _, c := range chunks {
		b.Add(stream.BlockDelta{Index: index, Kind: stream.DeltaText, Text: c})
	}
	return b.Add(stream.BlockStop{Index: index})
}

// Thinking adds a complete thinking block at index.
func (b *Builder) Thinking(index int, text, signature string) *Builder {
	b.Add(
		stream.BlockStart{Index: index, Kind: stream.BlockThinking},
		stream.BlockDelta{Index: index, Kind: stream.DeltaThinking, Text: text},
	)
	if signature != "" {
		b.Add(stream.BlockDelta{Index: index, Kind: stream.DeltaSignature, Text: signature})
	}
	return b.Add(stream.BlockStop{Index: index})
}

// ToolUse adds a complete tool use block at index.
func (b *Builder) ToolUse(index int, id, name string, jsonChunks ...string) *Builder {
	b.Add(stream.BlockStart{Index: index, Kind: stream.BlockToolUse, ToolID: id, ToolName: name})
	for _, c := range jsonChunks {
		b.Add(stream.BlockDelta{Index: index, Kind: stream.DeltaJSON, Text: c})
	}
	return b.Add(stream.BlockStop{Index: index})
}

func (b *Builder) Stop(reason string) *Builder {
	return b.Add(
		stream.MessageDelta{StopReason: reason, Usage: &chat.Usage{InputTokens: 10, OutputTokens: 5}},
		stream.MessageStop{},
	)
}

// Fail makes Recv return err once the events are exhausted.
func (b *Builder) Fail(err error) *Builder {
	b.err = err
	return b
}

// Hang makes Recv block after the events until the stream is closed.
func (b *Builder) Hang() *Builder {
	b.block = true
	return b
}

func (b *Builder) Events() []stream.RawEvent {
	return append([]stream.RawEvent(nil), b.events...)
}

func (b *Builder) Build() *Stream {
	s := &Stream{
		events: b.Events(),
		err:    b.err,
		feed:   stream.NewStateFeed(),
	}
	if b.block {
		s.block = make(chan struct{})
	}
	s.feed.Publish(stream.ConnectionState{Status: stream.StatusConnecting})
	s.feed.Publish(stream.ConnectionState{Status: stream.StatusConnected})
	return s
}
