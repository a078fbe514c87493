package stream

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStateFeed_PublishNeverBlocks(t *testing.T) {
	t.Parallel()

	feed := NewStateFeed()
	for range stateFeedBuffer * 3 {
		feed.Publish(ConnectionState{Status: StatusConnected})
	}
	feed.Close(nil)
	feed.Close(nil)
	feed.Publish(ConnectionState{Status: StatusConnecting})

	n := 0
	for range feed.States() {
		n++
	}
	assert.Equal(t, stateFeedBuffer, n)
}

func TestMonitor_LogsUntilClosed(t *testing.T) {
	t.Parallel()

	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	feed := NewStateFeed()
	feed.Publish(ConnectionState{Status: StatusConnecting})
	feed.Publish(ConnectionState{Status: StatusConnected})
	feed.Close(errors.New("reset by peer"))

	done := make(chan struct{})
	go func() {
		Monitor(t.Context(), logger, feed.States())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not return after the feed closed")
	}

	logs := out.String()
	assert.Contains(t, logs, "status=connecting")
	assert.Contains(t, logs, "status=connected")
	assert.Contains(t, logs, "reset by peer")
}

func TestMonitor_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		Monitor(ctx, slog.New(slog.DiscardHandler), nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor ignored cancellation")
	}
}
