// Package input reads user input lines without blocking cancellation.
package input

import (
	"bufio"
	"context"
	"io"
	"sync"
)

type line struct {
	text string
	err  error
}

// Reader reads lines from an underlying reader in the background so that a
// pending read can be abandoned when the context is cancelled.
type Reader struct {
	once  sync.Once
	rd    *bufio.Reader
	lines chan line
}

func NewReader(rd io.Reader) *Reader {
	return &Reader{
		rd:    bufio.NewReader(rd),
		lines: make(chan line, 1),
	}
}

func (r *Reader) start() {
	go func() {
		for {
			text, err := r.rd.ReadString('\n')
			if text != "" && err == io.EOF {
				// Last line without a trailing newline.
				r.lines <- line{text: text}
			}
			if err != nil {
				r.lines <- line{err: err}
				close(r.lines)
				return
			}
			r.lines <- line{text: text}
		}
	}()
}

// ReadLine returns the next line, including its trailing newline, or the
// read error. io.EOF is returned once the input is exhausted.
func (r *Reader) ReadLine(ctx context.Context) (string, error) {
	r.once.Do(r.start)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-r.lines:
		if !ok {
			return "", io.EOF
		}
		return l.text, l.err
	}
}
