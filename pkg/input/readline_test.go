package input

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLineKeepsBufferedInput(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("first\nsecond\nlast"))

	for _, want := range []string{"first\n", "second\n", "last"} {
		got, err := r.ReadLine(t.Context())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := r.ReadLine(t.Context())
	require.ErrorIs(t, err, io.EOF)
	_, err = r.ReadLine(t.Context())
	require.ErrorIs(t, err, io.EOF)
}

func TestReadLineCancelled(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := NewReader(pr).ReadLine(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
