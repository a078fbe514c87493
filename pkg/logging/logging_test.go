package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDiscardsByDefault(t *testing.T) {
	t.Parallel()

	logger, closer, err := New(Options{})
	require.NoError(t, err)
	defer closer.Close()

	assert.False(t, logger.Enabled(t.Context(), 0))
}

func TestNewWriterText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(Options{Writer: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("Tool call completed", "tool", "think")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `msg="Tool call completed" tool=think`)
}

func TestNewWriterJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(Options{Writer: &buf, Format: FormatJSON, Debug: true})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("Stream started", "message_id", "m1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "m1", rec["message_id"])
}

func TestNewDebugFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "debug.log")
	logger, closer, err := New(Options{Debug: true, File: path})
	require.NoError(t, err)

	logger.Debug("written to file")
	require.NoError(t, closer.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "written to file")
}
