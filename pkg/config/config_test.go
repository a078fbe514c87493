package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/environment"
)

const fullConfig = `model:
  provider: anthropic
  model: claude-sonnet-4-5
  max_tokens: 4096
agent:
  instruction: You are a helpful assistant.
  max_turns: 5
  tool_choice: auto
toolsets:
  - type: builtin
    tools: [think, read_file]
  - type: mcp
    command: uvx
    args: [mcp-server-time]
  - type: mcp
    remote:
      url: https://example.com/mcp
storage:
  path: /tmp/sessions.db
server:
  listen: 127.0.0.1:9090
`

func load(t *testing.T, data string) (*Config, error) {
	t.Helper()
	return Load(t.Context(), NewBytesSource("test.yaml", []byte(data)))
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, fullConfig)
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Model.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model.Model)
	require.NotNil(t, cfg.Model.MaxTokens)
	assert.Equal(t, int64(4096), *cfg.Model.MaxTokens)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Model.TokenKey)
	assert.Equal(t, 5, cfg.Agent.MaxTurns)
	require.Len(t, cfg.Toolsets, 3)
	assert.Equal(t, []string{"think", "read_file"}, cfg.Toolsets[0].Tools)
	assert.Equal(t, "uvx", cfg.Toolsets[1].Command)
	assert.Equal(t, "https://example.com/mcp", cfg.Toolsets[2].Remote.URL)
	assert.Equal(t, "/tmp/sessions.db", cfg.Storage.Path)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Listen)

	req := cfg.CompletionRequest()
	assert.Equal(t, "claude-sonnet-4-5", req.Model)
	assert.Equal(t, 5, req.Turns())
	assert.Equal(t, "You are a helpful assistant.", req.SystemPrompt)
	assert.True(t, req.Stream)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, "model:\n  provider: openai\n  model: gpt-4o\n")
	require.NoError(t, err)

	assert.Equal(t, chat.DefaultMaxTurns, cfg.Agent.MaxTurns)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Model.TokenKey)
	assert.Equal(t, DefaultListenAddr, cfg.Server.Listen)
	assert.Equal(t, "sessions.db", filepath.Base(cfg.Storage.Path))
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{
			name:    "unknown provider",
			config:  "model:\n  provider: acme\n  model: x\n",
			wantErr: `unknown provider "acme"`,
		},
		{
			name:    "missing model",
			config:  "model:\n  provider: openai\n",
			wantErr: "model.model is required",
		},
		{
			name:    "negative max turns",
			config:  "model:\n  provider: openai\n  model: x\nagent:\n  max_turns: -1\n",
			wantErr: "agent.max_turns must not be negative",
		},
		{
			name:    "zero max tokens",
			config:  "model:\n  provider: openai\n  model: x\n  max_tokens: 0\n",
			wantErr: "model.max_tokens must be positive",
		},
		{
			name:    "mcp without command",
			config:  "model:\n  provider: openai\n  model: x\ntoolsets:\n  - type: mcp\n",
			wantErr: "toolsets[0]: mcp toolsets need a command or a remote",
		},
		{
			name:    "unknown toolset",
			config:  "model:\n  provider: openai\n  model: x\ntoolsets:\n  - type: magic\n",
			wantErr: `unknown toolset type "magic"`,
		},
		{
			name:    "unknown field",
			config:  "model:\n  provider: openai\n  model: x\n  colour: blue\n",
			wantErr: "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := load(t, tt.config)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{Agent: AgentConfig{MaxTurns: -2}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.provider is required")
	assert.Contains(t, err.Error(), "model.model is required")
	assert.Contains(t, err.Error(), "agent.max_turns")
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := fs.NewDir(t, "config", fs.WithFile("agent.yaml", fullConfig))

	cfg, err := Load(t.Context(), NewFileSource(dir.Join("agent.yaml")))
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model.Model)

	_, err = Load(t.Context(), NewFileSource(dir.Join("missing.yaml")))
	require.ErrorContains(t, err, "reading config file")
}

func TestCheckRequiredEnvVars(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, "model:\n  provider: anthropic\n  model: x\n")
	require.NoError(t, err)

	err = CheckRequiredEnvVars(t.Context(), cfg, environment.MapProvider{})
	var reqErr *environment.RequiredEnvError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, []string{"ANTHROPIC_API_KEY"}, reqErr.Missing)

	require.NoError(t, CheckRequiredEnvVars(t.Context(), cfg, environment.MapProvider{"ANTHROPIC_API_KEY": "k"}))

	bedrock, err := load(t, "model:\n  provider: amazon-bedrock\n  model: x\n")
	require.NoError(t, err)
	require.NoError(t, CheckRequiredEnvVars(t.Context(), bedrock, environment.MapProvider{}))
}

func TestWatchReloads(t *testing.T) {
	t.Parallel()

	dir := fs.NewDir(t, "watch", fs.WithFile("agent.yaml", "model:\n  provider: openai\n  model: first\n"))
	path := dir.Join("agent.yaml")

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, slog.New(slog.DiscardHandler), func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("model:\n  provider: openai\n  model: second\n"), 0o600))

	select {
	case cfg := <-changes:
		assert.Equal(t, "second", cfg.Model.Model)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}

	cancel()
	require.NoError(t, <-done)
}
