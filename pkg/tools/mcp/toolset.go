package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docker/agentloop/pkg/httpclient"
	"github.com/docker/agentloop/pkg/tools"
	"github.com/docker/agentloop/pkg/version"
)

// Toolset exposes the tools of one MCP server.
type Toolset struct {
	connect    func() (mcp.Transport, error)
	logType    string
	logID      string
	toolFilter []string
	logger     *slog.Logger

	mu      sync.Mutex
	session *mcp.ClientSession
}

var (
	_ tools.ToolSet   = (*Toolset)(nil)
	_ tools.Startable = (*Toolset)(nil)
)

type Opt func(*Toolset)

// WithToolFilter only exposes the named tools.
func WithToolFilter(names []string) Opt {
	return func(ts *Toolset) {
		ts.toolFilter = names
	}
}

func WithLogger(logger *slog.Logger) Opt {
	return func(ts *Toolset) {
		ts.logger = logger
	}
}

func newToolset(logType, logID string, connect func() (mcp.Transport, error), opts ...Opt) *Toolset {
	ts := &Toolset{
		connect: connect,
		logType: logType,
		logID:   logID,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// NewToolsetCommand creates a toolset backed by an MCP server launched as a
// subprocess speaking over stdio.
func NewToolsetCommand(command string, args []string, env map[string]string, opts ...Opt) *Toolset {
	return newToolset("command", command, func() (mcp.Transport, error) {
		cmd := exec.Command(command, args...)
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	}, opts...)
}

// NewRemoteToolset creates a toolset backed by a streamable HTTP MCP server.
func NewRemoteToolset(url string, headers map[string]string, opts ...Opt) *Toolset {
	return newToolset("remote", url, func() (mcp.Transport, error) {
		clientOpts := make([]httpclient.Opt, 0, len(headers))
		for k, v := range headers {
			clientOpts = append(clientOpts, httpclient.WithHeader(k, v))
		}
		return &mcp.StreamableClientTransport{
			Endpoint:   url,
			HTTPClient: httpclient.NewHTTPClient(clientOpts...),
		}, nil
	}, opts...)
}

func (ts *Toolset) Start(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.session != nil {
		return errors.New("toolset already started")
	}

	transport, err := ts.connect()
	if err != nil {
		return err
	}

	ts.logger.Debug("Starting MCP toolset", ts.logType, ts.logID)

	client := mcp.NewClient(&mcp.Implementation{Name: "agentloop", Version: version.Version}, nil)
	// The session outlives the request that happened to start it.
	session, err := client.Connect(context.WithoutCancel(ctx), transport, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize MCP client: %w", err)
	}
	ts.session = session

	ts.logger.Debug("Started MCP toolset", ts.logType, ts.logID)
	return nil
}

func (ts *Toolset) Stop(context.Context) error {
	ts.mu.Lock()
	session := ts.session
	ts.session = nil
	ts.mu.Unlock()

	if session == nil {
		return nil
	}

	ts.logger.Debug("Stopping MCP toolset", ts.logType, ts.logID)
	if err := session.Close(); err != nil {
		ts.logger.Error("Failed to stop MCP toolset", ts.logType, ts.logID, "error", err)
		return err
	}
	return nil
}

func (ts *Toolset) current() (*mcp.ClientSession, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.session == nil {
		return nil, errors.New("toolset not started")
	}
	return ts.session, nil
}

func (ts *Toolset) Tools(ctx context.Context) ([]tools.Tool, error) {
	session, err := ts.current()
	if err != nil {
		return nil, err
	}

	var list []tools.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		if len(ts.toolFilter) > 0 && !slices.Contains(ts.toolFilter, t.Name) {
			continue
		}

		tool := tools.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  inputSchema(t.InputSchema),
		}
		if t.Annotations != nil {
			tool.Annotations = tools.Annotations{
				Title:        t.Annotations.Title,
				ReadOnlyHint: t.Annotations.ReadOnlyHint,
			}
		}
		list = append(list, tool)
	}

	ts.logger.Debug("Listed MCP tools", ts.logType, ts.logID, "count", len(list))
	return list, nil
}

func (ts *Toolset) CallTool(ctx context.Context, call tools.ToolCall) (*tools.ToolCallResult, error) {
	session, err := ts.current()
	if err != nil {
		return nil, err
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	resp, err := session.CallTool(ctx, &mcp.CallToolParams{Name: call.Name, Arguments: args})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}

	result := processContent(resp)
	ts.logger.Debug("MCP tool call completed", "tool", call.Name, "output_length", len(result.Content))
	return result, nil
}

// inputSchema normalizes whatever schema value the SDK decoded into a plain
// JSON object.
func inputSchema(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	buf, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil
	}
	return m
}

func processContent(res *mcp.CallToolResult) *tools.ToolCallResult {
	var out strings.Builder
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			out.WriteString(text.Text)
		}
	}
	return &tools.ToolCallResult{
		IsError: res.IsError,
		Content: out.String(),
	}
}
