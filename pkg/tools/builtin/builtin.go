package builtin

import (
	"context"
	"fmt"

	"github.com/docker/agentloop/pkg/tools"
)

// New returns the builtin toolset called name.
func New(name, workingDir string) (tools.ToolSet, error) {
	switch name {
	case ToolNameThink:
		return NewThinkTool(), nil
	case "filesystem", ToolNameReadFile, ToolNameListDirectory:
		return NewFilesystemTool(workingDir), nil
	case ToolNameShell:
		return NewShellTool(workingDir), nil
	default:
		return nil, fmt.Errorf("unknown builtin tool %q", name)
	}
}

// NewToolSets returns the builtin toolsets providing the named tools. Tools
// sharing a toolset, like read_file and list_directory, yield it once. No
// names means every builtin toolset.
func NewToolSets(names []string, workingDir string) ([]tools.ToolSet, error) {
	if len(names) == 0 {
		names = []string{ToolNameThink, "filesystem", ToolNameShell}
	}

	var (
		toolsets []tools.ToolSet
		seen     = map[string]bool{}
	)
	for _, name := range names {
		key := name
		if name == ToolNameReadFile || name == ToolNameListDirectory {
			key = "filesystem"
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		ts, err := New(name, workingDir)
		if err != nil {
			return nil, err
		}
		toolsets = append(toolsets, ts)
	}
	return toolsets, nil
}

type handlerSet map[string]tools.Handler

func (h handlerSet) call(ctx context.Context, call tools.ToolCall) (*tools.ToolCallResult, error) {
	handler, ok := h[call.Name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
	return handler(ctx, call)
}
