package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/docker/agentloop/pkg/tools"
)

const (
	ToolNameShell = "shell"

	defaultShellTimeout = 2 * time.Minute
)

type ShellTool struct {
	workingDir string
	timeout    time.Duration
}

var _ tools.ToolSet = (*ShellTool)(nil)

type RunShellArgs struct {
	Cmd     string `json:"cmd" jsonschema:"The shell command to execute"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"Timeout in seconds"`
}

func NewShellTool(workingDir string) *ShellTool {
	return &ShellTool{
		workingDir: workingDir,
		timeout:    defaultShellTimeout,
	}
}

func (t *ShellTool) Tools(context.Context) ([]tools.Tool, error) {
	return []tools.Tool{
		{
			Name:        ToolNameShell,
			Description: "Run a shell command in the working directory and return its combined output.",
			Parameters:  tools.MustSchemaFor[RunShellArgs](),
			Annotations: tools.Annotations{Title: "Shell"},
		},
	}, nil
}

func (t *ShellTool) CallTool(ctx context.Context, call tools.ToolCall) (*tools.ToolCallResult, error) {
	return handlerSet{ToolNameShell: tools.NewHandler(t.run)}.call(ctx, call)
}

func (t *ShellTool) run(ctx context.Context, args RunShellArgs) (*tools.ToolCallResult, error) {
	timeout := t.timeout
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell, flag := "/bin/sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd.exe", "/C"
	}

	cmd := exec.CommandContext(ctx, shell, flag, args.Cmd)
	cmd.Dir = t.workingDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return tools.ResultError(fmt.Sprintf("Command timed out after %s\nOutput: %s", timeout, out.String())), nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		return tools.ResultError(fmt.Sprintf("Error executing command: %s\nOutput: %s", err, out.String())), nil
	}
	return tools.ResultSuccess(out.String()), nil
}
