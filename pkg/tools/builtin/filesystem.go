package builtin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/agentloop/pkg/tools"
)

const (
	ToolNameReadFile      = "read_file"
	ToolNameListDirectory = "list_directory"

	maxReadBytes = 256 * 1024
)

// FilesystemTool gives read-only access to files below a root directory.
type FilesystemTool struct {
	root string
}

var _ tools.ToolSet = (*FilesystemTool)(nil)

type ReadFileArgs struct {
	Path string `json:"path" jsonschema:"Path of the file to read, relative to the working directory"`
}

type ListDirectoryArgs struct {
	Path string `json:"path" jsonschema:"Directory to list, relative to the working directory"`
}

func NewFilesystemTool(root string) *FilesystemTool {
	return &FilesystemTool{root: root}
}

func (t *FilesystemTool) Tools(context.Context) ([]tools.Tool, error) {
	return []tools.Tool{
		{
			Name:        ToolNameReadFile,
			Description: "Read the complete contents of a file.",
			Parameters:  tools.MustSchemaFor[ReadFileArgs](),
			Annotations: tools.Annotations{Title: "Read file", ReadOnlyHint: true},
		},
		{
			Name:        ToolNameListDirectory,
			Description: "List the entries of a directory. Directories are suffixed with a slash.",
			Parameters:  tools.MustSchemaFor[ListDirectoryArgs](),
			Annotations: tools.Annotations{Title: "List directory", ReadOnlyHint: true},
		},
	}, nil
}

func (t *FilesystemTool) CallTool(ctx context.Context, call tools.ToolCall) (*tools.ToolCallResult, error) {
	return handlerSet{
		ToolNameReadFile:      tools.NewHandler(t.readFile),
		ToolNameListDirectory: tools.NewHandler(t.listDirectory),
	}.call(ctx, call)
}

func (t *FilesystemTool) readFile(_ context.Context, args ReadFileArgs) (*tools.ToolCallResult, error) {
	path, err := t.resolve(args.Path)
	if err != nil {
		return tools.ResultError(err.Error()), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return tools.ResultError(fmt.Sprintf("Error reading file: %v", err)), nil
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return tools.ResultError(fmt.Sprintf("Error reading file: %v", err)), nil
	}
	if len(buf) > maxReadBytes {
		return tools.ResultSuccess(string(buf[:maxReadBytes]) + "\n[truncated]"), nil
	}
	return tools.ResultSuccess(string(buf)), nil
}

func (t *FilesystemTool) listDirectory(_ context.Context, args ListDirectoryArgs) (*tools.ToolCallResult, error) {
	path, err := t.resolve(args.Path)
	if err != nil {
		return tools.ResultError(err.Error()), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return tools.ResultError(fmt.Sprintf("Error listing directory: %v", err)), nil
	}

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Name())
		if e.IsDir() {
			sb.WriteString("/")
		}
		sb.WriteString("\n")
	}
	return tools.ResultSuccess(sb.String()), nil
}

// resolve keeps every path inside the root.
func (t *FilesystemTool) resolve(p string) (string, error) {
	root, err := filepath.Abs(t.root)
	if err != nil {
		return "", err
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, p)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside of the working directory", p)
	}
	return full, nil
}
