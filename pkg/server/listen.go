package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/agentloop/pkg/config"
)

// Listen opens a listener for addr. Supported forms are a plain host:port,
// tcp://host:port, unix:///path/to/socket, npipe:////./pipe/name and
// fd://N for socket activation. An empty addr uses the default address.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	if addr == "" {
		addr = config.DefaultListenAddr
	}

	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok {
		return listenTCP(ctx, addr)
	}

	switch scheme {
	case "tcp":
		return listenTCP(ctx, rest)
	case "unix":
		return listenUnix(ctx, rest)
	case "npipe":
		return listenNamedPipe(rest)
	case "fd":
		fd, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid file descriptor %q: %w", rest, err)
		}
		f := os.NewFile(uintptr(fd), "listener-"+rest)
		defer f.Close()
		return net.FileListener(f)
	default:
		return nil, fmt.Errorf("unsupported listen address scheme %q", scheme)
	}
}

func listenUnix(ctx context.Context, path string) (net.Listener, error) {
	if path == "" {
		return nil, fmt.Errorf("empty unix socket path")
	}
	// A stale socket from a previous run would make the bind fail.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	return lc.Listen(ctx, "unix", path)
}

func listenTCP(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}
