package server

import (
	"net"

	winio "github.com/Microsoft/go-winio"
)

// listenNamedPipe restricts the pipe to the current user and the local
// system account.
func listenNamedPipe(path string) (net.Listener, error) {
	return winio.ListenPipe(path, &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;OW)(A;;GA;;;SY)",
		InputBufferSize:    64 * 1024,
		OutputBufferSize:   64 * 1024,
	})
}
