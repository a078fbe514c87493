package stream

// Stream is one streaming provider call.
//
// Recv returns io.EOF once the provider ended the stream. States exposes the
// connection lifecycle side channel, which is closed when the stream is.
// Close may be called more than once and from another goroutine to abort a
// pending Recv.
type Stream interface {
	Recv() (RawEvent, error)
	States() <-chan ConnectionState
	Close() error
}
