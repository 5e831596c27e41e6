package core

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts a client messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues a text frame without blocking.
	TrySend(Frame) error
	// Ping writes a transport-level liveness probe.
	Ping() error
	IsOpen() bool
	Close()
}
