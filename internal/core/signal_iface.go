package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded outbound message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// ID is a process-unique label for logs.
	ID() string
	// TrySend queues f without blocking. It fails with ErrBackpressure when the
	// queue is full and ErrConnClosed once Close was called.
	TrySend(f Frame) error
	Close()
}
