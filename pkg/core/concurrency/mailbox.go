package concurrency

import (
	"context"
	"errors"
)

var (
	// ErrMailboxClosed is returned when trying to send/receive on a closed mailbox
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrMailboxFull is returned when trying to send to a full mailbox (backpressure)
	ErrMailboxFull = errors.New("mailbox is full")
)

// Mailbox is a bounded FIFO between goroutines.
// Hides chan type and select statements from application code.
type Mailbox[T any] interface {
	// Send enqueues msg without blocking.
	// Returns ErrMailboxFull if mailbox is full (backpressure)
	// Returns ErrMailboxClosed if mailbox is closed
	Send(msg T) error

	// SendContext enqueues msg, blocking while the mailbox is full.
	// Returns ctx.Err() if ctx ends first, ErrMailboxClosed if the mailbox closes.
	SendContext(ctx context.Context, msg T) error

	// Receive blocks until a message is available or ctx is cancelled.
	// Returns ErrMailboxClosed if mailbox is closed
	Receive(ctx context.Context) (T, error)

	// TryReceive attempts to receive a message without blocking.
	// Returns (msg, true, nil) if a message was available.
	TryReceive() (T, bool, error)

	// Close closes the mailbox. Pending messages are dropped.
	Close()

	// Capacity returns the maximum capacity of the mailbox
	Capacity() int

	// Size returns the current number of messages in the mailbox
	Size() int

	// IsClosed returns true if the mailbox is closed
	IsClosed() bool
}
