package concurrency

import (
	"context"
	"sync"
)

// boundedMailbox implements Mailbox with a buffered channel.
// The data channel is never closed; closing is signalled through done so a
// racing Send cannot panic.
type boundedMailbox[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
	capacity  int
}

// NewBoundedMailbox creates a new bounded mailbox
func NewBoundedMailbox[T any](capacity int) Mailbox[T] {
	if capacity < 1 {
		capacity = 100 // Default capacity
	}

	return &boundedMailbox[T]{
		ch:       make(chan T, capacity),
		done:     make(chan struct{}),
		capacity: capacity,
	}
}

func (mb *boundedMailbox[T]) Send(msg T) error {
	if mb.IsClosed() {
		return ErrMailboxClosed
	}

	select {
	case mb.ch <- msg:
		return nil
	case <-mb.done:
		return ErrMailboxClosed
	default:
		return ErrMailboxFull
	}
}

func (mb *boundedMailbox[T]) SendContext(ctx context.Context, msg T) error {
	if mb.IsClosed() {
		return ErrMailboxClosed
	}

	select {
	case mb.ch <- msg:
		return nil
	case <-mb.done:
		return ErrMailboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *boundedMailbox[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	if mb.IsClosed() {
		return zero, ErrMailboxClosed
	}

	select {
	case msg := <-mb.ch:
		return msg, nil
	case <-mb.done:
		return zero, ErrMailboxClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (mb *boundedMailbox[T]) TryReceive() (T, bool, error) {
	var zero T
	if mb.IsClosed() {
		return zero, false, ErrMailboxClosed
	}

	select {
	case msg := <-mb.ch:
		return msg, true, nil
	default:
		return zero, false, nil
	}
}

func (mb *boundedMailbox[T]) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)
	})
}

func (mb *boundedMailbox[T]) Capacity() int {
	return mb.capacity
}

func (mb *boundedMailbox[T]) Size() int {
	return len(mb.ch)
}

func (mb *boundedMailbox[T]) IsClosed() bool {
	select {
	case <-mb.done:
		return true
	default:
		return false
	}
}
