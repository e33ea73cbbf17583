package kernel

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMailboxFull indicates Post timed out.
	ErrMailboxFull = errors.New("mailbox full")
	// ErrMailboxEmpty indicates Receive timed out.
	ErrMailboxEmpty = errors.New("mailbox empty")
)

// Mailbox is a bounded message queue between tasks.
type Mailbox struct {
	ch chan interface{}
}

// NewMailbox creates a Mailbox holding up to size messages.
func NewMailbox(size int) *Mailbox {
	if size < 1 {
		size = 1
	}
	return &Mailbox{ch: make(chan interface{}, size)}
}

// Post enqueues msg, waiting at most timeout for a free slot.
func (m *Mailbox) Post(msg interface{}, timeout time.Duration) error {
	select {
	case m.ch <- msg:
		return nil
	default:
	}
	if timeout <= 0 {
		return ErrMailboxFull
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m.ch <- msg:
		return nil
	case <-timer.C:
		return ErrMailboxFull
	}
}

// Receive dequeues a message, waiting at most timeout.
func (m *Mailbox) Receive(timeout time.Duration) (interface{}, error) {
	return m.ReceiveContext(context.Background(), timeout)
}

// ReceiveContext is Receive which also returns when ctx is done.
func (m *Mailbox) ReceiveContext(ctx context.Context, timeout time.Duration) (interface{}, error) {
	select {
	case msg := <-m.ch:
		return msg, nil
	default:
	}
	if timeout <= 0 {
		return nil, ErrMailboxEmpty
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-m.ch:
		return msg, nil
	case <-timer.C:
		return nil, ErrMailboxEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	return len(m.ch)
}
