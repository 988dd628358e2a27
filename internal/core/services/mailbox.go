package services

import (
	"context"
	"sync"

	"github.com/manthysbr/deep-research/internal/core/domain"
)

// Mailbox is a bounded FIFO handing values from producers to one consumer.
// TrySend rejects when full; Send blocks until there is room or ctx is done.
// Close is idempotent and independent of any other mailbox. Callers blocked
// in Send delay Close, so cancel their ctx first.
type Mailbox[T any] struct {
	mu     sync.RWMutex
	closed bool
	ch     chan T
}

func NewMailbox[T any](capacity int) *Mailbox[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Mailbox[T]{ch: make(chan T, capacity)}
}

// TrySend enqueues v without blocking.
func (m *Mailbox[T]) TrySend(v T) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return domain.ErrMailboxClosed
	}
	select {
	case m.ch <- v:
		return nil
	default:
		return domain.ErrMailboxFull
	}
}

// Send enqueues v, waiting for room.
func (m *Mailbox[T]) Send(ctx context.Context, v T) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return domain.ErrMailboxClosed
	}
	select {
	case m.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C is the consumer side. It is closed by Close once buffered values are read.
func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}

// Close stops further sends. It reports whether this call closed the mailbox.
func (m *Mailbox[T]) Close() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.closed = true
	close(m.ch)
	return true
}

// CloseWith closes the mailbox with a final value that the consumer always
// receives. When the buffer is full the oldest buffered values are discarded
// to make room; last gets their count. It reports false if the mailbox was
// already closed.
func (m *Mailbox[T]) CloseWith(last func(evicted int) T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	// Senders are excluded by the write lock, so the buffer only shrinks.
	evicted := 0
	for len(m.ch) == cap(m.ch) {
		select {
		case <-m.ch:
			evicted++
		default:
		}
	}
	m.ch <- last(evicted)
	m.closed = true
	close(m.ch)
	return true
}

// Drain removes and returns whatever is buffered without blocking.
func (m *Mailbox[T]) Drain() []T {
	var out []T
	for {
		select {
		case v, ok := <-m.ch:
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func (m *Mailbox[T]) Cap() int { return cap(m.ch) }
