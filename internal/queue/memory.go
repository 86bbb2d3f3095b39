package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Enqueue after the queue shuts down.
var ErrClosed = errors.New("queue closed")

// Memory is the in-process queue backend, a bounded channel. Suitable for
// single-instance deployments; queued IDs are lost on restart, which is
// recoverable because PENDING calls can be re-enqueued on demand.
type Memory struct {
	ch chan string

	mu     sync.RWMutex
	closed bool
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 256
	}
	return &Memory{ch: make(chan string, size)}
}

func (m *Memory) Enqueue(ctx context.Context, callID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.ch <- callID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Dequeue() <-chan string {
	return m.ch
}

// Close drains nothing: whatever is buffered is still delivered before the
// channel closes. Close waits for in-flight Enqueues to finish.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}
