package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"docgen-backend/internal/shared/telemetry"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	ErrQueueFull   = errors.New("queue is full")
)

// MemoryQueue is a buffered in-process queue used when no broker is configured.
type MemoryQueue struct {
	mu     sync.RWMutex
	msgs   chan Message
	closed bool
}

// NewMemoryQueue creates a queue holding at most size pending messages.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{msgs: make(chan Message, size)}
}

// Send enqueues msg without blocking.
func (q *MemoryQueue) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.msgs <- msg:
		telemetry.Debug("queue.enqueued", map[string]any{
			"task_id":   msg.TaskID,
			"queue_len": len(q.msgs),
			"queue_cap": cap(q.msgs),
		})
		return nil
	default:
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, cap(q.msgs))
	}
}

// Close stops accepting messages. Pending messages are still delivered.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.msgs)
}

// Messages returns the channel workers consume from.
func (q *MemoryQueue) Messages() <-chan Message {
	return q.msgs
}

var _ Client = (*MemoryQueue)(nil)
