package session

import (
	"context"
	"sync"
)

// commitQueue is an unbounded FIFO of committed source segments. Growth is
// naturally bounded by translation throughput and session stop; a fixed-cap
// channel would instead stall the commit router behind a slow LLM.
type commitQueue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	wake   chan struct{}
}

func newCommitQueue() *commitQueue {
	return &commitQueue{wake: make(chan struct{}, 1)}
}

// push appends a segment. Pushes after close are dropped.
func (q *commitQueue) push(s string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, s)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop blocks until a segment is available, the queue is closed and drained,
// or ctx is cancelled.
func (q *commitQueue) pop(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			s := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return s, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", false
		}
		select {
		case <-q.wake:
		case <-ctx.Done():
			return "", false
		}
	}
}

// empty reports whether the queue currently holds no segments.
func (q *commitQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// close stops accepting pushes and wakes any blocked pop.
func (q *commitQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
