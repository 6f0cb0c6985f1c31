package exchange

import (
	"context"

	"kingdom-core/internal/ledger"
)

// Submission is an order request queued for asynchronous execution, used by
// automated sources such as trading bots.
type Submission struct {
	UserID string
	Input  ledger.NewOrderInput
}

// Queue buffers submissions before execution.
type Queue struct {
	ch chan Submission
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{ch: make(chan Submission, size)}
}

func (q *Queue) Enqueue(s Submission) {
	q.ch <- s
}

func (q *Queue) Close() {
	close(q.ch)
}

// Drain consumes submissions with a handler until context is canceled.
func (q *Queue) Drain(ctx context.Context, handler func(Submission)) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-q.ch:
			if !ok {
				return
			}
			handler(s)
		}
	}
}
