// Package memory provides the bounded in-process job queue.
package memory

import (
	"context"
	"fmt"

	"github.com/reviewlens/reviewlens/internal/scraper"
)

// Queue is a bounded FIFO handoff between job submission and the
// worker pool. A full queue applies backpressure to Enqueue.
type Queue struct {
	items chan scraper.QueueItem
}

// New creates a Queue holding at most depth items.
func New(depth int) *Queue {
	if depth <= 0 {
		depth = 1
	}
	return &Queue{items: make(chan scraper.QueueItem, depth)}
}

// Enqueue implements scraper.Queue. It blocks while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, item scraper.QueueItem) error {
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	}
}

// Dequeue implements scraper.Queue. It blocks until an item arrives.
func (q *Queue) Dequeue(ctx context.Context) (scraper.QueueItem, error) {
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		return scraper.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}
}

// Len reports how many items are waiting.
func (q *Queue) Len() int {
	return len(q.items)
}
