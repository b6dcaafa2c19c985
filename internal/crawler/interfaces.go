package crawler

import (
	"context"
	"time"
)

// Queue applies partial updates to queue items by id and returns the updated item.
type Queue interface {
	Update(ctx context.Context, id int64, update Update) (QueueItem, error)
}

// QueueStore is a work queue the dispatcher and API can drive.
type QueueStore interface {
	Queue
	Add(ctx context.Context, rawURL string) (QueueItem, error)
	Get(ctx context.Context, id int64) (QueueItem, error)
	// Claim returns the oldest queued item that has not been claimed yet, or
	// ErrQueueEmpty.
	Claim(ctx context.Context) (QueueItem, error)
	Counts(ctx context.Context) (map[Status]int, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
