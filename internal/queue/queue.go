// Package queue provides the bounded in-memory FIFO of pending work items
// shared by the HTTP layer, the batch scheduler, and the worker pool.
package queue

import (
	"context"
	"errors"
	"sync"

	"media-fetch-service/internal/models"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	// Callers surface it as a retryable condition, never a fatal one.
	ErrQueueFull = errors.New("work queue is full")
	// ErrClosed is returned when enqueueing into a closed queue.
	ErrClosed = errors.New("work queue is closed")
)

// Item is one unit of media work: a single source reference plus the
// pipeline options the owning job was created with.
type Item struct {
	JobID      string
	Index      int
	Kind       models.JobKind
	Source     string
	Title      string
	Download   models.DownloadOptions
	Transcribe *models.TranscribeOptions
}

// Queue is a fixed-capacity FIFO. Multiple producers and consumers may
// operate on it concurrently. The item channel itself is never closed;
// shutdown is signalled through done so a producer blocked mid-send can
// never hit a closed channel.
type Queue struct {
	items chan Item
	done  chan struct{}
	once  sync.Once
}

// New creates a queue with the given maximum capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		items: make(chan Item, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue appends an item without blocking. It fails immediately with
// ErrQueueFull when the queue is at capacity.
func (q *Queue) Enqueue(item Item) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.items <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueWait appends an item, blocking until space is available, the
// context is cancelled, or the queue is closed. The batch scheduler uses it
// so a full queue throttles scheduling instead of dropping items.
func (q *Queue) EnqueueWait(ctx context.Context, item Item) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
}

// Dequeue removes the oldest item, blocking until one is available. It
// returns ok=false when the context is cancelled or the queue has been
// closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (Item, bool) {
	select {
	case item := <-q.items:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	case <-q.done:
		// Drain whatever was accepted before the close.
		select {
		case item := <-q.items:
			return item, true
		default:
			return Item{}, false
		}
	}
}

// Depth reports the number of items currently waiting.
func (q *Queue) Depth() int {
	return len(q.items)
}

// Capacity reports the fixed maximum size.
func (q *Queue) Capacity() int {
	return cap(q.items)
}

// Close rejects further enqueues and unblocks waiting producers. Consumers
// drain remaining items and then observe the closed state.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
