// Package queue implements the FIFO of pending work items drained by the
// batch orchestrator. Pushes de-duplicate by normalized URL and consult the
// persisted upload history, so re-submitting an old link is a no-op.
package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrEmpty is returned by Pop when no item arrived within the timeout.
var ErrEmpty = errors.New("queue is empty")

// WorkItem is one product link waiting to be processed. Keyword is an
// optional user-supplied search keyword that overrides the parsed title.
type WorkItem struct {
	URL     string
	Keyword string
}

// NormalizeURL reduces a link to its identity form: query string and fragment
// stripped, case-folded, scheme defaulted to https. Tracking parameters on
// affiliate links vary per share, so identity ignores them.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "/")
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}
	return strings.ToLower(s)
}

// UploadedFunc reports whether a normalized URL is already recorded in the
// persisted upload history.
type UploadedFunc func(normalizedURL string) bool

// Queue is a thread-safe FIFO shared between the producer (front end) and the
// single orchestrator worker. Items are independent, so no ordering guarantee
// beyond FIFO is provided.
type Queue struct {
	mu       sync.Mutex
	items    []WorkItem
	seen     map[string]struct{}
	uploaded UploadedFunc
	notify   chan struct{}
}

// New returns an empty queue. uploaded may be nil when no history check is
// wanted (tests, dry runs).
func New(uploaded UploadedFunc) *Queue {
	return &Queue{
		seen:     make(map[string]struct{}),
		uploaded: uploaded,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends item to the tail. It returns false when the URL was already
// seen this run or is recorded as previously uploaded.
func (q *Queue) Push(item WorkItem) bool {
	key := NormalizeURL(item.URL)
	if key == "" {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.seen[key]; ok {
		return false
	}
	if q.uploaded != nil && q.uploaded(key) {
		return false
	}

	q.seen[key] = struct{}{}
	q.items = append(q.items, item)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Requeue puts a previously popped item back at the head, bypassing the
// duplicate check. Used when a cancellation interrupts work on an item.
func (q *Queue) Requeue(item WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append([]WorkItem{item}, q.items...)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the head item. It blocks up to timeout for an item
// to arrive; when none does it returns ErrEmpty. Context cancellation returns
// ctx.Err immediately.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (WorkItem, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return WorkItem{}, ctx.Err()
		case <-deadline.C:
			return WorkItem{}, ErrEmpty
		case <-q.notify:
		}
	}
}

// Size returns the number of items currently waiting.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
