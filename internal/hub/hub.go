package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/troppes/strixlog/logstreamer/internal/model"
)

// DefaultCapacity is the number of records the hub retains for lagging
// subscribers.
const DefaultCapacity = 1000

// ErrClosed is returned by Cursor.Next once the hub is closed and the cursor
// has caught up.
var ErrClosed = errors.New("hub closed")

// Hub is a fixed-size broadcast ring. Every published record gets the next
// sequence number; slot seq%capacity holds it until it is overwritten.
// Subscribers read through their own Cursor, so a slow reader never blocks
// Publish; it loses the overwritten records instead.
//
// All methods are safe for concurrent use.
type Hub struct {
	mu       sync.Mutex
	ring     []model.LogRecord
	capacity uint64
	// published is the sequence number of the next record. Retained records
	// span [published-min(published, capacity), published).
	published uint64
	// wake is closed and replaced on every publish and on Close.
	wake   chan struct{}
	closed bool

	subscribers atomic.Int64
}

// New creates a hub holding at most capacity records. A non-positive capacity
// selects DefaultCapacity.
func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		ring:     make([]model.LogRecord, capacity),
		capacity: uint64(capacity),
		wake:     make(chan struct{}),
	}
}

// Publish appends rec, overwriting the oldest record when the ring is full.
// It never blocks on subscribers. Publishing with no subscribers, or after
// Close, silently drops the record.
func (h *Hub) Publish(rec model.LogRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.ring[h.published%h.capacity] = rec
	h.published++
	close(h.wake)
	h.wake = make(chan struct{})
}

// Subscribe returns a cursor positioned at the current tail. It sees only
// records published after this call.
func (h *Hub) Subscribe() *Cursor {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers.Add(1)
	return &Cursor{hub: h, next: h.published}
}

// Close wakes every blocked cursor. Cursors still deliver the records they
// have not read yet, then return ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.wake)
}

// Subscribers returns the number of open cursors.
func (h *Hub) Subscribers() int {
	return int(h.subscribers.Load())
}

// Published returns the total number of records ever published.
func (h *Hub) Published() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.published
}

// Capacity returns the ring size.
func (h *Hub) Capacity() int {
	return int(h.capacity)
}

func (h *Hub) oldestLocked() uint64 {
	if h.published < h.capacity {
		return 0
	}
	return h.published - h.capacity
}

// Cursor is one subscriber's read position. A Cursor must not be used from
// more than one goroutine at a time.
type Cursor struct {
	hub    *Hub
	next   uint64
	closed atomic.Bool
}

// Next returns the next record in publish order, blocking until one is
// published, ctx is done, or the hub is closed. If records were overwritten
// before this cursor reached them, Next skips to the oldest retained record
// and reports how many were lost in missed.
func (c *Cursor) Next(ctx context.Context) (rec model.LogRecord, missed uint64, err error) {
	h := c.hub
	for {
		h.mu.Lock()
		if oldest := h.oldestLocked(); c.next < oldest {
			missed += oldest - c.next
			c.next = oldest
		}
		if c.next < h.published {
			rec = h.ring[c.next%h.capacity]
			c.next++
			h.mu.Unlock()
			return rec, missed, nil
		}
		if h.closed {
			h.mu.Unlock()
			return model.LogRecord{}, missed, ErrClosed
		}
		wake := h.wake
		h.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return model.LogRecord{}, missed, ctx.Err()
		}
	}
}

// Lag returns how many published records this cursor has not read yet,
// including ones already overwritten.
func (c *Cursor) Lag() uint64 {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return c.hub.published - c.next
}

// Close releases the subscription. It is safe to call more than once.
func (c *Cursor) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.hub.subscribers.Add(-1)
	}
}
