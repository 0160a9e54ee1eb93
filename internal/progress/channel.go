// ABOUTME: Unbounded per-conversation queue of progress events
// ABOUTME: Readers drain queued events before observing closure

package progress

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Recv once the channel is completed and drained.
var ErrClosed = errors.New("progress channel closed")

// Status describes where a tool is in its work.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Event is one piece of progress narration. Events are never persisted.
type Event struct {
	Message   string    `json:"message"`
	Tool      string    `json:"tool,omitempty"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel is a FIFO of events for one conversation. Writes never block; the
// queue grows until a reader drains it or the channel is completed.
type Channel struct {
	id        string
	createdAt time.Time

	mu     sync.Mutex
	queue  []Event
	closed bool
	notify chan struct{} // capacity 1, signalled on push
	done   chan struct{} // closed on completion
}

func newChannel(id string, createdAt time.Time) *Channel {
	return &Channel{
		id:        id,
		createdAt: createdAt,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// ID returns the conversation id the channel belongs to.
func (c *Channel) ID() string { return c.id }

// CreatedAt returns when the channel was acquired; the sweep ages channels by it.
func (c *Channel) CreatedAt() time.Time { return c.createdAt }

// Len reports the number of undelivered events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Closed reports whether the writer side has been completed.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// push appends an event. Returns false if the channel is already completed.
func (c *Channel) push(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.queue = append(c.queue, ev)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// close marks the writer side done. Queued events stay readable.
func (c *Channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Recv returns the next event. It blocks until an event is queued, the channel
// is completed (ErrClosed once drained) or ctx is cancelled (ctx.Err()).
func (c *Channel) Recv(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		c.mu.Lock()
		if len(c.queue) > 0 {
			ev := c.queue[0]
			c.queue[0] = Event{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return ev, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-c.notify:
		case <-c.done:
		}
	}
}
