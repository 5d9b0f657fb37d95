// ABOUTME: Message-insertion change feed published by the store
// ABOUTME: Single-consumer channel that stands in for a backing store's change stream

package store

import (
	"log/slog"
	"sync"
)

const (
	// feedBufferSize is the channel buffer for the insert feed. The
	// bridge is expected to drain continuously; inserts that arrive
	// while the buffer is full are dropped, never replayed.
	feedBufferSize = 256
)

// Feed delivers every successfully persisted message, in insertion order,
// to a single consumer. The bridge holds the one subscription and fans
// out to observers; per-observer delivery is not the feed's concern.
//
// There is no replay: events published before the consumer attaches (and
// beyond the buffer) are lost. Observers needing current state must read
// it through the store before relying on the feed.
type Feed struct {
	mu     sync.Mutex
	ch     chan *Message
	closed bool
	logger *slog.Logger
}

func newFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		ch:     make(chan *Message, feedBufferSize),
		logger: logger.With("component", "feed"),
	}
}

// Events returns the feed channel. The channel is closed when the store
// closes; a consumer should treat channel close as end of feed.
func (f *Feed) Events() <-chan *Message {
	return f.ch
}

// publish enqueues a persisted message for the consumer. Non-blocking:
// if the consumer has fallen feedBufferSize behind, the event is dropped.
func (f *Feed) publish(msg *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	select {
	case f.ch <- msg:
	default:
		f.logger.Warn("insert feed full, dropping event",
			"message_id", msg.ID,
			"conversation_id", msg.ConversationID)
	}
}

// close shuts the feed down. Safe to call multiple times.
func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		close(f.ch)
		f.closed = true
	}
}
