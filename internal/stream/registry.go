// ABOUTME: Observer registry for live-feed fan-out
// ABOUTME: Tracks connected observer channels with safe concurrent add/remove/broadcast

package stream

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// observerBufferSize is the channel buffer for each observer.
	observerBufferSize = 64
)

// Registry tracks currently connected observer channels. Registration,
// unregistration and broadcast all run concurrently from independent
// triggers (new connection vs. incoming change event); broadcast sends
// happen under the read lock, so the write lock taken by Unregister and
// Close strictly orders every channel close after any in-flight send.
type Registry struct {
	mu        sync.RWMutex
	observers map[string]chan []byte // token -> channel
	closed    bool
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		observers: make(map[string]chan []byte),
		logger:    logger.With("component", "registry"),
	}
}

// Register adds a new observer channel and returns its token together
// with the channel it will receive envelopes on. The channel is closed
// when the observer is unregistered or the registry shuts down.
func (r *Registry) Register() (string, <-chan []byte) {
	token := uuid.New().String()
	ch := make(chan []byte, observerBufferSize)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return token, ch
	}
	r.observers[token] = ch
	count := len(r.observers)
	r.mu.Unlock()

	observersConnected.Set(float64(count))
	r.logger.Debug("observer registered", "token", token, "observers", count)
	return token, ch
}

// Unregister removes an observer and closes its channel. Safe to call
// with an unknown or already-removed token.
func (r *Registry) Unregister(token string) {
	r.mu.Lock()
	ch, ok := r.observers[token]
	if ok {
		delete(r.observers, token)
	}
	count := len(r.observers)
	r.mu.Unlock()

	if !ok {
		return
	}
	close(ch)

	observersConnected.Set(float64(count))
	r.logger.Debug("observer unregistered", "token", token, "observers", count)
}

// Broadcast delivers the payload to every registered observer.
// Non-blocking: an observer whose buffer is full has the envelope
// dropped, and the drop never affects delivery to other observers.
// Sends stay under the read lock; they cannot stall, and a concurrent
// Unregister or Close can then never close a channel mid-send.
func (r *Registry) Broadcast(payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.observers {
		select {
		case ch <- payload:
		default:
			droppedEnvelopes.Inc()
			r.logger.Debug("dropped envelope for slow observer")
		}
	}
}

// Count returns the number of registered observers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// Close shuts down the registry and closes all observer channels.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for token, ch := range r.observers {
		close(ch)
		delete(r.observers, token)
	}
	observersConnected.Set(0)

	r.logger.Debug("registry closed")
}
