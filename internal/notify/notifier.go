package notify

import (
	"log/slog"
	"sync"

	"github.com/btouchard/tunnelbot/internal/tunnel"
)

const queueSize = 64

// Notifier receives tunnel lifecycle events.
type Notifier interface {
	Notify(event tunnel.Event)
}

// Hub dispatches events to multiple notifiers. Each notifier has its own
// queue, so events reach a notifier in emission order and a slow notifier
// never blocks the caller or its siblings.
type Hub struct {
	queues []chan tunnel.Event
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewHub creates a Hub with the given notifiers.
func NewHub(notifiers ...Notifier) *Hub {
	h := &Hub{}
	for _, n := range notifiers {
		q := make(chan tunnel.Event, queueSize)
		h.queues = append(h.queues, q)
		h.wg.Add(1)
		go h.drain(n, q)
	}
	return h
}

func (h *Hub) drain(n Notifier, q <-chan tunnel.Event) {
	defer h.wg.Done()
	for event := range q {
		n.Notify(event)
	}
}

// Notify queues an event for every notifier. Events are dropped for a
// notifier whose queue is full.
func (h *Hub) Notify(event tunnel.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	for _, q := range h.queues {
		select {
		case q <- event:
		default:
			slog.Warn("notifier queue full, dropping event",
				"type", event.Type,
				"public_url", event.Tunnel.PublicURL)
		}
	}
}

// Close stops accepting events and waits until the queued ones are
// delivered.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, q := range h.queues {
		close(q)
	}
	h.mu.Unlock()

	h.wg.Wait()
}
