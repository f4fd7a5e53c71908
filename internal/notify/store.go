package notify

import (
	"log/slog"

	"github.com/btouchard/tunnelbot/internal/store"
	"github.com/btouchard/tunnelbot/internal/tunnel"
)

// EventWriter appends to the event journal.
type EventWriter interface {
	AddEvent(e *store.Event) error
}

// StoreNotifier records every event in the journal.
type StoreNotifier struct {
	w EventWriter
}

// NewStoreNotifier creates a StoreNotifier writing to w.
func NewStoreNotifier(w EventWriter) *StoreNotifier {
	return &StoreNotifier{w: w}
}

func (n *StoreNotifier) Notify(event tunnel.Event) {
	err := n.w.AddEvent(&store.Event{
		Type:      string(event.Type),
		PublicURL: event.Tunnel.PublicURL,
		LocalAddr: event.Tunnel.LocalAddr,
		Message:   event.Message,
	})
	if err != nil {
		slog.Error("failed to record tunnel event", "type", event.Type, "error", err)
	}
}
