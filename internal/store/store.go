package store

import (
	"time"
)

// Store is the persistence interface for the tunnel event journal.
// Defined at the consumer side per Go conventions.
type Store interface {
	AddEvent(e *Event) error
	ListEvents(limit int) ([]Event, error)

	// Maintenance
	Cleanup(retention time.Duration) error
	Close() error
}

// Event is a timestamped tunnel lifecycle record for the audit trail.
// The journal is never read back into the registry.
type Event struct {
	ID        int64
	Type      string
	PublicURL string
	LocalAddr string
	Message   string
	CreatedAt time.Time
}
