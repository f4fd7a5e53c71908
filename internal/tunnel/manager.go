package tunnel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// EventType names a tunnel lifecycle transition.
type EventType string

const (
	EventOpened   EventType = "tunnel.opened"
	EventClosed   EventType = "tunnel.closed"
	EventReplaced EventType = "tunnel.replaced"
	EventLost     EventType = "tunnel.lost"
)

// Event is emitted after every registry transition.
type Event struct {
	Type    EventType
	Tunnel  Tunnel
	Message string
}

// NotifyFunc is called when a tunnel lifecycle event occurs.
type NotifyFunc func(Event)

const ensureKey = "ensure"

// Manager applies registry transitions around backend I/O: the backend call
// happens first, outside the registry lock, then the slot is updated, and a
// tunnel that lost the race for the slot is closed again.
type Manager struct {
	registry    *Registry
	backend     Backend
	defaultAddr string
	timeout     time.Duration

	flight   singleflight.Group
	onNotify NotifyFunc
}

// NewManager creates a Manager. Backend calls are bounded by timeout.
func NewManager(backend Backend, registry *Registry, defaultAddr string, timeout time.Duration) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		registry:    registry,
		backend:     backend,
		defaultAddr: defaultAddr,
		timeout:     timeout,
	}
}

// SetNotifyFunc sets the callback for tunnel lifecycle events.
func (m *Manager) SetNotifyFunc(fn NotifyFunc) {
	m.onNotify = fn
}

// DefaultAddr returns the local address used by Ensure.
func (m *Manager) DefaultAddr() string {
	return m.defaultAddr
}

// Status returns the active tunnel without touching the backend.
func (m *Manager) Status() (Tunnel, bool) {
	return m.registry.Get()
}

// Ensure returns the active tunnel, opening one on the default address when
// the slot is empty. Concurrent callers share a single backend open; created
// is true only for the caller whose call installed the tunnel.
func (m *Manager) Ensure(ctx context.Context) (t Tunnel, created bool, err error) {
	if cur, ok := m.registry.Get(); ok {
		return cur, false, nil
	}

	v, err, _ := m.flight.Do(ensureKey, func() (any, error) {
		if cur, ok := m.registry.Get(); ok {
			return cur, nil
		}

		opened, err := m.open(ctx, m.defaultAddr)
		if err != nil {
			return nil, err
		}

		if err := m.registry.TrySet(opened); err != nil {
			var already *AlreadyActiveError
			if !errors.As(err, &already) {
				return nil, err
			}
			slog.Info("registry slot taken while opening, closing duplicate tunnel",
				"public_url", opened.PublicURL,
				"active_url", already.Active.PublicURL)
			m.discard(ctx, opened)
			return already.Active, nil
		}

		created = true
		m.emit(EventOpened, opened, "")
		return opened, nil
	})
	if err != nil {
		return Tunnel{}, false, err
	}
	return v.(Tunnel), created, nil
}

// Stop closes the active tunnel on the backend and clears the slot.
// It returns ErrNoActiveTunnel without any backend call when the slot is empty.
func (m *Manager) Stop(ctx context.Context) (Tunnel, error) {
	cur, ok := m.registry.Get()
	if !ok {
		return Tunnel{}, ErrNoActiveTunnel
	}

	_, err := m.closeURL(ctx, cur.PublicURL)
	if err != nil && !errors.Is(err, ErrUnknownTunnel) {
		return Tunnel{}, err
	}
	if err != nil {
		slog.Warn("backend no longer hosts active tunnel, clearing slot", "public_url", cur.PublicURL)
	}

	// A tunnel displaced by Create meanwhile is reported as replaced instead.
	if m.registry.ClearIfMatches(cur.PublicURL) {
		m.emit(EventClosed, cur, "")
	}
	return cur, nil
}

// Create opens a tunnel on addr and installs it regardless of the slot's
// prior state. A displaced tunnel is closed on the backend.
func (m *Manager) Create(ctx context.Context, addr string) (Tunnel, error) {
	opened, err := m.open(ctx, addr)
	if err != nil {
		return Tunnel{}, err
	}

	prev, replaced := m.registry.Replace(opened)
	m.emit(EventOpened, opened, "")

	if replaced && prev.PublicURL != opened.PublicURL {
		if _, err := m.closeURL(ctx, prev.PublicURL); err != nil && !errors.Is(err, ErrUnknownTunnel) {
			slog.Warn("failed to close replaced tunnel",
				"public_url", prev.PublicURL,
				"error", err)
		}
		m.emit(EventReplaced, prev, "replaced by "+opened.PublicURL)
	}

	return opened, nil
}

// Endpoints lists every tunnel the backend hosts, independent of the slot.
func (m *Manager) Endpoints(ctx context.Context) ([]Tunnel, error) {
	ctx, cancel := m.bounded(ctx)
	defer cancel()

	tunnels, err := m.backend.List(ctx)
	if err != nil {
		return nil, backendErr("list", err)
	}
	return tunnels, nil
}

// Lost clears the slot when the backend reports that the tunnel at publicURL
// ended without a close from this process.
func (m *Manager) Lost(publicURL string) {
	cur, ok := m.registry.Get()
	if !ok || cur.PublicURL != publicURL {
		return
	}
	if m.registry.ClearIfMatches(publicURL) {
		slog.Warn("active tunnel lost", "public_url", publicURL)
		m.emit(EventLost, cur, "tunnel ended unexpectedly")
	}
}

func (m *Manager) open(ctx context.Context, addr string) (Tunnel, error) {
	ctx, cancel := m.bounded(ctx)
	defer cancel()

	t, err := m.backend.Open(ctx, addr)
	if err != nil {
		return Tunnel{}, backendErr("open", err)
	}
	return t, nil
}

// closeURL closes publicURL on the backend. Concurrent closes of the same URL
// share one backend call; closed is true for the caller that made it.
func (m *Manager) closeURL(ctx context.Context, publicURL string) (closed bool, err error) {
	_, err, _ = m.flight.Do("close "+publicURL, func() (any, error) {
		ctx, cancel := m.bounded(ctx)
		defer cancel()

		if err := m.backend.Close(ctx, publicURL); err != nil {
			return nil, backendErr("close", err)
		}
		closed = true
		return nil, nil
	})
	return closed, err
}

func (m *Manager) discard(ctx context.Context, t Tunnel) {
	if _, err := m.closeURL(ctx, t.PublicURL); err != nil {
		slog.Error("failed to close duplicate tunnel",
			"public_url", t.PublicURL,
			"error", err)
	}
}

// bounded applies the backend timeout to a context detached from the
// caller's cancellation. Work shared through the flight group outlives any
// single waiter.
func (m *Manager) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
}

func (m *Manager) emit(typ EventType, t Tunnel, message string) {
	if m.onNotify == nil {
		return
	}
	m.onNotify(Event{Type: typ, Tunnel: t, Message: message})
}

func backendErr(op string, err error) error {
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}
