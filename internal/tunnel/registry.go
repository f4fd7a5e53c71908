package tunnel

import "sync"

// Registry holds the single tunnel this process considers active.
// Every method is a short critical section; callers do backend I/O before or
// after, never while holding the lock.
type Registry struct {
	mu     sync.Mutex
	active Tunnel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Get returns the active tunnel, if any.
func (r *Registry) Get() (Tunnel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, !r.active.IsZero()
}

// TrySet installs t only if the slot is empty. Otherwise it returns an
// *AlreadyActiveError carrying the tunnel that holds the slot.
func (r *Registry) TrySet(t Tunnel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active.IsZero() {
		return &AlreadyActiveError{Active: r.active}
	}
	r.active = t
	return nil
}

// Replace installs t unconditionally and returns the tunnel it displaced.
func (r *Registry) Replace(t Tunnel) (Tunnel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.active
	r.active = t
	return prev, !prev.IsZero()
}

// ClearIfMatches empties the slot only if it holds the tunnel at publicURL.
func (r *Registry) ClearIfMatches(publicURL string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active.IsZero() || r.active.PublicURL != publicURL {
		return false
	}
	r.active = Tunnel{}
	return true
}
