// Package tunneltest provides an in-memory tunnel.Backend for tests.
package tunneltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/btouchard/tunnelbot/internal/tunnel"
)

// Backend is a fake tunnel.Backend that records every call.
type Backend struct {
	// OpenHook, when set, runs at the start of every Open call. It may block.
	OpenHook func(ctx context.Context, addr string)

	// CloseHook, when set, runs at the start of every Close call. It may block.
	CloseHook func(ctx context.Context, publicURL string)

	// OpenErr, CloseErr and ListErr make the matching call fail.
	OpenErr  error
	CloseErr error
	ListErr  error

	mu        sync.Mutex
	next      int
	open      []tunnel.Tunnel
	opens     int
	openCalls int
	closes    []string
	lists     int
}

// New returns an empty fake backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Open(ctx context.Context, addr string) (tunnel.Tunnel, error) {
	if b.OpenHook != nil {
		b.OpenHook(ctx, addr)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.openCalls++
	if b.OpenErr != nil {
		return tunnel.Tunnel{}, b.OpenErr
	}
	if err := ctx.Err(); err != nil {
		return tunnel.Tunnel{}, err
	}

	b.next++
	b.opens++
	t := tunnel.Tunnel{
		PublicURL: fmt.Sprintf("https://t%d.ngrok.test", b.next),
		LocalAddr: addr,
	}
	b.open = append(b.open, t)
	return t, nil
}

func (b *Backend) Close(ctx context.Context, publicURL string) error {
	if b.CloseHook != nil {
		b.CloseHook(ctx, publicURL)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.closes = append(b.closes, publicURL)
	if b.CloseErr != nil {
		return b.CloseErr
	}
	for i, t := range b.open {
		if t.PublicURL == publicURL {
			b.open = append(b.open[:i], b.open[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("fake backend %s: %w", publicURL, tunnel.ErrUnknownTunnel)
}

func (b *Backend) List(_ context.Context) ([]tunnel.Tunnel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lists++
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	return append([]tunnel.Tunnel(nil), b.open...), nil
}

// Seed adds a tunnel the backend hosts without this process having opened it.
func (b *Backend) Seed(t tunnel.Tunnel) {
	b.mu.Lock()
	b.open = append(b.open, t)
	b.mu.Unlock()
}

// Opens returns the number of successful Open calls.
func (b *Backend) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// Closes returns the URLs passed to Close, in call order.
func (b *Backend) Closes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.closes...)
}

// Calls returns the total number of backend calls, failed ones included.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openCalls + len(b.closes) + b.lists
}

// Hosted returns the tunnels currently open on the fake.
func (b *Backend) Hosted() []tunnel.Tunnel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]tunnel.Tunnel(nil), b.open...)
}
