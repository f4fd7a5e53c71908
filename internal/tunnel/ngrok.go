package tunnel

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"

	ngroklib "golang.ngrok.com/ngrok"
	ngrokconfig "golang.ngrok.com/ngrok/config"
)

// forwarder is the part of ngrok.Forwarder the backend relies on.
type forwarder interface {
	URL() string
	Close() error
	Wait() error
}

type listenFunc func(ctx context.Context, backend *url.URL, domain string) (forwarder, error)

type forward struct {
	fwd       forwarder
	localAddr string
	domain    bool
	closing   bool
	seq       uint64
}

// NgrokBackend hosts tunnels in-process through a single ngrok agent session.
type NgrokBackend struct {
	authToken string
	domain    string
	listen    listenFunc

	connMu  sync.Mutex
	session ngroklib.Session

	mu         sync.Mutex
	forwards   map[string]*forward
	domainBusy bool
	seq        uint64
	onLost     func(publicURL string)
}

// NewNgrok creates an ngrok backend with the given auth token and optional
// reserved domain. The domain is used by at most one tunnel at a time.
func NewNgrok(authToken, domain string) *NgrokBackend {
	n := &NgrokBackend{
		authToken: authToken,
		domain:    domain,
		forwards:  make(map[string]*forward),
	}
	n.listen = n.sessionListen
	return n
}

// SetLostFunc sets the callback invoked when a forwarder ends on its own.
func (n *NgrokBackend) SetLostFunc(fn func(publicURL string)) {
	n.mu.Lock()
	n.onLost = fn
	n.mu.Unlock()
}

// Open starts forwarding a new public HTTPS endpoint to addr.
func (n *NgrokBackend) Open(ctx context.Context, addr string) (Tunnel, error) {
	backendURL, err := url.Parse("http://" + addr)
	if err != nil {
		return Tunnel{}, fmt.Errorf("invalid local address %q: %w", addr, err)
	}

	domain := n.claimDomain()
	slog.Info("starting ngrok tunnel", "local_addr", addr, "domain", domain)

	type result struct {
		fwd forwarder
		err error
	}
	ch := make(chan result, 1)
	go func() {
		fwd, err := n.listen(context.WithoutCancel(ctx), backendURL, domain)
		ch <- result{fwd: fwd, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			n.releaseDomain(domain)
			return Tunnel{}, fmt.Errorf("failed to create ngrok tunnel: %w", r.err)
		}
		t := n.track(r.fwd, addr, domain != "")
		slog.Info("ngrok tunnel established", "public_url", t.PublicURL, "local_addr", addr)
		return t, nil
	case <-ctx.Done():
		go func() {
			r := <-ch
			if r.err == nil {
				slog.Warn("closing ngrok tunnel that opened after timeout", "public_url", r.fwd.URL())
				_ = r.fwd.Close()
			}
			n.releaseDomain(domain)
		}()
		return Tunnel{}, fmt.Errorf("creating ngrok tunnel: %w", ctx.Err())
	}
}

// Close stops the forwarder serving publicURL. A close still running when
// ctx ends keeps the tunnel marked as closing and finishes in the background.
func (n *NgrokBackend) Close(ctx context.Context, publicURL string) error {
	n.mu.Lock()
	f, ok := n.forwards[publicURL]
	if !ok || f.closing {
		n.mu.Unlock()
		return fmt.Errorf("ngrok tunnel %s: %w", publicURL, ErrUnknownTunnel)
	}
	f.closing = true
	n.mu.Unlock()

	slog.Info("closing ngrok tunnel", "public_url", publicURL)

	done := make(chan error, 1)
	go func() {
		done <- f.fwd.Close()
	}()

	select {
	case err := <-done:
		if err := n.finishClose(publicURL, f, err); err != nil {
			return fmt.Errorf("failed to close ngrok tunnel: %w", err)
		}
		return nil
	case <-ctx.Done():
		go func() {
			if err := n.finishClose(publicURL, f, <-done); err != nil {
				slog.Warn("late ngrok tunnel close failed", "public_url", publicURL, "error", err)
			}
		}()
		return fmt.Errorf("closing ngrok tunnel %s: %w", publicURL, ctx.Err())
	}
}

// finishClose records the outcome of a forwarder close.
func (n *NgrokBackend) finishClose(publicURL string, f *forward, err error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		f.closing = false
		return err
	}
	n.untrack(publicURL, f)
	return nil
}

// List returns the tunnels hosted by this session, oldest first.
func (n *NgrokBackend) List(_ context.Context) ([]Tunnel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	type entry struct {
		t   Tunnel
		seq uint64
	}
	entries := make([]entry, 0, len(n.forwards))
	for u, f := range n.forwards {
		if f.closing {
			continue
		}
		entries = append(entries, entry{t: Tunnel{PublicURL: u, LocalAddr: f.localAddr}, seq: f.seq})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return cmp.Compare(a.seq, b.seq)
	})

	tunnels := make([]Tunnel, len(entries))
	for i, e := range entries {
		tunnels[i] = e.t
	}
	return tunnels, nil
}

// Shutdown closes every forwarder and the agent session.
func (n *NgrokBackend) Shutdown() error {
	n.mu.Lock()
	open := make(map[string]*forward, len(n.forwards))
	for u, f := range n.forwards {
		f.closing = true
		open[u] = f
	}
	n.mu.Unlock()

	for u, f := range open {
		if err := f.fwd.Close(); err != nil {
			slog.Warn("failed to close ngrok tunnel", "public_url", u, "error", err)
		}
		n.mu.Lock()
		n.untrack(u, f)
		n.mu.Unlock()
	}

	n.connMu.Lock()
	defer n.connMu.Unlock()
	if n.session == nil {
		return nil
	}
	err := n.session.Close()
	n.session = nil
	if err != nil {
		return fmt.Errorf("closing ngrok session: %w", err)
	}
	return nil
}

func (n *NgrokBackend) sessionListen(ctx context.Context, backend *url.URL, domain string) (forwarder, error) {
	sess, err := n.connect(ctx)
	if err != nil {
		return nil, err
	}

	var opts []ngrokconfig.HTTPEndpointOption
	if domain != "" {
		opts = append(opts, ngrokconfig.WithDomain(domain))
	}

	fwd, err := sess.ListenAndForward(ctx, backend, ngrokconfig.HTTPEndpoint(opts...))
	if err != nil {
		return nil, err
	}
	return fwd, nil
}

func (n *NgrokBackend) connect(ctx context.Context) (ngroklib.Session, error) {
	if n.authToken == "" {
		return nil, fmt.Errorf("ngrok auth token is required (set tunnel.authtoken in config or NGROK_AUTH_TOKEN env var)")
	}

	n.connMu.Lock()
	defer n.connMu.Unlock()

	if n.session != nil {
		return n.session, nil
	}

	sess, err := ngroklib.Connect(ctx, ngroklib.WithAuthtoken(n.authToken))
	if err != nil {
		return nil, fmt.Errorf("connecting ngrok session: %w", err)
	}
	slog.Debug("ngrok session connected")
	n.session = sess
	return sess, nil
}

func (n *NgrokBackend) track(fwd forwarder, addr string, domain bool) Tunnel {
	publicURL := normalizeURL(fwd.URL())

	n.mu.Lock()
	n.seq++
	f := &forward{fwd: fwd, localAddr: addr, domain: domain, seq: n.seq}
	n.forwards[publicURL] = f
	n.mu.Unlock()

	go n.watch(publicURL, f)

	return Tunnel{PublicURL: publicURL, LocalAddr: addr}
}

// watch reports a forwarder that stops without Close being called.
func (n *NgrokBackend) watch(publicURL string, f *forward) {
	err := f.fwd.Wait()

	n.mu.Lock()
	if n.forwards[publicURL] != f || f.closing {
		n.mu.Unlock()
		return
	}
	n.untrack(publicURL, f)
	onLost := n.onLost
	n.mu.Unlock()

	slog.Warn("ngrok tunnel ended", "public_url", publicURL, "error", err)
	if onLost != nil {
		onLost(publicURL)
	}
}

// untrack must be called with n.mu held.
func (n *NgrokBackend) untrack(publicURL string, f *forward) {
	if n.forwards[publicURL] != f {
		return
	}
	delete(n.forwards, publicURL)
	if f.domain {
		n.domainBusy = false
	}
}

func (n *NgrokBackend) claimDomain() string {
	if n.domain == "" {
		return ""
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.domainBusy {
		slog.Debug("reserved domain in use, using random ngrok domain", "domain", n.domain)
		return ""
	}
	n.domainBusy = true
	return n.domain
}

func (n *NgrokBackend) releaseDomain(domain string) {
	if domain == "" {
		return
	}
	n.mu.Lock()
	n.domainBusy = false
	n.mu.Unlock()
}

// normalizeURL ensures the URL has a scheme. The SDK reports bare hosts for
// some endpoint types.
func normalizeURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") || strings.HasPrefix(addr, "tcp://") {
		return addr
	}
	return "https://" + addr
}
