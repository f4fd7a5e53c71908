package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/btouchard/tunnelbot/internal/store"
	"github.com/btouchard/tunnelbot/internal/tunnel"
)

// Reply texts.
const (
	replyGreeting  = "NgROK Management Bot is running. Use /manage to see available commands."
	replyNoTunnel  = "No active NgROK tunnel."
	replyNoStop    = "No active NgROK tunnel to stop."
	replyNoPort    = "Please provide a port number. Usage: /create_tunnel <port>"
	replyNoEndpts  = "No active NgROK endpoints."
	replyNoHistory = "No tunnel events recorded."
)

// EventLister reads the tunnel event journal.
type EventLister interface {
	ListEvents(limit int) ([]store.Event, error)
}

// Deps holds the collaborators the tunnel commands need.
type Deps struct {
	Tunnels      *tunnel.Manager
	History      EventLister // nil disables /history
	HistoryLimit int
}

// RegisterCommands registers every operator command on d.
func RegisterCommands(d *Dispatcher, deps Deps) {
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = 10
	}

	d.Register("start", "Show the greeting", HandlerFunc(start))
	d.Register("manage", "List management options", manage(d))
	d.Register("status", "Get current tunnel status", status(deps.Tunnels))
	d.Register("start_tunnel", "Start a new NgROK tunnel", startTunnel(deps.Tunnels))
	d.Register("stop_tunnel", "Stop the active tunnel", stopTunnel(deps.Tunnels))
	d.Register("create_tunnel", "Create a custom tunnel", createTunnel(deps.Tunnels))
	d.Register("endpoints", "Get current endpoints", endpoints(deps.Tunnels))
	if deps.History != nil {
		d.Register("history", "Show recent tunnel events", history(deps.History, deps.HistoryLimit))
	}
}

func start(context.Context, []string) string {
	return replyGreeting
}

func manage(d *Dispatcher) Handler {
	return HandlerFunc(func(context.Context, []string) string {
		var sb strings.Builder
		sb.WriteString("NgROK Management Options:\n")
		for _, c := range d.Commands() {
			if c.Name == "start" || c.Name == "manage" {
				continue
			}
			fmt.Fprintf(&sb, "/%s - %s\n", c.Name, c.Description)
		}
		return sb.String()
	})
}

func status(m *tunnel.Manager) Handler {
	return HandlerFunc(func(context.Context, []string) string {
		t, ok := m.Status()
		if !ok {
			return replyNoTunnel
		}
		return fmt.Sprintf("NgROK Tunnel is Active:\nPublic URL: %s\nLocal Address: %s", t.PublicURL, t.LocalAddr)
	})
}

func startTunnel(m *tunnel.Manager) Handler {
	return HandlerFunc(func(ctx context.Context, _ []string) string {
		t, created, err := m.Ensure(ctx)
		if err != nil {
			return backendFailure(err)
		}
		if !created {
			return "Tunnel already running: " + t.PublicURL
		}
		slog.Info("ngrok tunnel started", "public_url", t.PublicURL, "local_addr", t.LocalAddr)
		return "Started new NgROK tunnel: " + t.PublicURL
	})
}

func stopTunnel(m *tunnel.Manager) Handler {
	return HandlerFunc(func(ctx context.Context, _ []string) string {
		t, err := m.Stop(ctx)
		if errors.Is(err, tunnel.ErrNoActiveTunnel) {
			return replyNoStop
		}
		if err != nil {
			return backendFailure(err)
		}
		return "Stopped NgROK tunnel: " + t.PublicURL
	})
}

func createTunnel(m *tunnel.Manager) Handler {
	return HandlerFunc(func(ctx context.Context, args []string) string {
		if len(args) == 0 {
			return replyNoPort
		}
		port := args[0]

		addr, err := tunnel.ParseAddr(port)
		if err != nil {
			slog.Debug("rejected create_tunnel argument", "arg", port, "error", err)
			return fmt.Sprintf("Invalid port %q. Usage: /create_tunnel <port>", port)
		}

		t, err := m.Create(ctx, addr)
		if err != nil {
			return backendFailure(err)
		}
		return fmt.Sprintf("Started new NgROK tunnel on port %s: %s", port, t.PublicURL)
	})
}

func endpoints(m *tunnel.Manager) Handler {
	return HandlerFunc(func(ctx context.Context, _ []string) string {
		tunnels, err := m.Endpoints(ctx)
		if err != nil {
			return backendFailure(err)
		}
		if len(tunnels) == 0 {
			return replyNoEndpts
		}

		var sb strings.Builder
		sb.WriteString("Current NgROK Endpoints:\n")
		for _, t := range tunnels {
			fmt.Fprintf(&sb, "Public URL: %s, Local Address: %s\n", t.PublicURL, t.LocalAddr)
		}
		return sb.String()
	})
}

func history(h EventLister, limit int) Handler {
	return HandlerFunc(func(context.Context, []string) string {
		events, err := h.ListEvents(limit)
		if err != nil {
			slog.Error("failed to read tunnel events", "error", err)
			return "Could not read tunnel history."
		}
		if len(events) == 0 {
			return replyNoHistory
		}

		var sb strings.Builder
		sb.WriteString("Recent tunnel events:\n")
		for _, e := range events {
			fmt.Fprintf(&sb, "%s %s %s", e.CreatedAt.Local().Format(time.DateTime), e.Type, e.PublicURL)
			if e.LocalAddr != "" {
				fmt.Fprintf(&sb, " (%s)", e.LocalAddr)
			}
			sb.WriteString("\n")
		}
		return sb.String()
	})
}

// backendFailure reports a failed backend call without leaking its details to
// the chat.
func backendFailure(err error) string {
	op := "reach"
	var be *tunnel.BackendError
	if errors.As(err, &be) {
		op = be.Op
	}
	slog.Error("tunnel backend call failed", "op", op, "error", err)
	return fmt.Sprintf("Tunnel backend error: could not %s tunnel. Please try again.", op)
}
