// Package bootstrap brings the bot online: it opens the default tunnel and
// registers the Telegram webhook behind it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"github.com/btouchard/tunnelbot/internal/telegram"
	"github.com/btouchard/tunnelbot/internal/tunnel"
)

// StartupError reports a failed startup step. The process cannot serve
// commands after it.
type StartupError struct {
	Step string
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at %s: %v", e.Step, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// Tunnels opens the default tunnel.
type Tunnels interface {
	Ensure(ctx context.Context) (tunnel.Tunnel, bool, error)
}

// Webhook registers the bot's update endpoint.
type Webhook interface {
	SetWebhook(ctx context.Context, url string) error
	SetMyCommands(ctx context.Context, commands []telegram.BotCommand) error
}

// Options configures a Sequencer.
type Options struct {
	WebhookPath    string
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Commands       []telegram.BotCommand

	// Gate, when set, is opened once Run succeeds.
	Gate *Gate
}

// Sequencer runs the startup steps in order.
type Sequencer struct {
	tunnels Tunnels
	webhook Webhook
	opts    Options
}

// New returns a Sequencer.
func New(tunnels Tunnels, webhook Webhook, opts Options) *Sequencer {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.WebhookPath == "" {
		opts.WebhookPath = "/webhook"
	}
	return &Sequencer{tunnels: tunnels, webhook: webhook, opts: opts}
}

// Run opens the default tunnel, retrying with backoff, then registers
// publicURL+WebhookPath as the webhook exactly once. The command menu is
// published best effort. The gate opens only after all of this.
func (s *Sequencer) Run(ctx context.Context) (tunnel.Tunnel, error) {
	t, err := s.ensure(ctx)
	if err != nil {
		return tunnel.Tunnel{}, &StartupError{Step: "open tunnel", Err: err}
	}
	slog.Info("default tunnel ready", "public_url", t.PublicURL, "local_addr", t.LocalAddr)

	webhookURL := strings.TrimRight(t.PublicURL, "/") + s.opts.WebhookPath
	if err := s.webhook.SetWebhook(ctx, webhookURL); err != nil {
		return t, &StartupError{Step: "set webhook", Err: err}
	}
	slog.Info("webhook registered", "url", webhookURL)

	if len(s.opts.Commands) > 0 {
		if err := s.webhook.SetMyCommands(ctx, s.opts.Commands); err != nil {
			slog.Warn("failed to publish command menu", "error", err)
		}
	}

	if s.opts.Gate != nil {
		s.opts.Gate.Open()
	}
	return t, nil
}

func (s *Sequencer) ensure(ctx context.Context) (tunnel.Tunnel, error) {
	b := &backoff.Backoff{
		Min:    s.opts.InitialBackoff,
		Max:    s.opts.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		t, _, err := s.tunnels.Ensure(ctx)
		if err == nil {
			return t, nil
		}
		lastErr = err

		if attempt == s.opts.Attempts {
			break
		}
		wait := b.Duration()
		slog.Warn("opening default tunnel failed, retrying",
			"attempt", attempt,
			"max_attempts", s.opts.Attempts,
			"retry_in", wait,
			"error", err)

		select {
		case <-ctx.Done():
			return tunnel.Tunnel{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return tunnel.Tunnel{}, fmt.Errorf("after %d attempts: %w", s.opts.Attempts, lastErr)
}
