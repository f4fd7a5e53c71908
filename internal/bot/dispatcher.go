package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Command is one inbound operator command.
type Command struct {
	ID     string
	Name   string
	Args   []string
	ChatID int64
}

// Replier sends a handler's reply back to the chat the command came from.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// Handler handles one command and returns the reply text. Handlers recover
// from their own errors; whatever happens, they produce a reply.
type Handler interface {
	Handle(ctx context.Context, args []string) string
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args []string) string

func (f HandlerFunc) Handle(ctx context.Context, args []string) string {
	return f(ctx, args)
}

// CommandInfo describes a registered command.
type CommandInfo struct {
	Name        string
	Description string
}

// Dispatcher maps command names to handlers. Registration happens once at
// startup; Dispatch and Execute are safe for concurrent use afterwards.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	infos    []CommandInfo
	replier  Replier
}

// NewDispatcher creates an empty Dispatcher that replies through replier.
func NewDispatcher(replier Replier) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		replier:  replier,
	}
}

// Register adds a handler. Registering a name twice replaces the handler.
func (d *Dispatcher) Register(name, description string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[name]; !exists {
		d.infos = append(d.infos, CommandInfo{Name: name, Description: description})
	}
	d.handlers[name] = h
}

// Commands returns the registered commands in registration order.
func (d *Dispatcher) Commands() []CommandInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]CommandInfo(nil), d.infos...)
}

// Execute runs the handler for name and returns its reply. ok is false when
// no handler is registered.
func (d *Dispatcher) Execute(ctx context.Context, name string, args []string) (reply string, ok bool) {
	d.mu.RLock()
	h, ok := d.handlers[name]
	d.mu.RUnlock()
	if !ok {
		return "", false
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("command handler panicked",
				"command", name,
				"panic", r)
			reply = fmt.Sprintf("Internal error while handling /%s.", name)
		}
	}()

	return h.Handle(ctx, args), true
}

// Dispatch runs cmd and sends exactly one reply. Unknown commands are
// ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	log := slog.With("request_id", cmd.ID, "command", cmd.Name, "chat_id", cmd.ChatID)

	start := time.Now()
	reply, ok := d.Execute(ctx, cmd.Name, cmd.Args)
	if !ok {
		log.Debug("ignoring unknown command")
		return
	}

	if err := d.replier.Reply(ctx, cmd.ChatID, reply); err != nil {
		log.Error("failed to send reply", "error", err)
		return
	}

	log.Info("command handled", "duration", time.Since(start))
}
