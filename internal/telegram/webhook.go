package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/btouchard/tunnelbot/internal/bot"
)

const maxUpdateBytes = 1 << 20

// Dispatcher runs one parsed command.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd bot.Command)
}

// WebhookHandler receives Bot API updates. Each command runs in its own
// goroutine so a slow backend call never holds up the webhook response.
type WebhookHandler struct {
	dispatcher Dispatcher
	wg         sync.WaitGroup
}

// NewWebhookHandler returns a handler that forwards commands to d.
func NewWebhookHandler(d Dispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: d}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var update Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBytes)).Decode(&update); err != nil {
		slog.Warn("rejecting malformed update", "error", err)
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)

	if update.Message == nil {
		return
	}
	name, args, ok := ParseCommand(update.Message.Text)
	if !ok {
		return
	}

	cmd := bot.Command{
		Name:   name,
		Args:   args,
		ChatID: update.Message.Chat.ID,
	}
	slog.Debug("received command", "update_id", update.UpdateID, "command", name)

	// The request context ends when this handler returns.
	ctx := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.dispatcher.Dispatch(ctx, cmd)
	}()
}

// Wait blocks until every in-flight command has finished.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}
