package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/btouchard/tunnelbot/internal/tunnel"
)

// MessageSender delivers a chat message.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// TelegramNotifier tells operators when a tunnel drops without a command
// closing it. Other events are already answered in the chat that caused them.
type TelegramNotifier struct {
	sender  MessageSender
	chatIDs []int64
	timeout time.Duration
}

// NewTelegramNotifier creates a TelegramNotifier messaging chatIDs.
func NewTelegramNotifier(sender MessageSender, chatIDs []int64) *TelegramNotifier {
	return &TelegramNotifier{
		sender:  sender,
		chatIDs: chatIDs,
		timeout: 10 * time.Second,
	}
}

func (n *TelegramNotifier) Notify(event tunnel.Event) {
	if event.Type != tunnel.EventLost {
		return
	}

	text := fmt.Sprintf("NgROK tunnel lost: %s (%s). Use /start_tunnel to open a new one.",
		event.Tunnel.PublicURL, event.Tunnel.LocalAddr)

	for _, id := range n.chatIDs {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		if err := n.sender.SendMessage(ctx, id, text); err != nil {
			slog.Warn("failed to send tunnel notification", "chat_id", id, "error", err)
		}
		cancel()
	}
}
