package notify

import (
	"log/slog"

	"github.com/btouchard/tunnelbot/internal/tunnel"
)

// MCPSender abstracts the mcp-go server notification methods.
// Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

// MCPNotifier broadcasts tunnel events to connected MCP clients as
// notifications/message.
type MCPNotifier struct {
	sender MCPSender
}

// NewMCPNotifier creates an MCPNotifier.
func NewMCPNotifier(sender MCPSender) *MCPNotifier {
	return &MCPNotifier{sender: sender}
}

// Notify sends an MCP notification for the given event.
func (n *MCPNotifier) Notify(event tunnel.Event) {
	var level string
	switch event.Type {
	case tunnel.EventOpened, tunnel.EventClosed, tunnel.EventReplaced:
		level = "info"
	case tunnel.EventLost:
		level = "warning"
	default:
		slog.Debug("mcp notifier: unknown event type", "type", event.Type)
		return
	}

	n.sender.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  level,
		"logger": "tunnelbot",
		"data": map[string]any{
			"type":       string(event.Type),
			"public_url": event.Tunnel.PublicURL,
			"local_addr": event.Tunnel.LocalAddr,
			"message":    event.Message,
		},
	})
}
