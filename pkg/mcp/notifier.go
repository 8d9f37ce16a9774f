package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowarch/internal/streaming"
	"github.com/rendis/flowarch/pkg/schema"
)

// notificationMethod is the MCP method used for canvas change pushes.
const notificationMethod = "notifications/message"

// sender is the part of *server.MCPServer the notifier needs.
type sender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// MCPNotifier pushes canvas changes to every registered client.
type MCPNotifier struct {
	sender  sender
	clients *ClientRegistry
	logger  *slog.Logger
}

// NewMCPNotifier creates a notifier that pushes through mcpServer.
func NewMCPNotifier(mcpServer *server.MCPServer, clients *ClientRegistry, logger *slog.Logger) *MCPNotifier {
	return &MCPNotifier{sender: mcpServer, clients: clients, logger: logger}
}

// Notify sends payload to every registered client. Best-effort: clients whose
// session has gone away are dropped from the registry.
func (n *MCPNotifier) Notify(ctx context.Context, payload map[string]any) {
	for _, sessionID := range n.clients.Sessions() {
		err := n.sender.SendNotificationToSpecificClient(sessionID, notificationMethod, payload)
		switch {
		case err == nil:
		case errors.Is(err, server.ErrSessionNotFound):
			n.clients.Remove(sessionID)
		default:
			n.logger.DebugContext(ctx, "mcp notification failed",
				slog.String("mcp_session", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Watch forwards graph_changed events of one flowarch session until ctx ends
// or the returned stop function is called.
func (n *MCPNotifier) Watch(ctx context.Context, hub streaming.EventHub, sessionID string) (func(), error) {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{
		SessionID:  sessionID,
		EventTypes: []string{schema.EventGraphChanged},
	})
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				n.Notify(ctx, map[string]any{
					"level":  "info",
					"logger": "flowarch",
					"data": map[string]any{
						"event":   ev.EventType,
						"session": ev.SessionID,
						"payload": ev.Payload,
					},
				})
			}
		}
	}()
	return cancel, nil
}
