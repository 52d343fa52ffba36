// Package events broadcasts backup, restore, and import progress to
// connected WebSocket clients.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is one operation status notification.
type Message struct {
	Type      string         `json:"type"`
	Operation string         `json:"operation"`
	Stage     string         `json:"stage"`
	BackupID  string         `json:"backup_id,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Operation stages.
const (
	StageStarted   = "started"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// NewMessage creates a Message with Type derived from operation and
// stage, e.g. "backup_completed".
func NewMessage(operation, stage, backupID string, extra map[string]any) Message {
	return Message{
		Type:      fmt.Sprintf("%s_%s", operation, stage),
		Operation: operation,
		Stage:     stage,
		BackupID:  backupID,
		Extra:     extra,
	}
}

// Hub maintains the set of active WebSocket clients and broadcasts
// messages to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients. A nil hub is a
// no-op so components may run without event delivery wired.
func (h *Hub) Broadcast(msg Message) {
	if h == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.clients {
		if !c.TrySend(data) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Debug("dropped broadcast for slow clients",
			"type", msg.Type, "clients", dropped)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
