package websocket

import (
	"context"
	"fmt"
	"sync"

	"clarify/internal/logger"
	"clarify/models"
)

// Hub delivers notifications to the open sockets of their recipient.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	log     *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		log:     log.With("service", "NotificationHub"),
	}
}

// Register adds a client for notifications addressed to its user.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = make(map[*Client]struct{})
	}
	h.clients[c.UserID][c] = struct{}{}
	total := len(h.clients[c.UserID])
	h.mu.Unlock()
	h.log.Debug("notification client registered", "user", c.UserID, "sockets", total)
}

// Unregister removes a client and closes its send buffer.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID)
		}
	}
	h.mu.Unlock()
	c.close()
}

// Notify queues n on every socket of n.UserID. A user without sockets is not an error.
func (h *Hub) Notify(_ context.Context, n models.Notification) error {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[n.UserID]))
	for c := range h.clients[n.UserID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, c := range targets {
		if !c.SendJSON(n) {
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("notification %s dropped for %d of %d sockets of user %s", n.Type, dropped, len(targets), n.UserID)
	}
	return nil
}

// Count returns the number of open sockets of userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
