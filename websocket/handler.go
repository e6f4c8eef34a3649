package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"clarify/internal/logger"
	"clarify/internal/notify"
	"clarify/internal/ratelimit"
	"clarify/models"
	"clarify/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// In production, adjust the CheckOrigin function to allow only trusted origins.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// viewCommand is sent by the client of a conversation view.
type viewCommand struct {
	Type string `json:"type"` // "pause", "resume" or "refresh"
}

// Handler serves the live sockets: the notification feed and conversation views.
type Handler struct {
	hub     *Hub
	stream  *notify.Stream
	watcher *services.Watcher
	log     *logger.Logger
}

// NewHandler wires the socket endpoints. With a stream, notification sockets
// follow the user's Redis stream instead of registering with the local hub.
func NewHandler(hub *Hub, stream *notify.Stream, watcher *services.Watcher, log *logger.Logger) *Handler {
	return &Handler{hub: hub, stream: stream, watcher: watcher, log: log.With("service", "WebsocketHandler")}
}

// Notifications streams the caller's notifications until the socket closes.
func (h *Handler) Notifications(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := newClient(conn, userID)
	go client.writePump()
	client.SendJSON(gin.H{"type": "connected", "userId": userID})

	ctx, cancel := context.WithCancel(context.Background())
	if h.stream != nil {
		go func() {
			err := h.stream.Subscribe(ctx, userID, func(n models.Notification) error {
				client.SendJSON(n)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				h.log.Warn("notification stream ended", "user", userID, "error", err)
			}
		}()
	} else {
		h.hub.Register(client)
	}

	client.readPump(nil)

	cancel()
	if h.stream != nil {
		client.close()
	} else {
		h.hub.Unregister(client)
	}
}

// ConversationView opens a view session for the conversation in the path and
// pushes status and countdown updates until the socket closes.
func (h *Handler) ConversationView(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	convID := c.Param("id")

	// Reject before upgrading.
	if _, err := h.watcher.Lifecycle().Get(c.Request.Context(), convID, userID); err != nil {
		status := http.StatusServiceUnavailable
		switch {
		case errors.Is(err, models.ErrNotParticipant):
			status = http.StatusForbidden
		case errors.Is(err, models.ErrNotFound):
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := newClient(conn, userID)
	go client.writePump()

	session, err := h.watcher.Open(ratelimit.WithCaller(context.Background(), userID), convID, userID, func(u services.ViewUpdate) {
		if !client.SendJSON(u) {
			h.log.Debug("view update dropped", "conversation", convID, "user", userID, "type", u.Type)
		}
	})
	if err != nil {
		client.SendJSON(gin.H{"type": "error", "error": err.Error()})
		client.close()
		return
	}

	client.readPump(func(raw []byte) {
		var cmd viewCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return
		}
		switch cmd.Type {
		case "pause":
			session.Pause()
		case "resume":
			session.Resume()
		case "refresh":
			if err := session.Refresh(); err != nil {
				h.log.Warn("view refresh failed", "session", session.ID, "error", err)
			}
		}
	})

	session.Close()
	client.close()
}
