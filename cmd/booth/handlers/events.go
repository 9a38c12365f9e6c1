package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wachiwi/potboy/pkg/event"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventsHandler attaches websocket clients to the event hub.
type EventsHandler struct {
	Hub *event.Hub
}

func (h *EventsHandler) Events(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	obs := h.Hub.Subscribe()
	slog.Info("Event observer connected", "observer", obs.ID(), "remote", c.ClientIP())
	event.ServeWebsocket(c.Request.Context(), h.Hub, conn, obs)
	slog.Info("Event observer disconnected", "observer", obs.ID())
}
