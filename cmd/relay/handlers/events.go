package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wachiwi/potboy/pkg/event"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type EventsHandler struct {
	Hub *event.Hub
}

// Spectate streams hub events to a websocket client.
func (h *EventsHandler) Spectate(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	obs := h.Hub.Subscribe()
	slog.Info("Spectator connected", "observer", obs.ID(), "remote", c.ClientIP(), "spectators", h.Hub.Len())
	event.ServeWebsocket(c.Request.Context(), h.Hub, conn, obs)
	slog.Info("Spectator disconnected", "observer", obs.ID())
}

// Notify publishes an event posted as JSON.
func (h *EventsHandler) Notify(c *gin.Context) {
	var e event.Event
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_event", "message": err.Error()})
		return
	}
	if !e.Known() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_event", "message": "unknown event type " + string(e.Type)})
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.Hub.Publish(e)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
