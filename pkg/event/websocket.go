package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// ServeWebsocket writes the observer's events to conn as JSON text messages
// until the observer ends, the peer goes away or ctx is done. The observer is
// unsubscribed and the connection closed on return.
func ServeWebsocket(ctx context.Context, hub *Hub, conn *websocket.Conn, obs *Observer) {
	defer conn.Close()
	defer hub.Unsubscribe(obs)

	// Inbound messages are ignored, but reading is needed to notice a closed peer.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-obs.Events():
			if !ok {
				reason := "hub closed"
				if obs.Dropped() {
					reason = "slow consumer"
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, reason))
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				slog.Error("Failed to encode event", "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Info("Observer write failed, unsubscribing", "observer", obs.ID(), "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}
