package uplink

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wachiwi/potboy/pkg/archive"
	"github.com/wachiwi/potboy/pkg/event"
	"github.com/wachiwi/potboy/pkg/frame"
)

const writeTimeout = 30 * time.Second

// ReceiptFunc composes the printable receipt for a received photo.
type ReceiptFunc func(ctx context.Context, photo frame.Frame) (frame.Frame, error)

// IdentityReceipt prints the photo as is.
func IdentityReceipt(_ context.Context, photo frame.Frame) (frame.Frame, error) {
	return photo, nil
}

// Publisher receives the events the relay shows to spectators.
type Publisher interface {
	Publish(event.Event)
}

type ServerOption func(*Server)

func WithReceiptFunc(fn ReceiptFunc) ServerOption {
	return func(s *Server) {
		s.receipt = fn
	}
}

func WithServerControlThreshold(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// Server is the relay end of the uplink. Every received photo is persisted,
// turned into a receipt and answered on the same connection.
type Server struct {
	store     *archive.Store
	hub       Publisher
	receipt   ReceiptFunc
	threshold int
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewServer(store *archive.Store, hub Publisher, opts ...ServerOption) *Server {
	s := &Server{
		store:     store,
		hub:       hub,
		receipt:   IdentityReceipt,
		threshold: DefaultControlThreshold,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connected returns the number of booths currently attached.
func (s *Server) Connected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Uplink upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.Serve(r.Context(), ws)
}

// Serve handles one booth connection until it closes.
func (s *Server) Serve(ctx context.Context, ws *websocket.Conn) {
	s.mu.Lock()
	s.conns[ws] = struct{}{}
	s.mu.Unlock()
	slog.Info("Booth connected", "remote", ws.RemoteAddr().String())

	defer func() {
		s.mu.Lock()
		delete(s.conns, ws)
		s.mu.Unlock()
		ws.Close()
		slog.Info("Booth disconnected", "remote", ws.RemoteAddr().String())
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Uplink read failed", "error", err)
			}
			return
		}

		if IsControl(data, s.threshold) {
			s.handleControl(data)
			continue
		}

		reply, err := s.handleImage(ctx, data)
		if err != nil {
			slog.Error("Failed to process photo", "error", err)
			s.hub.Publish(event.Error(err.Error()))
			continue
		}

		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, reply); err != nil {
			slog.Error("Failed to send receipt", "error", err)
			return
		}
		slog.Info("Receipt sent to booth", "bytes", len(reply))
		s.hub.Publish(event.CaptureDone())
	}
}

// handleControl forwards booth lifecycle events. capture_done is emitted by
// the relay itself once the receipt is on its way.
func (s *Server) handleControl(data []byte) {
	e, ok := event.Parse(data)
	if !ok {
		slog.Debug("Uplink keepalive", "size", len(data))
		return
	}
	if !e.Known() || e.Type == event.TypeCaptureDone {
		return
	}
	s.hub.Publish(e)
}

func (s *Server) handleImage(ctx context.Context, data []byte) ([]byte, error) {
	photo, err := Decode(data)
	if err != nil {
		return nil, err
	}
	receivedCounter.Add(ctx, 1)
	slog.Info("Photo received", "bytes", photo.Len(), "format", photo.Format)

	rec, err := s.store.SavePhoto(photo)
	if err != nil {
		return nil, err
	}
	receipt, err := s.receipt(ctx, photo)
	if err != nil {
		return nil, err
	}
	if rec, err = s.store.SaveReceipt(rec, receipt); err != nil {
		return nil, err
	}
	slog.Info("Saved capture", "photo", rec.Photo, "receipt", rec.Receipt)
	return Encode(receipt), nil
}
