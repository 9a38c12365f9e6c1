package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/wachiwi/potboy/pkg/archive"
	"github.com/wachiwi/potboy/pkg/event"
	"github.com/wachiwi/potboy/pkg/frame"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/wachiwi/potboy/pkg/uplink")

// ControlHandler receives every inbound control message.
type ControlHandler func(data []byte)

// Recorder persists a photo together with the receipt it produced.
type Recorder interface {
	Save(photo, receipt frame.Frame) (archive.Record, error)
}

type Option func(*Channel)

func WithControlHandler(h ControlHandler) Option {
	return func(c *Channel) {
		c.control = h
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Channel) {
		c.recorder = r
	}
}

// Channel is the booth end of the uplink. At most one Send is in flight.
type Channel struct {
	cfg      Config
	dialer   *websocket.Dialer
	control  ControlHandler
	recorder Recorder

	inFlight atomic.Bool
	closed   atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc

	mu   sync.Mutex
	conn *conn
}

// conn is one websocket connection and its read loop.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	replies chan []byte
	done    chan struct{}
	err     error
}

func (cn *conn) write(ctx context.Context, messageType int, data []byte) error {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = cn.ws.SetWriteDeadline(deadline)
	return cn.ws.WriteMessage(messageType, data)
}

func New(cfg Config, opts ...Option) *Channel {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether a live connection exists.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	select {
	case <-c.conn.done:
		return false
	default:
		return true
	}
}

// Connect establishes the connection ahead of the first Send.
func (c *Channel) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	_, err := c.connect(ctx)
	return err
}

func (c *Channel) connect(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		select {
		case <-c.conn.done:
			c.conn = nil
		default:
			return c.conn, nil
		}
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	cn := &conn{
		ws:      ws,
		replies: make(chan []byte, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop(cn)
	c.conn = cn
	slog.Info("Uplink connected", "url", c.cfg.URL)
	return cn, nil
}

func (c *Channel) readLoop(cn *conn) {
	defer close(cn.done)
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			cn.err = err
			if !c.closed.Load() {
				slog.Warn("Uplink connection lost", "error", err)
			}
			return
		}
		if IsControl(data, c.cfg.ControlThreshold) {
			if c.control != nil {
				c.control(data)
			} else {
				slog.Debug("Uplink control message", "size", len(data))
			}
			continue
		}
		select {
		case cn.replies <- data:
		default:
			slog.Warn("Dropping unsolicited uplink payload", "size", len(data))
		}
	}
}

// drop forgets cn if it is still current and closes it.
func (c *Channel) drop(cn *conn) {
	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
	}
	c.mu.Unlock()
	cn.ws.Close()
}

// Send uploads f and waits for the receipt, retrying the whole
// connect/send/receive cycle per attempt.
func (c *Channel) Send(ctx context.Context, f frame.Frame) (frame.Frame, error) {
	if c.closed.Load() {
		return frame.Frame{}, ErrClosed
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return frame.Frame{}, ErrRequestInFlight
	}
	defer c.inFlight.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	ctx, span := tracer.Start(ctx, "uplink.send")
	defer span.End()
	span.SetAttributes(attribute.Int("photo.bytes", f.Len()))

	payload := Encode(f)
	attempts := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.RetryDelay)),
		backoff.WithMaxElapsedTime(0),
	}
	if c.cfg.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(c.cfg.MaxAttempts)))
	}

	receipt, err := backoff.Retry(ctx, func() (frame.Frame, error) {
		attempts++
		attemptsCounter.Add(ctx, 1)
		receipt, err := c.attempt(ctx, payload)
		if err == nil {
			return receipt, nil
		}
		failuresCounter.Add(ctx, 1)
		if c.closed.Load() {
			return frame.Frame{}, backoff.Permanent(ErrClosed)
		}
		slog.Warn("Uplink attempt failed", "attempt", attempts, "max_attempts", c.cfg.MaxAttempts, "error", err)
		return frame.Frame{}, err
	}, opts...)
	span.SetAttributes(attribute.Int("uplink.attempts", attempts))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if c.closed.Load() || errors.Is(err, ErrClosed) {
			return frame.Frame{}, ErrClosed
		}
		if ctx.Err() != nil {
			return frame.Frame{}, fmt.Errorf("uplink aborted after %d attempts: %w", attempts, ctx.Err())
		}
		return frame.Frame{}, fmt.Errorf("%w after %d attempts: %w", ErrUplinkExhausted, attempts, err)
	}

	if c.recorder != nil {
		if rec, err := c.recorder.Save(f, receipt); err != nil {
			slog.Error("Failed to persist capture", "error", err)
		} else {
			slog.Info("Capture persisted", "photo", rec.Photo, "receipt", rec.Receipt)
		}
	}
	return receipt, nil
}

func (c *Channel) attempt(ctx context.Context, payload []byte) (frame.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	cn, err := c.connect(ctx)
	if err != nil {
		return frame.Frame{}, err
	}

	// A reply left over from an abandoned attempt must not answer this one.
	select {
	case <-cn.replies:
	default:
	}

	if err := cn.write(ctx, websocket.TextMessage, payload); err != nil {
		c.drop(cn)
		return frame.Frame{}, fmt.Errorf("send photo: %w", err)
	}

	select {
	case data := <-cn.replies:
		receipt, err := Decode(data)
		if err != nil {
			c.drop(cn)
			return frame.Frame{}, fmt.Errorf("invalid receipt: %w", err)
		}
		return receipt, nil
	case <-cn.done:
		c.drop(cn)
		return frame.Frame{}, fmt.Errorf("connection lost: %w", cn.err)
	case <-ctx.Done():
		c.drop(cn)
		return frame.Frame{}, fmt.Errorf("no receipt: %w", ctx.Err())
	}
}

// Notify sends e as a JSON control message on the current connection. It
// never dials; without a connection it returns ErrNotConnected.
func (c *Channel) Notify(ctx context.Context, e event.Event) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := cn.write(ctx, websocket.TextMessage, data); err != nil {
		c.drop(cn)
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// Close ends the connection and abandons any in-flight Send.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()

	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if cn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = cn.write(ctx, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return cn.ws.Close()
}
