package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultQueueSize is the per-observer backlog before it is dropped.
const DefaultQueueSize = 64

var (
	publishedCounter metric.Int64Counter
	droppedCounter   metric.Int64Counter
)

func init() {
	var err error
	meter := otel.Meter("github.com/wachiwi/potboy/pkg/event")
	publishedCounter, err = meter.Int64Counter("event.published",
		metric.WithDescription("Total number of events published"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		slog.Error("Failed to create event metrics", "error", err)
	}
	droppedCounter, err = meter.Int64Counter("event.observers.dropped",
		metric.WithDescription("Observers dropped because their queue was full"),
		metric.WithUnit("{observers}"),
	)
	if err != nil {
		slog.Error("Failed to create event metrics", "error", err)
	}
}

// Observer is one subscription with its own bounded queue.
type Observer struct {
	id      string
	ch      chan Event
	dropped atomic.Bool
}

func (o *Observer) ID() string {
	return o.id
}

// Events is closed when the observer is unsubscribed, dropped or the hub closes.
func (o *Observer) Events() <-chan Event {
	return o.ch
}

// Dropped reports whether the hub gave up on this observer because it fell behind.
func (o *Observer) Dropped() bool {
	return o.dropped.Load()
}

// Hub fans events out to observers. Publish never blocks: an observer whose
// queue is full is dropped instead.
type Hub struct {
	queueSize int

	mu        sync.Mutex
	observers map[string]*Observer
	closed    bool
}

type HubOption func(*Hub)

func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		queueSize: DefaultQueueSize,
		observers: make(map[string]*Observer),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Subscribe() *Observer {
	o := &Observer{
		id: uuid.NewString(),
		ch: make(chan Event, h.queueSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(o.ch)
		return o
	}
	h.observers[o.id] = o
	slog.Debug("Observer subscribed", "observer", o.id, "observers", len(h.observers))
	return o
}

func (h *Hub) Unsubscribe(o *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[o.id]; ok {
		delete(h.observers, o.id)
		close(o.ch)
	}
}

// Publish enqueues e for every observer in publish order.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, o := range h.observers {
		select {
		case o.ch <- e:
		default:
			delete(h.observers, id)
			o.dropped.Store(true)
			close(o.ch)
			droppedCounter.Add(context.Background(), 1)
			slog.Warn("Dropping slow observer", "observer", id, "queue", h.queueSize)
		}
	}
	publishedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", string(e.Type))))
}

// Len returns the number of subscribed observers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, o := range h.observers {
		delete(h.observers, id)
		close(o.ch)
	}
}
