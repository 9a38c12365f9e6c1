// Package uplink is the duplex websocket link between the booth and the relay.
// The booth sends one base64 encoded photo per capture and gets one base64
// encoded receipt back; short or JSON tagged messages travel alongside as
// control traffic.
package uplink

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wachiwi/potboy/pkg/event"
	"github.com/wachiwi/potboy/pkg/frame"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// DefaultControlThreshold is the size below which a message is never an image.
const DefaultControlThreshold = 100

var (
	ErrRequestInFlight = errors.New("uplink request already in flight")
	ErrUplinkExhausted = errors.New("uplink retries exhausted")
	ErrClosed          = errors.New("uplink closed")
	ErrNotConnected    = errors.New("uplink not connected")
)

var (
	attemptsCounter metric.Int64Counter
	failuresCounter metric.Int64Counter
	receivedCounter metric.Int64Counter
)

func init() {
	var err error
	meter := otel.Meter("github.com/wachiwi/potboy/pkg/uplink")
	attemptsCounter, err = meter.Int64Counter("uplink.attempts",
		metric.WithDescription("Upload attempts made by the booth"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		slog.Error("Failed to create uplink metrics", "error", err)
	}
	failuresCounter, err = meter.Int64Counter("uplink.failures",
		metric.WithDescription("Upload attempts that failed"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		slog.Error("Failed to create uplink metrics", "error", err)
	}
	receivedCounter, err = meter.Int64Counter("uplink.received",
		metric.WithDescription("Photos received by the relay"),
		metric.WithUnit("{photos}"),
	)
	if err != nil {
		slog.Error("Failed to create uplink metrics", "error", err)
	}
}

// Config holds the booth side settings. A MaxAttempts of 0 retries until the
// caller's context is done.
type Config struct {
	URL              string
	AttemptTimeout   time.Duration
	RetryDelay       time.Duration
	MaxAttempts      int
	ControlThreshold int
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.AttemptTimeout == 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 3 * time.Second
	}
	if c.ControlThreshold == 0 {
		c.ControlThreshold = DefaultControlThreshold
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// IsControl reports whether a message is control traffic rather than an image payload.
func IsControl(data []byte, threshold int) bool {
	if len(data) < threshold {
		return true
	}
	_, ok := event.Parse(data)
	return ok
}

// Encode renders image bytes as the base64 text sent on the wire.
func Encode(f frame.Frame) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(f.Data)))
	base64.StdEncoding.Encode(out, f.Data)
	return out
}

// Decode parses a base64 payload and validates the image by its magic bytes.
// A data URL prefix ("data:image/png;base64,") is accepted.
func Decode(data []byte) (frame.Frame, error) {
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("data:")) {
		if i := bytes.IndexByte(data, ','); i >= 0 {
			data = data[i+1:]
		}
	}
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(raw, data)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return frame.New(raw[:n], time.Now())
}
