// Package booth runs the capture flow of the photo booth: countdown, capture,
// upload and print, with a live preview that yields the camera to captures.
package booth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wachiwi/potboy/pkg/camera"
	"github.com/wachiwi/potboy/pkg/event"
	"github.com/wachiwi/potboy/pkg/frame"
	"github.com/wachiwi/potboy/pkg/indicator"
)

var (
	ErrBusy     = errors.New("capture in progress")
	ErrCooldown = errors.New("capture cooldown active")
)

// CooldownError carries the time left before the next capture is accepted.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("capture cooldown active, retry in %ds", e.Seconds())
}

func (e *CooldownError) Unwrap() error {
	return ErrCooldown
}

// Seconds rounds the remaining time up to whole seconds.
func (e *CooldownError) Seconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

type State int

const (
	StateIdle State = iota
	StateCountdown
	StateCapturing
	StateUploading
	StatePrinting
)

func (s State) String() string {
	switch s {
	case StateCountdown:
		return "countdown"
	case StateCapturing:
		return "capturing"
	case StateUploading:
		return "uploading"
	case StatePrinting:
		return "printing"
	default:
		return "idle"
	}
}

type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeBusy        Outcome = "busy"
	OutcomeCooldown    Outcome = "cooldown"
	OutcomeUnavailable Outcome = "resource_unavailable"
)

// Result is the immediate answer to a trigger.
type Result struct {
	Outcome Outcome
	Message string
	// RetryAfter is set in whole seconds for cooldown results.
	RetryAfter int
	Err        error
}

func (r Result) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}

func accepted(msg string) Result {
	return Result{Outcome: OutcomeAccepted, Message: msg}
}

// Signal gives physical feedback during the countdown.
type Signal interface {
	Pulse(ctx context.Context, cue indicator.Cue, on time.Duration) error
}

// Uplink ships a photo to the relay and returns the receipt.
type Uplink interface {
	Send(ctx context.Context, photo frame.Frame) (frame.Frame, error)
	Notify(ctx context.Context, e event.Event) error
	Close() error
}

type Printer interface {
	Print(ctx context.Context, receipt frame.Frame) error
}

// Config holds the timings of the capture flow.
type Config struct {
	// Cooldown and CountdownTicks are taken as given: zero disables them.
	Cooldown       time.Duration
	CountdownTicks int
	CountdownTick  time.Duration
	TickOn         time.Duration
	ShutterBeep    time.Duration
	// FrameMaxAge is how old a preview frame may be to serve as the photo.
	FrameMaxAge time.Duration
	// PreviewStartTimeout bounds opening the camera, including waiting behind a capture.
	PreviewStartTimeout time.Duration
	// NotifyTimeout bounds forwarding one event over the uplink.
	NotifyTimeout time.Duration
	Camera        camera.Config
}

func (c Config) withDefaults() Config {
	c.Cooldown = max(c.Cooldown, 0)
	c.CountdownTicks = max(c.CountdownTicks, 0)
	if c.CountdownTick == 0 {
		c.CountdownTick = time.Second
	}
	if c.TickOn == 0 {
		c.TickOn = 100 * time.Millisecond
	}
	if c.ShutterBeep == 0 {
		c.ShutterBeep = 300 * time.Millisecond
	}
	if c.FrameMaxAge == 0 {
		c.FrameMaxAge = 2 * time.Second
	}
	if c.PreviewStartTimeout == 0 {
		c.PreviewStartTimeout = 30 * time.Second
	}
	if c.NotifyTimeout == 0 {
		c.NotifyTimeout = 2 * time.Second
	}
	return c
}

// Status is a snapshot of the orchestrator for health endpoints.
type Status struct {
	State             string     `json:"state"`
	Preview           bool       `json:"preview"`
	CameraHolder      string     `json:"camera_holder"`
	CooldownRemaining int        `json:"cooldown_remaining"`
	LastCapture       *time.Time `json:"last_capture,omitempty"`
}
