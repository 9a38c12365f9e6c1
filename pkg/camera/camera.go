// Package camera owns the physical camera: the frame sources that produce a
// motion-JPEG byte stream, the arbiter that serialises preview and capture
// access, and the live preview session.
package camera

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCameraUnavailable is returned when the device cannot be opened after all attempts.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrResourceBusyTimeout is returned when the current holder did not release the camera in time.
	ErrResourceBusyTimeout = errors.New("camera busy: holder did not release in time")
	// ErrLeaseHeld is returned when a second preview lease is requested.
	ErrLeaseHeld = errors.New("camera lease already held")
	// ErrStaleLease is returned when releasing a lease that is no longer current.
	ErrStaleLease = errors.New("camera lease is not current")
)

// Source is a handle to a device producing a continuous MJPEG byte stream.
// Close must unblock any pending ReadChunk.
type Source interface {
	Open(ctx context.Context) error
	ReadChunk(p []byte) (int, error)
	Close() error
}

// Config holds camera configuration
type Config struct {
	Width  int
	Height int
	FPS    int

	// Device selects a V4L2 device (e.g. /dev/video0) instead of the capture helper process.
	Device string
	// Command overrides the platform capture helper. It must write MJPEG to stdout.
	Command []string
	// Pattern replaces the camera with generated test frames.
	Pattern bool

	// Index selects the sensor on multi-camera boards.
	Index int
	// StillWidth and StillHeight size full-resolution stills.
	StillWidth  int
	StillHeight int
	// StillCommand overrides the still helper; "{output}" is replaced by the target path.
	StillCommand []string
	StillTimeout time.Duration

	OpenAttempts int
	OpenDelay    time.Duration
	// StartupGrace is how long Open watches a freshly started helper for an early exit.
	StartupGrace time.Duration
	MaxBuffer    int
}

func (c Config) withDefaults() Config {
	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.FPS == 0 {
		c.FPS = 30
	}
	if c.StillWidth == 0 {
		c.StillWidth = 4624
	}
	if c.StillHeight == 0 {
		c.StillHeight = 3472
	}
	if c.StillTimeout == 0 {
		c.StillTimeout = 10 * time.Second
	}
	if c.OpenAttempts == 0 {
		c.OpenAttempts = 3
	}
	if c.OpenDelay == 0 {
		c.OpenDelay = time.Second
	}
	if c.StartupGrace == 0 {
		c.StartupGrace = 500 * time.Millisecond
	}
	return c
}

// NewSource picks the source implementation for cfg.
func NewSource(cfg Config) Source {
	cfg = cfg.withDefaults()
	switch {
	case cfg.Pattern:
		return NewPatternSource(cfg)
	case cfg.Device != "":
		return NewDeviceSource(cfg)
	default:
		return NewExecSource(cfg)
	}
}
