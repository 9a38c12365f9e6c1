//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/blackjack/webcam"
)

const formatMJPEG = webcam.PixelFormat(uint32('M') | uint32('J')<<8 | uint32('P')<<16 | uint32('G')<<24)

// waitSeconds bounds a single WaitForFrame so Close is noticed.
const waitSeconds = 1

// DeviceSource reads MJPEG frames straight from a V4L2 device.
type DeviceSource struct {
	cfg Config

	mu      sync.Mutex
	cam     *webcam.Webcam
	pending []byte
	closed  atomic.Bool
}

func NewDeviceSource(cfg Config) *DeviceSource {
	return &DeviceSource{cfg: cfg.withDefaults()}
}

func (s *DeviceSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cam, err := webcam.Open(s.cfg.Device)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrCameraUnavailable, s.cfg.Device, err)
	}

	if _, ok := cam.GetSupportedFormats()[formatMJPEG]; !ok {
		cam.Close()
		return fmt.Errorf("%w: %s does not support MJPEG", ErrCameraUnavailable, s.cfg.Device)
	}

	_, w, h, err := cam.SetImageFormat(formatMJPEG, uint32(s.cfg.Width), uint32(s.cfg.Height))
	if err != nil {
		cam.Close()
		return fmt.Errorf("%w: set format: %w", ErrCameraUnavailable, err)
	}
	if err := cam.SetBufferCount(4); err != nil {
		slog.Warn("Failed to set camera buffer count", "device", s.cfg.Device, "error", err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return fmt.Errorf("%w: start streaming: %w", ErrCameraUnavailable, err)
	}

	s.cam = cam
	s.pending = nil
	s.closed.Store(false)
	slog.Info("Started camera device", "device", s.cfg.Device, "width", w, "height", h)
	return nil
}

// ReadChunk copies out the current driver frame, waiting for a new one when it is drained.
func (s *DeviceSource) ReadChunk(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) == 0 {
		if s.closed.Load() || s.cam == nil {
			return 0, os.ErrClosed
		}
		err := s.cam.WaitForFrame(waitSeconds)
		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("wait for frame: %w", err)
		}
		data, err := s.cam.ReadFrame()
		if err != nil {
			return 0, fmt.Errorf("read frame: %w", err)
		}
		s.pending = append(s.pending[:0], data...)
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close stops streaming. It waits for an in-progress ReadChunk, which gives up
// within one frame wait.
func (s *DeviceSource) Close() error {
	s.closed.Store(true)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam == nil {
		return nil
	}
	cam := s.cam
	s.cam = nil
	s.pending = nil
	if err := cam.StopStreaming(); err != nil {
		slog.Warn("Failed to stop camera streaming", "device", s.cfg.Device, "error", err)
	}
	return cam.Close()
}
