//go:build !linux

package camera

import (
	"context"
	"fmt"
	"os"
)

// DeviceSource is only available on linux.
type DeviceSource struct {
	cfg Config
}

func NewDeviceSource(cfg Config) *DeviceSource {
	return &DeviceSource{cfg: cfg}
}

func (s *DeviceSource) Open(context.Context) error {
	return fmt.Errorf("%w: V4L2 device %s requires linux", ErrCameraUnavailable, s.cfg.Device)
}

func (s *DeviceSource) ReadChunk([]byte) (int, error) {
	return 0, os.ErrClosed
}

func (s *DeviceSource) Close() error {
	return nil
}
