package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wachiwi/potboy/pkg/frame"
)

const outputPlaceholder = "{output}"

// Snapshotter takes a single still when no live preview frame is available.
type Snapshotter interface {
	Snapshot(ctx context.Context) (frame.Frame, error)
}

// StillCommand runs a one-shot still helper (rpicam-still style) that writes
// an image to a temporary file.
type StillCommand struct {
	Args    []string
	Timeout time.Duration
	TempDir string
}

// NewStillCommand builds the still helper for the platform, or cfg.StillCommand when set.
func NewStillCommand(cfg Config) (*StillCommand, error) {
	cfg = cfg.withDefaults()
	args := cfg.StillCommand
	if len(args) == 0 {
		var err error
		if args, err = stillCommand(cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
		}
	}
	return &StillCommand{Args: args, Timeout: cfg.StillTimeout}, nil
}

func (s *StillCommand) Snapshot(ctx context.Context) (frame.Frame, error) {
	if len(s.Args) == 0 {
		return frame.Frame{}, fmt.Errorf("%w: empty still command", ErrCameraUnavailable)
	}

	dir, err := os.MkdirTemp(s.TempDir, "still-")
	if err != nil {
		return frame.Frame{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	output := filepath.Join(dir, "still.jpg")

	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = strings.ReplaceAll(a, outputPlaceholder, output)
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || errors.Is(err, exec.ErrNotFound) {
			return frame.Frame{}, fmt.Errorf("%w: %s: %w: %s", ErrCameraUnavailable, args[0], err, bytes.TrimSpace(stderr.Bytes()))
		}
		return frame.Frame{}, fmt.Errorf("still capture failed: %w", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("failed to read still: %w", err)
	}
	f, err := frame.New(data, time.Now())
	if err != nil {
		return frame.Frame{}, fmt.Errorf("still helper produced invalid image: %w", err)
	}
	slog.Info("Captured still", "command", args[0], "bytes", f.Len(), "duration", time.Since(start))
	return f, nil
}

// SourceSnapshotter opens a Source and keeps the first frame it produces.
type SourceSnapshotter struct {
	Source   Source
	Attempts int
	Delay    time.Duration
}

func (s *SourceSnapshotter) Snapshot(ctx context.Context) (frame.Frame, error) {
	if err := OpenWithRetry(ctx, s.Source, s.Attempts, s.Delay); err != nil {
		return frame.Frame{}, err
	}
	defer s.Source.Close()

	stop := context.AfterFunc(ctx, func() {
		s.Source.Close()
	})
	defer stop()

	for f, err := range frame.NewDemuxer(0).Frames(s.Source) {
		if err != nil {
			return frame.Frame{}, fmt.Errorf("snapshot read: %w", err)
		}
		return f, nil
	}
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{}, fmt.Errorf("%w: source ended before a frame arrived", ErrCameraUnavailable)
}
