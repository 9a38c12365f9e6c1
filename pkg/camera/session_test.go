package camera

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/wachiwi/potboy/pkg/frame"
)

func testConfig() Config {
	return Config{Width: 32, Height: 24, FPS: 50, Pattern: true, OpenAttempts: 1, OpenDelay: time.Millisecond}
}

func waitForFrame(t *testing.T, s *Session) frame.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f, ok := s.LatestFrame(time.Second); ok {
			return f
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no frame arrived")
	return frame.Frame{}
}

func TestSessionLifecycle(t *testing.T) {
	cfg := testConfig()
	s, err := StartSession(context.Background(), NewSource(cfg), cfg)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	defer s.Stop()

	f := waitForFrame(t, s)
	if f.Format != frame.FormatJPEG {
		t.Errorf("expected jpeg frame, got %s", f.Format)
	}

	t.Run("Pause", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.Pause(ctx); err != nil {
			t.Fatalf("Pause failed: %v", err)
		}
		if s.Running() {
			t.Error("session should not be running while paused")
		}
		n := s.Frames()
		time.Sleep(60 * time.Millisecond)
		if s.Frames() != n {
			t.Error("frames arrived while paused")
		}
	})

	t.Run("Resume", func(t *testing.T) {
		n := s.Frames()
		if err := s.Resume(context.Background()); err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for s.Frames() == n && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if s.Frames() == n {
			t.Error("no frames after resume")
		}
	})

	t.Run("Stop", func(t *testing.T) {
		s.Stop()
		s.Stop()
		select {
		case <-s.Done():
		default:
			t.Fatal("Done not closed after Stop")
		}
		if err := s.Resume(context.Background()); !errors.Is(err, ErrSessionStopped) {
			t.Errorf("expected ErrSessionStopped, got %v", err)
		}
	})
}

func TestSessionLatestFrameMaxAge(t *testing.T) {
	s := &Session{done: make(chan struct{})}
	if _, ok := s.LatestFrame(0); ok {
		t.Fatal("expected no frame on a fresh session")
	}
	s.latest = frame.Frame{Data: []byte{0xFF, 0xD8, 0xFF}, Format: frame.FormatJPEG, CapturedAt: time.Now().Add(-time.Minute)}
	if _, ok := s.LatestFrame(5 * time.Second); ok {
		t.Error("stale frame should be rejected")
	}
	if _, ok := s.LatestFrame(0); !ok {
		t.Error("zero max age should accept any frame")
	}
}

func TestStartSessionUnavailable(t *testing.T) {
	cfg := Config{Device: "/dev/does-not-exist", OpenAttempts: 2, OpenDelay: time.Millisecond}
	_, err := StartSession(context.Background(), NewSource(cfg), cfg)
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Errorf("expected ErrCameraUnavailable, got %v", err)
	}
}

func TestExecSource(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	cfg := Config{
		Command:      []string{"sh", "-c", `while true; do printf '\377\330\377\340ok\377\331'; sleep 0.02; done`},
		StartupGrace: 50 * time.Millisecond,
		OpenAttempts: 1,
	}

	t.Run("streams frames", func(t *testing.T) {
		s, err := StartSession(context.Background(), NewExecSource(cfg), cfg)
		if err != nil {
			t.Fatalf("StartSession failed: %v", err)
		}
		defer s.Stop()
		f := waitForFrame(t, s)
		if string(f.Data) != "\xff\xd8\xff\xe0ok\xff\xd9" {
			t.Errorf("unexpected frame %q", f.Data)
		}
	})

	t.Run("early exit is unavailable", func(t *testing.T) {
		bad := cfg
		bad.Command = []string{"sh", "-c", "echo no camera >&2; exit 1"}
		bad.StartupGrace = 2 * time.Second
		err := NewExecSource(bad).Open(context.Background())
		if !errors.Is(err, ErrCameraUnavailable) {
			t.Errorf("expected ErrCameraUnavailable, got %v", err)
		}
	})
}

func TestSnapshotters(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	t.Run("StillCommand", func(t *testing.T) {
		s := &StillCommand{
			Args:    []string{"sh", "-c", `printf '\377\330\377\340still\377\331' > "$0"`, outputPlaceholder},
			Timeout: 5 * time.Second,
			TempDir: t.TempDir(),
		}
		f, err := s.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if f.Format != frame.FormatJPEG {
			t.Errorf("expected jpeg, got %s", f.Format)
		}
	})

	t.Run("StillCommand rejects garbage", func(t *testing.T) {
		s := &StillCommand{
			Args:    []string{"sh", "-c", `echo hello > "$0"`, outputPlaceholder},
			TempDir: t.TempDir(),
		}
		if _, err := s.Snapshot(context.Background()); !errors.Is(err, frame.ErrUnknownFormat) {
			t.Errorf("expected ErrUnknownFormat, got %v", err)
		}
	})

	t.Run("SourceSnapshotter", func(t *testing.T) {
		cfg := testConfig()
		s := &SourceSnapshotter{Source: NewSource(cfg), Attempts: 1, Delay: time.Millisecond}
		f, err := s.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if f.Format != frame.FormatJPEG {
			t.Errorf("expected jpeg, got %s", f.Format)
		}
	})
}
