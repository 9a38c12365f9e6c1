package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ExecSource runs a capture helper process that writes MJPEG to stdout.
// It can be reopened after Close.
type ExecSource struct {
	cfg Config

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	exited chan struct{}
}

// NewExecSource creates a source for the platform capture helper, or cfg.Command when set.
func NewExecSource(cfg Config) *ExecSource {
	return &ExecSource{cfg: cfg.withDefaults()}
}

func (s *ExecSource) command() (string, []string, error) {
	if len(s.cfg.Command) > 0 {
		return s.cfg.Command[0], s.cfg.Command[1:], nil
	}
	return streamCommand(s.cfg)
}

// Open starts the helper process. A process that dies within the startup
// grace period is reported as ErrCameraUnavailable together with its stderr.
func (s *ExecSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil
	}

	name, args, err := s.command()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}

	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start %s: %w", ErrCameraUnavailable, name, err)
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		if err != nil {
			slog.Warn("Camera streaming process exited", "command", name, "error", err, "stderr", stderr.String())
		} else {
			slog.Info("Camera streaming process exited cleanly", "command", name)
		}
		close(exited)
	}()

	grace := time.NewTimer(s.cfg.StartupGrace)
	defer grace.Stop()
	select {
	case <-exited:
		return fmt.Errorf("%w: %s exited during startup: %s", ErrCameraUnavailable, name, bytes.TrimSpace(stderr.Bytes()))
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-exited
		return ctx.Err()
	case <-grace.C:
	}

	s.cmd = cmd
	s.stdout = stdout
	s.exited = exited
	slog.Info("Started camera streaming process", "command", name, "width", s.cfg.Width, "height", s.cfg.Height, "fps", s.cfg.FPS)
	return nil
}

func (s *ExecSource) ReadChunk(p []byte) (int, error) {
	s.mu.Lock()
	r := s.stdout
	s.mu.Unlock()
	if r == nil {
		return 0, os.ErrClosed
	}
	return r.Read(p)
}

// Close kills the helper and waits for it to exit, which closes the pipe
// under any blocked reader.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	cmd, exited := s.cmd, s.exited
	s.cmd, s.stdout, s.exited = nil, nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop capture helper: %w", err)
	}
	<-exited
	return nil
}
