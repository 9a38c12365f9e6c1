package camera

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wachiwi/potboy/pkg/frame"
)

// ErrSessionStopped is returned when resuming a session that has been stopped.
var ErrSessionStopped = errors.New("preview session stopped")

type sessionState int

const (
	sessionRunning sessionState = iota
	sessionPaused
	sessionStopped
)

// Session pumps frames from a Source into the latest-frame slot while a preview is live.
type Session struct {
	src Source
	cfg Config

	// op serialises Pause, Resume and Stop.
	op sync.Mutex

	mu       sync.RWMutex
	state    sessionState
	latest   frame.Frame
	frames   uint64
	pumpDone chan struct{}
	done     chan struct{}
}

// StartSession opens src, retrying per cfg, and starts pumping frames.
func StartSession(ctx context.Context, src Source, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := OpenWithRetry(ctx, src, cfg.OpenAttempts, cfg.OpenDelay); err != nil {
		return nil, err
	}
	s := &Session{
		src:  src,
		cfg:  cfg,
		done: make(chan struct{}),
	}
	s.startPump()
	return s, nil
}

// startPump must be called with op held or before the session is shared.
func (s *Session) startPump() {
	done := make(chan struct{})
	s.mu.Lock()
	s.state = sessionRunning
	s.pumpDone = done
	s.mu.Unlock()
	go s.pump(done)
}

func (s *Session) pump(done chan struct{}) {
	defer close(done)

	d := frame.NewDemuxer(s.cfg.MaxBuffer)
	for f, err := range d.Frames(s.src) {
		if err != nil {
			slog.Error("Stream read error", "error", err)
			break
		}
		s.mu.Lock()
		s.latest = f
		s.frames++
		s.mu.Unlock()
	}

	// The source ended on its own: the session is dead.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == sessionRunning {
		slog.Warn("Preview source ended unexpectedly", "frames", s.frames)
		s.state = sessionStopped
		close(s.done)
	}
}

// LatestFrame returns the most recent frame if it is younger than maxAge.
// A zero maxAge accepts any age.
func (s *Session) LatestFrame(maxAge time.Duration) (frame.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest.IsZero() {
		return frame.Frame{}, false
	}
	if maxAge > 0 && time.Since(s.latest.CapturedAt) > maxAge {
		return frame.Frame{}, false
	}
	return s.latest, true
}

// Running reports whether frames are being pumped.
func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == sessionRunning
}

// Frames returns the number of frames extracted so far.
func (s *Session) Frames() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// Done is closed once the session has stopped for good.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Pause releases the source and waits for the pump to drain, bounded by ctx.
func (s *Session) Pause(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.state != sessionRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = sessionPaused
	pumpDone := s.pumpDone
	s.mu.Unlock()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		if err := s.src.Close(); err != nil {
			slog.Warn("Failed to close camera source", "error", err)
		}
	}()
	for closed != nil || pumpDone != nil {
		select {
		case <-closed:
			closed = nil
		case <-pumpDone:
			pumpDone = nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	slog.Info("Preview paused")
	return nil
}

// Resume reopens the source of a paused session.
func (s *Session) Resume(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	switch state {
	case sessionRunning:
		return nil
	case sessionStopped:
		return ErrSessionStopped
	}

	if err := OpenWithRetry(ctx, s.src, s.cfg.OpenAttempts, s.cfg.OpenDelay); err != nil {
		s.stopLocked()
		return err
	}
	s.startPump()
	slog.Info("Preview resumed")
	return nil
}

// Stop closes the source and ends the session. It is idempotent.
func (s *Session) Stop() {
	s.op.Lock()
	defer s.op.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	s.mu.Lock()
	if s.state == sessionStopped {
		s.mu.Unlock()
		return
	}
	s.state = sessionStopped
	pumpDone := s.pumpDone
	close(s.done)
	s.mu.Unlock()

	if err := s.src.Close(); err != nil {
		slog.Warn("Failed to close camera source", "error", err)
	}
	if pumpDone != nil {
		<-pumpDone
	}
}
