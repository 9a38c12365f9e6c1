// Package indicator drives the booth's physical feedback: a status lamp and a
// buzzer on GPIO lines, plus optional sound cues on the audio output.
package indicator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Cue selects the sound played with a pulse.
type Cue int

const (
	CueTick Cue = iota
	CueShutter
)

func (c Cue) String() string {
	if c == CueShutter {
		return "shutter"
	}
	return "tick"
}

// Lines switches the lamp and buzzer together.
type Lines interface {
	Set(on bool) error
	Close() error
}

// Config holds the GPIO and sound settings.
type Config struct {
	Chip      string
	LightPin  string
	BuzzerPin string
	// SoundDir holds tick.wav/tick.mp3 and shutter.wav/shutter.mp3. Empty disables sound.
	SoundDir string
}

// Indicator combines the lines with an optional sound player.
type Indicator struct {
	mu     sync.Mutex
	lines  Lines
	player *Player
	kind   string
}

// New opens the GPIO lines described by cfg, falling back to mock lines when
// the chip is unavailable. Sound is best-effort.
func New(cfg Config) *Indicator {
	ind := &Indicator{}

	lines, err := OpenGPIO(cfg.Chip, cfg.LightPin, cfg.BuzzerPin)
	if err != nil {
		slog.Warn("GPIO unavailable, using mock indicator", "chip", cfg.Chip, "error", err)
		ind.lines = &MockLines{}
		ind.kind = "mock"
	} else {
		ind.lines = lines
		ind.kind = "gpio"
	}

	if cfg.SoundDir != "" {
		player, err := NewPlayer(cfg.SoundDir)
		if err != nil {
			slog.Warn("Sound cues disabled", "dir", cfg.SoundDir, "error", err)
		} else {
			ind.player = player
		}
	}
	return ind
}

// NewWithLines wraps existing lines without sound.
func NewWithLines(lines Lines, kind string) *Indicator {
	return &Indicator{lines: lines, kind: kind}
}

// Kind reports "gpio" or "mock".
func (i *Indicator) Kind() string {
	return i.kind
}

// Pulse switches the lines on for d, playing cue alongside when sound is enabled.
// The lines are always switched off again, even when ctx ends early.
func (i *Indicator) Pulse(ctx context.Context, cue Cue, d time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.player != nil {
		go i.player.Play(cue)
	}
	if err := i.lines.Set(true); err != nil {
		return err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	var waitErr error
	select {
	case <-timer.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	return errors.Join(i.lines.Set(false), waitErr)
}

// Close switches everything off and releases the lines.
func (i *Indicator) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return errors.Join(i.lines.Set(false), i.lines.Close())
}

// MockLines logs instead of toggling hardware.
type MockLines struct {
	mu      sync.Mutex
	on      bool
	toggles int
}

func (m *MockLines) Set(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on != m.on {
		m.toggles++
	}
	m.on = on
	slog.Debug("[MOCK] Indicator lines", "on", on)
	return nil
}

func (m *MockLines) Close() error {
	return nil
}

// On reports the current line state.
func (m *MockLines) On() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

// Toggles counts state changes.
func (m *MockLines) Toggles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toggles
}
