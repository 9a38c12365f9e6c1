package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"sync"
	"time"
)

// PatternSource generates a colored test pattern as an MJPEG stream.
// It stands in for the camera during development and in tests.
type PatternSource struct {
	cfg Config

	mu      sync.Mutex
	open    bool
	done    chan struct{}
	ticker  *time.Ticker
	pending []byte
	frames  int
}

func NewPatternSource(cfg Config) *PatternSource {
	return &PatternSource{cfg: cfg.withDefaults()}
}

func (s *PatternSource) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}
	s.open = true
	s.done = make(chan struct{})
	s.ticker = time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	s.pending = nil
	return nil
}

func (s *PatternSource) ReadChunk(p []byte) (int, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return 0, os.ErrClosed
	}
	if len(s.pending) == 0 {
		done, tick := s.done, s.ticker.C
		s.mu.Unlock()
		select {
		case <-done:
			return 0, os.ErrClosed
		case <-tick:
		}
		data, err := s.render()
		if err != nil {
			return 0, err
		}
		s.mu.Lock()
		if !s.open {
			s.mu.Unlock()
			return 0, os.ErrClosed
		}
		s.pending = data
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	s.mu.Unlock()
	return n, nil
}

func (s *PatternSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	s.ticker.Stop()
	close(s.done)
	return nil
}

// render encodes one frame. The red channel steps every frame so consecutive
// frames differ.
func (s *PatternSource) render() ([]byte, error) {
	s.mu.Lock()
	s.frames++
	shade := byte(s.frames % 256)
	s.mu.Unlock()

	w, h := s.cfg.Width, s.cfg.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			offset := y*img.Stride + x*4
			img.Pix[offset] = shade
			img.Pix[offset+1] = byte((x * 255) / w)
			img.Pix[offset+2] = byte((y * 255) / h)
			img.Pix[offset+3] = 255
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
