package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

// jpeg builds a minimal SOI..EOI payload around body.
func jpeg(body string) []byte {
	b := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	b = append(b, body...)
	return append(b, 0xFF, 0xD9)
}

func stream(frames ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("garbage")
	for _, f := range frames {
		buf.Write(f)
		buf.WriteString("\r\n--frame\r\n")
	}
	return buf.Bytes()
}

func TestDemuxerSingleChunk(t *testing.T) {
	a, b := jpeg("first"), jpeg("second")
	d := NewDemuxer(0)

	frames := d.Feed(stream(a, b))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, a) || !bytes.Equal(frames[1].Data, b) {
		t.Errorf("frames out of order or corrupted: %q %q", frames[0].Data, frames[1].Data)
	}
	if frames[0].Format != FormatJPEG {
		t.Errorf("expected jpeg format, got %s", frames[0].Format)
	}
	if frames[0].CapturedAt.IsZero() {
		t.Error("expected capture timestamp to be set")
	}
}

func TestDemuxerChunkedMatchesSingleChunk(t *testing.T) {
	data := stream(jpeg("one"), jpeg("two"), jpeg(string(bytes.Repeat([]byte{0xFF}, 7))), jpeg("four"))

	whole := NewDemuxer(0).Feed(data)

	for _, size := range []int{1, 2, 3, 5, 16, 4096} {
		d := NewDemuxer(0)
		var got []Frame
		for i := 0; i < len(data); i += size {
			end := min(i+size, len(data))
			got = append(got, d.Feed(data[i:end])...)
		}
		if len(got) != len(whole) {
			t.Fatalf("chunk size %d: expected %d frames, got %d", size, len(whole), len(got))
		}
		for i := range got {
			if !bytes.Equal(got[i].Data, whole[i].Data) {
				t.Errorf("chunk size %d: frame %d differs", size, i)
			}
		}
	}
}

func TestDemuxerSplitMarker(t *testing.T) {
	f := jpeg("split")
	d := NewDemuxer(0)

	// Noise ending in the first byte of the SOI marker.
	if got := d.Feed([]byte{0x00, 0x11, 0xFF}); len(got) != 0 {
		t.Fatalf("unexpected frames: %d", len(got))
	}
	got := d.Feed(f[1:])
	if len(got) != 1 || !bytes.Equal(got[0].Data, f) {
		t.Fatalf("expected split frame to be reassembled, got %v", got)
	}
	if d.Buffered() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", d.Buffered())
	}
}

func TestDemuxerOverflowResets(t *testing.T) {
	d := NewDemuxer(64)
	d.Feed([]byte{0xFF, 0xD8})
	d.Feed(bytes.Repeat([]byte{0x01}, 100))
	if d.Buffered() != 0 {
		t.Fatalf("expected buffer reset after overflow, got %d bytes", d.Buffered())
	}

	f := jpeg("after")
	got := d.Feed(f)
	if len(got) != 1 || !bytes.Equal(got[0].Data, f) {
		t.Errorf("expected recovery after overflow, got %v", got)
	}
}

type chunkReader struct {
	r   io.Reader
	err error
}

func (c *chunkReader) ReadChunk(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err == io.EOF && c.err != nil {
		return n, c.err
	}
	return n, err
}

func TestFrames(t *testing.T) {
	t.Run("ends on EOF", func(t *testing.T) {
		src := &chunkReader{r: bytes.NewReader(stream(jpeg("a"), jpeg("b"), jpeg("c")))}
		var n int
		for f, err := range NewDemuxer(0).Frames(src) {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Format != FormatJPEG {
				t.Errorf("unexpected format %s", f.Format)
			}
			n++
		}
		if n != 3 {
			t.Errorf("expected 3 frames, got %d", n)
		}
	})

	t.Run("yields read error once", func(t *testing.T) {
		boom := errors.New("device unplugged")
		src := &chunkReader{r: bytes.NewReader(jpeg("a")), err: boom}
		var frames, errs int
		for _, err := range NewDemuxer(0).Frames(src) {
			if err != nil {
				if !errors.Is(err, boom) {
					t.Errorf("unexpected error: %v", err)
				}
				errs++
				continue
			}
			frames++
		}
		if frames != 1 || errs != 1 {
			t.Errorf("expected 1 frame and 1 error, got %d and %d", frames, errs)
		}
	})

	t.Run("not restartable", func(t *testing.T) {
		d := NewDemuxer(0)
		src := &chunkReader{r: bytes.NewReader(nil)}
		for range d.Frames(src) {
		}
		for _, err := range d.Frames(src) {
			if !errors.Is(err, ErrConsumed) {
				t.Errorf("expected ErrConsumed, got %v", err)
			}
		}
	})
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n', 0}, FormatPNG},
		{"gif", []byte("GIF89a"), FormatGIF},
		{"text", []byte("hello"), FormatUnknown},
		{"short jpeg", []byte{0xFF, 0xD8}, FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.data); got != tt.want {
				t.Errorf("Detect() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := New([]byte("not an image"), time.Time{}); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}
