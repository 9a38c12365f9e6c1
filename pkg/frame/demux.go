package frame

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxBuffer bounds the accumulator when no end marker ever shows up.
	DefaultMaxBuffer = 10 * 1024 * 1024

	readChunkSize = 4096
)

// ErrConsumed is yielded when Frames is called a second time on the same Demuxer.
var ErrConsumed = errors.New("frame sequence already consumed")

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// ChunkReader is the read side of a frame source.
type ChunkReader interface {
	ReadChunk(p []byte) (int, error)
}

// Demuxer extracts JPEG frames (SOI..EOI) from a byte stream without length prefixes.
// It is not safe for concurrent use.
type Demuxer struct {
	buf       []byte
	searched  int // offset in buf up to which EOI has already been searched
	maxBuffer int
	consumed  atomic.Bool
	now       func() time.Time
}

// NewDemuxer creates a Demuxer. A maxBuffer <= 0 selects DefaultMaxBuffer.
func NewDemuxer(maxBuffer int) *Demuxer {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Demuxer{maxBuffer: maxBuffer, now: time.Now}
}

// Feed appends chunk to the accumulator and returns every complete frame found, oldest first.
func (d *Demuxer) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		start := bytes.Index(d.buf, soi)
		if start == -1 {
			// Nothing decodable. Keep a trailing 0xFF, it may be the first half of a marker.
			if n := len(d.buf); n > 0 && d.buf[n-1] == soi[0] {
				d.buf = append(d.buf[:0], soi[0])
			} else {
				d.buf = d.buf[:0]
			}
			d.searched = 0
			break
		}
		if start > 0 {
			d.buf = d.buf[start:]
			d.searched = 0
		}

		from := max(len(soi), d.searched-1)
		end := bytes.Index(d.buf[from:], eoi)
		if end == -1 {
			d.searched = len(d.buf)
			break
		}
		end += from + len(eoi)

		data := make([]byte, end)
		copy(data, d.buf[:end])
		frames = append(frames, Frame{Data: data, Format: Detect(data), CapturedAt: d.now()})

		d.buf = d.buf[end:]
		d.searched = 0
	}

	if len(d.buf) > d.maxBuffer {
		slog.Warn("Frame buffer overflow, resetting", "size", len(d.buf), "limit", d.maxBuffer)
		d.buf = nil
		d.searched = 0
	}
	d.compact()
	return frames
}

// Buffered returns the number of bytes waiting for an end marker.
func (d *Demuxer) Buffered() int {
	return len(d.buf)
}

// compact moves the pending bytes to the front of a fresh slice once the
// consumed prefix dominates the backing array.
func (d *Demuxer) compact() {
	if cap(d.buf) > 4*readChunkSize && len(d.buf) < cap(d.buf)/4 {
		pending := make([]byte, len(d.buf))
		copy(pending, d.buf)
		d.buf = pending
	}
}

// Frames returns a lazy sequence of frames read from src. The sequence ends
// silently when the source is closed or reaches EOF, and yields the read error
// once for any other failure. It can only be ranged over once.
func (d *Demuxer) Frames(src ChunkReader) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		if !d.consumed.CompareAndSwap(false, true) {
			yield(Frame{}, ErrConsumed)
			return
		}

		buf := make([]byte, readChunkSize)
		for {
			n, err := src.ReadChunk(buf)
			if n > 0 {
				for _, f := range d.Feed(buf[:n]) {
					if !yield(f, nil) {
						return
					}
				}
			}
			if err != nil {
				if isClosed(err) {
					return
				}
				yield(Frame{}, err)
				return
			}
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}
