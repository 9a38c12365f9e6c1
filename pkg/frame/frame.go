// Package frame holds the still-image Frame type and the demuxer that cuts a
// continuous motion-JPEG byte stream into individual frames.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownFormat is returned when image bytes carry none of the supported magic numbers.
var ErrUnknownFormat = errors.New("unknown image format")

// Format identifies the encoding of a Frame.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatGIF
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	gifMagic  = []byte("GIF8")
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	default:
		return "unknown"
	}
}

// Ext returns the file extension (without dot) used when persisting the format.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	default:
		return "bin"
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// Detect infers the image format from its leading bytes.
func Detect(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return FormatJPEG
	case bytes.HasPrefix(data, pngMagic):
		return FormatPNG
	case bytes.HasPrefix(data, gifMagic):
		return FormatGIF
	default:
		return FormatUnknown
	}
}

// Frame is one encoded still image. It must not be mutated once created.
type Frame struct {
	Data       []byte
	Format     Format
	CapturedAt time.Time
}

// New validates data by magic bytes and wraps it in a Frame.
func New(data []byte, at time.Time) (Frame, error) {
	format := Detect(data)
	if format == FormatUnknown {
		return Frame{}, fmt.Errorf("%w (%d bytes)", ErrUnknownFormat, len(data))
	}
	return Frame{Data: data, Format: format, CapturedAt: at}, nil
}

// Len returns the encoded size in bytes.
func (f Frame) Len() int {
	return len(f.Data)
}

// IsZero reports whether the frame carries no image.
func (f Frame) IsZero() bool {
	return len(f.Data) == 0
}
