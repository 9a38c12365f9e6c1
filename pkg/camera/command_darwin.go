//go:build darwin

package camera

import (
	"fmt"
	"strconv"
)

// The built-in webcam only accepts its native frame rates, so -framerate stays at 30.
func streamCommand(cfg Config) (string, []string, error) {
	return "ffmpeg", []string{
		"-f", "avfoundation",
		"-framerate", "30",
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-i", strconv.Itoa(cfg.Index),
		"-f", "mjpeg",
		"-q:v", "5",
		"-hide_banner",
		"-loglevel", "error",
		"-",
	}, nil
}

func stillCommand(cfg Config) ([]string, error) {
	return []string{
		"ffmpeg",
		"-f", "avfoundation",
		"-framerate", "30",
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-i", strconv.Itoa(cfg.Index),
		"-frames:v", "1",
		"-hide_banner",
		"-loglevel", "error",
		"-y", outputPlaceholder,
	}, nil
}
