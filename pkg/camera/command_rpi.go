//go:build linux && arm64

package camera

import (
	"fmt"
	"os/exec"
	"strconv"
)

// helperName picks rpicam-* on newer OS releases and libcamera-* on older ones.
func helperName(suffix string) (string, error) {
	name := "rpicam-" + suffix
	if _, err := exec.LookPath(name); err == nil {
		return name, nil
	}
	name = "libcamera-" + suffix
	if _, err := exec.LookPath(name); err == nil {
		return name, nil
	}
	return "", fmt.Errorf("neither rpicam-%s nor libcamera-%s found", suffix, suffix)
}

func streamCommand(cfg Config) (string, []string, error) {
	name, err := helperName("vid")
	if err != nil {
		return "", nil, err
	}
	return name, []string{
		"--camera", strconv.Itoa(cfg.Index),
		"--width", strconv.Itoa(cfg.Width),
		"--height", strconv.Itoa(cfg.Height),
		"--timeout", "0", // Run indefinitely
		"--nopreview",
		"--codec", "mjpeg",
		"--output", "-",
		"--framerate", strconv.Itoa(cfg.FPS),
		// Module 3 specific optimizations
		"--awb", "auto",
		"--metering", "average",
	}, nil
}

func stillCommand(cfg Config) ([]string, error) {
	name, err := helperName("still")
	if err != nil {
		return nil, err
	}
	return []string{
		name,
		"-o", outputPlaceholder,
		"-t", "1000",
		"-n",
		"--camera", strconv.Itoa(cfg.Index),
		"--autofocus-mode", "auto",
		"--width", strconv.Itoa(cfg.StillWidth),
		"--height", strconv.Itoa(cfg.StillHeight),
	}, nil
}
