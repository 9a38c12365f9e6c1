//go:build !darwin && !(linux && arm64)

package camera

import "errors"

var errNoHelper = errors.New("no capture helper for this platform, configure camera.command or camera.device")

func streamCommand(Config) (string, []string, error) {
	return "", nil, errNoHelper
}

func stillCommand(Config) ([]string, error) {
	return nil, errNoHelper
}
