//go:build !linux

package indicator

import "errors"

// GPIOLines is unavailable off linux; New falls back to MockLines.
type GPIOLines struct{}

func OpenGPIO(chipName, lightPin, buzzerPin string) (*GPIOLines, error) {
	return nil, errors.New("gpio character devices require linux")
}

func (g *GPIOLines) Set(bool) error { return nil }

func (g *GPIOLines) Close() error { return nil }
