//go:build linux

package indicator

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	"github.com/warthog618/go-gpiocdev/device/rpi"
)

// GPIOLines drives the lamp and buzzer as two output lines on one chip.
type GPIOLines struct {
	chip   *gpiocdev.Chip
	light  *gpiocdev.Line
	buzzer *gpiocdev.Line
}

// OpenGPIO requests the lines. Pins use Raspberry Pi names such as "GPIO24" or "J8p18".
func OpenGPIO(chipName, lightPin, buzzerPin string) (*GPIOLines, error) {
	lightOffset, err := rpi.Pin(lightPin)
	if err != nil {
		return nil, fmt.Errorf("invalid light pin %q: %w", lightPin, err)
	}
	buzzerOffset, err := rpi.Pin(buzzerPin)
	if err != nil {
		return nil, fmt.Errorf("invalid buzzer pin %q: %w", buzzerPin, err)
	}

	c, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("failed to open chip: %w", err)
	}

	light, err := c.RequestLine(lightOffset, gpiocdev.AsOutput(0))
	if err != nil {
		c.Close()
		return nil, err
	}
	buzzer, err := c.RequestLine(buzzerOffset, gpiocdev.AsOutput(0))
	if err != nil {
		light.Close()
		c.Close()
		return nil, err
	}

	return &GPIOLines{chip: c, light: light, buzzer: buzzer}, nil
}

func (g *GPIOLines) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := g.light.SetValue(v); err != nil {
		return err
	}
	return g.buzzer.SetValue(v)
}

// Close releases all GPIO resources.
func (g *GPIOLines) Close() error {
	return errors.Join(g.light.Close(), g.buzzer.Close(), g.chip.Close())
}
