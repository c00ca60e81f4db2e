// Package hostpin opens the GPIO lines a bit-banged bus runs on. Lines come
// from periph.io host drivers, a gobot platform adaptor or the GPIOs of an
// MCP2221 USB bridge.
package hostpin

import (
	"errors"
	"fmt"

	"github.com/mklimuk/softi2c/bitbang"
)

var ErrPinNotFound = errors.New("pin not found")

// Backend hands out pairs of open-drain lines.
type Backend interface {
	Lines(sda, scl string) (bitbang.Pin, bitbang.Pin, error)
	Close() error
}

// Open initializes the named backend. Platform is only used by gobot.
func Open(name, platform string) (Backend, error) {
	switch name {
	case "periph":
		p, err := NewPeriph()
		if err != nil {
			return nil, err
		}
		return p, nil
	case "gobot":
		g, err := NewGobot(platform)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "mcp2221":
		return NewMCP2221(WithResponseWait(0)), nil
	}
	return nil, fmt.Errorf("unknown GPIO backend %q", name)
}

func checkDistinct(sda, scl string) error {
	if sda == scl {
		return fmt.Errorf("SDA and SCL both on pin %s", sda)
	}
	return nil
}
