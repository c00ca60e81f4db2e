package hostpin

import (
	"context"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/softi2c"
	"github.com/mklimuk/softi2c/bitbang"
)

// Periph resolves lines by name in the periph.io pin registry
// (GPIO2, P1_3, ...).
type Periph struct{}

func NewPeriph() (*Periph, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("periph driver loaded", "driver", driver.String())
	}
	return &Periph{}, nil
}

func (p *Periph) Lines(sda, scl string) (bitbang.Pin, bitbang.Pin, error) {
	if err := checkDistinct(sda, scl); err != nil {
		return nil, nil, err
	}
	d, err := p.pin(sda)
	if err != nil {
		return nil, nil, err
	}
	c, err := p.pin(scl)
	if err != nil {
		return nil, nil, err
	}
	return d, c, nil
}

func (p *Periph) pin(name string) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	return pin, nil
}

func (p *Periph) Close() error {
	return nil
}

var _ softi2c.I2CBus = &HardwareBus{}

// HardwareBus exposes a kernel I2C controller with the same blocking
// interface as bitbang.Bus, as a reference for the bit-banged channels.
type HardwareBus struct {
	bus i2c.BusCloser
}

// OpenHardwareBus opens a controller by periph name or number, e.g. "1" or
// "/dev/i2c-1". An empty name selects the first bus.
func OpenHardwareBus(dev string) (*HardwareBus, error) {
	if _, err := NewPeriph(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return &HardwareBus{bus: bus}, nil
}

func (b *HardwareBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *HardwareBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

// Tx writes w and reads r with a repeated start in between.
func (b *HardwareBus) Tx(addr uint16, w, r []byte) error {
	return b.bus.Tx(addr, w, r)
}

// Release is a no-op: the kernel driver recovers the controller itself.
func (b *HardwareBus) Release(ctx context.Context) error {
	return nil
}

func (b *HardwareBus) Close() error {
	return b.bus.Close()
}
