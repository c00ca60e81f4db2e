package hostpin

import (
	"fmt"
	"log/slog"

	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"gobot.io/x/gobot/v2/system"
	"periph.io/x/conn/v3/gpio"

	"github.com/mklimuk/softi2c/bitbang"
)

type digitalPinAdaptor interface {
	DigitalPin(id string) (gobot.DigitalPinner, error)
	Finalize() error
}

// Gobot resolves lines by header pin number on a gobot platform adaptor.
type Gobot struct {
	adaptor digitalPinAdaptor
}

func NewGobot(platform string) (*Gobot, error) {
	switch platform {
	case "", "nanopi":
		npi := nanopi.NewNeoAdaptor()
		err := npi.Connect()
		if err != nil {
			return nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		return &Gobot{adaptor: npi}, nil
	}
	return nil, fmt.Errorf("unsupported gobot platform %q", platform)
}

func (g *Gobot) Lines(sda, scl string) (bitbang.Pin, bitbang.Pin, error) {
	if err := checkDistinct(sda, scl); err != nil {
		return nil, nil, err
	}
	d, err := g.adaptor.DigitalPin(sda)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrPinNotFound, sda, err)
	}
	c, err := g.adaptor.DigitalPin(scl)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrPinNotFound, scl, err)
	}
	return NewGobotLine(sda, d), NewGobotLine(scl, c), nil
}

func (g *Gobot) Close() error {
	return g.adaptor.Finalize()
}

// DigitalPin is the part of gobot.DigitalPinner a line needs.
type DigitalPin interface {
	ApplyOptions(options ...func(gobot.DigitalPinOptioner) bool) error
	Read() (int, error)
}

// GobotLine drives a gobot digital pin as an open-drain line: low is an
// output at 0, high is the pin switched to input.
type GobotLine struct {
	name string
	pin  DigitalPin
	err  error
}

func NewGobotLine(name string, pin DigitalPin) *GobotLine {
	return &GobotLine{name: name, pin: pin}
}

func (l *GobotLine) String() string {
	return l.name
}

func (l *GobotLine) In(pull gpio.Pull, edge gpio.Edge) error {
	err := l.pin.ApplyOptions(system.WithPinDirectionInput())
	if err != nil {
		return fmt.Errorf("could not release line %s: %w", l.name, err)
	}
	return nil
}

func (l *GobotLine) Out(level gpio.Level) error {
	if level == gpio.High {
		return l.In(gpio.Float, gpio.NoEdge)
	}
	err := l.pin.ApplyOptions(system.WithPinDirectionOutput(0))
	if err != nil {
		return fmt.Errorf("could not drive line %s low: %w", l.name, err)
	}
	return nil
}

// Read reports a failed read as low, which the bus treats as a stuck line.
func (l *GobotLine) Read() gpio.Level {
	v, err := l.pin.Read()
	if err != nil {
		l.err = err
		slog.Debug("gpio read failed", "line", l.name, "error", err)
		return gpio.Low
	}
	return gpio.Level(v != 0)
}

// Err returns the last read failure.
func (l *GobotLine) Err() error {
	return l.err
}
