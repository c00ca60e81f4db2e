package bitbang

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/softi2c"
)

var _ softi2c.I2CBus = &Bus{}
var _ i2c.Bus = &Bus{}

// Bus runs whole transfers on an Engine, blocking until the stop condition.
// It must not share an Engine with a transaction.Engine that is mid-request.
type Bus struct {
	mx     sync.Mutex
	name   string
	engine *Engine
}

func NewBus(name string, engine *Engine) *Bus {
	return &Bus{name: name, engine: engine}
}

func (b *Bus) String() string {
	return b.name
}

// SetSpeed changes the bus clock frequency.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("invalid bus frequency %s", f)
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	b.engine.SetHalfPeriod(f.Period() / 2)
	return nil
}

// Tx writes w then reads r from the device at addr, using a repeated start
// between the two phases. An empty w and r probes the address.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("invalid 7-bit address %#x", addr)
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	address := byte(addr) << 1
	e := b.engine
	e.ResetErr()
	if len(w) > 0 || len(r) == 0 {
		e.Start()
		if !b.write(address) {
			return b.finish(fmt.Errorf("address %#x: %w", addr, softi2c.ErrNack))
		}
		for i, v := range w {
			if !b.write(v) {
				return b.finish(fmt.Errorf("byte %d to %#x: %w", i, addr, softi2c.ErrNack))
			}
		}
	}
	if len(r) > 0 {
		e.Start()
		if !b.write(address | 0x01) {
			return b.finish(fmt.Errorf("read address %#x: %w", addr, softi2c.ErrNack))
		}
		for i := range r {
			r[i] = b.read(i < len(r)-1)
		}
	}
	return b.finish(nil)
}

// finish closes the transfer with a stop. A pin error seen during the
// transfer is reported in place of err.
func (b *Bus) finish(err error) error {
	b.engine.Stop()
	if perr := b.engine.Err(); perr != nil {
		return fmt.Errorf("pin error on %s: %w", b.name, perr)
	}
	return err
}

func (b *Bus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *Bus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(buffer) == 0 {
		return nil
	}
	err := b.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

// Release clocks out a slave stuck mid-byte.
func (b *Bus) Release(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.engine.Recover()
}

func (b *Bus) write(v byte) bool {
	ack := b.engine.WriteByte(v)
	for !b.engine.Ready() {
		ack = b.engine.WriteByte(v)
	}
	return ack
}

func (b *Bus) read(sendAck bool) byte {
	v := b.engine.ReadByte(sendAck)
	for !b.engine.Ready() {
		v = b.engine.ReadByte(sendAck)
	}
	return v
}
