// Package bitbang implements an I2C master on two GPIO lines.
//
// Both lines are open drain: the engine either releases a line (input mode,
// the external pull-up takes it high) or drives it low. A line is never
// driven high. Byte transfers are stepped: every WriteByte/ReadByte call
// shifts a single bit, so a caller can interleave other work between bits.
package bitbang

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/softi2c"
)

// DefaultHalfPeriod is half of a 400kHz clock period.
const DefaultHalfPeriod = 1250 * time.Nanosecond

// recoveryPulses is the number of clock pulses sent to a slave holding SDA.
const recoveryPulses = 10

// Pin is the part of periph's gpio.PinIO the engine needs.
type Pin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Out(l gpio.Level) error
	Read() gpio.Level
}

type byteOp uint8

const (
	opIdle byteOp = iota
	opWrite
	opRead
)

// Engine is a single bit-banged bus. It is not safe for concurrent use.
type Engine struct {
	sda        Pin
	scl        Pin
	clock      softi2c.Clock
	halfPeriod time.Duration

	sdaReleased bool
	sclReleased bool

	op    byteOp
	value byte
	bit   int
	ack   bool

	err error
}

type EngineConfig struct {
	Clock      softi2c.Clock
	HalfPeriod time.Duration
}

type EngineOption func(*EngineConfig)

func WithClock(clock softi2c.Clock) EngineOption {
	return func(c *EngineConfig) {
		c.Clock = clock
	}
}

func WithHalfPeriod(d time.Duration) EngineOption {
	return func(c *EngineConfig) {
		c.HalfPeriod = d
	}
}

// WithFrequency sets the half period from a bus clock frequency.
func WithFrequency(f physic.Frequency) EngineOption {
	return func(c *EngineConfig) {
		if f > 0 {
			c.HalfPeriod = f.Period() / 2
		}
	}
}

// NewEngine releases both lines and returns an idle engine.
func NewEngine(sda, scl Pin, opts ...EngineOption) *Engine {
	config := &EngineConfig{
		Clock:      softi2c.SystemClock{},
		HalfPeriod: DefaultHalfPeriod,
	}
	for _, opt := range opts {
		opt(config)
	}
	e := &Engine{
		sda:        sda,
		scl:        scl,
		clock:      config.Clock,
		halfPeriod: config.HalfPeriod,
	}
	e.check(scl.In(gpio.Float, gpio.NoEdge))
	e.check(sda.In(gpio.Float, gpio.NoEdge))
	e.sclReleased = true
	e.sdaReleased = true
	return e
}

// Ready reports whether no byte transfer is in progress.
func (e *Engine) Ready() bool {
	return e.op == opIdle
}

// Err returns the first pin error seen since the last ResetErr or Recover.
func (e *Engine) Err() error {
	return e.err
}

// ResetErr forgets a previous pin error. Transfers call it before they start.
func (e *Engine) ResetErr() {
	e.err = nil
}

// HalfPeriod returns the settle delay used between line transitions.
func (e *Engine) HalfPeriod() time.Duration {
	return e.halfPeriod
}

// SetHalfPeriod changes the settle delay. It must only be called while Ready.
func (e *Engine) SetHalfPeriod(d time.Duration) {
	e.halfPeriod = d
}

// Start emits a start condition (SDA falling while SCL is released) and
// leaves SCL low. It also serves as a repeated start.
func (e *Engine) Start() {
	e.releaseSCL()
	e.releaseSDA()
	e.delay()
	e.driveSDA()
	e.delay()
	e.driveSCL()
}

// Stop emits a stop condition (SDA rising while SCL is released) and leaves
// both lines released.
func (e *Engine) Stop() {
	e.driveSDA()
	e.delay()
	e.releaseSCL()
	e.delay()
	e.releaseSDA()
	e.delay()
}

// WriteByte shifts value out MSB first. The first call latches the byte, the
// next eight calls clock one bit each and the ninth samples the ACK. The
// returned ACK is only meaningful once Ready reports true again.
func (e *Engine) WriteByte(value byte) bool {
	switch {
	case e.op == opIdle:
		e.op = opWrite
		e.value = value
		e.ack = false
		e.bit = 0
	case e.bit < 8:
		if e.value&0x80 != 0 {
			e.releaseSDA()
		} else {
			e.driveSDA()
		}
		e.delay()
		e.releaseSCL()
		e.delay()
		e.driveSCL()
		e.value <<= 1
		e.bit++
	default:
		e.releaseSDA()
		e.delay()
		e.releaseSCL()
		e.delay()
		e.ack = e.readSDA() == gpio.Low
		e.driveSCL()
		e.op = opIdle
	}
	return e.ack
}

// ReadByte shifts a byte in MSB first. After the eighth bit the master
// drives SDA low when sendAck is set (more bytes expected) or leaves it
// released to end the read. The returned byte is only valid once Ready
// reports true again.
func (e *Engine) ReadByte(sendAck bool) byte {
	switch {
	case e.op == opIdle:
		e.op = opRead
		e.value = 0
		e.ack = sendAck
		e.bit = 0
		e.releaseSDA()
	case e.bit < 8:
		e.value <<= 1
		e.delay()
		e.releaseSCL()
		e.delay()
		if e.readSDA() == gpio.High {
			e.value |= 0x01
		}
		e.driveSCL()
		e.bit++
	default:
		if e.ack {
			e.driveSDA()
		} else {
			e.releaseSDA()
		}
		e.delay()
		e.releaseSCL()
		e.delay()
		e.driveSCL()
		e.op = opIdle
	}
	return e.value
}

// Recover tries to free a bus left mid-transfer by a slave. It returns
// softi2c.ErrBusStuck when another party keeps SCL low or when the lines are
// still low after clocking out the slave. Pin errors seen before the call are
// dropped; only failures of the recovery itself are reported.
func (e *Engine) Recover() error {
	e.op = opIdle
	e.err = nil
	e.releaseSCL()
	e.releaseSDA()
	e.delay()
	if e.readSCL() == gpio.Low {
		return e.recoveryErr(fmt.Errorf("%w: SCL held by another master", softi2c.ErrBusStuck))
	}
	if e.readSDA() == gpio.High {
		return e.recoveryErr(nil)
	}
	for i := 0; i < recoveryPulses; i++ {
		e.driveSCL()
		e.delay()
		e.releaseSCL()
		e.delay()
	}
	e.Stop()
	if e.readSCL() == gpio.Low || e.readSDA() == gpio.Low {
		return e.recoveryErr(fmt.Errorf("%w: lines low after %d clock pulses", softi2c.ErrBusStuck, recoveryPulses))
	}
	return e.recoveryErr(nil)
}

// a pin error explains any line found low, so it takes precedence
func (e *Engine) recoveryErr(err error) error {
	if e.err != nil {
		return fmt.Errorf("pin error during recovery: %w", e.err)
	}
	return err
}

func (e *Engine) delay() {
	e.clock.Delay(e.halfPeriod)
}

func (e *Engine) releaseSCL() {
	if !e.sclReleased {
		e.check(e.scl.In(gpio.Float, gpio.NoEdge))
	}
	e.sclReleased = true
}

func (e *Engine) releaseSDA() {
	if !e.sdaReleased {
		e.check(e.sda.In(gpio.Float, gpio.NoEdge))
	}
	e.sdaReleased = true
}

func (e *Engine) driveSCL() {
	if e.sclReleased {
		e.check(e.scl.Out(gpio.Low))
	}
	e.sclReleased = false
}

func (e *Engine) driveSDA() {
	if e.sdaReleased {
		e.check(e.sda.Out(gpio.Low))
	}
	e.sdaReleased = false
}

// a line can only be read back while released
func (e *Engine) readSCL() gpio.Level {
	e.releaseSCL()
	return e.scl.Read()
}

func (e *Engine) readSDA() gpio.Level {
	e.releaseSDA()
	return e.sda.Read()
}

func (e *Engine) check(err error) {
	if err != nil && e.err == nil {
		e.err = err
	}
}
