// Package transaction turns bit level bus primitives into complete register
// transactions (8/16-bit writes, 8/16/24-bit reads with repeated start)
// advanced one step per Tick, so a control loop never waits for a transfer.
package transaction

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/softi2c"
)

// BitBus is the bit level engine driven by the transaction engine; it is
// implemented by bitbang.Engine.
type BitBus interface {
	Start()
	Stop()
	WriteByte(value byte) bool
	ReadByte(sendAck bool) byte
	Ready() bool
	Recover() error
	Err() error
	ResetErr()
}

type Status uint8

const (
	// StatusIdle means no transaction was requested yet.
	StatusIdle Status = iota
	StatusPending
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Result is returned by every Tick. Once a transaction completes the same
// result is returned until the next request is accepted.
type Result struct {
	Status Status
	// Value is the assembled read value (reads only).
	Value uint32
	// Ack is the acknowledge of the last written byte (writes only).
	Ack bool
	Err error
}

// Busy reports whether the transaction is still running.
func (r Result) Busy() bool {
	return r.Status == StatusPending
}

// Engine runs one transaction at a time against a single device.
// It is not safe for concurrent use.
type Engine struct {
	bus     BitBus
	address byte
	clock   softi2c.Clock
	logger  *slog.Logger

	state State
	reg   byte
	out   uint16
	value uint32
	ack   bool
	err   error
	last  Result

	worst    Timing
	recorded bool
}

type Config struct {
	Clock  softi2c.Clock
	Logger *slog.Logger
}

type Option func(*Config)

func WithClock(clock softi2c.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// New creates an idle engine for the device at the 7-bit address.
// Bits above the 7-bit range are ignored.
func New(bus BitBus, address byte, opts ...Option) *Engine {
	config := &Config{
		Clock:  softi2c.SystemClock{},
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(config)
	}
	return &Engine{
		bus:     bus,
		address: address & 0x7F,
		clock:   config.Clock,
		logger:  config.Logger,
	}
}

// Address returns the 7-bit device address.
func (e *Engine) Address() byte {
	return e.address
}

// State returns the current position of the state machine.
func (e *Engine) State() State {
	return e.state
}

// Busy reports whether a transaction is in progress.
func (e *Engine) Busy() bool {
	return !e.state.Idle()
}

// RequestWrite starts a write of value to register reg. Width is 8 or 16
// bits; a 16-bit value is sent MSB first.
func (e *Engine) RequestWrite(reg byte, value uint16, width int) error {
	if e.Busy() {
		return softi2c.ErrBusBusy
	}
	kind, ok := writeKind(width)
	if !ok {
		return fmt.Errorf("%w: write of %d bits", softi2c.ErrInvalidWidth, width)
	}
	e.begin(kind, reg)
	e.out = value
	return nil
}

// RequestRead starts a read of an 8, 16 or 24-bit big-endian register.
func (e *Engine) RequestRead(reg byte, width int) error {
	if e.Busy() {
		return softi2c.ErrBusBusy
	}
	kind, ok := readKind(width)
	if !ok {
		return fmt.Errorf("%w: read of %d bits", softi2c.ErrInvalidWidth, width)
	}
	e.begin(kind, reg)
	return nil
}

func (e *Engine) begin(kind Kind, reg byte) {
	e.state = State{Kind: kind, Step: StepStart}
	e.reg = reg
	e.out = 0
	e.value = 0
	e.ack = false
	e.err = nil
	e.last = Result{Status: StatusPending}
	e.bus.ResetErr()
}

// LastValue returns the value of the most recent read. It is only valid
// when the engine is idle and LastError is false.
func (e *Engine) LastValue() uint32 {
	return e.value
}

// LastAck returns the acknowledge of the final byte of the most recent write.
func (e *Engine) LastAck() bool {
	return e.ack
}

// LastError reports whether the most recent transaction failed.
func (e *Engine) LastError() bool {
	return e.err != nil
}

// Err returns the failure of the most recent transaction.
func (e *Engine) Err() error {
	return e.err
}

// Last returns the result of the most recent transaction without advancing it.
func (e *Engine) Last() Result {
	return e.last
}

// RecoverBus runs bus recovery on the bit engine. It is refused while a
// transaction is running since transactions cannot be cancelled.
func (e *Engine) RecoverBus() error {
	if e.Busy() {
		return softi2c.ErrBusBusy
	}
	return e.bus.Recover()
}

// Tick advances the active transaction by one step: a whole start or stop
// condition, or a single bit of a byte transfer. Idle ticks are timed too.
func (e *Engine) Tick() Result {
	began := e.clock.Now()
	current := e.state
	if !current.Idle() {
		e.step()
	}
	e.sample(current, e.clock.Now().Sub(began))
	if current.Idle() || !e.state.Idle() {
		return e.last
	}
	if err := e.bus.Err(); err != nil {
		// a broken line explains any NACK seen on the way
		e.err = fmt.Errorf("%s: pin error: %w", current.Kind, err)
	}
	e.last = Result{Status: StatusDone, Value: e.value, Ack: e.ack}
	if e.err != nil {
		e.last.Status = StatusFailed
		e.last.Err = e.err
		e.logger.Debug("i2c transaction failed", "address", e.address, "register", e.reg, "error", e.err)
	}
	return e.last
}

func (e *Engine) step() {
	s := e.state
	switch s.Step {
	case StepStart:
		e.bus.Start()
		e.state = s.next(StepAddr)
	case StepAddr:
		ack := e.bus.WriteByte(e.address << 1)
		if e.bus.Ready() {
			e.advance(ack, s.next(StepReg))
		}
	case StepReg:
		ack := e.bus.WriteByte(e.reg)
		if e.bus.Ready() {
			if s.Kind.IsRead() {
				e.advance(ack, s.next(StepRestart))
			} else {
				e.advance(ack, s.data(0))
			}
		}
	case StepRestart:
		e.bus.Start()
		e.state = s.next(StepAddr2)
	case StepAddr2:
		ack := e.bus.WriteByte(e.address<<1 | 0x01)
		if e.bus.Ready() {
			e.advance(ack, s.data(0))
		}
	case StepData:
		if s.Kind.IsRead() {
			e.readData(s)
		} else {
			e.writeData(s)
		}
	case StepStop:
		e.bus.Stop()
		e.state = State{}
	}
}

func (e *Engine) writeData(s State) {
	shift := 8 * (s.Kind.Bytes() - 1 - int(s.Index))
	ack := e.bus.WriteByte(byte(e.out >> shift))
	if !e.bus.Ready() {
		return
	}
	if s.lastData() {
		e.ack = ack
		if !ack {
			e.fail(s)
		}
		e.state = s.next(StepStop)
		return
	}
	e.advance(ack, s.data(int(s.Index)+1))
}

func (e *Engine) readData(s State) {
	last := s.lastData()
	// every byte but the last is acknowledged to keep the device sending
	v := e.bus.ReadByte(!last)
	if !e.bus.Ready() {
		return
	}
	e.value = e.value<<8 | uint32(v)
	if last {
		e.state = s.next(StepStop)
		return
	}
	e.state = s.data(int(s.Index) + 1)
}

// advance moves to next on ACK; a NACK marks the transaction failed and
// short-circuits to the stop condition.
func (e *Engine) advance(ack bool, next State) {
	if ack {
		e.state = next
		return
	}
	e.fail(e.state)
	e.state = e.state.next(StepStop)
}

func (e *Engine) fail(s State) {
	if e.err == nil {
		e.err = fmt.Errorf("%s (device %#02x, register %#02x): %w", s, e.address, e.reg, softi2c.ErrNack)
	}
}

// Timing is the worst observed duration of a single Tick and the state it ran.
type Timing struct {
	State    State
	Name     string
	Duration time.Duration
}

// Timings returns the slowest step since the last reset. It reports false
// when no step has been recorded.
func (e *Engine) Timings() (Timing, bool) {
	if !e.recorded {
		return Timing{}, false
	}
	t := e.worst
	t.Name = t.State.String()
	return t, true
}

func (e *Engine) ResetTimings() {
	e.worst = Timing{}
	e.recorded = false
}

func (e *Engine) sample(s State, d time.Duration) {
	if e.recorded && d <= e.worst.Duration {
		return
	}
	e.worst = Timing{State: s, Duration: d}
	e.recorded = true
}
