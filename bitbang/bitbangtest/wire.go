// Package bitbangtest simulates an open-drain I2C bus with a register
// addressed slave so the bit-banged master can be tested without hardware.
package bitbangtest

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

type EventKind int

const (
	EventStart EventKind = iota
	EventStop
	EventWrite
	EventRead
)

// Event is a bus level occurrence seen by the simulated slave. For writes
// Ack is the slave answer, for reads it is the master answer.
type Event struct {
	Kind EventKind
	Byte byte
	Ack  bool
}

func (e Event) String() string {
	ack := "NACK"
	if e.Ack {
		ack = "ACK"
	}
	switch e.Kind {
	case EventStart:
		return "START"
	case EventStop:
		return "STOP"
	case EventWrite:
		return fmt.Sprintf("W %#02x %s", e.Byte, ack)
	case EventRead:
		return fmt.Sprintf("R %#02x %s", e.Byte, ack)
	}
	return "unknown event"
}

// Device is a register addressed slave: the first byte after the address
// selects the register, further bytes are written to it; a read phase
// returns the bytes provided for the selected register.
type Device struct {
	Address      byte
	NackAddress  bool
	NackRegister bool
	NackData     bool
	// Registers holds read data per register; missing bytes read as 0xFF.
	Registers map[byte][]byte
	// OnRead overrides Registers when set.
	OnRead func(reg byte) []byte
	// Written keeps the last data written to each register.
	Written map[byte][]byte
	// OnWrite is called at the end of every register write.
	OnWrite func(reg byte, data []byte)
}

func (d *Device) read(reg byte) []byte {
	if d.OnRead != nil {
		return d.OnRead(reg)
	}
	return d.Registers[reg]
}

func (d *Device) write(reg byte, data []byte) {
	if d.Written == nil {
		d.Written = make(map[byte][]byte)
	}
	d.Written[reg] = data
	if d.OnWrite != nil {
		d.OnWrite(reg, data)
	}
}

type slaveMode int

const (
	modeIdle slaveMode = iota
	modeRecv
	modeRecvAck
	modeSend
	modeSendAck
)

type phase int

const (
	phaseAddr phase = iota
	phaseReg
	phaseData
)

// Wire is a simulated two line bus. Both lines are pulled high and read
// low as soon as any party drives them low.
type Wire struct {
	Device *Device

	// Events is the transaction log.
	Events []Event
	// Pulses counts SCL falling edges.
	Pulses int
	// DrivenHigh counts attempts to actively drive a line high.
	DrivenHigh int

	sda *Pin
	scl *Pin

	stuckSCL bool
	holdSDA  int

	sdaLevel gpio.Level
	sclLevel gpio.Level

	mode      slaveMode
	phase     phase
	shift     byte
	bits      int
	acked     bool
	reading   bool
	slaveLow  bool
	reg       byte
	written   []byte
	tx        []byte
	txPos     int
	txByte    byte
	txBits    int
	masterAck bool
}

// NewWire returns an idle bus with dev attached; dev may be nil.
func NewWire(dev *Device) *Wire {
	w := &Wire{
		Device:   dev,
		sdaLevel: gpio.High,
		sclLevel: gpio.High,
	}
	w.sda = &Pin{wire: w, name: "SDA"}
	w.scl = &Pin{wire: w, name: "SCL"}
	return w
}

func (w *Wire) SDA() *Pin {
	return w.sda
}

func (w *Wire) SCL() *Pin {
	return w.scl
}

// HoldSCL makes another party hold the clock line low.
func (w *Wire) HoldSCL(hold bool) {
	w.stuckSCL = hold
	w.sclLevel = w.computeSCL()
}

// HoldSDA keeps the data line low for the next n SCL falling edges, as a
// slave interrupted mid-byte would.
func (w *Wire) HoldSDA(n int) {
	w.holdSDA = n
	w.sdaLevel = w.computeSDA()
}

// Trace returns the event log in printable form.
func (w *Wire) Trace() []string {
	trace := make([]string, 0, len(w.Events))
	for _, e := range w.Events {
		trace = append(trace, e.String())
	}
	return trace
}

// Writes returns the bytes sent by the master, in order.
func (w *Wire) Writes() []byte {
	var out []byte
	for _, e := range w.Events {
		if e.Kind == EventWrite {
			out = append(out, e.Byte)
		}
	}
	return out
}

// Reset clears the event log and counters.
func (w *Wire) Reset() {
	w.Events = nil
	w.Pulses = 0
	w.DrivenHigh = 0
}

func (w *Wire) computeSCL() gpio.Level {
	if w.scl.driven || w.stuckSCL {
		return gpio.Low
	}
	return gpio.High
}

func (w *Wire) computeSDA() gpio.Level {
	if w.sda.driven || w.slaveLow || w.holdSDA > 0 {
		return gpio.Low
	}
	return gpio.High
}

func (w *Wire) update() {
	scl := w.computeSCL()
	sda := w.computeSDA()
	prevSCL, prevSDA := w.sclLevel, w.sdaLevel
	w.sclLevel, w.sdaLevel = scl, sda
	if scl != prevSCL {
		if scl == gpio.High {
			w.clockRise()
		} else {
			w.clockFall()
		}
		// the slave only moves SDA while SCL is low
		w.sdaLevel = w.computeSDA()
		return
	}
	if sda != prevSDA && scl == gpio.High {
		if sda == gpio.Low {
			w.start()
		} else {
			w.stop()
		}
	}
}

func (w *Wire) start() {
	w.flush()
	w.Events = append(w.Events, Event{Kind: EventStart})
	w.mode = modeRecv
	w.phase = phaseAddr
	w.reading = false
	w.bits = 0
	w.shift = 0
	w.slaveLow = false
}

func (w *Wire) stop() {
	w.flush()
	w.Events = append(w.Events, Event{Kind: EventStop})
	w.mode = modeIdle
	w.slaveLow = false
}

func (w *Wire) flush() {
	if w.Device != nil && w.phase == phaseData && !w.reading && len(w.written) > 0 {
		w.Device.write(w.reg, w.written)
	}
	w.written = nil
	w.phase = phaseAddr
}

func (w *Wire) clockRise() {
	switch w.mode {
	case modeRecv:
		if w.bits < 8 {
			w.shift <<= 1
			if w.sdaLevel == gpio.High {
				w.shift |= 0x01
			}
			w.bits++
		}
	case modeSendAck:
		w.masterAck = w.sdaLevel == gpio.Low
		w.Events = append(w.Events, Event{Kind: EventRead, Byte: w.txByte, Ack: w.masterAck})
	}
}

func (w *Wire) clockFall() {
	w.Pulses++
	if w.holdSDA > 0 {
		w.holdSDA--
	}
	switch w.mode {
	case modeRecv:
		if w.bits == 8 {
			w.acked = w.receive(w.shift)
			w.Events = append(w.Events, Event{Kind: EventWrite, Byte: w.shift, Ack: w.acked})
			w.slaveLow = w.acked
			w.mode = modeRecvAck
		}
	case modeRecvAck:
		w.slaveLow = false
		switch {
		case !w.acked:
			w.mode = modeIdle
		case w.reading:
			w.tx = w.Device.read(w.reg)
			w.txPos = 0
			w.load()
		default:
			w.mode = modeRecv
			w.bits = 0
			w.shift = 0
		}
	case modeSend:
		w.txBits++
		if w.txBits < 8 {
			w.drive()
		} else {
			w.slaveLow = false
			w.mode = modeSendAck
		}
	case modeSendAck:
		if w.masterAck {
			w.load()
		} else {
			w.mode = modeIdle
			w.slaveLow = false
		}
	}
}

// receive handles a complete byte from the master and returns the ACK.
func (w *Wire) receive(b byte) bool {
	d := w.Device
	switch w.phase {
	case phaseAddr:
		if d == nil || d.NackAddress || b>>1 != d.Address {
			return false
		}
		w.reading = b&0x01 == 0x01
		if !w.reading {
			w.phase = phaseReg
		}
		return true
	case phaseReg:
		if d.NackRegister {
			return false
		}
		w.reg = b
		w.phase = phaseData
		return true
	default:
		if d.NackData {
			return false
		}
		w.written = append(w.written, b)
		return true
	}
}

func (w *Wire) load() {
	w.txByte = 0xFF
	if w.txPos < len(w.tx) {
		w.txByte = w.tx[w.txPos]
	}
	w.txPos++
	w.txBits = 0
	w.mode = modeSend
	w.drive()
}

func (w *Wire) drive() {
	w.slaveLow = w.txByte&(0x80>>w.txBits) == 0
}

// Pin is one end of a simulated line as seen by the master.
type Pin struct {
	wire   *Wire
	name   string
	driven bool

	// OutErr is returned by Out when set.
	OutErr error
	// Switches counts mode changes.
	Switches int
}

func (p *Pin) String() string {
	return p.name
}

func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.driven = false
	p.Switches++
	p.wire.update()
	return nil
}

func (p *Pin) Out(l gpio.Level) error {
	if p.OutErr != nil {
		return p.OutErr
	}
	p.Switches++
	if l == gpio.High {
		p.wire.DrivenHigh++
		p.driven = false
	} else {
		p.driven = true
	}
	p.wire.update()
	return nil
}

func (p *Pin) Read() gpio.Level {
	if p == p.wire.scl {
		return p.wire.sclLevel
	}
	return p.wire.sdaLevel
}
