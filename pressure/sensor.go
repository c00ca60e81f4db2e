// Package pressure holds the register map and conversions of the 24-bit
// digital pressure sensors read by the acquisition sequencer, plus a
// blocking one-shot driver for use over any softi2c.I2CBus.
package pressure

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/softi2c"
)

const DefaultAddress = 0x6D

// Registers
const (
	RegResult  = 0x06
	RegCommand = 0x30
	RegStatus  = 0xA5
)

const (
	// CmdTrigger starts a single combined conversion.
	CmdTrigger = 0x0A
	// BusyMask is set in the command register while a conversion runs.
	BusyMask = 0x08
	// StatusMask is applied to the status register before it is written back.
	// The literal does not look like a plain bit mask; it is what the
	// deployed firmware writes and devices accept it.
	StatusMask = 0x7FD
)

// RestoredStatus is the value written back to RegStatus for a status read.
// Deployed firmware passes the masked value through a byte wide argument, so
// only the low byte survives and the MSB on the wire is always zero.
func RestoredStatus(status uint16) uint16 {
	return status & StatusMask & 0xFF
}

const (
	StatusWidth  = 16
	CommandWidth = 8
	ResultWidth  = 24
)

const defaultPollInterval = time.Millisecond

// Transactor is implemented by buses that can write and read in a single
// transfer with a repeated start, such as periph's i2c.Bus.
type Transactor interface {
	Tx(addr uint16, w, r []byte) error
}

// Sensor is a blocking driver: Measure returns once the conversion is read.
//
// Usage: Instantiate with NewSensor, then call Measure(ctx)
type Sensor struct {
	transport    softi2c.I2CBus
	address      byte
	scale        Range
	pollInterval time.Duration
	last         physic.Pressure
}

type SensorConfig struct {
	Address      byte
	Range        Range
	PollInterval time.Duration
}

type SensorOption func(*SensorConfig)

func WithAddress(address byte) SensorOption {
	return func(c *SensorConfig) {
		c.Address = address
	}
}

func WithRange(r Range) SensorOption {
	return func(c *SensorConfig) {
		c.Range = r
	}
}

func WithPollInterval(d time.Duration) SensorOption {
	return func(c *SensorConfig) {
		c.PollInterval = d
	}
}

func NewSensor(trans softi2c.I2CBus, opts ...SensorOption) *Sensor {
	config := &SensorConfig{
		Address:      DefaultAddress,
		Range:        Range10kPa,
		PollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(config)
	}
	return &Sensor{
		transport:    trans,
		address:      config.Address,
		scale:        config.Range,
		pollInterval: config.PollInterval,
	}
}

// Last returns the most recent successful measurement.
func (s *Sensor) Last() physic.Pressure {
	return s.last
}

// Measure runs the same script as the acquisition sequencer: write back the
// masked status, trigger a conversion, wait for the busy bit to clear and
// read the 24-bit result.
func (s *Sensor) Measure(ctx context.Context) (physic.Pressure, error) {
	status := make([]byte, 2)
	if err := s.readRegister(ctx, RegStatus, status); err != nil {
		return 0, fmt.Errorf("pressure: could not read status: %w", err)
	}
	masked := RestoredStatus(binary.BigEndian.Uint16(status))
	req := []byte{RegStatus, 0, 0}
	binary.BigEndian.PutUint16(req[1:], masked)
	if err := s.transport.WriteToAddr(ctx, s.address, req); err != nil {
		return 0, fmt.Errorf("pressure: could not write status: %w", err)
	}
	if err := s.transport.WriteToAddr(ctx, s.address, []byte{RegCommand, CmdTrigger}); err != nil {
		return 0, fmt.Errorf("pressure: could not trigger conversion: %w", err)
	}
	cmd := make([]byte, 1)
	for {
		if err := s.readRegister(ctx, RegCommand, cmd); err != nil {
			return 0, fmt.Errorf("pressure: could not poll conversion: %w", err)
		}
		if cmd[0]&BusyMask == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("pressure: conversion not finished: %w", ctx.Err())
		case <-time.After(s.pollInterval):
		}
	}
	resp := make([]byte, 3)
	if err := s.readRegister(ctx, RegResult, resp); err != nil {
		return 0, fmt.Errorf("pressure: could not read result: %w", err)
	}
	raw := uint32(resp[0])<<16 | uint32(resp[1])<<8 | uint32(resp[2])
	s.last = s.scale.Convert(raw)
	return s.last, nil
}

// readRegister selects reg and reads it back. Buses implementing Transactor
// get a repeated start between the two phases, others a stop.
func (s *Sensor) readRegister(ctx context.Context, reg byte, buf []byte) error {
	if tx, ok := s.transport.(Transactor); ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := tx.Tx(uint16(s.address), []byte{reg}, buf)
		if err != nil {
			return fmt.Errorf("could not read register %#02x: %w", reg, err)
		}
		return nil
	}
	err := s.transport.WriteToAddr(ctx, s.address, []byte{reg})
	if err != nil {
		return fmt.Errorf("could not select register %#02x: %w", reg, err)
	}
	return s.transport.ReadFromAddr(ctx, s.address, buf)
}
