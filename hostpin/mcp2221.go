package hostpin

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"periph.io/x/conn/v3/gpio"

	"github.com/mklimuk/softi2c"
	"github.com/mklimuk/softi2c/bitbang"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

var ErrCommandUnsupported = errors.New("unsupported command")
var ErrCommandFailed = errors.New("command failed")

const reportSize = 64

// HID commands
const (
	cmdStatus       = 0x10
	cmdReadI2CData  = 0x40
	cmdSetGPIO      = 0x50
	cmdGetGPIO      = 0x51
	cmdWriteI2C     = 0x90
	cmdReadI2C      = 0x91
	cmdReadFlash    = 0xB0
	cmdWriteFlash   = 0xB1
	subGPIOSettings = 0x01
)

// gpioUnassigned is reported by get GPIO values for pins not in GPIO mode.
const gpioUnassigned = 0xEE

type GPIOMode byte

const (
	GPIOModeOut GPIOMode = 0b00000000
	GPIOModeIn  GPIOMode = 0b00001000
)

func (m GPIOMode) String() string {
	switch m {
	case GPIOModeIn:
		return "INPUT"
	case GPIOModeOut:
		return "OUTPUT"
	default:
		return "NOOP"
	}
}

// GPIODesignation selects the GPIO or one of the alternate functions of a pin.
type GPIODesignation byte

const (
	GPIOOperation GPIODesignation = 0b00000000
	// This is the dedicated function of GPIO3
	GPIO3LEDI2C GPIODesignation = 0b00000001
)

const gpioModeMask = 0b00001000
const gpioOperationMask = 0b00000111

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
	// SCL and SDA are the line levels sampled by the bridge.
	SCL byte `yaml:"scl"`
	SDA byte `yaml:"sda"`
}

// MCP2221GPIO is the mode and designation of one of the four GP pins.
type MCP2221GPIO struct {
	Mode        GPIOMode        `yaml:"mode"`
	Designation GPIODesignation `yaml:"designation"`
}

type hidDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// MCP2221 is a USB HID bridge. Its I2C engine serves as a blocking
// softi2c.I2CBus; its four GP pins can carry a bit-banged bus, slowly:
// every line change is a USB round trip.
type MCP2221 struct {
	mx           sync.Mutex
	request      []byte
	response     []byte
	responseWait time.Duration
	open         func() (hidDevice, error)
	dev          hidDevice
}

var _ softi2c.I2CBus = &MCP2221{}
var _ Backend = &MCP2221{}

type MCP2221Config struct {
	Index        int
	ResponseWait time.Duration
}

type MCP2221Option func(*MCP2221Config)

// WithDeviceIndex picks one of several connected bridges.
func WithDeviceIndex(i int) MCP2221Option {
	return func(c *MCP2221Config) {
		c.Index = i
	}
}

// WithResponseWait sets the pause between a request and reading its response.
func WithResponseWait(d time.Duration) MCP2221Option {
	return func(c *MCP2221Config) {
		c.ResponseWait = d
	}
}

func NewMCP2221(opts ...MCP2221Option) *MCP2221 {
	config := &MCP2221Config{
		Index:        -1,
		ResponseWait: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(config)
	}
	return &MCP2221{
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: config.ResponseWait,
		open:         openHID(config.Index),
	}
}

// openHID opens the bridge at index, or the only one connected for index < 0.
func openHID(index int) func() (hidDevice, error) {
	return func() (hidDevice, error) {
		devs := hid.Enumerate(VendorID, ProductID)
		if len(devs) == 0 {
			return nil, fmt.Errorf("MCP2221 device not found")
		}
		i := index
		if i < 0 {
			if len(devs) > 1 {
				return nil, fmt.Errorf("ambiguous device identification")
			}
			i = 0
		}
		if i >= len(devs) {
			return nil, fmt.Errorf("no device with id %d", i)
		}
		dev, err := devs[i].Open()
		if err != nil {
			return nil, fmt.Errorf("error opening device: %w", err)
		}
		return dev, nil
	}
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdWriteI2C
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	// the I2C engine did not accept the transfer
	if d.response[1] == 0x01 {
		slog.Debug("adapter busy")
		return softi2c.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdReadI2C
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	if d.response[1] == 0x01 {
		return softi2c.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdReadI2CData
	err = d.send(ctx)
	if err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == 0x41 {
		return fmt.Errorf("error reading the I2C slave data from the I2C engine: %w", softi2c.ErrNack)
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9-10: requested I2C transfer length
		11-12: already transferred number of bytes
		13: internal I2C data buffer counter
		14: current I2C communication speed divider value
		15: current I2C timeout value
		16-17: I2C address being used
		22: SCL line value
		23: SDA line value
		25: I2C read pending
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
		SCL:                  buffer[22],
		SDA:                  buffer[23],
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Release cancels the current transfer, which also frees the bus.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = 0x10
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// GPIOSettings reads the power-up GP settings from flash.
func (d *MCP2221) GPIOSettings(ctx context.Context) ([4]MCP2221GPIO, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	var res [4]MCP2221GPIO
	d.resetBuffers()
	d.request[0] = cmdReadFlash
	d.request[1] = subGPIOSettings
	err := d.send(ctx)
	if err != nil {
		return res, fmt.Errorf("get GP parameters command write failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return res, ErrCommandUnsupported
	}
	for i := range res {
		res[i] = MCP2221GPIO{
			Mode:        GPIOMode(d.response[4+i] & gpioModeMask),
			Designation: GPIODesignation(d.response[4+i] & gpioOperationMask),
		}
	}
	return res, nil
}

// SetGPIOSettings writes the power-up GP settings to flash.
func (d *MCP2221) SetGPIOSettings(ctx context.Context, settings [4]MCP2221GPIO) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdWriteFlash
	d.request[1] = subGPIOSettings
	for i, s := range settings {
		d.request[2+i] = byte(s.Designation) | byte(s.Mode)
	}
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("set GP parameters command write failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return ErrCommandFailed
	}
	return nil
}

// ReadGPIO returns the levels of the four GP pins; pins not in GPIO mode
// read as 0.
func (d *MCP2221) ReadGPIO(ctx context.Context) ([4]gpio.Level, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	var res [4]gpio.Level
	d.resetBuffers()
	d.request[0] = cmdGetGPIO
	err := d.send(ctx)
	if err != nil {
		return res, fmt.Errorf("read GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return res, ErrCommandFailed
	}
	for i := range res {
		if d.response[3+2*i] != gpioUnassigned {
			res[i] = d.response[2+2*i] != 0
		}
	}
	return res, nil
}

// setGPIO switches pin gp to input, or to an output driven low.
func (d *MCP2221) setGPIO(ctx context.Context, gp int, input bool) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdSetGPIO
	base := 2 + 4*gp
	if !input {
		// latch low before the pin turns into an output
		d.request[base] = 0x01
		d.request[base+1] = 0x00
	}
	d.request[base+2] = 0x01
	if input {
		d.request[base+3] = 0x01
	}
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("set GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

// Lines returns two GP pins (GP0 to GP3) as open-drain lines.
func (d *MCP2221) Lines(sda, scl string) (bitbang.Pin, bitbang.Pin, error) {
	if err := checkDistinct(sda, scl); err != nil {
		return nil, nil, err
	}
	dl, err := d.line(sda)
	if err != nil {
		return nil, nil, err
	}
	cl, err := d.line(scl)
	if err != nil {
		return nil, nil, err
	}
	return dl, cl, nil
}

func (d *MCP2221) line(name string) (*MCP2221Line, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(name), "GP"))
	if err != nil || n < 0 || n > 3 {
		return nil, fmt.Errorf("%w: %s (expected GP0 to GP3)", ErrPinNotFound, name)
	}
	return &MCP2221Line{dev: d, gp: n}, nil
}

// Close releases the HID handle.
func (d *MCP2221) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.dev == nil {
		return nil
	}
	err := d.dev.Close()
	d.dev = nil
	return err
}

func (d *MCP2221) send(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.dev == nil {
		dev, err := d.open()
		if err != nil {
			return err
		}
		d.dev = dev
	}
	slog.Debug("sending message to adapter", "request", hex.EncodeToString(d.request[:8]))
	n, err := d.dev.Write(d.request)
	if err != nil {
		d.drop()
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if d.responseWait > 0 {
		time.Sleep(d.responseWait)
	}
	n, err = d.dev.Read(d.response)
	if err != nil {
		d.drop()
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to command %#x, expected %#x", d.response[0], d.request[0])
	}
	return nil
}

// drop closes a handle that failed, so the next request reopens the device.
func (d *MCP2221) drop() {
	_ = d.dev.Close()
	d.dev = nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}

// MCP2221Line is one GP pin used as an open-drain line.
type MCP2221Line struct {
	dev *MCP2221
	gp  int
	err error
}

func (l *MCP2221Line) String() string {
	return "GP" + strconv.Itoa(l.gp)
}

func (l *MCP2221Line) In(pull gpio.Pull, edge gpio.Edge) error {
	return l.dev.setGPIO(context.Background(), l.gp, true)
}

func (l *MCP2221Line) Out(level gpio.Level) error {
	return l.dev.setGPIO(context.Background(), l.gp, level == gpio.High)
}

// Read reports a failed read as low.
func (l *MCP2221Line) Read() gpio.Level {
	levels, err := l.dev.ReadGPIO(context.Background())
	if err != nil {
		l.err = err
		return gpio.Low
	}
	return levels[l.gp]
}

// Err returns the last read failure.
func (l *MCP2221Line) Err() error {
	return l.err
}
