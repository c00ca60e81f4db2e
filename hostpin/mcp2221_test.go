package hostpin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"github.com/mklimuk/softi2c"
)

// fakeHID records requests and answers with queued responses. A response
// whose first byte is zero is sent back with the command code of the request.
type fakeHID struct {
	requests  [][]byte
	responses [][]byte
	closed    int
}

func (f *fakeHID) Write(b []byte) (int, error) {
	f.requests = append(f.requests, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeHID) Read(b []byte) (int, error) {
	if len(f.responses) == 0 {
		return 0, errors.New("no response queued")
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	copy(b, r)
	if b[0] == 0 {
		b[0] = f.requests[len(f.requests)-1][0]
	}
	return len(b), nil
}

func (f *fakeHID) Close() error {
	f.closed++
	return nil
}

func (f *fakeHID) queue(responses ...[]byte) {
	f.responses = append(f.responses, responses...)
}

func newTestMCP2221(dev *fakeHID) *MCP2221 {
	m := NewMCP2221(WithResponseWait(0))
	m.open = func() (hidDevice, error) {
		return dev, nil
	}
	return m
}

func TestMCP2221_WriteToAddr(t *testing.T) {
	dev := &fakeHID{}
	m := newTestMCP2221(dev)
	dev.queue([]byte{}, []byte{0, 0x01})
	ctx := context.Background()

	require.NoError(t, m.WriteToAddr(ctx, 0x6D, []byte{0x30, 0x0A}))
	assert.Equal(t, []byte{0x90, 0x02, 0x00, 0xDA, 0x30, 0x0A}, dev.requests[0][:6])
	assert.Len(t, dev.requests[0], reportSize)

	assert.ErrorIs(t, m.WriteToAddr(ctx, 0x6D, []byte{0x30}), softi2c.ErrBusBusy)
}

func TestMCP2221_ReadFromAddr(t *testing.T) {
	dev := &fakeHID{}
	m := newTestMCP2221(dev)
	dev.queue([]byte{}, []byte{0, 0, 0, 3, 0x00, 0x02, 0x00})
	buf := make([]byte, 3)
	require.NoError(t, m.ReadFromAddr(context.Background(), 0x6D, buf))
	assert.Equal(t, []byte{0x00, 0x02, 0x00}, buf)
	require.Len(t, dev.requests, 2)
	assert.Equal(t, []byte{0x91, 0x03, 0x00, 0xDB}, dev.requests[0][:4])
	assert.Equal(t, byte(0x40), dev.requests[1][0])

	t.Run("nack", func(t *testing.T) {
		dev.queue([]byte{}, []byte{0, 0x41})
		assert.ErrorIs(t, m.ReadFromAddr(context.Background(), 0x6D, buf), softi2c.ErrNack)
	})
	t.Run("short", func(t *testing.T) {
		dev.queue([]byte{}, []byte{0, 0, 0, 1})
		assert.Error(t, m.ReadFromAddr(context.Background(), 0x6D, buf))
	})
}

func TestMCP2221_Status(t *testing.T) {
	dev := &fakeHID{}
	m := newTestMCP2221(dev)
	resp := make([]byte, reportSize)
	resp[9], resp[10] = 0x03, 0x00
	resp[11] = 0x02
	resp[14] = 0x76
	resp[16], resp[17] = 0xDA, 0x00
	resp[22], resp[23] = 1, 0
	dev.queue(resp)

	status, err := m.ReleaseBus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), dev.requests[0][2])
	assert.Equal(t, uint16(3), status.LastWriteRequestedSize)
	assert.Equal(t, uint16(2), status.LastWriteSentSize)
	assert.Equal(t, 0x76, status.I2CSpeedDivider)
	assert.Equal(t, "da00", status.CurrentAddress)
	assert.Equal(t, byte(1), status.SCL)
	assert.Equal(t, byte(0), status.SDA)
}

func TestMCP2221_GPIOSettings(t *testing.T) {
	dev := &fakeHID{}
	m := newTestMCP2221(dev)
	dev.queue([]byte{0, 0, 0, 0, 0x08, 0x00, 0x0A, 0x01})
	settings, err := m.GPIOSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, GPIOModeIn, settings[0].Mode)
	assert.Equal(t, GPIOModeOut, settings[1].Mode)
	assert.Equal(t, GPIODesignation(0x02), settings[2].Designation)
	assert.Equal(t, GPIO3LEDI2C, settings[3].Designation)
	assert.Equal(t, "INPUT", settings[0].Mode.String())

	dev.queue([]byte{})
	settings[1].Mode = GPIOModeIn
	require.NoError(t, m.SetGPIOSettings(context.Background(), settings))
	assert.Equal(t, []byte{0xB1, 0x01, 0x08, 0x08, 0x0A, 0x01}, dev.requests[1][:6])

	dev.queue([]byte{0, 0x01})
	assert.ErrorIs(t, m.SetGPIOSettings(context.Background(), settings), ErrCommandFailed)
}

func TestMCP2221_Lines(t *testing.T) {
	dev := &fakeHID{}
	m := newTestMCP2221(dev)
	sda, scl, err := m.Lines("GP2", "gp3")
	require.NoError(t, err)
	assert.Equal(t, "GP2", sda.(*MCP2221Line).String())

	dev.queue([]byte{}, []byte{}, []byte{})
	require.NoError(t, sda.Out(gpio.Low))
	require.NoError(t, scl.In(gpio.Float, gpio.NoEdge))
	require.NoError(t, sda.Out(gpio.High))
	// GP2 occupies bytes 10 to 13: alter output, output, alter direction, direction
	assert.Equal(t, []byte{0x50, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x00, 0x01, 0x00}, dev.requests[0][:14])
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x01}, dev.requests[1][14:18])
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x01}, dev.requests[2][10:14])

	// GP0 unassigned, GP1 low, GP2 high, GP3 low
	dev.queue([]byte{0, 0, 0x00, gpioUnassigned, 0x00, 0x01, 0x01, 0x01, 0x00, 0x01})
	assert.Equal(t, gpio.High, sda.Read())
	dev.queue([]byte{0, 0, 0x00, gpioUnassigned, 0x00, 0x01, 0x01, 0x01, 0x00, 0x01})
	assert.Equal(t, gpio.Low, scl.Read())

	// no response: read fails low and the handle is reopened on the next request
	assert.Equal(t, gpio.Low, scl.Read())
	assert.Error(t, scl.(*MCP2221Line).Err())
	assert.Equal(t, 1, dev.closed)
	dev.queue([]byte{})
	require.NoError(t, sda.Out(gpio.Low))

	_, _, err = m.Lines("GP4", "GP0")
	assert.ErrorIs(t, err, ErrPinNotFound)
	_, _, err = m.Lines("GP1", "GP1")
	assert.Error(t, err)
	require.NoError(t, m.Close())
	assert.Equal(t, 2, dev.closed)
}

func TestMCP2221_CanceledContext(t *testing.T) {
	m := newTestMCP2221(&fakeHID{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.WriteToAddr(ctx, 0x6D, nil), context.Canceled)
}
