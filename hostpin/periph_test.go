package hostpin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/mklimuk/softi2c/bitbang"
	"github.com/mklimuk/softi2c/pressure"
)

func TestPeriph_Lines(t *testing.T) {
	require.NoError(t, gpioreg.Register(&gpiotest.Pin{N: "SOFTI2C_SDA", Num: 9001}))
	require.NoError(t, gpioreg.Register(&gpiotest.Pin{N: "SOFTI2C_SCL", Num: 9002}))
	p := &Periph{}

	sda, scl, err := p.Lines("SOFTI2C_SDA", "SOFTI2C_SCL")
	require.NoError(t, err)
	assert.Equal(t, "SOFTI2C_SDA", sda.(*gpiotest.Pin).N)
	assert.Equal(t, "SOFTI2C_SCL", scl.(*gpiotest.Pin).N)

	_, _, err = p.Lines("SOFTI2C_SDA", "SOFTI2C_MISSING")
	assert.ErrorIs(t, err, ErrPinNotFound)
	_, _, err = p.Lines("SOFTI2C_SDA", "SOFTI2C_SDA")
	assert.Error(t, err)
	assert.NoError(t, p.Close())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("arduino", "")
	assert.Error(t, err)
	b, err := Open("mcp2221", "")
	require.NoError(t, err)
	assert.IsType(t, &MCP2221{}, b)
}

var _ Backend = &Periph{}
var _ Backend = &Gobot{}
var _ bitbang.Pin = &GobotLine{}
var _ bitbang.Pin = &MCP2221Line{}
var _ pressure.Transactor = &HardwareBus{}

func TestHardwareBus(t *testing.T) {
	ctx := context.Background()
	playback := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x6D, W: []byte{0xA5}, R: []byte{0x12, 0x34}},
			{Addr: 0x6D, W: []byte{0x30, 0x0A}},
			{Addr: 0x6D, R: []byte{0x02}},
		},
	}
	bus := &HardwareBus{bus: playback}

	r := make([]byte, 2)
	require.NoError(t, bus.Tx(0x6D, []byte{0xA5}, r))
	assert.Equal(t, []byte{0x12, 0x34}, r)
	require.NoError(t, bus.WriteToAddr(ctx, 0x6D, []byte{0x30, 0x0A}))
	buf := make([]byte, 1)
	require.NoError(t, bus.ReadFromAddr(ctx, 0x6D, buf))
	assert.Equal(t, byte(0x02), buf[0])
	assert.NoError(t, bus.Release(ctx))
	assert.NoError(t, bus.Close())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, bus.WriteToAddr(canceled, 0x6D, nil), context.Canceled)
}
