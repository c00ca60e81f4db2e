package bitbang

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/softi2c"
	"github.com/mklimuk/softi2c/bitbang/bitbangtest"
)

func newTestBus(dev *bitbangtest.Device) (*Bus, *bitbangtest.Wire) {
	e, wire, _ := newTestEngine(dev)
	return NewBus("test", e), wire
}

func TestBus_TxWriteThenRead(t *testing.T) {
	dev := &bitbangtest.Device{
		Address:   testAddress,
		Registers: map[byte][]byte{0xA5: {0x12, 0x34}},
	}
	bus, wire := newTestBus(dev)
	r := make([]byte, 2)
	require.NoError(t, bus.Tx(testAddress, []byte{0xA5}, r))
	assert.Equal(t, []byte{0x12, 0x34}, r)
	assert.Equal(t, []string{
		"START", "W 0xda ACK", "W 0xa5 ACK",
		"START", "W 0xdb ACK", "R 0x12 ACK", "R 0x34 NACK",
		"STOP",
	}, wire.Trace())
}

func TestBus_TxWrite(t *testing.T) {
	dev := &bitbangtest.Device{Address: testAddress}
	bus, wire := newTestBus(dev)
	require.NoError(t, bus.Tx(testAddress, []byte{0x30, 0x0A}, nil))
	assert.Equal(t, []byte{0x0A}, dev.Written[0x30])
	assert.Equal(t, []byte{testAddress << 1, 0x30, 0x0A}, wire.Writes())
}

func TestBus_TxProbe(t *testing.T) {
	bus, wire := newTestBus(&bitbangtest.Device{Address: testAddress})
	assert.NoError(t, bus.Tx(testAddress, nil, nil))
	assert.ErrorIs(t, bus.Tx(0x27, nil, nil), softi2c.ErrNack)
	assert.Equal(t, []string{"START", "W 0xda ACK", "STOP", "START", "W 0x4e NACK", "STOP"}, wire.Trace())
}

func TestBus_TxErrors(t *testing.T) {
	tests := []struct {
		name string
		dev  *bitbangtest.Device
		w    []byte
		r    []byte
	}{
		{"address", &bitbangtest.Device{Address: testAddress, NackAddress: true}, []byte{0x30}, nil},
		{"data", &bitbangtest.Device{Address: testAddress, NackRegister: true}, []byte{0x30, 0x0A}, nil},
		{"read address", nil, nil, make([]byte, 1)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus, wire := newTestBus(test.dev)
			err := bus.Tx(testAddress, test.w, test.r)
			assert.ErrorIs(t, err, softi2c.ErrNack)
			// the transfer is always closed with a stop
			assert.Equal(t, "STOP", wire.Trace()[len(wire.Events)-1])
		})
	}
	bus, _ := newTestBus(nil)
	assert.Error(t, bus.Tx(0x80, nil, nil))
}

func TestBus_AddressableInterface(t *testing.T) {
	dev := &bitbangtest.Device{Address: testAddress, Registers: map[byte][]byte{0x00: {0x42}}}
	bus, _ := newTestBus(dev)
	ctx := context.Background()
	require.NoError(t, bus.WriteToAddr(ctx, testAddress, []byte{0x00}))
	buf := make([]byte, 1)
	require.NoError(t, bus.ReadFromAddr(ctx, testAddress, buf))
	assert.Equal(t, byte(0x42), buf[0])
	assert.NoError(t, bus.ReadFromAddr(ctx, testAddress, nil))
	assert.NoError(t, bus.Release(ctx))

	err := bus.WriteToAddr(ctx, 0x27, []byte{0x00})
	assert.ErrorIs(t, err, softi2c.ErrNack)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, bus.WriteToAddr(canceled, testAddress, nil), context.Canceled)
	assert.ErrorIs(t, bus.ReadFromAddr(canceled, testAddress, buf), context.Canceled)
	assert.ErrorIs(t, bus.Release(canceled), context.Canceled)
}

func TestBus_Release(t *testing.T) {
	bus, wire := newTestBus(nil)
	wire.HoldSCL(true)
	assert.ErrorIs(t, bus.Release(context.Background()), softi2c.ErrBusStuck)
}

func TestBus_SetSpeed(t *testing.T) {
	bus, _ := newTestBus(nil)
	assert.Equal(t, "test", bus.String())
	require.NoError(t, bus.SetSpeed(100*physic.KiloHertz))
	assert.Equal(t, 5*time.Microsecond, bus.engine.HalfPeriod())
	assert.Error(t, bus.SetSpeed(0))
}

func TestBus_PinErrorOnlyFailsOneTransfer(t *testing.T) {
	dev := &bitbangtest.Device{Address: testAddress, Registers: map[byte][]byte{0x30: {0x42}}}
	bus, wire := newTestBus(dev)
	failure := errors.New("transient")
	wire.SCL().OutErr = failure
	r := make([]byte, 1)
	assert.ErrorIs(t, bus.Tx(testAddress, []byte{0x30}, r), failure)

	wire.SCL().OutErr = nil
	require.NoError(t, bus.Tx(testAddress, []byte{0x30}, r))
	assert.Equal(t, byte(0x42), r[0])
}
