package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/softi2c/pressure"
)

func TestRead(t *testing.T) {
	in := `
backend: gobot
platform: nanopi
half_period: 5us
tick: 2ms
retries: 3
channels:
  - {name: pressure, sda: "7", scl: "11", address: 0x6d, range: 20kPa}
`
	c, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, BackendGobot, c.Backend)
	assert.Equal(t, 5*time.Microsecond, c.HalfPeriod)
	assert.Equal(t, 2*time.Millisecond, c.Tick)
	assert.Equal(t, 3, c.Retries)
	require.Len(t, c.Channels, 1)
	assert.Equal(t, Channel{Name: "pressure", SDA: "7", SCL: "11", Address: 0x6D, Range: "20kPa"}, c.Channels[0])
	scale, err := c.Channels[0].Scale()
	require.NoError(t, err)
	assert.Equal(t, pressure.Range20kPa, scale)
}

func TestRead_Defaults(t *testing.T) {
	c, err := Read(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	c, err = Read(strings.NewReader("tick: 10ms\n"))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, c.Tick)
	assert.Len(t, c.Channels, 2)
	assert.Equal(t, "700kPa", c.Channels[1].Range)
}

func TestRead_NormalizesBackend(t *testing.T) {
	c, err := Read(strings.NewReader("backend: ' Gobot '\nplatform: NanoPi\n"))
	require.NoError(t, err)
	assert.Equal(t, BackendGobot, c.Backend)
	assert.Equal(t, "nanopi", c.Platform)
}

func TestRead_UnknownField(t *testing.T) {
	_, err := Read(strings.NewReader("speed: 100kHz\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"backend", func(c *Config) { c.Backend = "arduino" }},
		{"backend case", func(c *Config) { c.Backend = "Periph" }},
		{"half period", func(c *Config) { c.HalfPeriod = 0 }},
		{"tick", func(c *Config) { c.Tick = -time.Millisecond }},
		{"retries", func(c *Config) { c.Retries = 0 }},
		{"no channels", func(c *Config) { c.Channels = nil }},
		{"no name", func(c *Config) { c.Channels[0].Name = "" }},
		{"duplicate name", func(c *Config) { c.Channels[1].Name = c.Channels[0].Name }},
		{"missing pin", func(c *Config) { c.Channels[0].SCL = "" }},
		{"shared pin", func(c *Config) { c.Channels[1].SDA = c.Channels[0].SCL }},
		{"same line twice", func(c *Config) { c.Channels[0].SCL = c.Channels[0].SDA }},
		{"address", func(c *Config) { c.Channels[0].Address = 0x80 }},
		{"negative address", func(c *Config) { c.Channels[0].Address = -1 }},
		{"range", func(c *Config) { c.Channels[1].Range = "3kPa" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := Default()
			test.modify(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "softi2c.yaml")
	var buf bytes.Buffer
	c := Default()
	c.Backend = BackendMCP2221
	require.NoError(t, c.Write(&buf))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
