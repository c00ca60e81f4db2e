// Package config loads the YAML description of the sensor channels and the
// GPIO backend they are wired to.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/softi2c/bitbang"
	"github.com/mklimuk/softi2c/pressure"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	BackendPeriph  = "periph"
	BackendGobot   = "gobot"
	BackendMCP2221 = "mcp2221"
)

type Channel struct {
	Name    string `yaml:"name"`
	SDA     string `yaml:"sda"`
	SCL     string `yaml:"scl"`
	Address int    `yaml:"address"`
	Range   string `yaml:"range"`
}

// Scale returns the parsed pressure range.
func (c Channel) Scale() (pressure.Range, error) {
	return pressure.ParseRange(c.Range)
}

type Config struct {
	Backend    string        `yaml:"backend"`
	Platform   string        `yaml:"platform,omitempty"`
	HalfPeriod time.Duration `yaml:"half_period"`
	Tick       time.Duration `yaml:"tick"`
	Retries    int           `yaml:"retries"`
	Channels   []Channel     `yaml:"channels"`
}

// Default returns the two channel layout the sensors are deployed with.
func Default() *Config {
	return &Config{
		Backend:    BackendPeriph,
		Platform:   "nanopi",
		HalfPeriod: bitbang.DefaultHalfPeriod,
		Tick:       time.Millisecond,
		Retries:    10,
		Channels: []Channel{
			{Name: "pressure", SDA: "GPIO2", SCL: "GPIO3", Address: pressure.DefaultAddress, Range: pressure.Range10kPa.String()},
			{Name: "secondary", SDA: "GPIO17", SCL: "GPIO27", Address: pressure.DefaultAddress, Range: pressure.Range700kPa.String()},
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open config file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}

func Read(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(c)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))
	err = c.Validate()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Write encodes the configuration as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	err := enc.Encode(c)
	if err != nil {
		return fmt.Errorf("could not encode config: %w", err)
	}
	return enc.Close()
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendPeriph, BackendGobot, BackendMCP2221:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if c.HalfPeriod <= 0 {
		return fmt.Errorf("%w: half period must be positive", ErrInvalid)
	}
	if c.Tick < 0 {
		return fmt.Errorf("%w: negative tick interval", ErrInvalid)
	}
	if c.Retries <= 0 {
		return fmt.Errorf("%w: retries must be positive", ErrInvalid)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalid)
	}
	pins := make(map[string]string)
	names := make(map[string]bool)
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("%w: channel %d has no name", ErrInvalid, i)
		}
		if names[ch.Name] {
			return fmt.Errorf("%w: duplicate channel %s", ErrInvalid, ch.Name)
		}
		names[ch.Name] = true
		for _, pin := range []string{ch.SDA, ch.SCL} {
			if pin == "" {
				return fmt.Errorf("%w: channel %s: missing pin", ErrInvalid, ch.Name)
			}
			if owner, ok := pins[pin]; ok {
				return fmt.Errorf("%w: pin %s used by %s and %s", ErrInvalid, pin, owner, ch.Name)
			}
			pins[pin] = ch.Name
		}
		if ch.Address < 0 || ch.Address > 0x7F {
			return fmt.Errorf("%w: channel %s: address %#x out of 7-bit range", ErrInvalid, ch.Name, ch.Address)
		}
		if _, err := ch.Scale(); err != nil {
			return fmt.Errorf("%w: channel %s: %w", ErrInvalid, ch.Name, err)
		}
	}
	return nil
}
