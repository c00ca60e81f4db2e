package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/softi2c"
	"github.com/mklimuk/softi2c/acquisition"
	"github.com/mklimuk/softi2c/bitbang"
	"github.com/mklimuk/softi2c/config"
	"github.com/mklimuk/softi2c/hostpin"
	"github.com/mklimuk/softi2c/transaction"
)

var targetFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "channel",
		Aliases: []string{"ch"},
		Usage:   "configured channel to use (first one when empty)",
	},
	&cli.StringFlag{
		Name:  "bus",
		Usage: "use a hardware bus instead of the bit-banged lines: mcp2221 or a kernel i2c bus name",
	},
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// channelSet is every configured channel opened on the configured backend.
type channelSet struct {
	config   *config.Config
	backend  hostpin.Backend
	engines  []*bitbang.Engine
	channels []acquisition.Channel
}

func openChannels(c *cli.Context) (*channelSet, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	backend, err := hostpin.Open(cfg.Backend, cfg.Platform)
	if err != nil {
		return nil, fmt.Errorf("could not open %s backend: %w", cfg.Backend, err)
	}
	set := &channelSet{config: cfg, backend: backend}
	for _, ch := range cfg.Channels {
		e, err := openEngine(backend, cfg, ch)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		scale, _ := ch.Scale()
		set.engines = append(set.engines, e)
		set.channels = append(set.channels, acquisition.Channel{
			Name:   ch.Name,
			Engine: transaction.New(e, byte(ch.Address)),
			Range:  scale,
		})
	}
	return set, nil
}

func (s *channelSet) Close() error {
	return s.backend.Close()
}

func openEngine(backend hostpin.Backend, cfg *config.Config, ch config.Channel) (*bitbang.Engine, error) {
	sda, scl, err := backend.Lines(ch.SDA, ch.SCL)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
	}
	e := bitbang.NewEngine(sda, scl, bitbang.WithHalfPeriod(cfg.HalfPeriod))
	if err := e.Err(); err != nil {
		return nil, fmt.Errorf("channel %s: could not release lines: %w", ch.Name, err)
	}
	return e, nil
}

// target is a single device reachable through a blocking bus.
type target struct {
	channel config.Channel
	bus     softi2c.I2CBus
	close   func() error
}

func openTarget(c *cli.Context) (*target, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	ch, err := pickChannel(cfg, c.String("channel"))
	if err != nil {
		return nil, err
	}
	switch bus := c.String("bus"); bus {
	case "":
		backend, err := hostpin.Open(cfg.Backend, cfg.Platform)
		if err != nil {
			return nil, fmt.Errorf("could not open %s backend: %w", cfg.Backend, err)
		}
		e, err := openEngine(backend, cfg, ch)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		return &target{channel: ch, bus: bitbang.NewBus(ch.Name, e), close: backend.Close}, nil
	case "mcp2221":
		m := hostpin.NewMCP2221()
		return &target{channel: ch, bus: m, close: m.Close}, nil
	default:
		hw, err := hostpin.OpenHardwareBus(bus)
		if err != nil {
			return nil, err
		}
		return &target{channel: ch, bus: hw, close: hw.Close}, nil
	}
}

func pickChannel(cfg *config.Config, name string) (config.Channel, error) {
	if name == "" {
		return cfg.Channels[0], nil
	}
	for _, ch := range cfg.Channels {
		if ch.Name == name {
			return ch, nil
		}
	}
	return config.Channel{}, fmt.Errorf("no channel named %q", name)
}
