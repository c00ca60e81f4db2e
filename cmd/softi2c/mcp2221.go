package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/softi2c/cmd/softi2c/console"
	"github.com/mklimuk/softi2c/hostpin"
)

var deviceFlag = &cli.IntFlag{
	Name:  "device",
	Usage: "bridge index when several are connected",
	Value: -1,
}

func openMCP2221(c *cli.Context) *hostpin.MCP2221 {
	return hostpin.NewMCP2221(hostpin.WithDeviceIndex(c.Int("device")))
}

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "inspect and configure an MCP2221 USB bridge",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221GPIOCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Flags: []cli.Flag{deviceFlag},
	Action: func(c *cli.Context) error {
		a := openMCP2221(c)
		defer func() { _ = a.Close() }()
		status, err := a.Status(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return console.YAML(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Flags: []cli.Flag{deviceFlag},
	Action: func(c *cli.Context) error {
		a := openMCP2221(c)
		defer func() { _ = a.Close() }()
		status, err := a.ReleaseBus(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return console.YAML(status)
	},
}

var mcp2221GPIOCmd = cli.Command{
	Name:  "gpio",
	Usage: "show the power-up GP settings",
	Flags: []cli.Flag{
		deviceFlag,
		&cli.BoolFlag{
			Name:  "setup",
			Usage: "configure all GP pins as GPIO inputs so they can carry bit-banged buses",
		},
	},
	Action: func(c *cli.Context) error {
		a := openMCP2221(c)
		defer func() { _ = a.Close() }()
		if c.Bool("setup") {
			var settings [4]hostpin.MCP2221GPIO
			for i := range settings {
				settings[i] = hostpin.MCP2221GPIO{Mode: hostpin.GPIOModeIn, Designation: hostpin.GPIOOperation}
			}
			if !console.Confirm("write GP settings to the bridge flash?") {
				return nil
			}
			err := a.SetGPIOSettings(c.Context, settings)
			if err != nil {
				return console.Exit(1, "could not write GP settings: %s", console.Red(err))
			}
		}
		settings, err := a.GPIOSettings(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return console.YAML(settings)
	},
}
