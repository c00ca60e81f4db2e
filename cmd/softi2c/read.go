package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/softi2c/cmd/softi2c/console"
	"github.com/mklimuk/softi2c/pressure"
)

var readCmd = cli.Command{
	Name:  "read",
	Usage: "read a device register",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "register", Aliases: []string{"r"}, Usage: "register address in hex", Required: true},
		&cli.IntFlag{Name: "length", Aliases: []string{"n"}, Usage: "number of bytes to read", Value: 1},
	}, targetFlags...),
	Action: func(c *cli.Context) error {
		reg, err := strconv.ParseUint(strings.TrimPrefix(c.String("register"), "0x"), 16, 8)
		if err != nil {
			return console.Exit(1, "could not decode register: %v", err)
		}
		length := c.Int("length")
		if length <= 0 || length > 60 {
			return console.Exit(1, "length out of range: %d", length)
		}
		t, err := openTarget(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer func() { _ = t.close() }()

		ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
		defer cancel()
		addr := byte(t.channel.Address)
		buf := make([]byte, length)
		if tx, ok := t.bus.(pressure.Transactor); ok {
			err = tx.Tx(uint16(addr), []byte{byte(reg)}, buf)
		} else {
			err = t.bus.WriteToAddr(ctx, addr, []byte{byte(reg)})
			if err != nil {
				return console.Exit(1, "could not select register: %s", console.Red(err))
			}
			err = t.bus.ReadFromAddr(ctx, addr, buf)
		}
		if err != nil {
			return console.Exit(1, "could not read register: %s", console.Red(err))
		}
		console.PInfof(console.PictoPin, "%s register %#02x:", t.channel.Name, reg)
		console.Print(hex.Dump(buf))
		return nil
	},
}

var measureCmd = cli.Command{
	Name:  "measure",
	Usage: "run a single blocking pressure measurement",
	Flags: append([]cli.Flag{
		&cli.DurationFlag{Name: "timeout", Usage: "measurement deadline", Value: 2 * time.Second},
	}, targetFlags...),
	Action: func(c *cli.Context) error {
		t, err := openTarget(c)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer func() { _ = t.close() }()
		scale, err := t.channel.Scale()
		if err != nil {
			return console.Exit(1, "invalid channel range: %v", err)
		}
		s := pressure.NewSensor(t.bus, pressure.WithAddress(byte(t.channel.Address)), pressure.WithRange(scale))
		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		defer cancel()
		p, err := s.Measure(ctx)
		if err != nil {
			return console.Exit(1, "measurement failed: %s", console.Red(err))
		}
		console.PInfof(console.PictoGauge, "%s: %s", t.channel.Name, console.White(fmt.Sprint(p)))
		return nil
	},
}
