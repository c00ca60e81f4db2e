package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/softi2c/cmd/softi2c/console"
)

var recoverCmd = cli.Command{
	Name:  "recover",
	Usage: "free buses held low by an interrupted transfer",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "batch",
			Usage: "do not prompt for retries",
		},
	},
	Action: func(c *cli.Context) error {
		set, err := openChannels(c)
		if err != nil {
			return console.Exit(1, "could not open channels: %s", console.Red(err))
		}
		defer func() { _ = set.Close() }()
		stuck := 0
		for i, e := range set.engines {
			name := set.channels[i].Name
			for {
				err := e.Recover()
				if err == nil {
					console.PInfof(console.PictoWrench, "%s: bus free", console.Green(name))
					break
				}
				console.Errorf("%s: %v", name, err)
				if c.Bool("batch") || !console.Confirm("retry recovery of "+name+"?") {
					stuck++
					break
				}
			}
		}
		if stuck > 0 {
			return console.Exit(1, "%d bus(es) still stuck", stuck)
		}
		return nil
	},
}
