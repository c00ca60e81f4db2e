package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/softi2c/cmd/softi2c/console"
)

var configCmd = cli.Command{
	Name:  "config",
	Usage: "print the effective configuration",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		return console.YAML(cfg)
	},
}
