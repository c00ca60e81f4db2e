package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/softi2c/acquisition"
	"github.com/mklimuk/softi2c/cmd/softi2c/console"
	"github.com/mklimuk/softi2c/publish"
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "initialize the sensors and acquire until interrupted",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "report",
			Usage: "interval between printed readings",
			Value: time.Second,
		},
		&cli.StringFlag{
			Name:  "mqtt",
			Usage: "broker to publish readings to, e.g. tcp://localhost:1883",
		},
		&cli.StringFlag{
			Name:  "topic",
			Usage: "topic prefix for published readings",
			Value: "softi2c",
		},
	},
	Action: func(c *cli.Context) error {
		set, err := openChannels(c)
		if err != nil {
			return console.Exit(1, "could not open channels: %s", console.Red(err))
		}
		defer func() { _ = set.Close() }()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		var pub *publish.Publisher
		if broker := c.String("mqtt"); broker != "" {
			pub, err = publish.Connect(broker, c.String("topic"))
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			defer pub.Close()
		}

		seq := acquisition.New(set.channels, acquisition.WithRetries(set.config.Retries))
		err = seq.Setup(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// keep acquiring, readings appear once the sensors answer
			console.Warnf("sensor initialization failed: %v", err)
		}

		var tick <-chan time.Time
		if set.config.Tick > 0 {
			ticker := time.NewTicker(set.config.Tick)
			defer ticker.Stop()
			tick = ticker.C
		}
		report := c.Duration("report")
		next := time.Now().Add(report)
		for ctx.Err() == nil {
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					continue
				}
			}
			seq.Tick()
			if now := time.Now(); now.After(next) {
				next = now.Add(report)
				printReadings(set, seq)
				if pub != nil {
					if err := pub.Publish(seq.Snapshot()); err != nil {
						console.Warnf("%v", err)
					}
				}
			}
		}
		console.PInfof(console.PictoFinish, "acquisition stopped")
		return console.YAML(seq.Snapshot())
	},
}

func printReadings(set *channelSet, seq *acquisition.Sequencer) {
	for i, ch := range set.channels {
		console.PInfof(console.PictoGauge, "%s: %s", ch.Name, console.White(seq.Reading(i)))
	}
	if seq.IsError() {
		console.Warnf("last cycle failed: %v", seq.Err())
	}
	failures, total := seq.Stats()
	console.Debugf("cycles %d, failed %d, worst cycle %s", total, failures, seq.Duration())
	if t, ok := seq.Timings(); ok {
		console.Debugf("slowest step %s took %s", t.Name, t.Duration)
	}
}
