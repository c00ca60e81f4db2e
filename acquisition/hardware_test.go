package acquisition_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/softi2c/acquisition"
	"github.com/mklimuk/softi2c/bitbang"
	"github.com/mklimuk/softi2c/config"
	"github.com/mklimuk/softi2c/hostpin"
	"github.com/mklimuk/softi2c/transaction"
)

// TestHardware runs the acquisition against the sensors wired to the pins of
// SOFTI2C_CONFIG (built-in defaults when unset).
func TestHardware(t *testing.T) {
	if os.Getenv("TEST_INTEGRATION_ENABLED") == "" {
		t.Skip("TEST_INTEGRATION_ENABLED not set")
	}
	cfg := config.Default()
	if path := os.Getenv("SOFTI2C_CONFIG"); path != "" {
		var err error
		cfg, err = config.Load(path)
		require.NoError(t, err)
	}
	backend, err := hostpin.Open(cfg.Backend, cfg.Platform)
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()

	var channels []acquisition.Channel
	for _, ch := range cfg.Channels {
		sda, scl, err := backend.Lines(ch.SDA, ch.SCL)
		require.NoError(t, err, ch.Name)
		e := bitbang.NewEngine(sda, scl, bitbang.WithHalfPeriod(cfg.HalfPeriod))
		require.NoError(t, e.Err(), ch.Name)
		scale, err := ch.Scale()
		require.NoError(t, err)
		channels = append(channels, acquisition.Channel{
			Name:   ch.Name,
			Engine: transaction.New(e, byte(ch.Address)),
			Range:  scale,
		})
	}

	s := acquisition.New(channels, acquisition.WithRetries(cfg.Retries))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Setup(ctx))

	failedBefore, totalBefore := s.Stats()
	for {
		require.NoError(t, ctx.Err(), "cycles did not complete")
		s.Tick()
		if _, total := s.Stats(); total >= totalBefore+5 && s.Step() == acquisition.StepBegin {
			break
		}
	}
	failed, _ := s.Stats()
	assert.Equal(t, failedBefore, failed, "failed cycles: %v", s.Err())
	assert.False(t, s.IsError())
	t.Logf("%+v", s.Snapshot())
}
