package acquisition

import (
	"context"
	"fmt"

	"github.com/mklimuk/softi2c"
)

// Setup recovers every bus and then runs complete measurement cycles until
// one succeeds or the retry budget is spent. It blocks; ctx is checked
// between ticks.
func (s *Sequencer) Setup(ctx context.Context) error {
	s.logger.Info("initializing pressure sensors", "channels", len(s.channels))
	for _, ch := range s.channels {
		if err := ch.Engine.RecoverBus(); err != nil {
			s.logger.Warn("bus recovery failed", "channel", ch.Name, "error", err)
		}
	}
	s.ready = false
	s.step = StepBegin
	for attempt := 1; attempt <= s.retries; attempt++ {
		if err := s.cycle(ctx); err != nil {
			return fmt.Errorf("sensor initialization interrupted: %w", err)
		}
		if !s.errored {
			s.ready = true
			s.logger.Info("pressure sensors ready", "attempts", attempt, "duration", s.worst)
			return nil
		}
		s.logger.Warn("sensor initialization failed", "attempt", attempt, "error", s.lastErr)
	}
	s.logger.Error("sensor initialization gave up", "attempts", s.retries, "error", s.lastErr)
	return fmt.Errorf("%w: no valid reading after %d attempts: %w", softi2c.ErrSequence, s.retries, s.lastErr)
}

// cycle ticks until a new measurement cycle has started and the script is
// back at its first step.
func (s *Sequencer) cycle(ctx context.Context) error {
	started := s.attempts
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Tick()
		if s.attempts > started && s.step == StepBegin {
			return nil
		}
	}
}

// Initialized reports whether the last Setup produced a valid reading.
func (s *Sequencer) Initialized() bool {
	return s.ready
}

// Run ticks the sequencer until ctx is done.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Tick()
	}
}
