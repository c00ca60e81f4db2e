// Package acquisition runs the pressure measurement script on several
// sensor channels in lockstep. Every Tick advances all channel transaction
// engines by one step, then moves the script forward once all of them are
// idle, so channels never drift by more than one tick.
package acquisition

import (
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/softi2c"
	"github.com/mklimuk/softi2c/pressure"
	"github.com/mklimuk/softi2c/transaction"
)

// DefaultRetries bounds the number of measurement cycles run by Setup.
const DefaultRetries = 10

// Step is the script position.
type Step int

const (
	// StepBegin reads the status register.
	StepBegin Step = iota
	// StepRestoreStatus writes back the masked status.
	StepRestoreStatus
	// StepTrigger starts a conversion.
	StepTrigger
	// StepPoll reads the command register.
	StepPoll
	// StepResult checks the busy bit and reads the result.
	StepResult
	// StepDecode converts the result.
	StepDecode
)

var stepNames = [...]string{"begin", "restore-status", "trigger", "poll", "result", "decode"}

func (s Step) String() string {
	if s >= 0 && int(s) < len(stepNames) {
		return stepNames[s]
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// Engine is a non-blocking register transaction engine.
// It is implemented by transaction.Engine.
type Engine interface {
	Tick() transaction.Result
	RequestRead(reg byte, width int) error
	RequestWrite(reg byte, value uint16, width int) error
	RecoverBus() error
	Timings() (transaction.Timing, bool)
}

// Channel is one sensor with its own bus.
type Channel struct {
	Name   string
	Engine Engine
	Range  pressure.Range
}

type channel struct {
	Channel
	result  transaction.Result
	raw     int32
	reading physic.Pressure
}

// Sequencer owns no hardware: channels are built by the caller.
// It is not safe for concurrent use.
type Sequencer struct {
	channels []*channel
	clock    softi2c.Clock
	logger   *slog.Logger
	retries  int

	step    Step
	errored bool
	lastErr error
	ready   bool

	attempts  int
	successes int
	started   time.Time
	worst     time.Duration
}

type Config struct {
	Clock   softi2c.Clock
	Logger  *slog.Logger
	Retries int
}

type Option func(*Config)

func WithClock(clock softi2c.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithRetries sets the number of measurement cycles Setup may run.
func WithRetries(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Retries = n
		}
	}
}

func New(channels []Channel, opts ...Option) *Sequencer {
	config := &Config{
		Clock:   softi2c.SystemClock{},
		Logger:  slog.Default(),
		Retries: DefaultRetries,
	}
	for _, opt := range opts {
		opt(config)
	}
	s := &Sequencer{
		clock:   config.Clock,
		logger:  config.Logger,
		retries: config.Retries,
	}
	for _, ch := range channels {
		s.channels = append(s.channels, &channel{Channel: ch})
	}
	return s
}

// Step returns the current script position.
func (s *Sequencer) Step() Step {
	return s.step
}

// Tick ticks every channel engine, busy or not, then advances the script.
func (s *Sequencer) Tick() {
	idle := true
	var err error
	for _, ch := range s.channels {
		ch.result = ch.Engine.Tick()
		if ch.result.Busy() {
			idle = false
		}
		if ch.result.Err != nil && err == nil {
			err = fmt.Errorf("channel %s: %w", ch.Name, ch.result.Err)
		}
	}
	if !idle {
		return
	}

	switch s.step {
	case StepBegin:
		s.attempts++
		s.started = s.clock.Now()
		s.request(StepRestoreStatus, func(e Engine) error {
			return e.RequestRead(pressure.RegStatus, pressure.StatusWidth)
		})
	case StepRestoreStatus:
		if s.failed(err) {
			return
		}
		s.requestEach(StepTrigger, func(ch *channel) error {
			status := pressure.RestoredStatus(uint16(ch.result.Value))
			return ch.Engine.RequestWrite(pressure.RegStatus, status, pressure.StatusWidth)
		})
	case StepTrigger:
		if s.failed(err) {
			return
		}
		s.request(StepPoll, func(e Engine) error {
			return e.RequestWrite(pressure.RegCommand, pressure.CmdTrigger, pressure.CommandWidth)
		})
	case StepPoll:
		if s.failed(err) {
			return
		}
		s.request(StepResult, func(e Engine) error {
			return e.RequestRead(pressure.RegCommand, pressure.CommandWidth)
		})
	case StepResult:
		if s.failed(err) {
			return
		}
		for _, ch := range s.channels {
			if ch.result.Value&pressure.BusyMask != 0 {
				// conversion still running, poll again on the next tick
				s.step = StepPoll
				return
			}
		}
		s.request(StepDecode, func(e Engine) error {
			return e.RequestRead(pressure.RegResult, pressure.ResultWidth)
		})
	case StepDecode:
		if err != nil {
			s.errored = true
			s.lastErr = err
		} else {
			s.decode()
		}
		s.step = StepBegin
	}
}

func (s *Sequencer) request(next Step, req func(e Engine) error) {
	s.requestEach(next, func(ch *channel) error {
		return req(ch.Engine)
	})
}

// requestEach issues a request on every channel. Engines are idle here so
// a rejection means a broken engine; the cycle is restarted.
func (s *Sequencer) requestEach(next Step, req func(ch *channel) error) {
	var failure error
	for _, ch := range s.channels {
		if err := req(ch); err != nil && failure == nil {
			failure = fmt.Errorf("channel %s: request rejected: %w", ch.Name, err)
		}
	}
	if failure != nil {
		s.logger.Warn("sensor request rejected", "step", s.step, "error", failure)
		s.failed(failure)
		return
	}
	s.step = next
}

func (s *Sequencer) failed(err error) bool {
	if err == nil {
		return false
	}
	s.errored = true
	s.lastErr = err
	s.step = StepBegin
	return true
}

func (s *Sequencer) decode() {
	for _, ch := range s.channels {
		ch.raw = pressure.SignExtend24(ch.result.Value)
		ch.reading = ch.Range.Convert(ch.result.Value)
	}
	s.errored = false
	s.lastErr = nil
	s.successes++
	if d := s.clock.Now().Sub(s.started); d > s.worst {
		s.worst = d
	}
}

// Reading returns the last good reading of channel i.
func (s *Sequencer) Reading(i int) physic.Pressure {
	if i < 0 || i >= len(s.channels) {
		return 0
	}
	return s.channels[i].reading
}

// Raw returns the last good sign extended raw value of channel i.
func (s *Sequencer) Raw(i int) int32 {
	if i < 0 || i >= len(s.channels) {
		return 0
	}
	return s.channels[i].raw
}

// Pressure returns the reading of the first channel.
func (s *Sequencer) Pressure() physic.Pressure {
	return s.Reading(0)
}

// Secondary returns the reading of the second channel.
func (s *Sequencer) Secondary() physic.Pressure {
	return s.Reading(1)
}

// IsError reports whether the most recent cycle failed.
func (s *Sequencer) IsError() bool {
	return s.errored
}

// Err returns the failure of the most recent cycle.
func (s *Sequencer) Err() error {
	if !s.errored {
		return nil
	}
	return fmt.Errorf("%w: %w", softi2c.ErrSequence, s.lastErr)
}

// Stats returns the number of failed and started measurement cycles.
func (s *Sequencer) Stats() (errors int, total int) {
	return s.attempts - s.successes, s.attempts
}

// Duration returns the longest successful measurement cycle.
func (s *Sequencer) Duration() time.Duration {
	return s.worst
}

// Timings returns the slowest transaction step over all channels.
func (s *Sequencer) Timings() (transaction.Timing, bool) {
	var worst transaction.Timing
	found := false
	for _, ch := range s.channels {
		t, ok := ch.Engine.Timings()
		if !ok {
			continue
		}
		if !found || t.Duration > worst.Duration {
			worst = t
			found = true
		}
	}
	return worst, found
}

// Snapshot is a printable summary of the sequencer state.
type Snapshot struct {
	Initialized   bool              `yaml:"initialized"`
	Error         bool              `yaml:"error"`
	Cycles        int               `yaml:"cycles"`
	Failures      int               `yaml:"failures"`
	WorstCycle    time.Duration     `yaml:"worst_cycle"`
	WorstStep     string            `yaml:"worst_step,omitempty"`
	WorstStepTime time.Duration     `yaml:"worst_step_time,omitempty"`
	Readings      map[string]string `yaml:"readings"`
}

func (s *Sequencer) Snapshot() Snapshot {
	failures, total := s.Stats()
	snap := Snapshot{
		Initialized: s.ready,
		Error:       s.errored,
		Cycles:      total,
		Failures:    failures,
		WorstCycle:  s.worst,
		Readings:    make(map[string]string, len(s.channels)),
	}
	if t, ok := s.Timings(); ok {
		snap.WorstStep = t.Name
		snap.WorstStepTime = t.Duration
	}
	for _, ch := range s.channels {
		snap.Readings[ch.Name] = ch.reading.String()
	}
	return snap
}
