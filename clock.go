package softi2c

import "time"

// Clock is the time source of the bus stack. Delay is a blocking wait used
// for clock half periods; it must not yield to other work.
type Clock interface {
	Now() time.Time
	Delay(d time.Duration)
}

// SystemClock uses the monotonic wall clock and spins for delays.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Delay busy-waits; time.Sleep granularity is far above an I2C half period.
func (SystemClock) Delay(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
