package bitbangtest

import "time"

// Clock is a manual time source: Delay advances time instantly.
type Clock struct {
	now    time.Time
	Delays int
}

func NewClock() *Clock {
	return &Clock{now: time.Unix(0, 0)}
}

func (c *Clock) Now() time.Time {
	return c.now
}

func (c *Clock) Delay(d time.Duration) {
	c.now = c.now.Add(d)
	c.Delays++
}

// Advance moves time forward without counting a delay.
func (c *Clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
