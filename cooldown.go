package accountflow

import "time"

// Clock abstracts wall-clock reads so cooldown behavior is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Cooldown gates code-resend requests. It is a pure countdown recomputed
// from the arm timestamp plus elapsed wall-clock time: no ticker goroutine,
// no drift, and in-flight network calls never delay it. Server-side rate
// limiting is independent and authoritative.
type Cooldown struct {
	clock    Clock
	armedAt  time.Time
	duration time.Duration
}

// NewCooldown returns a cooldown that reads time from clock. A nil clock
// falls back to the system clock.
func NewCooldown(clock Clock) *Cooldown {
	if clock == nil {
		clock = systemClock{}
	}
	return &Cooldown{clock: clock}
}

// Arm starts (or restarts) the countdown for d. Re-arming resets the
// deadline; only one countdown is ever active.
func (c *Cooldown) Arm(d time.Duration) {
	c.armedAt = c.clock.Now()
	c.duration = d
}

// Remaining returns the time left before resend becomes available, for
// display. Zero once the deadline has elapsed or the cooldown was never
// armed.
func (c *Cooldown) Remaining() time.Duration {
	if c.armedAt.IsZero() {
		return 0
	}
	left := c.duration - c.clock.Now().Sub(c.armedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Ready reports whether the deadline has elapsed. An unarmed cooldown is
// ready.
func (c *Cooldown) Ready() bool {
	return c.Remaining() == 0
}
