// Package throttle slows down password guessing.
//
// Every failed attempt arms a lockout deadline. How far that deadline lies in the future depends
// on a goodwill budget: it starts full, every failure spends a portion of it and time spent
// waiting past a deadline earns it back. Rapid repeated failures therefore produce ever longer
// lockouts, while a user who mistypes once in a while is barely slowed down.
//
// Times are offsets in the display server's event time domain, expressed as time.Duration.
package throttle

import (
	"fmt"
	"math"
	"time"
)

const (
	// DefaultBase is the lockout that a failure with no goodwill left would produce.
	DefaultBase = 30 * time.Second
	// DefaultMaxGoodwill caps the goodwill budget.
	DefaultMaxGoodwill = 5 * DefaultBase
	// DefaultPortion is the fraction of goodwill spent on every failure.
	DefaultPortion = 0.3
)

type Config struct {
	Base        time.Duration
	MaxGoodwill time.Duration
	Portion     float64
}

func DefaultConfig() Config {
	return Config{
		Base:        DefaultBase,
		MaxGoodwill: DefaultMaxGoodwill,
		Portion:     DefaultPortion,
	}
}

func (c Config) Validate() error {
	if c.Base <= 0 {
		return fmt.Errorf("base timeout must be positive, got %s", c.Base)
	}
	if c.MaxGoodwill < 0 {
		return fmt.Errorf("max goodwill cannot be negative, got %s", c.MaxGoodwill)
	}
	if c.Portion <= 0 || c.Portion >= 1 {
		return fmt.Errorf("goodwill portion must be in (0, 1), got %v", c.Portion)
	}

	return nil
}

// Throttle tracks the goodwill budget and the lockout deadline.
// It is not safe for concurrent use.
type Throttle struct {
	cfg      Config
	goodwill time.Duration
	deadline time.Duration
	armed    bool
}

// New returns a Throttle with a full goodwill budget and no lockout.
func New(cfg Config) *Throttle {
	return &Throttle{
		cfg:      cfg,
		goodwill: cfg.MaxGoodwill,
	}
}

// Locked reports whether at lies before the current lockout deadline.
func (t *Throttle) Locked(at time.Duration) bool {
	return t.armed && at < t.deadline
}

// OnFailure records a failed attempt at the given event time and returns the new lockout
// deadline. The deadline is never earlier than at.
func (t *Throttle) OnFailure(at time.Duration) time.Duration {
	if t.armed && at > t.deadline {
		t.goodwill = min(t.goodwill+(at-t.deadline), t.cfg.MaxGoodwill)
	}

	penalty := -time.Duration(math.Round(float64(t.goodwill) * t.cfg.Portion))
	t.goodwill += penalty

	t.deadline = max(at+t.cfg.Base+penalty, at)
	t.armed = true

	return t.deadline
}

// Goodwill returns the remaining goodwill budget.
func (t *Throttle) Goodwill() time.Duration {
	return t.goodwill
}

// Deadline returns the current lockout deadline and whether one was ever armed.
func (t *Throttle) Deadline() (time.Duration, bool) {
	return t.deadline, t.armed
}
