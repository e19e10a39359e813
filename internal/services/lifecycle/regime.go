package lifecycle

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const minutesPerDay = 24 * 60

// Clock minutes since midnight.
type Clock int

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse clock time %q", s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// ClockOf returns the wall clock of t in loc.
func ClockOf(t time.Time, loc *time.Location) Clock {
	local := t.In(loc)
	return Clock(local.Hour()*60 + local.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Regime clock-time window [From, To) with its own fast-fail window. From > To
// wraps past midnight.
type Regime struct {
	From   Clock
	To     Clock
	Window time.Duration
}

// Contains reports whether c falls inside the regime.
func (r Regime) Contains(c Clock) bool {
	if r.From <= r.To {
		return c >= r.From && c < r.To
	}
	return c >= r.From || c < r.To
}

// Overlaps reports whether two regimes share any minute.
func (r Regime) Overlaps(o Regime) bool {
	for m := Clock(0); m < minutesPerDay; m++ {
		if r.Contains(m) && o.Contains(m) {
			return true
		}
	}
	return false
}

// FastFailWindow picks the window for a position opened at openedAt. The first
// matching regime wins, otherwise the default window applies.
func FastFailWindow(ff FastFail, openedAt time.Time, loc *time.Location) time.Duration {
	if loc == nil {
		loc = time.UTC
	}
	c := ClockOf(openedAt, loc)
	for _, r := range ff.Regimes {
		if r.Contains(c) {
			return r.Window
		}
	}
	return ff.DefaultWindow
}
