package countdown

import (
	"time"
)

// Reading is the displayed state of the launch countdown.
type Reading struct {
	Active    bool          `json:"active"`
	Target    time.Time     `json:"target,omitempty"`
	Remaining time.Duration `json:"remaining"`
	Expired   bool          `json:"expired"`
}

// Remaining computes max(0, target-now). A nil target means no countdown.
// An expired reading only changes what is displayed; it never signals that
// the session is live.
func Remaining(target *time.Time, now time.Time) Reading {
	if target == nil || target.IsZero() {
		return Reading{}
	}
	left := target.Sub(now)
	if left <= 0 {
		return Reading{Active: true, Target: *target, Expired: true}
	}
	return Reading{Active: true, Target: *target, Remaining: left}
}

// Seconds is the whole number of seconds to display, rounded up so a
// countdown shows 1 until it actually expires.
func (r Reading) Seconds() int {
	if !r.Active || r.Expired {
		return 0
	}
	return int((r.Remaining + time.Second - 1) / time.Second)
}

// Equal compares readings at display granularity.
func (r Reading) Equal(o Reading) bool {
	return r.Active == o.Active && r.Expired == o.Expired && r.Target.Equal(o.Target) && r.Seconds() == o.Seconds()
}
