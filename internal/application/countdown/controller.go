package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/chatsim/joinsync/internal/domain/countdown"
)

const DefaultInterval = time.Second

// Controller samples the wall clock against the session's countdown target
// and reports readings whenever the displayed value changes. It never looks
// at the session status.
type Controller struct {
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	target *time.Time
	last   countdown.Reading
	poke   chan struct{}
}

// NewController creates a controller. A nil now uses the wall clock.
func NewController(interval time.Duration, now func() time.Time) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Controller{
		interval: interval,
		now:      now,
		poke:     make(chan struct{}, 1),
	}
}

// SetTarget replaces the countdown target. A nil target stops the countdown.
func (c *Controller) SetTarget(target *time.Time) {
	c.mu.Lock()
	if sameTarget(c.target, target) {
		c.mu.Unlock()
		return
	}
	if target != nil {
		t := *target
		c.target = &t
	} else {
		c.target = nil
	}
	c.mu.Unlock()

	select {
	case c.poke <- struct{}{}:
	default:
	}
}

// Sample computes the current reading.
func (c *Controller) Sample() countdown.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return countdown.Remaining(c.target, c.now())
}

// Run emits a reading on every tick or target change where the displayed
// value differs from the previous one. It returns when ctx is done.
func (c *Controller) Run(ctx context.Context, emit func(countdown.Reading)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.emitIfChanged(emit)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.emitIfChanged(emit)
		case <-c.poke:
			c.emitIfChanged(emit)
		}
	}
}

func (c *Controller) emitIfChanged(emit func(countdown.Reading)) {
	c.mu.Lock()
	r := countdown.Remaining(c.target, c.now())
	changed := !r.Equal(c.last)
	c.last = r
	c.mu.Unlock()
	if changed {
		emit(r)
	}
}

func sameTarget(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
