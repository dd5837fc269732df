// Package power reports whether the machine is running on a low battery.
// The scanner uses it to slow down and skip snapshots; an unknown state never
// throttles anything.
package power

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LowThreshold is the charge percentage at or below which a discharging battery counts as low.
const LowThreshold = 50.0

// State is one battery reading.
type State struct {
	Known     bool
	OnBattery bool
	Percent   float64
}

// Low reports whether the machine is discharging at or below LowThreshold.
func (s State) Low() bool {
	return s.Known && s.OnBattery && s.Percent <= LowThreshold
}

// Source reads the current power state. Implementations return an unknown
// State rather than an error when the state cannot be determined.
type Source interface {
	Name() string
	State(ctx context.Context) State
}

// None is a Source that never knows anything.
type None struct{}

// Name implements Source.
func (None) Name() string { return "none" }

// State implements Source.
func (None) State(context.Context) State { return State{} }

// Cached wraps a Source and re-reads it at most once per ttl.
type Cached struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	last    State
	readAt  time.Time
	hasRead bool
}

// NewCached creates a caching Source.
func NewCached(src Source, ttl time.Duration) *Cached {
	return &Cached{src: src, ttl: ttl, now: time.Now}
}

// Name implements Source.
func (c *Cached) Name() string { return c.src.Name() }

// State implements Source.
func (c *Cached) State(ctx context.Context) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasRead && c.now().Sub(c.readAt) < c.ttl {
		return c.last
	}
	c.last = c.src.State(ctx)
	c.readAt = c.now()
	c.hasRead = true
	return c.last
}

// Detect picks a source by name. "auto" prefers sysfs when a battery is
// visible there, then UPower, then None.
func Detect(ctx context.Context, kind string, logger *slog.Logger) Source {
	switch kind {
	case "none":
		return None{}
	case "sysfs":
		return NewSysfs(DefaultSysfsRoot)
	case "upower":
		up, err := DialUPower()
		if err != nil {
			logger.Warn("UPower unavailable, power state unknown", "error", err)
			return None{}
		}
		return up
	}

	sys := NewSysfs(DefaultSysfsRoot)
	if sys.HasBattery() {
		return sys
	}
	if up, err := DialUPower(); err == nil {
		if up.State(ctx).Known {
			return up
		}
		_ = up.Close()
	}
	logger.Debug("no battery information found")
	return None{}
}
