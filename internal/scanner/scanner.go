// Package scanner polls the watch-set for modified and deleted files.
//
// One Scanner runs per process. Each pass stats every registered file,
// emits an event per change, and then sleeps for an interval chosen from how
// long the pass took, how many files there are, and the power state.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/listenupapp/livereload/internal/domain"
	"github.com/listenupapp/livereload/internal/metrics"
	"github.com/listenupapp/livereload/internal/power"
)

// Registry is the watch-set surface the scanner needs.
type Registry interface {
	Snapshot() domain.Snapshot
	Advance(category domain.Category, absolutePath string, mtime time.Time) bool
	Forget(category domain.Category, absolutePath string, seen time.Time) bool
}

// Emitter receives scanner events.
type Emitter interface {
	Emit(domain.Event)
}

// Snapshotter persists the watch-set.
type Snapshotter interface {
	Save(ctx context.Context) bool
}

// Options configures a Scanner. Zero values fall back to defaults.
type Options struct {
	QuickInterval time.Duration
	SlowInterval  time.Duration
	PingEvery     int

	Power       power.Source
	Snapshotter Snapshotter
	Metrics     *metrics.Metrics

	// Test hooks.
	Now  func() time.Time
	Stat func(string) (os.FileInfo, error)
}

func (o *Options) setDefaults() {
	if o.QuickInterval <= 0 {
		o.QuickInterval = 350 * time.Millisecond
	}
	if o.SlowInterval <= 0 {
		o.SlowInterval = time.Second
	}
	if o.PingEvery <= 0 {
		o.PingEvery = 20
	}
	if o.Power == nil {
		o.Power = power.None{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Stat == nil {
		o.Stat = os.Stat
	}
}

// Reason explains why an interval was chosen.
type Reason string

const (
	ReasonQuick        Reason = "quick"
	ReasonBattery      Reason = "battery"
	ReasonSlowScan     Reason = "slow_scan"
	ReasonIdle         Reason = "idle"
	ReasonPathological Reason = "pathological"
)

// Pass is the outcome of one scan over the watch-set.
type Pass struct {
	StartedAt time.Time
	Duration  time.Duration
	Files     int
	Counts    map[domain.Category]int
	Events    []domain.Event
}

// Stats is a point-in-time view of scanner activity.
type Stats struct {
	Running      bool          `json:"running"`
	Passes       uint64        `json:"passes"`
	Files        int           `json:"files"`
	LastScanAt   time.Time     `json:"last_scan_at"`
	LastDuration time.Duration `json:"last_duration_ns"`
	Interval     time.Duration `json:"interval_ns"`
	Reason       Reason        `json:"reason"`
	Changed      uint64        `json:"changed"`
	Deleted      uint64        `json:"deleted"`
	Pings        uint64        `json:"pings"`
	LowBattery   bool          `json:"low_battery"`
	PowerSource  string        `json:"power_source"`
}

// Scanner is the adaptive polling engine.
type Scanner struct {
	registry Registry
	emitter  Emitter
	logger   *slog.Logger
	opts     Options

	mu    sync.RWMutex
	stats Stats
}

// New creates a Scanner.
func New(reg Registry, emitter Emitter, logger *slog.Logger, opts Options) *Scanner {
	opts.setDefaults()
	return &Scanner{
		registry: reg,
		emitter:  emitter,
		logger:   logger,
		opts:     opts,
		stats:    Stats{PowerSource: opts.Power.Name()},
	}
}

// Scan performs one pass and emits its events in registry order.
// A missing file produces a deleted event and is dropped from the registry.
// A file whose modification time moved forward produces a changed event.
// Any other stat failure is logged and the entry is kept.
func (s *Scanner) Scan(ctx context.Context) Pass {
	started := s.opts.Now()
	snap := s.registry.Snapshot()
	pass := Pass{StartedAt: started, Files: snap.Len(), Counts: make(map[domain.Category]int, len(snap.Categories))}

	for _, cat := range snap.Categories {
		pass.Counts[cat.Name] = len(cat.Entries)
		for _, e := range cat.Entries {
			if ctx.Err() != nil {
				pass.Duration = s.opts.Now().Sub(started)
				return pass
			}
			if ev, ok := s.check(cat.Name, e, started); ok {
				pass.Events = append(pass.Events, ev)
				s.emitter.Emit(ev)
				s.apply(ev)
				s.opts.Metrics.IncEvent(string(ev.Kind))
			}
		}
	}

	pass.Duration = s.opts.Now().Sub(started)

	counts := make(map[string]int, len(pass.Counts))
	for c, n := range pass.Counts {
		counts[string(c)] = n
	}
	s.opts.Metrics.ObserveScan(pass.Duration, counts)
	return pass
}

// apply records an emitted event in the registry. A deleted entry is only
// forgotten if nobody re-registered it with a newer mtime meanwhile.
func (s *Scanner) apply(ev domain.Event) {
	switch ev.Kind {
	case domain.EventDeleted:
		s.registry.Forget(ev.Category, ev.Entry.AbsolutePath, ev.OldMTime)
	case domain.EventChanged:
		s.registry.Advance(ev.Category, ev.Entry.AbsolutePath, ev.NewMTime)
	}
}

func (s *Scanner) check(category domain.Category, e domain.Entry, started time.Time) (domain.Event, bool) {
	info, err := s.opts.Stat(e.AbsolutePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Debug("file deleted", "category", category, "path", e.RelativePath)
		return domain.Event{
			Kind:      domain.EventDeleted,
			Category:  category,
			OldMTime:  e.MTime,
			Entry:     e,
			ScannedAt: started,
		}, true
	case err != nil:
		s.logger.Warn("stat failed, keeping entry", "path", e.AbsolutePath, "error", err)
		return domain.Event{}, false
	}

	mtime := info.ModTime()
	if !mtime.After(e.MTime) {
		return domain.Event{}, false
	}

	updated := e
	updated.MTime = mtime
	s.logger.Debug("file changed", "category", category, "path", e.RelativePath, "old", e.MTime, "new", mtime)
	return domain.Event{
		Kind:      domain.EventChanged,
		Category:  category,
		OldMTime:  e.MTime,
		NewMTime:  mtime,
		Entry:     updated,
		ScannedAt: started,
	}, true
}

// NextInterval picks the sleep after a pass.
//
// A pass that takes at least the slow interval is pathological: the scanner
// stays at the slow interval rather than stopping. A pass slower than the
// quick interval, or an empty watch-set, also selects the slow interval.
// Otherwise the quick interval is used, doubled while the battery is low.
func (s *Scanner) NextInterval(p Pass, lowBattery bool) (time.Duration, Reason) {
	switch {
	case p.Duration >= s.opts.SlowInterval:
		return s.opts.SlowInterval, ReasonPathological
	case p.Duration >= s.opts.QuickInterval:
		return s.opts.SlowInterval, ReasonSlowScan
	case p.Files == 0:
		return s.opts.SlowInterval, ReasonIdle
	case lowBattery:
		return 2 * s.opts.QuickInterval, ReasonBattery
	default:
		return s.opts.QuickInterval, ReasonQuick
	}
}

// Run scans until ctx is cancelled. Every PingEvery passes it emits a ping
// and, unless the battery is low, asks the snapshotter to save.
func (s *Scanner) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	s.logger.Info("scanner started",
		"quick_interval", s.opts.QuickInterval,
		"slow_interval", s.opts.SlowInterval,
		"ping_every", s.opts.PingEvery,
		"power_source", s.opts.Power.Name(),
	)

	timer := time.NewTimer(s.opts.SlowInterval)
	defer timer.Stop()

	var passes uint64
	for {
		pass := s.Scan(ctx)
		if ctx.Err() != nil {
			s.logger.Info("scanner stopped", "passes", passes)
			return nil
		}
		passes++

		low := s.opts.Power.State(ctx).Low()
		interval, reason := s.NextInterval(pass, low)
		if reason == ReasonPathological {
			s.logger.Warn("scan pass exceeded the slow interval",
				"duration", pass.Duration,
				"files", pass.Files,
				"interval", interval,
			)
		}
		s.record(pass, passes, interval, reason, low)

		if passes%uint64(s.opts.PingEvery) == 0 {
			s.ping(ctx, pass, passes, interval, low)
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped", "passes", passes)
			return nil
		case <-timer.C:
		}
	}
}

func (s *Scanner) ping(ctx context.Context, pass Pass, passes uint64, interval time.Duration, low bool) {
	s.emitter.Emit(domain.Event{
		Kind:      domain.EventPing,
		ScannedAt: pass.StartedAt,
		Passes:    passes,
		Interval:  interval,
	})
	s.opts.Metrics.IncEvent(string(domain.EventPing))
	s.mu.Lock()
	s.stats.Pings++
	s.mu.Unlock()

	s.logger.Debug("keep-alive ping", "passes", passes, "interval", interval, "files", pass.Files)

	if s.opts.Snapshotter == nil {
		return
	}
	if low {
		s.logger.Debug("skipping snapshot on low battery")
		return
	}
	s.opts.Snapshotter.Save(ctx)
}

func (s *Scanner) record(p Pass, passes uint64, interval time.Duration, reason Reason, low bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Passes = passes
	s.stats.Files = p.Files
	s.stats.LastScanAt = p.StartedAt
	s.stats.LastDuration = p.Duration
	s.stats.Interval = interval
	s.stats.Reason = reason
	s.stats.LowBattery = low
	for _, ev := range p.Events {
		switch ev.Kind {
		case domain.EventChanged:
			s.stats.Changed++
		case domain.EventDeleted:
			s.stats.Deleted++
		}
	}
}

func (s *Scanner) setRunning(running bool) {
	s.mu.Lock()
	s.stats.Running = running
	s.mu.Unlock()
}

// Stats returns a copy of the current statistics.
func (s *Scanner) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
