package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/listenupapp/livereload/internal/domain"
	"github.com/listenupapp/livereload/internal/metrics"
)

// Source is the registry surface the persister needs.
type Source interface {
	Snapshot() domain.Snapshot
	Replace(domain.Snapshot) int
}

// Persister saves and restores the watch-set through a Backend.
type Persister struct {
	backend        Backend
	source         Source
	installationID string
	logger         *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

// Option configures a Persister.
type Option func(*Persister)

// WithClock overrides the time source used for saved_at and the age check.
func WithClock(now func() time.Time) Option {
	return func(p *Persister) { p.now = now }
}

// WithMetrics records load and save outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Persister) { p.metrics = m }
}

// NewPersister creates a persister for one installation.
func NewPersister(backend Backend, source Source, installationID string, logger *slog.Logger, opts ...Option) *Persister {
	p := &Persister{
		backend:        backend,
		source:         source,
		installationID: installationID,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InstallationID returns the key snapshots are stored under.
func (p *Persister) InstallationID() string {
	return p.installationID
}

// Backend returns the backend name.
func (p *Persister) Backend() string {
	return p.backend.Name()
}

// Load restores the last snapshot into the registry. It returns false when
// there is nothing usable: no snapshot, a stale one, a corrupt one, or one
// written by another schema version. None of these are errors to the caller.
func (p *Persister) Load(ctx context.Context) bool {
	snap, err := p.Read(ctx)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrNoSnapshot) || errors.Is(err, ErrStale) {
			level = slog.LevelInfo
		}
		p.logger.Log(ctx, level, "snapshot not restored",
			"backend", p.backend.Name(),
			"installation_id", p.installationID,
			"reason", err.Error(),
		)
		p.metrics.IncSnapshot("load", false)
		return false
	}

	n := p.source.Replace(snap)
	p.logger.Info("snapshot restored",
		"backend", p.backend.Name(),
		"files", n,
	)
	p.metrics.IncSnapshot("load", true)
	return true
}

// Read fetches, decodes and age-checks the stored snapshot without touching
// the registry.
func (p *Persister) Read(ctx context.Context) (domain.Snapshot, error) {
	rec, err := p.backend.Read(ctx, p.installationID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	env, err := Decode(rec.Payload)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if env.InstallationID != p.installationID {
		return domain.Snapshot{}, fmt.Errorf("%w: installation id %q", ErrCorrupt, env.InstallationID)
	}

	written := env.SavedAt
	if !rec.ModTime.IsZero() && rec.ModTime.Before(written) {
		written = rec.ModTime
	}
	if age := p.now().Sub(written); age > StaleAfter {
		return domain.Snapshot{}, fmt.Errorf("%w: saved %s ago", ErrStale, age.Round(time.Second))
	}

	return env.Snapshot(), nil
}

// Save writes the current registry contents. Failures are logged and
// reported as false; they are never retried here.
func (p *Persister) Save(ctx context.Context) bool {
	snap := p.source.Snapshot()
	savedAt := p.now()

	payload, err := Encode(p.installationID, savedAt, snap)
	if err == nil {
		err = p.backend.Write(ctx, Record{
			InstallationID: p.installationID,
			SchemaVersion:  SchemaVersion,
			SavedAt:        savedAt,
			Payload:        payload,
		})
	}
	if err != nil {
		p.logger.Warn("snapshot save failed",
			"backend", p.backend.Name(),
			"error", err,
		)
		p.metrics.IncSnapshot("save", false)
		return false
	}

	p.logger.Debug("snapshot saved",
		"backend", p.backend.Name(),
		"files", snap.Len(),
		"bytes", len(payload),
	)
	p.metrics.IncSnapshot("save", true)
	return true
}

// Close releases the backend.
func (p *Persister) Close() error {
	return p.backend.Close()
}
