package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/listenupapp/livereload/internal/domain"
	domainerrors "github.com/listenupapp/livereload/internal/errors"
	"github.com/listenupapp/livereload/internal/registry"
	"github.com/listenupapp/livereload/internal/scanner"
	"github.com/listenupapp/livereload/internal/validation"
)

// SnapshotLoader restores a persisted watch-set.
type SnapshotLoader interface {
	Load(ctx context.Context) bool
	InstallationID() string
	Backend() string
}

// ScanStats reports scan engine state.
type ScanStats interface {
	Stats() scanner.Stats
}

// SubscriberCounter reports connected stream clients.
type SubscriberCounter interface {
	SubscriberCount() int
}

// RegisterRequest is the body of an out-of-process registration.
type RegisterRequest struct {
	Category           string  `json:"category,omitempty" validate:"omitempty,max=32"`
	RelativePath       string  `json:"relative_path" validate:"required,max=4096"`
	AbsolutePath       string  `json:"absolute_path" validate:"required,abspath,max=4096"`
	MTime              *float64 `json:"mtime,omitempty" validate:"omitempty,gte=0"`
	RequiresFullReload bool    `json:"requires_full_reload,omitempty"`
}

// RegisterResult reports what a registration did.
type RegisterResult struct {
	Registered bool            `json:"registered"`
	Category   domain.Category `json:"category,omitempty"`
	Entry      *domain.Entry   `json:"entry,omitempty"`
}

// WatchStats summarises the live-reload server.
type WatchStats struct {
	Files          int                     `json:"files"`
	Categories     map[domain.Category]int `json:"categories"`
	Subscribers    int                     `json:"subscribers"`
	Initialized    bool                    `json:"initialized"`
	Backend        string                  `json:"backend,omitempty"`
	InstallationID string                  `json:"installation_id,omitempty"`
	Scanner        scanner.Stats           `json:"scanner"`
}

// WatchService is the mutation surface for the watch-set. Collaborators that
// render pages register the files they serve; registering the same file
// repeatedly is cheap.
type WatchService struct {
	registry    *registry.Registry
	loader      SnapshotLoader
	scan        ScanStats
	subscribers SubscriberCounter
	validator   *validation.Validator
	logger      *slog.Logger

	initOnce    sync.Once
	initialized atomic.Bool
}

// NewWatchService creates a watch service. loader, scan and subscribers may be nil.
func NewWatchService(reg *registry.Registry, loader SnapshotLoader, scan ScanStats, subscribers SubscriberCounter, logger *slog.Logger) *WatchService {
	return &WatchService{
		registry:    reg,
		loader:      loader,
		scan:        scan,
		subscribers: subscribers,
		validator:   validation.New(),
		logger:      logger,
	}
}

// Init restores the persisted watch-set. It does its work on the first call
// only and reports true then; every later call returns false.
func (s *WatchService) Init(ctx context.Context) bool {
	ran := false
	s.initOnce.Do(func() {
		ran = true
		restored := false
		if s.loader != nil {
			restored = s.loader.Load(ctx)
		}
		s.initialized.Store(true)
		s.logger.Info("watch service initialized",
			slog.Bool("restored", restored),
			slog.Int("files", s.registry.Len()))
	})
	return ran
}

// Initialized reports whether Init has run.
func (s *WatchService) Initialized() bool {
	return s.initialized.Load()
}

// Register tracks a file. An empty category is inferred from the path; a
// category that is unknown or cannot be inferred is ignored and reported as
// false. The zero time.Time (not the Unix epoch) means the mtime is unknown:
// the file is stat'ed now, and a stat failure is an unprocessable error.
func (s *WatchService) Register(category domain.Category, relativePath, absolutePath string, mtime time.Time, requiresFullReload bool) (bool, error) {
	if category == "" {
		c, ok := classify(relativePath, absolutePath)
		if !ok {
			s.logger.Debug("ignoring unclassified file", slog.String("path", absolutePath))
			return false, nil
		}
		category = c
	}

	ok, err := s.registry.Register(category, relativePath, absolutePath, mtime, requiresFullReload)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, domainerrors.Wrapf(err, domainerrors.CodeUnprocessable, "file does not exist: %s", absolutePath)
		}
		return false, domainerrors.Wrapf(err, domainerrors.CodeUnprocessable, "cannot stat %s", absolutePath)
	}
	if !ok {
		s.logger.Debug("ignoring unknown category",
			slog.String("category", string(category)),
			slog.String("path", absolutePath))
	}
	return ok, nil
}

// Submit validates and applies an out-of-process registration.
func (s *WatchService) Submit(_ context.Context, req RegisterRequest) (RegisterResult, error) {
	req.Category = strings.TrimSpace(req.Category)
	if err := s.validator.Validate(req); err != nil {
		return RegisterResult{}, err
	}

	var category domain.Category
	if req.Category != "" {
		c, ok := domain.ParseCategory(req.Category)
		if !ok {
			return RegisterResult{}, nil
		}
		category = c
	}

	ok, err := s.Register(category, req.RelativePath, req.AbsolutePath, requestMTime(req.MTime), req.RequiresFullReload)
	if err != nil || !ok {
		return RegisterResult{}, err
	}

	if category == "" {
		category, _ = classify(req.RelativePath, req.AbsolutePath)
	}
	result := RegisterResult{Registered: true, Category: category}
	if e, found := s.registry.Get(category, req.AbsolutePath); found {
		result.Entry = &e
	}
	return result, nil
}

// Remove stops tracking a file.
func (s *WatchService) Remove(category domain.Category, absolutePath string) bool {
	return s.registry.Remove(category, absolutePath)
}

// Snapshot returns a copy of the watch-set in iteration order.
func (s *WatchService) Snapshot() domain.Snapshot {
	return s.registry.Snapshot()
}

// Stats summarises the watch-set, scan engine and subscribers.
func (s *WatchService) Stats() WatchStats {
	snap := s.registry.Snapshot()
	out := WatchStats{
		Files:       snap.Len(),
		Categories:  snap.Counts(),
		Initialized: s.Initialized(),
	}
	if s.subscribers != nil {
		out.Subscribers = s.subscribers.SubscriberCount()
	}
	if s.scan != nil {
		out.Scanner = s.scan.Stats()
	}
	if s.loader != nil {
		out.Backend = s.loader.Backend()
		out.InstallationID = s.loader.InstallationID()
	}
	return out
}

func classify(relativePath, absolutePath string) (domain.Category, bool) {
	if c, ok := domain.Classify(absolutePath); ok {
		return c, true
	}
	return domain.Classify(relativePath)
}

// requestMTime maps an omitted mtime to the zero time and anything supplied,
// including 0, to that instant.
func requestMTime(f *float64) time.Time {
	if f == nil {
		return time.Time{}
	}
	if *f == 0 {
		return time.Unix(0, 0)
	}
	return domain.FromUnixSeconds(*f)
}
