// Package registry holds the in-memory watch-set: every file the scanner polls,
// grouped by category.
package registry

import (
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/listenupapp/livereload/internal/domain"
)

type bucket struct {
	order   []string
	entries map[string]domain.Entry
}

func (b *bucket) put(e domain.Entry) {
	if _, ok := b.entries[e.AbsolutePath]; !ok {
		b.order = append(b.order, e.AbsolutePath)
	}
	b.entries[e.AbsolutePath] = e
}

func (b *bucket) delete(absolutePath string) bool {
	if _, ok := b.entries[absolutePath]; !ok {
		return false
	}
	delete(b.entries, absolutePath)
	b.order = slices.DeleteFunc(b.order, func(p string) bool { return p == absolutePath })
	return true
}

// Registry is safe for concurrent use. One lock guards all categories; readers
// copy what they need and release it before doing I/O.
type Registry struct {
	mu      sync.RWMutex
	buckets map[domain.Category]*bucket
	stat    func(string) (os.FileInfo, error)
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{stat: os.Stat}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.buckets = make(map[domain.Category]*bucket, len(domain.Categories()))
	for _, c := range domain.Categories() {
		r.buckets[c] = &bucket{entries: make(map[string]domain.Entry)}
	}
}

// Register adds or replaces the entry for absolutePath within category.
//
// The zero time.Time means "stat the file now"; the Unix epoch is a real mtime
// and is stored as given. A stat failure is returned wrapped so
// callers can test it with errors.Is(err, os.ErrNotExist). An unknown category
// is ignored and reported as false with no error.
func (r *Registry) Register(category domain.Category, relativePath, absolutePath string, mtime time.Time, requiresFullReload bool) (bool, error) {
	if !category.Valid() {
		return false, nil
	}
	if mtime.IsZero() {
		info, err := r.stat(absolutePath)
		if err != nil {
			return false, fmt.Errorf("stat %s: %w", absolutePath, err)
		}
		mtime = info.ModTime()
	}

	e := domain.NewEntry(category, relativePath, absolutePath, mtime, requiresFullReload)

	r.mu.Lock()
	r.buckets[category].put(e)
	r.mu.Unlock()
	return true, nil
}

// Remove deletes an entry. Removing an unknown entry is a no-op.
func (r *Registry) Remove(category domain.Category, absolutePath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[category]
	if !ok {
		return false
	}
	return b.delete(absolutePath)
}

// Get returns the entry for absolutePath within category.
func (r *Registry) Get(category domain.Category, absolutePath string) (domain.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buckets[category]
	if !ok {
		return domain.Entry{}, false
	}
	e, ok := b.entries[absolutePath]
	return e, ok
}

// Advance raises the stored modification time to mtime. It never lowers it and
// reports whether the entry changed.
func (r *Registry) Advance(category domain.Category, absolutePath string, mtime time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[category]
	if !ok {
		return false
	}
	e, ok := b.entries[absolutePath]
	if !ok || !mtime.After(e.MTime) {
		return false
	}
	e.MTime = mtime
	b.entries[absolutePath] = e
	return true
}

// Forget removes an entry the scanner found missing. seen is the modification
// time the scanner held for it; if the entry was re-registered with a newer
// time since, it is kept.
func (r *Registry) Forget(category domain.Category, absolutePath string, seen time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[category]
	if !ok {
		return false
	}
	e, ok := b.entries[absolutePath]
	if !ok || e.MTime.After(seen) {
		return false
	}
	return b.delete(absolutePath)
}

// Snapshot returns a deep copy of the registry in iteration order.
func (r *Registry) Snapshot() domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cats := domain.Categories()
	s := domain.Snapshot{Categories: make([]domain.CategorySnapshot, 0, len(cats))}
	for _, c := range cats {
		b := r.buckets[c]
		entries := make([]domain.Entry, 0, len(b.order))
		for _, p := range b.order {
			entries = append(entries, b.entries[p])
		}
		s.Categories = append(s.Categories, domain.CategorySnapshot{Name: c, Entries: entries})
	}
	return s
}

// Replace discards the current contents and loads s. Entries with unknown
// categories are skipped. It returns the number of entries loaded.
func (r *Registry) Replace(s domain.Snapshot) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reset()
	n := 0
	for _, cs := range s.Categories {
		b, ok := r.buckets[cs.Name]
		if !ok {
			continue
		}
		for _, e := range cs.Entries {
			if e.AbsolutePath == "" {
				continue
			}
			e.Category = cs.Name
			b.put(e)
			n++
		}
	}
	return n
}

// Len returns the number of entries across all categories.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.buckets {
		n += len(b.order)
	}
	return n
}

// Categories returns the categories holding at least one entry, in iteration order.
func (r *Registry) Categories() []domain.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Category
	for _, c := range domain.Categories() {
		if len(r.buckets[c].order) > 0 {
			out = append(out, c)
		}
	}
	return out
}
