package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/livereload/internal/domain"
)

func writeFile(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	return p
}

func TestRegister_StatsWhenMTimeMissing(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "css/site.css", time.Unix(100, 0))
	r := New()

	ok, err := r.Register(domain.CategoryStylesheet, "css/site.css", p, time.Time{}, false)
	require.NoError(t, err)
	assert.True(t, ok)

	e, found := r.Get(domain.CategoryStylesheet, p)
	require.True(t, found)
	assert.True(t, e.MTime.Equal(time.Unix(100, 0)))
	assert.Equal(t, "site.css", e.Filename)
}

func TestRegister_StatErrorPropagates(t *testing.T) {
	r := New()

	ok, err := r.Register(domain.CategoryScript, "missing.js", "/nonexistent/missing.js", time.Time{}, false)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, 0, r.Len())
}

func TestRegister_UnknownCategoryIgnored(t *testing.T) {
	r := New()

	ok, err := r.Register(domain.Category("video"), "a.mp4", "/a.mp4", time.Unix(1, 0), false)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegister_UpsertIdempotent(t *testing.T) {
	r := New()

	for range 3 {
		ok, err := r.Register(domain.CategoryStylesheet, "a.css", "/a.css", time.Unix(100, 0), false)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, r.Len())

	// Same key, new metadata: replaced in place.
	_, err := r.Register(domain.CategoryStylesheet, "b/a.css", "/a.css", time.Unix(50, 0), true)
	require.NoError(t, err)

	e, _ := r.Get(domain.CategoryStylesheet, "/a.css")
	assert.Equal(t, "b/a.css", e.RelativePath)
	assert.True(t, e.RequiresFullReload)
	assert.True(t, e.MTime.Equal(time.Unix(50, 0)))
	assert.Equal(t, 1, r.Len())
}

func TestRegister_SamePathDifferentCategories(t *testing.T) {
	r := New()
	_, _ = r.Register(domain.CategoryStylesheet, "x", "/x", time.Unix(1, 0), false)
	_, _ = r.Register(domain.CategoryMarkup, "x", "/x", time.Unix(1, 0), false)
	assert.Equal(t, 2, r.Len())
}

func TestSnapshot_Order(t *testing.T) {
	r := New()
	_, _ = r.Register(domain.CategoryScript, "z.js", "/z.js", time.Unix(1, 0), false)
	_, _ = r.Register(domain.CategoryStylesheet, "b.css", "/b.css", time.Unix(1, 0), false)
	_, _ = r.Register(domain.CategoryStylesheet, "a.css", "/a.css", time.Unix(1, 0), false)
	_, _ = r.Register(domain.CategoryStylesheet, "b.css", "/b.css", time.Unix(2, 0), false)

	s := r.Snapshot()
	require.Len(t, s.Categories, len(domain.Categories()))
	assert.Equal(t, domain.CategoryStylesheet, s.Categories[0].Name)
	assert.Equal(t, domain.CategoryScript, s.Categories[2].Name)

	var paths []string
	for e := range s.All() {
		paths = append(paths, e.AbsolutePath)
	}
	// Upsert keeps the original insertion position.
	assert.Equal(t, []string{"/b.css", "/a.css", "/z.js"}, paths)
}

func TestSnapshot_IsACopy(t *testing.T) {
	r := New()
	_, _ = r.Register(domain.CategoryStylesheet, "a.css", "/a.css", time.Unix(1, 0), false)

	s := r.Snapshot()
	s.Categories[0].Entries[0].MTime = time.Unix(999, 0)

	e, _ := r.Get(domain.CategoryStylesheet, "/a.css")
	assert.True(t, e.MTime.Equal(time.Unix(1, 0)))
}

func TestAdvance_Monotonic(t *testing.T) {
	r := New()
	_, _ = r.Register(domain.CategoryStylesheet, "a.css", "/a.css", time.Unix(100, 0), false)

	assert.True(t, r.Advance(domain.CategoryStylesheet, "/a.css", time.Unix(105, 0)))
	assert.False(t, r.Advance(domain.CategoryStylesheet, "/a.css", time.Unix(103, 0)))
	assert.False(t, r.Advance(domain.CategoryStylesheet, "/a.css", time.Unix(105, 0)))
	assert.False(t, r.Advance(domain.CategoryStylesheet, "/missing.css", time.Unix(200, 0)))

	e, _ := r.Get(domain.CategoryStylesheet, "/a.css")
	assert.True(t, e.MTime.Equal(time.Unix(105, 0)))
}

func TestForget(t *testing.T) {
	r := New()
	_, _ = r.Register(domain.CategoryStylesheet, "a.css", "/a.css", time.Unix(100, 0), false)

	// Re-registered newer after the scan saw it: kept.
	_, _ = r.Register(domain.CategoryStylesheet, "a.css", "/a.css", time.Unix(110, 0), false)
	assert.False(t, r.Forget(domain.CategoryStylesheet, "/a.css", time.Unix(100, 0)))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Forget(domain.CategoryStylesheet, "/a.css", time.Unix(110, 0)))
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Forget(domain.CategoryStylesheet, "/a.css", time.Unix(110, 0)))
}

func TestRemove_Idempotent(t *testing.T) {
	r := New()
	_, _ = r.Register(domain.CategoryFont, "f.woff2", "/f.woff2", time.Unix(1, 0), false)

	assert.True(t, r.Remove(domain.CategoryFont, "/f.woff2"))
	assert.False(t, r.Remove(domain.CategoryFont, "/f.woff2"))
	assert.False(t, r.Remove(domain.Category("nope"), "/f.woff2"))
}

func TestReplace(t *testing.T) {
	r := New()
	_, _ = r.Register(domain.CategoryScript, "old.js", "/old.js", time.Unix(1, 0), false)

	n := r.Replace(domain.Snapshot{Categories: []domain.CategorySnapshot{
		{Name: domain.CategoryStylesheet, Entries: []domain.Entry{
			domain.NewEntry(domain.CategoryStylesheet, "a.css", "/a.css", time.Unix(5, 0), false),
		}},
		{Name: "bogus", Entries: []domain.Entry{
			domain.NewEntry("bogus", "b", "/b", time.Unix(5, 0), false),
		}},
	}})

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, r.Len())
	_, found := r.Get(domain.CategoryScript, "/old.js")
	assert.False(t, found)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := range 8 {
		wg.Go(func() {
			for j := range 100 {
				p := filepath.Join("/w", string(rune('a'+i)), string(rune('a'+j%26)))
				_, _ = r.Register(domain.CategoryMarkup, p, p, time.Unix(int64(j+1), 0), false)
				r.Advance(domain.CategoryMarkup, p, time.Unix(int64(j+2), 0))
				_ = r.Snapshot()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 8*26, r.Len())
}

func TestCategories_OnlyPopulated(t *testing.T) {
	r := New()
	assert.Empty(t, r.Categories())

	_, err := r.Register(domain.CategoryScript, "a.js", "/srv/a.js", time.Unix(1, 0), false)
	require.NoError(t, err)
	_, err = r.Register(domain.CategoryStylesheet, "a.css", "/srv/a.css", time.Unix(1, 0), false)
	require.NoError(t, err)

	assert.Equal(t, []domain.Category{domain.CategoryStylesheet, domain.CategoryScript}, r.Categories())

	r.Remove(domain.CategoryScript, "/srv/a.js")
	assert.Equal(t, []domain.Category{domain.CategoryStylesheet}, r.Categories())
}
