// Package domain holds the core types of the livereload server.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Category groups watched files by how a client reacts to them.
type Category string

// The closed set of categories. Registry iteration follows this order.
const (
	CategoryStylesheet Category = "stylesheet"
	CategoryMarkup     Category = "markup"
	CategoryScript     Category = "script"
	CategoryImage      Category = "image"
	CategoryFont       Category = "font"
	CategorySource     Category = "source"
	CategoryDocument   Category = "document"
)

var categoryOrder = []Category{
	CategoryStylesheet,
	CategoryMarkup,
	CategoryScript,
	CategoryImage,
	CategoryFont,
	CategorySource,
	CategoryDocument,
}

// Categories returns every category in iteration order.
func Categories() []Category {
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// Index returns the position of c in iteration order, or -1 if c is not a known category.
func (c Category) Index() int {
	for i, known := range categoryOrder {
		if known == c {
			return i
		}
	}
	return -1
}

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool {
	return c.Index() >= 0
}

// ParseCategory normalizes s and reports whether it names a known category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

var extensionCategories = map[string]Category{
	".css":      CategoryStylesheet,
	".html":     CategoryMarkup,
	".htm":      CategoryMarkup,
	".xhtml":    CategoryMarkup,
	".js":       CategoryScript,
	".mjs":      CategoryScript,
	".png":      CategoryImage,
	".jpg":      CategoryImage,
	".jpeg":     CategoryImage,
	".svg":      CategoryImage,
	".webp":     CategoryImage,
	".gif":      CategoryImage,
	".ttf":      CategoryFont,
	".woff":     CategoryFont,
	".woff2":    CategoryFont,
	".py":       CategorySource,
	".go":       CategorySource,
	".ts":       CategorySource,
	".tsx":      CategorySource,
	".md":       CategoryDocument,
	".markdown": CategoryDocument,
	".mdown":    CategoryDocument,
	".mkdn":     CategoryDocument,
	".mkd":      CategoryDocument,
	".mdwn":     CategoryDocument,
	".mdtxt":    CategoryDocument,
	".mdtext":   CategoryDocument,
}

// Classify infers a category from a file path. The extension table is consulted
// first, then the registered MIME type.
func Classify(p string) (Category, bool) {
	ext := strings.ToLower(filepath.Ext(p))
	if ext == "" {
		return "", false
	}
	if c, ok := extensionCategories[ext]; ok {
		return c, true
	}

	mediaType, _, err := mime.ParseMediaType(mime.TypeByExtension(ext))
	if err != nil {
		return "", false
	}
	switch {
	case mediaType == "text/css":
		return CategoryStylesheet, true
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return CategoryMarkup, true
	case mediaType == "text/javascript", mediaType == "application/javascript":
		return CategoryScript, true
	case strings.HasPrefix(mediaType, "image/"):
		return CategoryImage, true
	case strings.HasPrefix(mediaType, "font/"):
		return CategoryFont, true
	case mediaType == "text/markdown":
		return CategoryDocument, true
	}
	return "", false
}

// Entry is one watched file.
type Entry struct {
	Category           Category
	RelativePath       string
	AbsolutePath       string
	Filename           string
	MTime              time.Time
	RequiresFullReload bool
}

// NewEntry builds an entry, deriving Filename from the relative path.
func NewEntry(category Category, relativePath, absolutePath string, mtime time.Time, requiresFullReload bool) Entry {
	return Entry{
		Category:           category,
		RelativePath:       relativePath,
		AbsolutePath:       absolutePath,
		Filename:           path.Base(filepath.ToSlash(relativePath)),
		MTime:              mtime,
		RequiresFullReload: requiresFullReload,
	}
}

type entryJSON struct {
	Category           Category `json:"category"`
	RelativePath       string   `json:"relative_path"`
	AbsolutePath       string   `json:"absolute_path"`
	Filename           string   `json:"filename"`
	MTime              float64  `json:"mtime"`
	MTimeNanos         int64    `json:"mtime_ns"`
	MTimeISO           string   `json:"mtime_iso"`
	RequiresFullReload bool     `json:"requires_full_reload"`
}

// MarshalJSON encodes the modification time as float seconds plus an ISO
// timestamp. mtime_ns keeps the exact value for persistence.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		Category:           e.Category,
		RelativePath:       e.RelativePath,
		AbsolutePath:       e.AbsolutePath,
		Filename:           e.Filename,
		MTime:              UnixSeconds(e.MTime),
		MTimeNanos:         e.MTime.UnixNano(),
		MTimeISO:           e.MTime.UTC().Format(time.RFC3339Nano),
		RequiresFullReload: e.RequiresFullReload,
	})
}

// UnmarshalJSON prefers mtime_ns and falls back to float seconds.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.AbsolutePath == "" {
		return fmt.Errorf("entry without absolute_path")
	}
	mtime := FromUnixSeconds(raw.MTime)
	if raw.MTimeNanos != 0 {
		mtime = time.Unix(0, raw.MTimeNanos)
	}
	*e = NewEntry(raw.Category, raw.RelativePath, raw.AbsolutePath, mtime, raw.RequiresFullReload)
	if raw.Filename != "" {
		e.Filename = raw.Filename
	}
	return nil
}

// UnixSeconds converts t to fractional seconds since the epoch. The zero time maps to 0.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnixSeconds converts fractional epoch seconds to a time. Zero, negative and
// non-finite values map to the zero time.
func FromUnixSeconds(f float64) time.Time {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second))))
}
