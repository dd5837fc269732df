package domain

import (
	"iter"
	"time"
)

// CategorySnapshot is the ordered entry list for one category.
type CategorySnapshot struct {
	Name    Category `json:"name"`
	Entries []Entry  `json:"entries"`
}

// Snapshot is an immutable copy of the watch-set. Categories appear in
// iteration order and entries in insertion order.
type Snapshot struct {
	Categories []CategorySnapshot `json:"categories"`
}

// Len returns the total number of entries.
func (s Snapshot) Len() int {
	n := 0
	for _, c := range s.Categories {
		n += len(c.Entries)
	}
	return n
}

// Counts returns the number of entries per category.
func (s Snapshot) Counts() map[Category]int {
	out := make(map[Category]int, len(s.Categories))
	for _, c := range s.Categories {
		out[c.Name] = len(c.Entries)
	}
	return out
}

// All yields every entry in iteration order.
func (s Snapshot) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, c := range s.Categories {
			for _, e := range c.Entries {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// ModifiedSince returns entries whose modification time is after since, in iteration order.
func (s Snapshot) ModifiedSince(since time.Time) []Entry {
	var out []Entry
	for e := range s.All() {
		if e.MTime.After(since) {
			out = append(out, e)
		}
	}
	return out
}
