// Package cursor persists per-source read positions between poll cycles.
package cursor

import (
	"context"
	"errors"
	"maps"
)

// ErrCorrupt marks persisted cursor state that could not be decoded. Stores
// log it and fall back to an empty map instead of returning it.
var ErrCorrupt = errors.New("cursor state corrupt")

// Cursors maps a source identifier (file path or host:database key) to its
// read position: a byte offset for files, the last delivered row id for tables.
type Cursors map[string]int64

// Get returns the cursor for id, 0 when unknown. Never negative.
func (c Cursors) Get(id string) int64 {
	if v := c[id]; v > 0 {
		return v
	}
	return 0
}

// Set stores the cursor for id, clamping negative values to 0.
func (c Cursors) Set(id string, value int64) {
	if value < 0 {
		value = 0
	}
	c[id] = value
}

// Clone returns an independent copy
func (c Cursors) Clone() Cursors {
	out := make(Cursors, len(c))
	maps.Copy(out, c)
	return out
}

// Store loads and saves the complete cursor map.
//
// Load returns an empty map when there is no prior state or the state is
// unreadable. Save replaces the whole persisted state; a subsequent Load never
// observes a partially written map.
type Store interface {
	Load(ctx context.Context) (Cursors, error)
	Save(ctx context.Context, cursors Cursors) error
}

func sanitize(raw map[string]int64) Cursors {
	out := make(Cursors, len(raw))
	for id, v := range raw {
		out.Set(id, v)
	}
	return out
}
