// Package tail reads the data appended to a log source since a stored cursor.
package tail

import (
	"context"
	"errors"
)

var (
	// ErrSourceUnavailable: the file is missing or the table cannot be reached
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrOverflow: the pending delta exceeds the per-cycle load ceiling
	ErrOverflow = errors.New("overflow limit exceeded")
	// ErrQuery: the table query failed
	ErrQuery = errors.New("query failure")
)

// Kind distinguishes file and table sources
type Kind string

const (
	KindFile  Kind = "file"
	KindTable Kind = "table"
)

// Result is what one source contributes to a poll cycle.
//
// Lines may be non-empty even when Err is set: unavailable files and overflows
// surface as a single explanatory line. Cursor is the position to persist.
type Result struct {
	Lines  []string
	Cursor int64
	Err    error
}

// Source is a pollable origin of log text bound to its reader
type Source interface {
	ID() string
	Kind() Kind
	Read(ctx context.Context, cursor int64) Result
}
