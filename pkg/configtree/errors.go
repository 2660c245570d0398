package configtree

import (
	"errors"
	"fmt"
)

// ErrStale is returned by Store.Commit when the store was written after the
// tree was staged.
var ErrStale = errors.New("config changed since it was staged")

// LoadError reports a persisted configuration that could not be read or decoded.
// The store falls back to the schema defaults when it occurs.
type LoadError struct {
	Path string
	Err  error
	// Decode is set when the file was read but its contents could not be parsed.
	Decode bool
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("config load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// WriteError reports a failed write-back. The in-memory tree stays published.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("config write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
