package plugin

import (
	"errors"
	"fmt"
)

// ErrLoadTimeout is wrapped by LoadError when a plugin does not finish
// loading or self-testing within the configured timeout.
var ErrLoadTimeout = errors.New("plugin load timed out")

// LoadError reports why a single plugin was not loaded. It never aborts the
// loading of other plugins.
type LoadError struct {
	Plugin string
	Key    string // missing required manifest key, if that was the cause
	Err    error
}

func (e *LoadError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("plugin %s: missing required key %q", e.Plugin, e.Key)
	}
	return fmt.Sprintf("plugin %s: %v", e.Plugin, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
