package fetchcache

import (
	"errors"
	"fmt"
)

var (
	ErrNilFetch = errors.New("fetchcache: fetch func is required")
)

// ClearError reports the storage keys a prefix clear could not delete.
type ClearError struct {
	Prefix string
	Keys   []string
	Errs   []error
}

func (e *ClearError) Error() string {
	switch {
	case len(e.Keys) == 0 && len(e.Errs) == 1:
		return fmt.Sprintf("clear %q: %v", e.Prefix, e.Errs[0])
	case len(e.Keys) == 0:
		return fmt.Sprintf("clear %q failed: %v", e.Prefix, errors.Join(e.Errs...))
	default:
		return fmt.Sprintf("clear %q: %d of the matched keys could not be deleted: %v",
			e.Prefix, len(e.Keys), errors.Join(e.Errs...))
	}
}

func (e *ClearError) Unwrap() []error { return e.Errs }
