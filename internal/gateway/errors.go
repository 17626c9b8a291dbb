package gateway

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by errors.Is for any gateway error reporting a
// missing resource.
var ErrNotFound = errors.New("resource not found")

// Error describes a failed gateway call.
type Error struct {
	Op       string
	Status   int
	NotFound bool
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.NotFound:
		return fmt.Sprintf("%s: not found", e.Op)
	case e.Status > 0:
		return fmt.Sprintf("%s: http status %d: %v", e.Op, e.Status, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match not-found responses.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.NotFound
}

// IsNotFound reports whether err is a not-found gateway failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
