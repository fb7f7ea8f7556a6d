package job

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned by Store.Update when a mutator moves a job
// along an edge the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid job transition")

func newErrTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
