package download

import (
	"errors"
	"fmt"

	"tubefetch/internal/job"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrBusy             = errors.New("another download is already in progress")
	ErrNotFound         = job.ErrNotFound
	ErrNotReady         = errors.New("job is not ready for download")
	ErrAlreadyDelivered = errors.New("file was already delivered")

	errStreaming = errors.New("artifact is being delivered")
)

// JobFailedError is returned when the artifact of a failed job is requested.
type JobFailedError struct {
	Kind   job.FailureKind
	Detail string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job failed (%s): %s", e.Kind, e.Detail)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// stageError tags a worker failure with the phase it happened in.
type stageError struct {
	kind   job.FailureKind
	detail string
	err    error
}

func (e *stageError) Error() string { return e.detail + ": " + e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func failAt(kind job.FailureKind, detail string, err error) error {
	return &stageError{kind: kind, detail: detail, err: err}
}
