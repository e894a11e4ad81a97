package docstore

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionFailed indicates a Commit was rejected because a guarded path already exists.
	ErrPreconditionFailed = errors.New("docstore precondition failed")

	// ErrInvalidPath indicates a path that the store cannot address.
	ErrInvalidPath = errors.New("invalid document path")

	// ErrEmptyBatch indicates a Commit without writes or deletes.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrContention indicates a Commit gave up because guarded paths kept changing
	// concurrently. Nothing was written and no precondition was found violated.
	ErrContention = errors.New("docstore contention")
)

// PreconditionFailedError names the guarded path that was found to exist at commit time.
// It matches ErrPreconditionFailed with errors.Is.
type PreconditionFailedError struct {
	Path Path
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("%s: %s exists", ErrPreconditionFailed, e.Path)
}

func (e *PreconditionFailedError) Is(target error) bool {
	return target == ErrPreconditionFailed
}
