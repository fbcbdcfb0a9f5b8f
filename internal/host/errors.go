package host

import (
	"errors"
	"fmt"
)

var (
	// ErrHostExists is returned by CreateHost when a host is already running.
	ErrHostExists = errors.New("audio host already exists")

	// ErrCreationInProgress is returned by CreateHost during a concurrent creation.
	ErrCreationInProgress = errors.New("audio host creation already in progress")

	// ErrNoHost is returned by DestroyHost when there is nothing to destroy.
	ErrNoHost = errors.New("no audio host to destroy")

	// ErrNotInitialized is the reply to processText before the renderer is ready.
	ErrNotInitialized = errors.New("audio engine not initialized")
)

// ChunkError reports that a chunk could not be fetched or rendered.
type ChunkError struct {
	Index    int
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ChunkError) Unwrap() error {
	return e.Cause
}
