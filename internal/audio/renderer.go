package audio

import (
	"context"
	"errors"
)

var (
	// ErrInterrupted is returned by Play when playback was halted by Stop or
	// context cancellation before the clip finished.
	ErrInterrupted = errors.New("playback interrupted")

	// ErrClosed is returned when the renderer has been closed.
	ErrClosed = errors.New("renderer is closed")

	// ErrNotInitialized is returned when Play is called before Init.
	ErrNotInitialized = errors.New("renderer is not initialized")

	// ErrEmptyAudio is returned for zero-length input.
	ErrEmptyAudio = errors.New("audio data is empty")
)

// Renderer decodes and plays one clip at a time.
type Renderer interface {
	// Init acquires the output device.
	Init() error
	// Play decodes audio and blocks until it has finished playing, Stop was
	// called, or ctx is done.
	Play(ctx context.Context, audio []byte) error
	// Stop halts the current clip, if any.
	Stop()
	// Close releases the renderer. It is safe to call more than once.
	Close() error
}
