package host

import (
	"context"
	"time"

	"github.com/dgnsrekt/readaloud/internal/synth"
)

// State is the playback state of a host.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StatePlaying
	StateCompleted
	StateStopped
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitializing:
		return "Initializing"
	case StatePlaying:
		return "Playing"
	case StateCompleted:
		return "Completed"
	case StateStopped:
		return "Stopped"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Synthesizer fetches audio for one chunk of text.
type Synthesizer interface {
	Synthesize(ctx context.Context, opts synth.Options, text string) ([]byte, error)
}

// Recorder receives playback measurements. All methods must be cheap and
// non-blocking.
type Recorder interface {
	FetchCompleted(prefetch bool, d time.Duration, bytes int, err error)
	CacheLookup(hit bool)
	ChunkRetried()
	ChunkSkipped()
}

type nopRecorder struct{}

func (nopRecorder) FetchCompleted(bool, time.Duration, int, error) {}
func (nopRecorder) CacheLookup(bool)                              {}
func (nopRecorder) ChunkRetried()                                 {}
func (nopRecorder) ChunkSkipped()                                 {}

// Timing holds the delays used by the playback loop.
type Timing struct {
	// RetryDelays are the waits before each retry of a failed chunk fetch.
	RetryDelays []time.Duration
	// SkipDelay is the wait before moving past a chunk that could not be played.
	SkipDelay time.Duration
	// NextChunkDelay is the gap between two consecutive chunks.
	NextChunkDelay time.Duration
	// PrefetchDelay is the wait after playback starts before the next chunk is prefetched.
	PrefetchDelay time.Duration
	// KeepAlive is the interval of keepAlive notifications while playing.
	KeepAlive time.Duration
	// ReadyRetry is the interval between hostReady announcements.
	ReadyRetry time.Duration
	// NotifyTimeout bounds how long an event may wait for the supervisor mailbox.
	NotifyTimeout time.Duration
}

// DefaultTiming returns production delays.
func DefaultTiming() Timing {
	return Timing{
		RetryDelays:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		SkipDelay:      time.Second,
		NextChunkDelay: 100 * time.Millisecond,
		PrefetchDelay:  time.Second,
		KeepAlive:      5 * time.Second,
		ReadyRetry:     time.Second,
		NotifyTimeout:  2 * time.Second,
	}
}
