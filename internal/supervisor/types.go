package supervisor

import (
	"context"
	"time"

	"github.com/dgnsrekt/readaloud/internal/bus"
)

// Status is the snapshot broadcast to observers.
type Status struct {
	IsPlaying         bool   `json:"isPlaying"`
	IsProcessing      bool   `json:"isProcessing"`
	CurrentChunk      int    `json:"currentChunk"`
	TotalChunks       int    `json:"totalChunks"`
	LastError         string `json:"lastError"`
	ProcessingMessage string `json:"processingMessage"`
	SessionID         string `json:"sessionId,omitempty"`
}

// Active reports whether a session is under way.
func (s Status) Active() bool {
	return s.IsPlaying || s.IsProcessing
}

// SettingsSource loads the settings for a new session, with the credential
// already decrypted.
type SettingsSource interface {
	Settings(ctx context.Context) (bus.Settings, error)
}

// SettingsFunc adapts a function to SettingsSource.
type SettingsFunc func(ctx context.Context) (bus.Settings, error)

// Settings implements SettingsSource.
func (f SettingsFunc) Settings(ctx context.Context) (bus.Settings, error) {
	return f(ctx)
}

// Recorder receives lifecycle measurements.
type Recorder interface {
	HostCreated(attempts int)
	HostCreateFailed()
	HeartbeatFailed()
	SessionFinished(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) HostCreated(int)        {}
func (nopRecorder) HostCreateFailed()      {}
func (nopRecorder) HeartbeatFailed()       {}
func (nopRecorder) SessionFinished(string) {}

// Session outcomes passed to Recorder.SessionFinished.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeError     = "error"
)

// Timing holds the supervisor's delays and bounds.
type Timing struct {
	CreateAttempts    int
	CreateBackoff     time.Duration // multiplied by the attempt number
	ExistsBackoff     time.Duration // multiplied by the attempt number
	ReadyTimeout      time.Duration
	RequestTimeout    time.Duration // processText
	StopTimeout       time.Duration
	StopSettle        time.Duration
	CleanupTimeout    time.Duration
	DestroyTimeout    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// DefaultTiming returns production values.
func DefaultTiming() Timing {
	return Timing{
		CreateAttempts:    3,
		CreateBackoff:     500 * time.Millisecond,
		ExistsBackoff:     time.Second,
		ReadyTimeout:      8 * time.Second,
		RequestTimeout:    5 * time.Second,
		StopTimeout:       3 * time.Second,
		StopSettle:        300 * time.Millisecond,
		CleanupTimeout:    300 * time.Millisecond,
		DestroyTimeout:    2 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
	}
}
