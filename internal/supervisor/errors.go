package supervisor

import (
	"errors"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/host"
	"github.com/dgnsrekt/readaloud/internal/segment"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

var (
	// ErrHostUnavailable means the audio host could not be brought up.
	ErrHostUnavailable = errors.New("audio host unavailable")

	// ErrHostLost means the audio host stopped answering heartbeats.
	ErrHostLost = errors.New("audio host stopped responding")

	// ErrRuntimeTooOld is returned by environments that lack a required capability.
	ErrRuntimeTooOld = errors.New("audio runtime too old")

	// ErrStopped means a play request was overtaken by a stop.
	ErrStopped = errors.New("playback stopped")

	// ErrNotAcknowledged means the host did not accept the text.
	ErrNotAcknowledged = errors.New("audio host did not accept the text")
)

// User-facing messages.
const (
	MsgNetwork       = "Could not connect to the TTS server. Please check your server settings and connection."
	MsgServer        = "The TTS server reported an error. Please check your server settings."
	MsgInitFailed    = "Could not initialize audio playback. Please try again."
	MsgPlaybackIssue = "There was an issue with the audio playback. Please try again."
	MsgRuntimeTooOld = "This feature requires a newer audio runtime. Please update."
	MsgNoText        = "There is no text to read."
	MsgGeneric       = "An error occurred. Please try again."
)

// UserMessage maps an error to one of the fixed user-facing messages. Raw
// details are for logs only.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var chunkErr *host.ChunkError
	switch {
	case errors.Is(err, ErrRuntimeTooOld):
		return MsgRuntimeTooOld
	case synth.IsNetwork(err):
		return MsgNetwork
	case synth.IsRejected(err):
		return MsgServer
	case errors.Is(err, segment.ErrNoText):
		return MsgNoText
	case errors.Is(err, ErrHostUnavailable),
		errors.Is(err, host.ErrNotInitialized),
		errors.Is(err, ErrNotAcknowledged):
		return MsgInitFailed
	case errors.Is(err, ErrHostLost),
		errors.Is(err, audio.ErrEmptyAudio),
		errors.As(err, &chunkErr):
		return MsgPlaybackIssue
	default:
		return MsgGeneric
	}
}
