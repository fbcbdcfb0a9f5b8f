package bus

import "github.com/dgnsrekt/readaloud/internal/synth"

// Targets.
const (
	TargetHost       = "host"
	TargetSupervisor = "supervisor"
)

// Supervisor to host actions.
const (
	ActionProcessText  = "processText"
	ActionStopPlayback = "stopPlayback"
	ActionHeartbeat    = "heartbeat"
	ActionCleanup      = "cleanup"
)

// Host to supervisor actions.
const (
	ActionHostReady        = "hostReady"
	ActionChunkUpdate      = "chunkUpdate"
	ActionPlaybackStarted  = "playbackStarted"
	ActionPlaybackEnded    = "playbackEnded"
	ActionPlaybackError    = "playbackError"
	ActionProcessingUpdate = "processingUpdate"
	ActionKeepAlive        = "keepAlive"
	ActionStatusUpdate     = "statusUpdate"
)

// Reply is the answer to a request.
type Reply struct {
	Success bool
	Error   string

	// Set by heartbeat replies.
	Alive        bool
	IsPlaying    bool
	CurrentChunk int
	TotalChunks  int
}

// Settings is what the host needs to synthesize a text.
type Settings struct {
	synth.Options
	ChunkSize int
	CacheSize int
}

// ProcessText is the payload of ActionProcessText.
type ProcessText struct {
	Session  string
	Text     string
	Settings Settings
}

// HostReady is the payload of ActionHostReady. Done is closed once the
// announcing host has been told to exit.
type HostReady struct {
	Done <-chan struct{}
}

// Event is the payload of every host to supervisor notification. Fields not
// meaningful for an action are left zero.
type Event struct {
	Session      string
	Generation   uint64
	IsPlaying    bool
	CurrentChunk int
	TotalChunks  int
	Message      string

	// playbackError only.
	Error      string
	ChunkIndex int // -1 when the error is not tied to a chunk
	Fatal      bool
	Cause      error
}
