package audio

import (
	"context"
	"sync"
	"time"
)

// MockPlayer is a Renderer that produces no sound. Each clip "plays" for
// Duration. It records what was played and can be told to fail.
type MockPlayer struct {
	// Duration is how long each clip takes to play.
	Duration time.Duration
	// InitErr is returned by Init when set.
	InitErr error
	// PlayErr, when set, is consulted before each clip; a non-nil result
	// fails that clip as a decode error would.
	PlayErr func(audio []byte) error

	mu      sync.Mutex
	ready   bool
	closed  bool
	stop    chan struct{}
	played  [][]byte
	stopped int
}

// NewMockPlayer creates a mock whose clips last d.
func NewMockPlayer(d time.Duration) *MockPlayer {
	return &MockPlayer{Duration: d}
}

// Init marks the mock ready.
func (m *MockPlayer) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InitErr != nil {
		return m.InitErr
	}
	if m.closed {
		return ErrClosed
	}
	m.ready = true
	return nil
}

// Play simulates playback of audio.
func (m *MockPlayer) Play(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return ErrEmptyAudio
	}
	if m.PlayErr != nil {
		if err := m.PlayErr(audio); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if !m.ready {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if m.stop != nil {
		close(m.stop)
	}
	stop := make(chan struct{})
	m.stop = stop
	m.played = append(m.played, audio)
	m.mu.Unlock()

	timer := time.NewTimer(m.Duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		m.mu.Lock()
		if m.stop == stop {
			m.stop = nil
		}
		m.mu.Unlock()
		return nil
	case <-stop:
		return ErrInterrupted
	case <-ctx.Done():
		return ErrInterrupted
	}
}

// Stop interrupts the current clip.
func (m *MockPlayer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Close stops playback and marks the mock closed.
func (m *MockPlayer) Close() error {
	m.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.ready = false
	return nil
}

// Played returns a copy of the clips played so far, in order.
func (m *MockPlayer) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.played))
	copy(out, m.played)
	return out
}

// StopCount returns how many times Stop was called.
func (m *MockPlayer) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Closed reports whether Close was called.
func (m *MockPlayer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
