package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process; every Player shares it.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

const pollInterval = 10 * time.Millisecond

// PlayerConfig contains configuration for the audio player.
type PlayerConfig struct {
	SampleRate int // 44100 or 48000 Hz only
	BufferSize time.Duration
}

// DefaultPlayerConfig returns the default player configuration.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate: 44100,
		BufferSize: 100 * time.Millisecond,
	}
}

// Player is the Renderer backed by the system audio device.
type Player struct {
	config PlayerConfig
	logger *log.Logger

	mu      sync.Mutex
	ready   bool
	closed  bool
	current *oto.Player
	stop    chan struct{}
}

// NewPlayer creates a player. The device is acquired by Init.
func NewPlayer(config PlayerConfig) (*Player, error) {
	if config.SampleRate != 44100 && config.SampleRate != 48000 {
		return nil, fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", config.SampleRate)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultPlayerConfig().BufferSize
	}
	return &Player{config: config, logger: log.WithPrefix("audio")}, nil
}

// Init acquires the shared oto context.
func (p *Player) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   p.config.SampleRate,
			ChannelCount: 2,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   p.config.BufferSize,
		})
		if otoErr == nil {
			<-ready
		}
	})
	if otoErr != nil {
		return fmt.Errorf("failed to create oto context: %w", otoErr)
	}

	p.ready = true
	return nil
}

// Play decodes audio and blocks until the clip has drained.
func (p *Player) Play(ctx context.Context, audio []byte) error {
	pcm, err := Decode(audio, p.config.SampleRate)
	if err != nil {
		return err
	}

	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return ErrClosed
	case !p.ready:
		p.mu.Unlock()
		return ErrNotInitialized
	}
	p.haltLocked()

	player := otoCtx.NewPlayer(bytes.NewReader(pcm))
	stop := make(chan struct{})
	p.current = player
	p.stop = stop
	p.mu.Unlock()

	player.Play()
	p.logger.Debug("Playing clip", "pcm_bytes", len(pcm))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return ErrInterrupted
		case <-stop:
			return ErrInterrupted
		case <-ticker.C:
			if !player.IsPlaying() {
				p.mu.Lock()
				if p.current != player {
					p.mu.Unlock()
					return ErrInterrupted
				}
				p.current = nil
				p.stop = nil
				p.mu.Unlock()
				return player.Close()
			}
		}
	}
}

// Stop halts the current clip.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
}

// haltLocked must be called with p.mu held.
func (p *Player) haltLocked() {
	if p.current != nil {
		p.current.Pause()
		_ = p.current.Close()
		p.current = nil
	}
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

// Close stops playback and marks the player unusable. The process-wide oto
// context stays alive for the next player.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
	p.closed = true
	p.ready = false
	return nil
}
