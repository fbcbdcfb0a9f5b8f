// Package host implements the audio host: an actor that turns a text into a
// sequence of synthesized chunks and plays them back to back. All session
// state is owned by the goroutine running Run; fetches, playback and timers
// report back to it as events.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/bus"
	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/segment"
)

const (
	msgSplitting = "Splitting text into manageable chunks..."
	msgNoText    = "No text provided"
)

// Config wires a host to its collaborators.
type Config struct {
	Bus         *bus.Bus
	Synthesizer Synthesizer
	Renderer    audio.Renderer
	Recorder    Recorder
	Logger      *log.Logger
	Timing      Timing
}

// Host is the audio host actor.
type Host struct {
	bus      *bus.Bus
	synth    Synthesizer
	renderer audio.Renderer
	recorder Recorder
	logger   *log.Logger
	timing   Timing

	ctx    context.Context
	events chan any

	// Everything below is owned by the Run goroutine.
	ready      bool
	state      State
	generation uint64
	session    string
	settings   bus.Settings
	chunks     []string
	current    int
	playing    bool
	cache      *cache.LRU

	inflight    int // chunk with a primary fetch outstanding, -1 if none
	prefetching int // chunk with a prefetch outstanding, -1 if none
	waiting     int // chunk whose playback waits on the outstanding prefetch
	attempts    map[int]int

	stopRender context.CancelFunc
	keepAlive  *time.Ticker
}

// New creates a host. It does nothing until Run is called.
func New(cfg Config) *Host {
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithPrefix("host")
	}
	if cfg.Timing.RetryDelays == nil {
		cfg.Timing = DefaultTiming()
	}
	return &Host{
		bus:         cfg.Bus,
		synth:       cfg.Synthesizer,
		renderer:    cfg.Renderer,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		timing:      cfg.Timing,
		events:      make(chan any, 32),
		cache:       cache.New(cache.DefaultCapacity),
		inflight:    -1,
		prefetching: -1,
		waiting:     -1,
		attempts:    make(map[int]int),
	}
}

// Run registers the host on the bus and processes messages until ctx is
// done. The renderer is initialized first; on success hostReady is announced
// until the supervisor acknowledges it.
func (h *Host) Run(ctx context.Context) error {
	h.ctx = ctx
	inbox, unregister := h.bus.Register(bus.TargetHost, 0)
	defer unregister()

	if err := h.renderer.Init(); err != nil {
		h.logger.Error("Failed to initialize audio", "err", err)
	} else {
		h.ready = true
		go h.announce(ctx)
	}

	defer h.shutdown()

	for {
		var tick <-chan time.Time
		if h.keepAlive != nil {
			tick = h.keepAlive.C
		}

		select {
		case <-ctx.Done():
			return nil
		case env := <-inbox:
			h.handle(env)
		case ev := <-h.events:
			h.dispatch(ev)
		case <-tick:
			h.notify(bus.ActionKeepAlive, h.snapshot())
		}
	}
}

// announce sends hostReady until it is acknowledged.
func (h *Host) announce(ctx context.Context) {
	for {
		r, err := h.bus.Request(ctx, bus.TargetSupervisor, bus.ActionHostReady, bus.HostReady{Done: ctx.Done()}, h.timing.ReadyRetry)
		if err == nil && r.Success {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(h.timing.ReadyRetry):
		}
	}
}

func (h *Host) shutdown() {
	h.halt()
	if err := h.renderer.Close(); err != nil {
		h.logger.Warn("Failed to close renderer", "err", err)
	}
	h.cache.Clear()
	h.logger.Debug("Host stopped")
}

func (h *Host) handle(env bus.Envelope) {
	switch env.Action {
	case bus.ActionProcessText:
		p, _ := env.Payload.(bus.ProcessText)
		if err := h.processText(p); err != nil {
			env.Respond(bus.Reply{Error: err.Error()})
			return
		}
		env.Respond(bus.Reply{Success: true})
		h.playChunk(0)

	case bus.ActionStopPlayback:
		h.stop()
		env.Respond(bus.Reply{Success: true})

	case bus.ActionCleanup:
		h.stop()
		if err := h.renderer.Close(); err != nil {
			h.logger.Warn("Failed to close renderer", "err", err)
		}
		h.ready = false
		h.cache.Clear()
		env.Respond(bus.Reply{Success: true})

	case bus.ActionHeartbeat:
		env.Respond(bus.Reply{
			Success:      true,
			Alive:        true,
			IsPlaying:    h.playing,
			CurrentChunk: h.current,
			TotalChunks:  len(h.chunks),
		})

	default:
		env.Respond(bus.Reply{Error: "Unknown action: " + env.Action})
	}
}

// processText starts a new session. Playback begins once the caller has
// been answered.
func (h *Host) processText(p bus.ProcessText) error {
	if !h.ready {
		return ErrNotInitialized
	}
	if strings.TrimSpace(p.Text) == "" {
		return errors.New(msgNoText)
	}

	h.halt()
	h.setState(StateInitializing)
	h.session = p.Session
	h.settings = p.Settings
	if p.Settings.CacheSize > 0 && p.Settings.CacheSize != h.cache.Capacity() {
		h.cache = cache.New(p.Settings.CacheSize)
	} else {
		h.cache.Clear()
	}

	h.notify(bus.ActionProcessingUpdate, bus.Event{Message: msgSplitting})
	chunks := segment.Split(p.Text, p.Settings.ChunkSize)
	if len(chunks) == 0 {
		h.setState(StateError)
		h.notify(bus.ActionPlaybackError, bus.Event{Error: segment.ErrNoText.Error(), ChunkIndex: -1, Fatal: true, Cause: segment.ErrNoText})
		return segment.ErrNoText
	}

	h.chunks = chunks
	h.current = 0
	h.playing = true
	h.setState(StatePlaying)
	h.keepAlive = time.NewTicker(h.timing.KeepAlive)

	h.logger.Info("Processing text", "chunks", len(chunks), "chars", len(p.Text))
	return nil
}

// playChunk makes chunk i current and plays it from cache or fetches it.
func (h *Host) playChunk(i int) {
	if !h.playing {
		return
	}
	if i < 0 || i >= len(h.chunks) {
		h.complete()
		return
	}

	h.current = i
	h.notify(bus.ActionStatusUpdate, h.snapshot())

	if data, ok := h.cache.Get(i); ok {
		h.recorder.CacheLookup(true)
		h.logger.Debug("Playing cached chunk", "chunk", i)
		h.render(i, data)
		return
	}
	h.recorder.CacheLookup(false)

	h.notify(bus.ActionProcessingUpdate, bus.Event{
		Message:      fmt.Sprintf("Generating audio for chunk %d of %d...", i+1, len(h.chunks)),
		CurrentChunk: i,
		TotalChunks:  len(h.chunks),
	})

	if h.prefetching == i {
		h.waiting = i
		return
	}
	if h.inflight == i {
		return
	}
	h.fetch(i, false)
}

type fetchDone struct {
	gen      uint64
	index    int
	prefetch bool
	audio    []byte
	err      error
	took     time.Duration
}

type playDone struct {
	gen   uint64
	index int
	err   error
}

type timerKind int

const (
	timerRetry timerKind = iota
	timerPlay
	timerPrefetch
)

type timerFired struct {
	gen   uint64
	kind  timerKind
	index int
}

// fetch requests chunk i in the background.
func (h *Host) fetch(i int, prefetch bool) {
	if prefetch {
		h.prefetching = i
	} else {
		h.inflight = i
	}

	gen := h.generation
	text := h.chunks[i]
	opts := h.settings.Options

	go func() {
		start := time.Now()
		data, err := h.synth.Synthesize(h.ctx, opts, text)
		h.post(fetchDone{gen: gen, index: i, prefetch: prefetch, audio: data, err: err, took: time.Since(start)})
	}()
}

// prefetch fetches chunk i ahead of time if it is valid, uncached and no
// other prefetch is running.
func (h *Host) prefetch(i int) {
	if !h.playing || i < 0 || i >= len(h.chunks) {
		return
	}
	if h.prefetching != -1 || h.inflight == i || h.cache.Contains(i) {
		return
	}
	h.logger.Debug("Prefetching chunk", "chunk", i)
	h.fetch(i, true)
}

func (h *Host) onFetchDone(ev fetchDone) {
	h.recorder.FetchCompleted(ev.prefetch, ev.took, len(ev.audio), ev.err)
	if ev.gen != h.generation {
		return
	}

	if ev.prefetch {
		h.prefetching = -1
		waited := h.waiting == ev.index
		if waited {
			h.waiting = -1
		}

		if ev.err != nil {
			h.logger.Warn("Prefetch failed", "chunk", ev.index, "err", ev.err)
			if waited && h.playing && h.current == ev.index {
				h.fetch(ev.index, false)
			}
			return
		}

		h.cache.Put(ev.index, ev.audio)
		h.logger.Debug("Prefetched chunk", "chunk", ev.index, "size", humanize.Bytes(uint64(len(ev.audio))))
		if waited && h.playing && h.current == ev.index {
			h.render(ev.index, ev.audio)
		}
		return
	}

	h.inflight = -1
	if ev.err != nil {
		h.chunkFailed(ev.index, ev.err)
		return
	}

	delete(h.attempts, ev.index)
	h.cache.Put(ev.index, ev.audio)
	h.logger.Debug("Fetched chunk", "chunk", ev.index, "size", humanize.Bytes(uint64(len(ev.audio))), "took", ev.took)
	if h.playing && h.current == ev.index {
		h.render(ev.index, ev.audio)
	}
}

// chunkFailed schedules a retry of chunk i or gives up on it.
func (h *Host) chunkFailed(i int, err error) {
	h.attempts[i]++
	n := h.attempts[i]

	if n <= len(h.timing.RetryDelays) {
		delay := h.timing.RetryDelays[n-1]
		h.logger.Warn("Chunk fetch failed, retrying", "chunk", i, "attempt", n, "delay", delay, "err", err)
		h.recorder.ChunkRetried()
		h.after(delay, timerRetry, i)
		return
	}

	delete(h.attempts, i)
	h.skip(i, &ChunkError{Index: i, Attempts: n, Cause: err})
}

// skip moves past chunk i after a non-recoverable failure, or ends the
// session in error when i is the last chunk.
func (h *Host) skip(i int, err error) {
	h.recorder.ChunkSkipped()

	if i+1 < len(h.chunks) {
		h.logger.Error("Skipping chunk", "chunk", i, "err", err)
		h.notify(bus.ActionPlaybackError, bus.Event{
			Error:        err.Error(),
			ChunkIndex:   i,
			CurrentChunk: i,
			TotalChunks:  len(h.chunks),
			IsPlaying:    true,
			Cause:        err,
		})
		h.after(h.timing.SkipDelay, timerPlay, i+1)
		return
	}

	h.logger.Error("Last chunk failed", "chunk", i, "err", err)
	h.halt()
	h.setState(StateError)
	h.notify(bus.ActionPlaybackError, bus.Event{
		Error:        err.Error(),
		ChunkIndex:   i,
		CurrentChunk: i,
		TotalChunks:  len(h.chunks),
		Fatal:        true,
		Cause:        err,
	})
}

// render plays chunk i in the background.
func (h *Host) render(i int, data []byte) {
	if h.stopRender != nil {
		h.stopRender()
	}
	ctx, cancel := context.WithCancel(h.ctx)
	h.stopRender = cancel

	h.notify(bus.ActionPlaybackStarted, bus.Event{IsPlaying: true, CurrentChunk: i, TotalChunks: len(h.chunks)})
	h.after(h.timing.PrefetchDelay, timerPrefetch, i+1)

	gen := h.generation
	go func() {
		err := h.renderer.Play(ctx, data)
		h.post(playDone{gen: gen, index: i, err: err})
	}()
}

func (h *Host) onPlayDone(ev playDone) {
	if ev.gen != h.generation || !h.playing || ev.index != h.current {
		return
	}
	if h.stopRender != nil {
		h.stopRender()
		h.stopRender = nil
	}

	if ev.err != nil {
		if errors.Is(ev.err, audio.ErrInterrupted) {
			return
		}
		h.skip(ev.index, &ChunkError{Index: ev.index, Attempts: 1, Cause: ev.err})
		return
	}

	h.notify(bus.ActionChunkUpdate, bus.Event{IsPlaying: true, CurrentChunk: ev.index, TotalChunks: len(h.chunks)})

	if ev.index == len(h.chunks)-1 {
		h.complete()
		return
	}

	h.current = ev.index + 1
	h.prefetch(ev.index + 2)
	h.after(h.timing.NextChunkDelay, timerPlay, ev.index+1)
}

func (h *Host) onTimer(ev timerFired) {
	if ev.gen != h.generation || !h.playing {
		return
	}
	switch ev.kind {
	case timerRetry:
		if h.current == ev.index && h.inflight == -1 {
			h.fetch(ev.index, false)
		}
	case timerPlay:
		if h.current <= ev.index {
			h.playChunk(ev.index)
		}
	case timerPrefetch:
		h.prefetch(ev.index)
	}
}

func (h *Host) complete() {
	total := len(h.chunks)
	h.halt()
	h.setState(StateCompleted)
	h.logger.Info("Playback completed", "chunks", total)
	h.notify(bus.ActionPlaybackEnded, bus.Event{CurrentChunk: total - 1, TotalChunks: total})
}

// stop halts playback but keeps the cache.
func (h *Host) stop() {
	wasActive := h.playing
	h.halt()
	if wasActive {
		h.setState(StateStopped)
	}
	h.notify(bus.ActionStatusUpdate, h.snapshot())
}

// halt invalidates all outstanding work and silences the renderer.
func (h *Host) halt() {
	h.generation++
	h.playing = false
	h.inflight = -1
	h.prefetching = -1
	h.waiting = -1
	h.attempts = make(map[int]int)

	if h.stopRender != nil {
		h.stopRender()
		h.stopRender = nil
	}
	h.renderer.Stop()

	if h.keepAlive != nil {
		h.keepAlive.Stop()
		h.keepAlive = nil
	}
}

func (h *Host) dispatch(ev any) {
	switch ev := ev.(type) {
	case fetchDone:
		h.onFetchDone(ev)
	case playDone:
		h.onPlayDone(ev)
	case timerFired:
		h.onTimer(ev)
	}
}

// post hands an event to the Run goroutine.
func (h *Host) post(ev any) {
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
	}
}

func (h *Host) after(d time.Duration, kind timerKind, index int) {
	gen := h.generation
	time.AfterFunc(d, func() {
		h.post(timerFired{gen: gen, kind: kind, index: index})
	})
}

func (h *Host) snapshot() bus.Event {
	return bus.Event{
		Generation:   h.generation,
		IsPlaying:    h.playing,
		CurrentChunk: h.current,
		TotalChunks:  len(h.chunks),
		ChunkIndex:   -1,
	}
}

// notify sends an event to the supervisor without stalling the actor for
// longer than NotifyTimeout.
func (h *Host) notify(action string, ev bus.Event) {
	ev.Session = h.session
	ev.Generation = h.generation
	ctx, cancel := context.WithTimeout(h.ctx, h.timing.NotifyTimeout)
	defer cancel()
	if err := h.bus.Notify(ctx, bus.TargetSupervisor, action, ev); err != nil {
		h.logger.Debug("Dropped event", "action", action, "err", err)
	}
}

func (h *Host) setState(s State) {
	if h.state != s {
		h.logger.Debug("State changed", "from", h.state, "to", s)
	}
	h.state = s
}
