// Package supervisor owns the reading session. It keeps exactly one audio
// host alive, hands it text, watches its liveness and broadcasts a status
// snapshot on every transition.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/readaloud/internal/bus"
	"github.com/dgnsrekt/readaloud/internal/host"
	"github.com/dgnsrekt/readaloud/internal/segment"
)

// Processing messages.
const (
	MsgPreparing  = "Preparing audio host..."
	MsgInitEngine = "Initializing TTS engine..."
	MsgConnecting = "Connecting to TTS server..."
	MsgLargeText  = "Processing large text (performance may be affected)..."
)

// Config wires a supervisor to its collaborators.
type Config struct {
	Bus         *bus.Bus
	Environment host.Environment
	Settings    SettingsSource
	Recorder    Recorder
	Logger      *log.Logger
	Timing      Timing

	// CloseOnStop destroys the host after every stop and completion.
	CloseOnStop bool
}

// Supervisor is safe for concurrent use.
type Supervisor struct {
	bus      *bus.Bus
	env      host.Environment
	settings SettingsSource
	recorder Recorder
	logger   *log.Logger
	timing   Timing
	closeOn  bool

	hub    *bus.Hub[Status]
	flight singleflight.Group

	// lifecycle serializes Play, Stop and deferred teardown.
	lifecycle sync.Mutex

	mu           sync.Mutex
	status       Status
	session      string
	lastText     string
	ready        bool
	readyCh      chan struct{}
	cancelCreate context.CancelFunc
	stopMonitor  context.CancelFunc

	// cancelRecover aborts the host recreation that follows a lost heartbeat.
	cancelRecover context.CancelFunc
	recoverSeq    uint64

	ctx        context.Context
	cancel     context.CancelFunc
	unregister func()
	done       chan struct{}
}

// New creates a supervisor. Call Start before Play.
func New(cfg Config) *Supervisor {
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithPrefix("supervisor")
	}
	if cfg.Timing.CreateAttempts == 0 {
		cfg.Timing = DefaultTiming()
	}
	return &Supervisor{
		bus:      cfg.Bus,
		env:      cfg.Environment,
		settings: cfg.Settings,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		timing:   cfg.Timing,
		closeOn:  cfg.CloseOnStop,
		hub:      bus.NewHub[Status](),
		readyCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start registers the supervisor mailbox and begins handling host events.
func (s *Supervisor) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	inbox, unregister := s.bus.Register(bus.TargetSupervisor, 0)
	s.unregister = unregister

	go func() {
		defer close(s.done)
		for {
			select {
			case <-s.ctx.Done():
				return
			case env := <-inbox:
				s.handle(env)
			}
		}
	}()
}

// Close stops playback, tears the host down and releases observers.
func (s *Supervisor) Close(ctx context.Context) error {
	err := s.stop(ctx, true)
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.unregister()
	}
	s.hub.Close()
	return err
}

// Status returns the current snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastText returns the text of the most recent Play call.
func (s *Supervisor) LastText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastText
}

// Subscribe registers a status observer. Observers that fall behind miss
// snapshots; they can always call Status.
func (s *Supervisor) Subscribe(size int) (<-chan Status, func()) {
	return s.hub.Subscribe(size)
}

// Play starts reading text. A session in progress is stopped and its host
// torn down first. Play returns once the host has accepted the text;
// progress is reported through status broadcasts.
func (s *Supervisor) Play(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		s.setError(segment.ErrNoText)
		return segment.ErrNoText
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Status().Active() {
		s.logger.Info("Stopping current session before starting a new one")
		s.stopLocked(ctx, true)
	}

	createCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := uuid.NewString()
	msg := MsgPreparing
	if segment.IsLarge(text) {
		msg = MsgLargeText
	}

	s.mu.Lock()
	s.session = session
	s.lastText = text
	s.cancelCreate = cancel
	s.status = Status{IsProcessing: true, ProcessingMessage: msg, SessionID: session}
	s.mu.Unlock()
	s.broadcast()

	s.logger.Info("Starting session", "session", session, "words", segment.CountWords(text))

	err := s.start(createCtx, session, text)

	s.mu.Lock()
	s.cancelCreate = nil
	current := s.session == session
	s.mu.Unlock()

	if !current {
		if err != nil && createCtx.Err() == nil {
			return err
		}
		return ErrStopped
	}
	if err != nil {
		if createCtx.Err() != nil && ctx.Err() == nil {
			return ErrStopped
		}
		s.fail(session, err)
		return err
	}

	s.startMonitor(session)
	return nil
}

// start brings the host up and hands it the text, recreating the host once
// if the text is not acknowledged.
func (s *Supervisor) start(ctx context.Context, session, text string) error {
	if err := s.ensureHost(ctx); err != nil {
		return err
	}

	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if !s.setProcessing(session, MsgConnecting) {
		return ErrStopped
	}

	err = s.sendText(ctx, session, text, settings)
	if err == nil {
		return nil
	}
	if errors.Is(err, segment.ErrNoText) || ctx.Err() != nil {
		return err
	}

	s.logger.Warn("Host did not accept text, recreating", "err", err)
	s.markNotReady()
	if err := s.ensureHost(ctx); err != nil {
		return err
	}
	if !s.setProcessing(session, MsgInitEngine) {
		return ErrStopped
	}
	return s.sendText(ctx, session, text, settings)
}

func (s *Supervisor) sendText(ctx context.Context, session, text string, settings bus.Settings) error {
	reply, err := s.bus.Request(ctx, bus.TargetHost, bus.ActionProcessText, bus.ProcessText{
		Session:  session,
		Text:     text,
		Settings: settings,
	}, s.timing.RequestTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotAcknowledged, err)
	}
	if !reply.Success {
		if reply.Error == segment.ErrNoText.Error() {
			return segment.ErrNoText
		}
		if reply.Error == host.ErrNotInitialized.Error() {
			return fmt.Errorf("%w: %w", ErrNotAcknowledged, host.ErrNotInitialized)
		}
		return fmt.Errorf("%w: %s", ErrNotAcknowledged, reply.Error)
	}
	return nil
}

// Stop ends the session. It always wins over an in-flight Play: a pending
// host creation is cancelled and the host is left torn down.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.stop(ctx, s.closeOn)
}

func (s *Supervisor) stop(ctx context.Context, teardown bool) error {
	s.mu.Lock()
	if s.cancelCreate != nil {
		s.cancelCreate()
	}
	s.haltRecoveryLocked()
	s.mu.Unlock()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.stopLocked(ctx, teardown)
}

// stopLocked must be called with s.lifecycle held.
func (s *Supervisor) stopLocked(ctx context.Context, teardown bool) error {
	s.mu.Lock()
	wasActive := s.status.Active()
	s.session = ""
	s.status.IsPlaying = false
	s.status.IsProcessing = false
	s.status.ProcessingMessage = ""
	s.status.SessionID = ""
	s.haltMonitorLocked()
	s.haltRecoveryLocked()
	s.mu.Unlock()
	s.broadcast()

	if wasActive {
		s.recorder.SessionFinished(OutcomeStopped)
		s.logger.Info("Playback stopped")
	}

	if s.bus.HasReceiver(bus.TargetHost) {
		if _, err := s.bus.Request(ctx, bus.TargetHost, bus.ActionStopPlayback, nil, s.timing.StopTimeout); err != nil {
			s.logger.Warn("Host did not confirm stop", "err", err)
		}
	}

	if !sleep(ctx, s.timing.StopSettle) {
		return ctx.Err()
	}

	if teardown {
		s.teardown(ctx)
	}
	return nil
}

// teardown releases and destroys the host.
func (s *Supervisor) teardown(ctx context.Context) {
	s.markNotReady()

	if s.bus.HasReceiver(bus.TargetHost) {
		if _, err := s.bus.Request(ctx, bus.TargetHost, bus.ActionCleanup, nil, s.timing.CleanupTimeout); err != nil {
			s.logger.Debug("Host cleanup not confirmed", "err", err)
		}
	}
	s.destroy(ctx)
}

func (s *Supervisor) destroy(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timing.DestroyTimeout)
	defer cancel()
	if err := s.env.DestroyHost(dctx); err != nil && !errors.Is(err, host.ErrNoHost) {
		s.logger.Warn("Failed to destroy host", "err", err)
	}
}

// ensureHost returns once a ready host exists. Concurrent callers share a
// single creation sequence.
func (s *Supervisor) ensureHost(ctx context.Context) error {
	if s.isReady() {
		return nil
	}

	ch := s.flight.DoChan("host", func() (any, error) {
		if s.isReady() {
			return nil, nil
		}
		return nil, s.createHost(ctx)
	})

	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// createHost destroys any stale host, creates a new one and waits for it to
// announce readiness, retrying with linear backoff.
func (s *Supervisor) createHost(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= s.timing.CreateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Destroy first so a late hostReady from the old host cannot
		// satisfy the new wait.
		s.destroy(ctx)
		readyCh := s.markNotReady()

		err := s.env.CreateHost(ctx)
		if err == nil {
			select {
			case <-readyCh:
				if ctx.Err() != nil {
					s.destroy(ctx)
					return ctx.Err()
				}
				s.logger.Debug("Host ready", "attempt", attempt)
				s.recorder.HostCreated(attempt)
				return nil
			case <-time.After(s.timing.ReadyTimeout):
				err = errors.New("timed out waiting for host to become ready")
			case <-ctx.Done():
				s.destroy(ctx)
				return ctx.Err()
			}
		}

		lastErr = err
		s.logger.Warn("Host creation failed", "attempt", attempt, "err", err)

		delay := s.timing.CreateBackoff * time.Duration(attempt)
		if errors.Is(err, host.ErrHostExists) {
			s.destroy(ctx)
			delay = s.timing.ExistsBackoff * time.Duration(attempt)
		}
		if attempt < s.timing.CreateAttempts && !sleep(ctx, delay) {
			return ctx.Err()
		}
	}

	s.destroy(ctx)
	s.recorder.HostCreateFailed()
	return fmt.Errorf("%w: %w", ErrHostUnavailable, lastErr)
}

func (s *Supervisor) isReady() bool {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	return ready && s.env.HasHost()
}

// markNotReady clears readiness and returns the channel the next hostReady
// will close.
func (s *Supervisor) markNotReady() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	select {
	case <-s.readyCh:
		s.readyCh = make(chan struct{})
	default:
	}
	return s.readyCh
}

func (s *Supervisor) handle(env bus.Envelope) {
	if env.Action == bus.ActionHostReady {
		if p, ok := env.Payload.(bus.HostReady); ok && closed(p.Done) {
			env.Respond(bus.Reply{Error: "host is shutting down"})
			return
		}
		s.mu.Lock()
		s.ready = true
		select {
		case <-s.readyCh:
		default:
			close(s.readyCh)
		}
		s.mu.Unlock()
		env.Respond(bus.Reply{Success: true})
		return
	}

	ev, ok := env.Payload.(bus.Event)
	if !ok {
		env.Respond(bus.Reply{Error: "Unknown action: " + env.Action})
		return
	}
	s.onEvent(env.Action, ev)
	env.Respond(bus.Reply{Success: true})
}

// onEvent applies a host event to the session. Events from a session that
// is no longer current are ignored.
func (s *Supervisor) onEvent(action string, ev bus.Event) {
	s.mu.Lock()
	if ev.Session == "" || ev.Session != s.session {
		s.mu.Unlock()
		return
	}

	st := &s.status
	finished := ""

	switch action {
	case bus.ActionPlaybackStarted:
		st.IsPlaying = true
		st.IsProcessing = false
		st.ProcessingMessage = ""
		st.CurrentChunk = ev.CurrentChunk
		st.TotalChunks = ev.TotalChunks

	case bus.ActionChunkUpdate, bus.ActionStatusUpdate, bus.ActionKeepAlive:
		st.CurrentChunk = ev.CurrentChunk
		if ev.TotalChunks > 0 {
			st.TotalChunks = ev.TotalChunks
		}

	case bus.ActionProcessingUpdate:
		st.IsProcessing = true
		st.ProcessingMessage = ev.Message
		if ev.TotalChunks > 0 {
			st.CurrentChunk = ev.CurrentChunk
			st.TotalChunks = ev.TotalChunks
		}

	case bus.ActionPlaybackError:
		err := ev.Cause
		if err == nil {
			err = errors.New(ev.Error)
		}
		s.logger.Error("Playback error", "chunk", ev.ChunkIndex, "fatal", ev.Fatal, "err", err)
		st.LastError = UserMessage(err)
		if ev.Fatal {
			s.endLocked()
			finished = OutcomeError
		}

	case bus.ActionPlaybackEnded:
		st.LastError = ""
		s.endLocked()
		st.CurrentChunk = 0
		st.TotalChunks = 0
		finished = OutcomeCompleted

	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.broadcast()

	if finished != "" {
		s.recorder.SessionFinished(finished)
		s.logger.Info("Session finished", "outcome", finished)
		if s.closeOn {
			go s.teardownIdle()
		}
	}
}

// endLocked resets the session flags. s.mu must be held.
func (s *Supervisor) endLocked() {
	s.session = ""
	s.status.IsPlaying = false
	s.status.IsProcessing = false
	s.status.ProcessingMessage = ""
	s.status.SessionID = ""
	s.haltMonitorLocked()
}

// teardownIdle destroys the host unless a new session has started meanwhile.
func (s *Supervisor) teardownIdle() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	idle := s.session == ""
	s.mu.Unlock()
	if idle {
		s.teardown(s.ctx)
	}
}

// fail ends session with err.
func (s *Supervisor) fail(session string, err error) {
	s.logger.Error("Session failed", "err", err)

	s.mu.Lock()
	if s.session != session {
		s.mu.Unlock()
		return
	}
	s.endLocked()
	s.status.LastError = UserMessage(err)
	s.mu.Unlock()

	s.recorder.SessionFinished(OutcomeError)
	s.broadcast()
}

func (s *Supervisor) setError(err error) {
	s.mu.Lock()
	s.status.LastError = UserMessage(err)
	s.mu.Unlock()
	s.broadcast()
}

// setProcessing updates the processing message if session is still current.
func (s *Supervisor) setProcessing(session, msg string) bool {
	s.mu.Lock()
	if s.session != session {
		s.mu.Unlock()
		return false
	}
	s.status.IsProcessing = true
	s.status.ProcessingMessage = msg
	s.mu.Unlock()
	s.broadcast()
	return true
}

func (s *Supervisor) broadcast() {
	s.hub.Publish(s.Status())
}

// startMonitor checks host liveness while session is current.
func (s *Supervisor) startMonitor(session string) {
	ctx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	if s.session != session {
		s.mu.Unlock()
		cancel()
		return
	}
	s.haltMonitorLocked()
	s.stopMonitor = cancel
	s.mu.Unlock()

	go s.monitor(ctx, session)
}

func (s *Supervisor) haltMonitorLocked() {
	if s.stopMonitor != nil {
		s.stopMonitor()
		s.stopMonitor = nil
	}
}

func (s *Supervisor) monitor(ctx context.Context, session string) {
	ticker := time.NewTicker(s.timing.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		active := s.session == session && s.status.Active()
		s.mu.Unlock()
		if !active {
			return
		}

		reply, err := s.bus.Request(ctx, bus.TargetHost, bus.ActionHeartbeat, nil, s.timing.HeartbeatTimeout)
		if ctx.Err() != nil {
			return
		}
		if err == nil && reply.Alive {
			continue
		}
		if err == nil {
			err = errors.New("negative heartbeat")
		}

		s.hostLost(session, err)
		return
	}
}

// hostLost ends the session in error and brings up a fresh host. Playback
// is not resumed.
func (s *Supervisor) hostLost(session string, cause error) {
	s.logger.Error("Audio host lost", "err", cause)
	s.recorder.HeartbeatFailed()

	s.mu.Lock()
	if s.session != session {
		s.mu.Unlock()
		return
	}
	s.endLocked()
	s.status.LastError = UserMessage(fmt.Errorf("%w: %w", ErrHostLost, cause))
	ctx, cancel := context.WithCancel(s.ctx)
	s.haltRecoveryLocked()
	s.recoverSeq++
	seq := s.recoverSeq
	s.cancelRecover = cancel
	s.mu.Unlock()
	s.recorder.SessionFinished(OutcomeError)
	s.broadcast()

	defer func() {
		s.mu.Lock()
		if s.recoverSeq == seq {
			s.cancelRecover = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	s.markNotReady()
	if err := s.ensureHost(ctx); err != nil {
		if ctx.Err() != nil {
			s.logger.Debug("Host recreation cancelled")
			return
		}
		s.logger.Error("Could not recreate audio host", "err", err)
	}
}

// haltRecoveryLocked cancels a pending recreation. s.mu must be held.
func (s *Supervisor) haltRecoveryLocked() {
	if s.cancelRecover != nil {
		s.cancelRecover()
		s.cancelRecover = nil
	}
}

func closed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
