package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/readaloud/internal/bus"
	"github.com/dgnsrekt/readaloud/internal/host"
)

// fakeHost is a scripted audio host living on the bus.
type fakeHost struct {
	bus    *bus.Bus
	reject bool
	silent atomic.Bool

	mu    sync.Mutex
	texts []bus.ProcessText

	cancel context.CancelFunc
	done   chan struct{}
}

func (f *fakeHost) run(ctx context.Context, announce bool) {
	defer close(f.done)
	inbox, unregister := f.bus.Register(bus.TargetHost, 0)
	defer unregister()

	if announce {
		go func() {
			for ctx.Err() == nil {
				r, err := f.bus.Request(ctx, bus.TargetSupervisor, bus.ActionHostReady, bus.HostReady{Done: ctx.Done()}, 50*time.Millisecond)
				if err == nil && r.Success {
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-inbox:
			switch env.Action {
			case bus.ActionProcessText:
				p := env.Payload.(bus.ProcessText)
				f.mu.Lock()
				f.texts = append(f.texts, p)
				f.mu.Unlock()
				if f.reject {
					env.Respond(bus.Reply{Error: "nope"})
					continue
				}
				env.Respond(bus.Reply{Success: true})
				_ = f.bus.Notify(ctx, bus.TargetSupervisor, bus.ActionPlaybackStarted, bus.Event{Session: p.Session, IsPlaying: true, TotalChunks: 3})
			case bus.ActionHeartbeat:
				if f.silent.Load() {
					continue
				}
				env.Respond(bus.Reply{Success: true, Alive: true})
			default:
				env.Respond(bus.Reply{Success: true})
			}
		}
	}
}

func (f *fakeHost) received() []bus.ProcessText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bus.ProcessText(nil), f.texts...)
}

// fakeEnv creates fakeHosts.
type fakeEnv struct {
	bus *bus.Bus

	mu        sync.Mutex
	creates   int
	destroys  int
	createErr error
	noReady   bool
	rejectN   int // the first rejectN hosts reject processText
	running   *fakeHost
	hosts     []*fakeHost
	inCreate  atomic.Int32
	maxCreate atomic.Int32
}

func (e *fakeEnv) CreateHost(ctx context.Context) error {
	n := e.inCreate.Add(1)
	defer e.inCreate.Add(-1)
	if n > e.maxCreate.Load() {
		e.maxCreate.Store(n)
	}
	time.Sleep(2 * time.Millisecond)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.creates++
	if e.createErr != nil {
		return e.createErr
	}
	if e.running != nil {
		return host.ErrHostExists
	}

	hctx, cancel := context.WithCancel(context.Background())
	h := &fakeHost{bus: e.bus, reject: len(e.hosts) < e.rejectN, cancel: cancel, done: make(chan struct{})}
	e.hosts = append(e.hosts, h)
	e.running = h
	go h.run(hctx, !e.noReady)
	return nil
}

func (e *fakeEnv) DestroyHost(ctx context.Context) error {
	e.mu.Lock()
	h := e.running
	e.running = nil
	if h != nil {
		e.destroys++
	}
	e.mu.Unlock()

	if h == nil {
		return host.ErrNoHost
	}
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *fakeEnv) HasHost() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running != nil
}

func (e *fakeEnv) stats() (creates, destroys int, hosts []*fakeHost) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creates, e.destroys, append([]*fakeHost(nil), e.hosts...)
}

func fastTiming() Timing {
	return Timing{
		CreateAttempts:    3,
		CreateBackoff:     5 * time.Millisecond,
		ExistsBackoff:     5 * time.Millisecond,
		ReadyTimeout:      200 * time.Millisecond,
		RequestTimeout:    200 * time.Millisecond,
		StopTimeout:       200 * time.Millisecond,
		StopSettle:        5 * time.Millisecond,
		CleanupTimeout:    50 * time.Millisecond,
		DestroyTimeout:    200 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  50 * time.Millisecond,
	}
}

func testSettings(context.Context) (bus.Settings, error) {
	return bus.Settings{ChunkSize: 100, CacheSize: 10}, nil
}

func newSupervisor(t *testing.T, timing Timing, configure func(*fakeEnv)) (*Supervisor, *fakeEnv) {
	t.Helper()
	b := bus.New()
	env := &fakeEnv{bus: b}
	if configure != nil {
		configure(env)
	}

	s := New(Config{
		Bus:         b,
		Environment: env,
		Settings:    SettingsFunc(testSettings),
		Timing:      timing,
		CloseOnStop: true,
	})
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, env
}

func waitStatus(t *testing.T, s *Supervisor, cond func(Status) bool) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		st = s.Status()
		return cond(st)
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func TestEnsureHost_SingleFlight(t *testing.T) {
	s, env := newSupervisor(t, fastTiming(), nil)

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.ensureHost(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	creates, _, _ := env.stats()
	assert.Equal(t, 1, creates)
	assert.EqualValues(t, 1, env.maxCreate.Load(), "creation must never run concurrently")
}

func TestEnsureHost_AllAttemptsFail(t *testing.T) {
	s, env := newSupervisor(t, fastTiming(), func(e *fakeEnv) {
		e.createErr = errors.New("boom")
	})

	err := s.Play(context.Background(), "Hello world.")
	require.ErrorIs(t, err, ErrHostUnavailable)

	creates, _, _ := env.stats()
	assert.Equal(t, 3, creates)

	st := s.Status()
	assert.False(t, st.Active())
	assert.Equal(t, MsgInitFailed, st.LastError)

	// the guard must not stay set after failure
	env.mu.Lock()
	env.createErr = nil
	env.mu.Unlock()
	require.NoError(t, s.ensureHost(context.Background()))
}

func TestEnsureHost_ReadyTimeout(t *testing.T) {
	timing := fastTiming()
	timing.ReadyTimeout = 20 * time.Millisecond

	s, env := newSupervisor(t, timing, func(e *fakeEnv) {
		e.noReady = true
	})

	err := s.ensureHost(context.Background())
	require.ErrorIs(t, err, ErrHostUnavailable)
	creates, _, _ := env.stats()
	assert.Equal(t, 3, creates)
	assert.False(t, env.HasHost())
}

func TestPlay_SendsText(t *testing.T) {
	s, env := newSupervisor(t, fastTiming(), nil)

	require.NoError(t, s.Play(context.Background(), "Hello world. This is a test."))

	st := waitStatus(t, s, func(st Status) bool { return st.IsPlaying })
	assert.False(t, st.IsProcessing)
	assert.Equal(t, 3, st.TotalChunks)
	assert.Empty(t, st.LastError)
	assert.NotEmpty(t, st.SessionID)

	_, _, hosts := env.stats()
	require.Len(t, hosts, 1)
	got := hosts[0].received()
	require.Len(t, got, 1)
	assert.Equal(t, "Hello world. This is a test.", got[0].Text)
	assert.Equal(t, st.SessionID, got[0].Session)
	assert.Equal(t, "Hello world. This is a test.", s.LastText())
}

func TestPlay_EmptyText(t *testing.T) {
	s, env := newSupervisor(t, fastTiming(), nil)

	err := s.Play(context.Background(), "  \n ")
	assert.Error(t, err)
	assert.Equal(t, MsgNoText, s.Status().LastError)
	creates, _, _ := env.stats()
	assert.Zero(t, creates)
}

func TestPlay_WhilePlayingRestartsHost(t *testing.T) {
	s, env := newSupervisor(t, fastTiming(), nil)

	require.NoError(t, s.Play(context.Background(), "first text"))
	waitStatus(t, s, func(st Status) bool { return st.IsPlaying })

	require.NoError(t, s.Play(context.Background(), "second text"))
	waitStatus(t, s, func(st Status) bool { return st.IsPlaying })

	creates, destroys, hosts := env.stats()
	assert.Equal(t, 2, creates)
	assert.GreaterOrEqual(t, destroys, 1)
	require.Len(t, hosts, 2)

	first, second := hosts[0].received(), hosts[1].received()
	require.Len(t, first, 1)
	assert.Equal(t, "first text", first[0].Text)
	require.Len(t, second, 1)
	assert.Equal(t, "second text", second[0].Text)
}

func TestPlay_NotAcknowledgedRecreatesOnce(t *testing.T) {
	s, env := newSupervisor(t, fastTiming(), func(e *fakeEnv) {
		e.rejectN = 1
	})

	require.NoError(t, s.Play(context.Background(), "Hello."))

	creates, _, hosts := env.stats()
	assert.Equal(t, 2, creates)
	require.Len(t, hosts, 2)
	assert.Len(t, hosts[0].received(), 1)
	assert.Len(t, hosts[1].received(), 1)
}

func TestPlay_NotAcknowledgedTwiceFails(t *testing.T) {
	s, _ := newSupervisor(t, fastTiming(), func(e *fakeEnv) {
		e.rejectN = 2
	})

	err := s.Play(context.Background(), "Hello.")
	require.ErrorIs(t, err, ErrNotAcknowledged)
	st := s.Status()
	assert.False(t, st.Active())
	assert.Equal(t, MsgInitFailed, st.LastError)
}

func TestStop_Twice(t *testing.T) {
	s, env := newSupervisor(t, fastTiming(), nil)

	require.NoError(t, s.Play(context.Background(), "Hello."))
	waitStatus(t, s, func(st Status) bool { return st.IsPlaying })

	require.NoError(t, s.Stop(context.Background()))
	first := s.Status()
	require.NoError(t, s.Stop(context.Background()))
	second := s.Status()

	assert.False(t, first.Active())
	assert.Equal(t, first, second)
	assert.False(t, env.HasHost(), "host is torn down after stop")
}

func TestStop_WinsOverCreation(t *testing.T) {
	timing := fastTiming()
	timing.ReadyTimeout = 2 * time.Second

	s, env := newSupervisor(t, timing, func(e *fakeEnv) {
		e.noReady = true
	})

	result := make(chan error, 1)
	go func() { result <- s.Play(context.Background(), "Hello.") }()

	require.Eventually(t, func() bool {
		creates, _, _ := env.stats()
		return creates >= 1
	}, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("Play did not return after Stop")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, env.HasHost())
	assert.False(t, s.Status().Active())
}

func TestStop_WinsOverHostRecreation(t *testing.T) {
	timing := fastTiming()
	timing.HeartbeatInterval = 20 * time.Millisecond
	timing.ReadyTimeout = 100 * time.Millisecond

	s, env := newSupervisor(t, timing, nil)

	require.NoError(t, s.Play(context.Background(), "Hello."))
	waitStatus(t, s, func(st Status) bool { return st.IsPlaying })

	// Replacement hosts never become ready.
	env.mu.Lock()
	env.noReady = true
	env.mu.Unlock()

	_, _, hosts := env.stats()
	hosts[0].silent.Store(true)

	require.Eventually(t, func() bool {
		creates, _, _ := env.stats()
		return creates == 2
	}, 2*time.Second, time.Millisecond, "recreation should start after the heartbeat fails")

	require.NoError(t, s.Stop(context.Background()))

	// Outlast the ready timeout and the retry backoff.
	time.Sleep(3 * timing.ReadyTimeout)

	creates, _, _ := env.stats()
	assert.Equal(t, 2, creates, "no host is created after Stop")
	assert.False(t, env.HasHost())
	assert.False(t, s.Status().Active())
}

func TestHostReady_FromExitedHostIgnored(t *testing.T) {
	s, _ := newSupervisor(t, fastTiming(), nil)
	readyCh := s.markNotReady()

	exited := make(chan struct{})
	close(exited)
	r, err := s.bus.Request(context.Background(), bus.TargetSupervisor, bus.ActionHostReady, bus.HostReady{Done: exited}, time.Second)
	require.NoError(t, err)
	assert.False(t, r.Success)

	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	assert.False(t, ready)
	select {
	case <-readyCh:
		t.Fatal("a stale announcement must not signal readiness")
	default:
	}

	r, err = s.bus.Request(context.Background(), bus.TargetSupervisor, bus.ActionHostReady, bus.HostReady{Done: make(chan struct{})}, time.Second)
	require.NoError(t, err)
	assert.True(t, r.Success)
	select {
	case <-readyCh:
	case <-time.After(time.Second):
		t.Fatal("a live announcement must signal readiness")
	}
}

func TestHeartbeatFailureEndsSession(t *testing.T) {
	timing := fastTiming()
	timing.HeartbeatInterval = 20 * time.Millisecond

	s, env := newSupervisor(t, timing, nil)
	updates, unsubscribe := s.Subscribe(64)
	defer unsubscribe()

	require.NoError(t, s.Play(context.Background(), "Hello."))
	waitStatus(t, s, func(st Status) bool { return st.IsPlaying })

	_, _, hosts := env.stats()
	hosts[0].silent.Store(true)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-updates:
			if !st.IsPlaying && st.LastError != "" {
				assert.Equal(t, MsgPlaybackIssue, st.LastError)
				require.Eventually(t, func() bool {
					creates, _, _ := env.stats()
					return creates == 2 && env.HasHost()
				}, time.Second, 5*time.Millisecond, "host should be recreated")

				_, _, hosts := env.stats()
				assert.Empty(t, hosts[1].received(), "playback must not resume")
				assert.False(t, s.Status().Active())
				return
			}
		case <-deadline:
			t.Fatal("no error status after heartbeat failure")
		}
	}
}

func TestHostEvents(t *testing.T) {
	s, _ := newSupervisor(t, fastTiming(), nil)
	require.NoError(t, s.Play(context.Background(), "Hello."))
	st := waitStatus(t, s, func(st Status) bool { return st.IsPlaying })
	session := st.SessionID

	notify := func(action string, ev bus.Event) {
		ev.Session = session
		require.NoError(t, s.bus.Notify(context.Background(), bus.TargetSupervisor, action, ev))
	}

	notify(bus.ActionChunkUpdate, bus.Event{CurrentChunk: 1, TotalChunks: 3})
	waitStatus(t, s, func(st Status) bool { return st.CurrentChunk == 1 })

	notify(bus.ActionPlaybackError, bus.Event{Error: "chunk 1 failed", ChunkIndex: 1, Cause: &host.ChunkError{Index: 1, Attempts: 4, Cause: errors.New("x")}})
	st = waitStatus(t, s, func(st Status) bool { return st.LastError != "" })
	assert.True(t, st.IsPlaying, "non-fatal errors keep the session")

	// events from another session are ignored
	require.NoError(t, s.bus.Notify(context.Background(), bus.TargetSupervisor, bus.ActionPlaybackEnded, bus.Event{Session: "stale"}))

	notify(bus.ActionPlaybackEnded, bus.Event{CurrentChunk: 2, TotalChunks: 3})
	st = waitStatus(t, s, func(st Status) bool { return !st.Active() })
	assert.Empty(t, st.LastError)
	assert.Zero(t, st.TotalChunks)
}

func TestFatalPlaybackError(t *testing.T) {
	s, env := newSupervisor(t, fastTiming(), nil)
	require.NoError(t, s.Play(context.Background(), "Hello."))
	st := waitStatus(t, s, func(st Status) bool { return st.IsPlaying })

	require.NoError(t, s.bus.Notify(context.Background(), bus.TargetSupervisor, bus.ActionPlaybackError, bus.Event{
		Session: st.SessionID,
		Error:   "last chunk failed",
		Fatal:   true,
	}))

	st = waitStatus(t, s, func(st Status) bool { return !st.Active() })
	assert.Equal(t, MsgGeneric, st.LastError)
	require.Eventually(t, func() bool { return !env.HasHost() }, time.Second, 5*time.Millisecond)
}
