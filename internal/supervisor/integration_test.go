package supervisor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/bus"
	"github.com/dgnsrekt/readaloud/internal/host"
	"github.com/dgnsrekt/readaloud/internal/supervisor"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

type flakySynth struct {
	mu     sync.Mutex
	broken map[string]bool
	calls  map[string]int
}

func (f *flakySynth) Synthesize(_ context.Context, _ synth.Options, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[text]++
	if f.broken[text] {
		return nil, &synth.APIError{Code: synth.ErrorCodeRejected, StatusCode: 500}
	}
	return []byte(text), nil
}

func TestSupervisor_EndToEnd(t *testing.T) {
	b := bus.New()
	fs := &flakySynth{broken: map[string]bool{"Two.": true}, calls: map[string]int{}}
	player := audio.NewMockPlayer(5 * time.Millisecond)

	hostTiming := host.Timing{
		RetryDelays:    []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond},
		SkipDelay:      5 * time.Millisecond,
		NextChunkDelay: time.Millisecond,
		PrefetchDelay:  time.Hour,
		KeepAlive:      time.Hour,
		ReadyRetry:     20 * time.Millisecond,
		NotifyTimeout:  time.Second,
	}

	launcher := host.NewLauncher(func() *host.Host {
		return host.New(host.Config{Bus: b, Synthesizer: fs, Renderer: player, Timing: hostTiming})
	})

	timing := supervisor.DefaultTiming()
	timing.StopSettle = time.Millisecond
	timing.CreateBackoff = time.Millisecond

	s := supervisor.New(supervisor.Config{
		Bus:         b,
		Environment: launcher,
		Settings: supervisor.SettingsFunc(func(context.Context) (bus.Settings, error) {
			return bus.Settings{ChunkSize: 5, CacheSize: 10}, nil
		}),
		Timing:      timing,
		CloseOnStop: true,
	})
	s.Start(context.Background())
	defer s.Close(context.Background()) //nolint:errcheck

	updates, unsubscribe := s.Subscribe(256)
	defer unsubscribe()

	require.NoError(t, s.Play(context.Background(), "One. Two. Three."))

	var sawChunkError, sawPlaying bool
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-updates:
			if st.IsPlaying {
				sawPlaying = true
				if st.LastError == supervisor.MsgServer {
					sawChunkError = true
				}
			}
			if sawPlaying && !st.Active() {
				assert.True(t, sawChunkError, "non-fatal chunk error should be reported while playing")
				assert.Empty(t, st.LastError)

				var played []string
				for _, p := range player.Played() {
					played = append(played, string(p))
				}
				assert.Equal(t, []string{"One.", "Three."}, played)
				assert.Equal(t, 4, fs.calls["Two."])

				require.Eventually(t, func() bool { return !launcher.HasHost() }, time.Second, 5*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("session did not finish")
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&synth.APIError{Code: synth.ErrorCodeNetwork, Cause: errors.New("dial tcp")}, supervisor.MsgNetwork},
		{&host.ChunkError{Index: 2, Cause: &synth.APIError{Code: synth.ErrorCodeRejected, StatusCode: 401}}, supervisor.MsgServer},
		{&synth.APIError{Code: synth.ErrorCodeEmpty}, supervisor.MsgServer},
		{supervisor.ErrHostUnavailable, supervisor.MsgInitFailed},
		{supervisor.ErrHostLost, supervisor.MsgPlaybackIssue},
		{&host.ChunkError{Index: 0, Cause: errors.New("bad frame")}, supervisor.MsgPlaybackIssue},
		{supervisor.ErrRuntimeTooOld, supervisor.MsgRuntimeTooOld},
		{errors.New("weird"), supervisor.MsgGeneric},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, supervisor.UserMessage(tt.err), "error: %v", tt.err)
	}
}
