package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/readaloud/internal/bus"
	"github.com/dgnsrekt/readaloud/internal/segment"
	"github.com/dgnsrekt/readaloud/internal/supervisor"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

type fakeController struct {
	mu      sync.Mutex
	status  supervisor.Status
	played  []string
	stops   int
	playErr error
	hub     *bus.Hub[supervisor.Status]
}

func newFakeController() *fakeController {
	return &fakeController{hub: bus.NewHub[supervisor.Status]()}
}

func (f *fakeController) Play(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return segment.ErrNoText
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.played = append(f.played, text)
	f.status = supervisor.Status{IsPlaying: true, TotalChunks: 2, SessionID: "s1"}
	return nil
}

func (f *fakeController) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.status = supervisor.Status{}
	return nil
}

func (f *fakeController) Status() supervisor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) LastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.played) == 0 {
		return ""
	}
	return f.played[len(f.played)-1]
}

func (f *fakeController) Subscribe(size int) (<-chan supervisor.Status, func()) {
	return f.hub.Subscribe(size)
}

func newTestServer(t *testing.T, ctrl *fakeController, voices VoicesFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(Config{
		Controller: ctrl,
		Voices:     voices,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("readaloud_playing 0\n"))
		}),
	}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decodeStatus(t *testing.T, resp *http.Response) supervisor.Status {
	t.Helper()
	defer resp.Body.Close()
	var st supervisor.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestPlayAndStop(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, nil)

	resp, err := http.Post(srv.URL+"/play", "application/json", strings.NewReader(`{"text":"Hello world."}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	st := decodeStatus(t, resp)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, 2, st.TotalChunks)
	assert.Equal(t, []string{"Hello world."}, ctrl.played)

	resp, err = http.Post(srv.URL+"/stop", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeStatus(t, resp).IsPlaying)
	assert.Equal(t, 1, ctrl.stops)

	resp, err = http.Post(srv.URL+"/replay", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, []string{"Hello world.", "Hello world."}, ctrl.played)
}

func TestPlay_Errors(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl, nil)

	tests := []struct {
		name    string
		body    string
		playErr error
		code    int
		message string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, "invalid request body"},
		{"empty text", `{"text":"  "}`, nil, http.StatusBadRequest, supervisor.MsgNoText},
		{"network", `{"text":"hi"}`, &synth.APIError{Code: synth.ErrorCodeNetwork}, http.StatusBadGateway, supervisor.MsgNetwork},
		{"stopped", `{"text":"hi"}`, supervisor.ErrStopped, http.StatusConflict, supervisor.MsgGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl.mu.Lock()
			ctrl.playErr = tt.playErr
			ctrl.mu.Unlock()

			resp, err := http.Post(srv.URL+"/play", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.message, body["error"])
		})
	}
}

func TestStatusAndHealth(t *testing.T) {
	ctrl := newFakeController()
	ctrl.status = supervisor.Status{IsProcessing: true, ProcessingMessage: supervisor.MsgPreparing}
	srv := newTestServer(t, ctrl, nil)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	st := decodeStatus(t, resp)
	assert.True(t, st.IsProcessing)
	assert.Equal(t, supervisor.MsgPreparing, st.ProcessingMessage)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVoices(t *testing.T) {
	ctrl := newFakeController()

	srv := newTestServer(t, ctrl, nil)
	resp, err := http.Get(srv.URL + "/voices")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	srv = newTestServer(t, ctrl, func(context.Context) ([]synth.Voice, error) {
		return []synth.Voice{{ID: "af_bella", Name: "Bella"}}, nil
	})
	resp, err = http.Get(srv.URL + "/voices")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var voices []synth.Voice
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&voices))
	require.Len(t, voices, 1)
	assert.Equal(t, "af_bella", voices[0].ID)
}

func TestWatch(t *testing.T) {
	ctrl := newFakeController()
	ctrl.status = supervisor.Status{IsPlaying: true, CurrentChunk: 1, TotalChunks: 4}
	srv := newTestServer(t, ctrl, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first supervisor.Status
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 1, first.CurrentChunk)
	assert.Equal(t, 4, first.TotalChunks)

	require.Eventually(t, func() bool { return ctrl.hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	ctrl.hub.Publish(supervisor.Status{IsPlaying: true, CurrentChunk: 2, TotalChunks: 4})

	var next supervisor.Status
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, 2, next.CurrentChunk)
}
