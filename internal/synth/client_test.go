package synth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(opts ...ClientOption) *Client {
	return NewClient(append([]ClientOption{WithRequestsPerMinute(0)}, opts...)...)
}

func TestSynthesize(t *testing.T) {
	var got speechRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/speech", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	c := newTestClient()
	audio, err := c.Synthesize(context.Background(), Options{
		Endpoint: srv.URL + "/v1/",
		APIKey:   "secret-key",
		Voice:    "af_bella",
		Model:    "kokoro",
		Format:   "mp3",
	}, "Hello there.")

	require.NoError(t, err)
	assert.Equal(t, []byte("ID3audio"), audio)
	assert.Equal(t, "Bearer secret-key", auth)
	assert.Equal(t, speechRequest{Model: "kokoro", Voice: "af_bella", Input: "Hello there.", ResponseFormat: "mp3"}, got)
}

func TestSynthesize_NoAuthHeaderWhenNotNeeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	_, err := newTestClient().Synthesize(context.Background(), Options{Endpoint: srv.URL, APIKey: NotNeeded}, "hi")
	require.NoError(t, err)
}

func TestSynthesize_Failures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		rejected bool
		code     ErrorCode
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
			rejected: true,
			code:     ErrorCodeRejected,
		},
		{
			name:     "empty body",
			handler:  func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
			rejected: true,
			code:     ErrorCodeEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestClient().Synthesize(context.Background(), Options{Endpoint: srv.URL}, "hi")
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.rejected, IsRejected(err))
			assert.False(t, IsNetwork(err))
		})
	}
}

func TestSynthesize_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient().Synthesize(context.Background(), Options{Endpoint: url}, "hi")
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
}

func TestSynthesize_InputValidation(t *testing.T) {
	c := newTestClient()

	_, err := c.Synthesize(context.Background(), Options{Endpoint: "http://localhost"}, "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = c.Synthesize(context.Background(), Options{}, "hi")
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestParseVoices(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []Voice
	}{
		{
			name: "bare strings",
			body: `["bf_emma", "af_bella"]`,
			want: []Voice{{ID: "af_bella", Name: "af_bella"}, {ID: "bf_emma", Name: "bf_emma"}},
		},
		{
			name: "wrapped voices objects",
			body: `{"voices": [{"id": "af_sky", "name": "Sky", "language": "en-US", "gender": "female"}]}`,
			want: []Voice{{ID: "af_sky", Name: "Sky", Language: "en-US", Gender: "female"}},
		},
		{
			name: "wrapped data with voice_id",
			body: `{"data": [{"voice_id": "v1", "lang": "fr"}]}`,
			want: []Voice{{ID: "v1", Name: "v1", Language: "fr"}},
		},
		{
			name: "empty object",
			body: `{}`,
			want: []Voice{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVoices([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseVoices([]byte(`not json`))
	assert.Error(t, err)
}

func TestVoices_CacheAndStaleFallback(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`["af_bella"]`))
	}))
	defer srv.Close()

	now := time.Now()
	c := newTestClient(WithVoiceTTL(time.Minute))
	c.now = func() time.Time { return now }
	opts := Options{Endpoint: srv.URL}

	v, err := c.Voices(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, v, 1)

	_, err = c.Voices(context.Background(), opts)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "second call should hit cache")

	now = now.Add(2 * time.Minute)
	fail.Store(true)
	v, err = c.Voices(context.Background(), opts)
	require.NoError(t, err, "stale listing should be served")
	assert.Equal(t, "af_bella", v[0].ID)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCheck(t *testing.T) {
	tests := []struct {
		status int
		ok     bool
	}{
		{http.StatusOK, true},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/voices", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			res := newTestClient().Check(context.Background(), Options{Endpoint: srv.URL})
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.NotEmpty(t, res.Message)
		})
	}

	res := newTestClient().Check(context.Background(), Options{})
	assert.False(t, res.OK)
	assert.Equal(t, "Server URL is not configured", res.Message)
}

func TestPreviewText(t *testing.T) {
	assert.Equal(t, DefaultPreviewText, PreviewText("  "))
	assert.Equal(t, "Short sample.", PreviewText("Short sample."))

	long := strings.Repeat("a", 60)
	got := PreviewText(long)
	assert.Equal(t, strings.Repeat("a", 50)+"...", got)
}
