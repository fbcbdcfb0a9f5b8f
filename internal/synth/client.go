// Package synth talks to an OpenAI-compatible speech synthesis server.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// NotNeeded is the credential value for servers that require no key.
const NotNeeded = "not-needed"

const (
	defaultTimeout           = 60 * time.Second
	defaultRequestsPerMinute = 120
	defaultVoiceTTL          = time.Hour
	maxErrorBody             = 512
)

// Options selects the server and voice for a request.
type Options struct {
	Endpoint string
	APIKey   string
	Voice    string
	Model    string
	Format   string
}

// speechRequest is the JSON body of POST {endpoint}/speech.
type speechRequest struct {
	Model          string `json:"model,omitempty"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Client performs speech, voice listing and connectivity requests.
// It is safe for concurrent use.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger

	voiceTTL time.Duration
	now      func() time.Time

	mu     sync.Mutex
	voices map[string]voiceEntry
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRequestsPerMinute sets the request rate limit. Zero or less disables it.
func WithRequestsPerMinute(rpm int) ClientOption {
	return func(c *Client) {
		if rpm <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
}

// WithVoiceTTL sets how long a voice listing is served from cache.
func WithVoiceTTL(ttl time.Duration) ClientOption {
	return func(c *Client) { c.voiceTTL = ttl }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:     &http.Client{Timeout: defaultTimeout},
		limiter:  rate.NewLimiter(rate.Every(time.Minute/defaultRequestsPerMinute), 1),
		logger:   log.WithPrefix("synth"),
		voiceTTL: defaultVoiceTTL,
		now:      time.Now,
		voices:   make(map[string]voiceEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Synthesize requests audio for text. A response counts as success only if
// the status is 2xx and the body is non-empty.
func (c *Client) Synthesize(ctx context.Context, opts Options, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	body, err := json.Marshal(speechRequest{
		Model:          opts.Model,
		Voice:          opts.Voice,
		Input:          text,
		ResponseFormat: opts.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode speech request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, opts, "/speech", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, rejected(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Code: ErrorCodeNetwork, StatusCode: resp.StatusCode, Message: "reading audio", Cause: err}
	}
	if len(audio) == 0 {
		return nil, &APIError{Code: ErrorCodeEmpty, StatusCode: resp.StatusCode, Cause: ErrEmptyAudio}
	}

	c.logger.Debug("Synthesized chunk", "voice", opts.Voice, "chars", len(text), "bytes", len(audio))
	return audio, nil
}

// do sends an authenticated request to endpoint+path after waiting on the
// rate limiter.
func (c *Client) do(ctx context.Context, method string, opts Options, path string, body []byte) (*http.Response, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.APIKey != "" && opts.APIKey != NotNeeded {
		req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &APIError{Code: ErrorCodeNetwork, Message: method + " " + path, Cause: err}
	}
	return resp, nil
}

func rejected(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(msg))
	if text == "" {
		text = resp.Status
	}
	return &APIError{Code: ErrorCodeRejected, StatusCode: resp.StatusCode, Message: text}
}
