package synth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CheckResult is the outcome of a connectivity check.
type CheckResult struct {
	OK         bool
	StatusCode int
	Message    string
	Latency    time.Duration
}

// Check probes the server's voices endpoint and interprets the answer.
func (c *Client) Check(ctx context.Context, opts Options) CheckResult {
	start := c.now()

	resp, err := c.do(ctx, http.MethodGet, opts, "/voices", nil)
	if err != nil {
		msg := "Could not connect to the TTS server"
		if errors.Is(err, ErrNoEndpoint) {
			msg = "Server URL is not configured"
		}
		return CheckResult{Message: msg, Latency: c.now().Sub(start)}
	}
	defer resp.Body.Close() //nolint:errcheck

	res := CheckResult{StatusCode: resp.StatusCode, Latency: c.now().Sub(start)}
	switch {
	case resp.StatusCode == http.StatusOK:
		res.OK = true
		res.Message = "Connected"
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		res.Message = "Authentication failed, check the API key"
	case resp.StatusCode == http.StatusNotFound:
		res.Message = "Endpoint not found, check the server URL"
	default:
		res.Message = fmt.Sprintf("Server returned status %d", resp.StatusCode)
	}
	return res
}
