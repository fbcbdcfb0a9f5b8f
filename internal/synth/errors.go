package synth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEndpoint indicates the server URL is not configured.
	ErrNoEndpoint = errors.New("TTS server endpoint is not configured")

	// ErrEmptyAudio indicates the server answered with a success status but no body.
	ErrEmptyAudio = errors.New("received empty audio data from server")

	// ErrEmptyInput indicates there was no text to synthesize.
	ErrEmptyInput = errors.New("no text provided")
)

// ErrorCode identifies the category of a remote API failure.
type ErrorCode string

const (
	// ErrorCodeNetwork means the server could not be reached.
	ErrorCodeNetwork ErrorCode = "NETWORK"
	// ErrorCodeRejected means the server answered with a non-2xx status.
	ErrorCodeRejected ErrorCode = "REJECTED"
	// ErrorCodeEmpty means the server answered 2xx with an empty body.
	ErrorCodeEmpty ErrorCode = "EMPTY"
	// ErrorCodeDecode means the response body could not be parsed.
	ErrorCodeDecode ErrorCode = "DECODE"
)

// APIError describes a failed request against the speech server.
type APIError struct {
	Code       ErrorCode
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := string(e.Code)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s %d", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// IsNetwork reports whether err is a transport failure talking to the server.
func IsNetwork(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrorCodeNetwork
}

// IsRejected reports whether err is a server-side rejection (non-2xx or empty body).
func IsRejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == ErrorCodeRejected || apiErr.Code == ErrorCodeEmpty
}
