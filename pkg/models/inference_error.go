package models

import (
	"errors"
	"time"
)

// ErrorKind classifies an inference failure.
type ErrorKind string

const (
	ErrorNoKey          ErrorKind = "NO_KEY"
	ErrorQuotaExhausted ErrorKind = "QUOTA_EXHAUSTED"
	ErrorInvalidKey     ErrorKind = "INVALID_KEY"
	ErrorNoCredits      ErrorKind = "NO_CREDITS"
	ErrorAPI            ErrorKind = "API_ERROR"
	ErrorEmptyResponse  ErrorKind = "EMPTY_RESPONSE"
	ErrorParse          ErrorKind = "PARSE_ERROR"
	ErrorJSON           ErrorKind = "JSON_ERROR"
	ErrorServer         ErrorKind = "SERVER_ERROR"
)

// InferenceError is the failure half of the inference contract.
// ShouldRotateKey is set by the gateway when the failure is caused by the
// credential rather than the request. RetryAfter > 0 marks a transient rate
// limit.
type InferenceError struct {
	Kind            ErrorKind     `json:"error_code"`
	Message         string        `json:"message"`
	ShouldRotateKey bool          `json:"should_rotate_key"`
	RetryAfter      time.Duration `json:"retry_after,omitempty"`
}

func (e *InferenceError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// RateLimited reports whether the failure is a transient rate limit.
func (e *InferenceError) RateLimited() bool {
	return e.RetryAfter > 0
}

// NewInferenceError builds a non-rotating inference error.
func NewInferenceError(kind ErrorKind, message string) *InferenceError {
	return &InferenceError{Kind: kind, Message: message}
}

// AsInferenceError unwraps err into an *InferenceError. Errors that are not
// already classified become SERVER_ERROR without rotation.
func AsInferenceError(err error) *InferenceError {
	if err == nil {
		return nil
	}
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie
	}
	return &InferenceError{Kind: ErrorServer, Message: err.Error()}
}
