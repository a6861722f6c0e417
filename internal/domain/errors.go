package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors used across layers.
var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyActive          = errors.New("recognition already active")
	ErrNotListening           = errors.New("not listening")
	ErrRecognitionUnavailable = errors.New("speech recognition unavailable")
	ErrSessionError           = errors.New("session is in error state")
	ErrSessionDestroyed       = errors.New("session destroyed")
	ErrNotInitialized         = errors.New("session not initialized")
	ErrVoiceDisabled          = errors.New("voice is disabled")
	ErrBusy                   = errors.New("session is busy")
	ErrNoResults              = errors.New("no results")
	ErrInvalidSettings        = errors.New("invalid settings")
	ErrInvalidCommand         = errors.New("invalid command entry")
)

// unknownError is what callers see when a failure carries no usable text.
const unknownError = "unknown error"

// ErrorMessage converts any failure value into a non-empty message. Errors
// yield their text, strings are used as-is, and everything else is
// formatted. Empty, nil-ish and "undefined" values become "unknown error".
func ErrorMessage(v any) string {
	var msg string
	switch e := v.(type) {
	case nil:
		return unknownError
	case error:
		msg = e.Error()
	case string:
		msg = e
	case fmt.Stringer:
		msg = e.String()
	default:
		msg = fmt.Sprint(e)
	}

	msg = strings.TrimSpace(msg)
	switch strings.ToLower(msg) {
	case "", "undefined", "<nil>", "null", "nil":
		return unknownError
	}
	return msg
}
