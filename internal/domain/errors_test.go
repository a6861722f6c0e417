package domain

import (
	"errors"
	"fmt"
	"testing"
)

type stringer struct{ s string }

func (s stringer) String() string { return s.s }

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "unknown error"},
		{"error", errors.New("mic busy"), "mic busy"},
		{"wrapped error", fmt.Errorf("starting: %w", ErrRecognitionUnavailable), "starting: speech recognition unavailable"},
		{"string", "network down", "network down"},
		{"empty string", "  ", "unknown error"},
		{"undefined string", "undefined", "unknown error"},
		{"empty error", errors.New(""), "unknown error"},
		{"stringer", stringer{"code 7"}, "code 7"},
		{"int", 42, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorMessage(tt.in); got != tt.want {
				t.Fatalf("ErrorMessage(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsDestructive(t *testing.T) {
	tests := []struct {
		intent string
		want   bool
	}{
		{"deleteNote", true},
		{"clearNotes", true},
		{"ClearHistory", true},
		{"saveNote", false},
		{"goHome", false},
	}
	for _, tt := range tests {
		if got := IsDestructive(tt.intent); got != tt.want {
			t.Errorf("IsDestructive(%q) = %v, want %v", tt.intent, got, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(StateIdle, StateListening) {
		t.Error("idle -> listening should be allowed")
	}
	if CanTransition(StateError, StateListening) {
		t.Error("error -> listening should be rejected")
	}
	if !CanTransition(StateError, StateIdle) {
		t.Error("error -> idle should be allowed")
	}
	if CanTransition(StateIdle, StateProcessing) {
		t.Error("idle -> processing should be rejected")
	}
}
