package domain

import (
	"strings"
	"time"
)

// UniversalScreen is the reserved table id whose entries apply on every screen.
const UniversalScreen = "universal"

// Reserved intent identifiers. The first two are parser outcomes, the last
// two answer a pending confirmation.
const (
	IntentNoMatch          = "NO_MATCH"
	IntentAskClarification = "ASK_CLARIFICATION"
	IntentConfirm          = "confirmAction"
	IntentCancelConfirm    = "cancelAction"
)

// CommandEntry is one row of a command table.
type CommandEntry struct {
	Screen         string   `json:"screen" yaml:"-" validate:"required"`
	Name           string   `json:"name" yaml:"name" validate:"required"`
	Keywords       []string `json:"keywords" yaml:"keywords" validate:"min=1,dive,required"`
	Action         string   `json:"action" yaml:"action" validate:"required"`
	BaseConfidence float64  `json:"baseConfidence" yaml:"base_confidence" validate:"gt=0,lte=1"`
}

// Universal reports whether the entry belongs to the universal table.
func (e CommandEntry) Universal() bool { return e.Screen == UniversalScreen }

// Candidate is one interpretation offered when an utterance is ambiguous.
type Candidate struct {
	Intent      string  `json:"intent"`
	CommandName string  `json:"commandName"`
	Confidence  float64 `json:"confidence"`
}

// ParsedCommand is the parser's verdict for one utterance.
type ParsedCommand struct {
	Intent         string      `json:"intent"`
	CommandName    string      `json:"commandName,omitempty"`
	Confidence     float64     `json:"confidence"`
	RawText        string      `json:"rawText"`
	MatchedKeyword string      `json:"matchedKeyword,omitempty"`
	Options        []Candidate `json:"options,omitempty"`
}

// Resolved reports whether the command names an application intent.
func (p ParsedCommand) Resolved() bool {
	return p.Intent != "" && p.Intent != IntentNoMatch && p.Intent != IntentAskClarification
}

// IsDestructive reports whether an intent may lose data and therefore falls
// under the confirmation policy.
func IsDestructive(intent string) bool {
	lower := strings.ToLower(intent)
	return strings.Contains(lower, "delete") || strings.Contains(lower, "clear")
}

// CommandRecord is an immutable history entry written after a dispatch.
type CommandRecord struct {
	ID          string    `json:"id"`
	Intent      string    `json:"intent"`
	CommandName string    `json:"commandName"`
	RawText     string    `json:"rawText"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	Result      string    `json:"result"`
}

// TTSRequest is one queued utterance.
type TTSRequest struct {
	Text     string  `json:"text"`
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
	Volume   float64 `json:"volume"`
	Language string  `json:"language"`
}
