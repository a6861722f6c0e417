package domain

import "time"

// EventKind identifies the concrete type of an Event.
type EventKind int

const (
	KindRecognitionStarted EventKind = iota
	KindRecognitionEnded
	KindPartialResult
	KindFinalResult
	KindRecognitionFailed
	KindSpeechStarted
	KindSpeechFinished
	KindSpeechCancelled
	KindSpeechFailed
	KindStateChanged
	KindCommandHandled
	KindFeedback
	KindErrorReported
)

var eventKindNames = map[EventKind]string{
	KindRecognitionStarted: "recognition_started",
	KindRecognitionEnded:   "recognition_ended",
	KindPartialResult:      "partial_result",
	KindFinalResult:        "final_result",
	KindRecognitionFailed:  "recognition_failed",
	KindSpeechStarted:      "speech_started",
	KindSpeechFinished:     "speech_finished",
	KindSpeechCancelled:    "speech_cancelled",
	KindSpeechFailed:       "speech_failed",
	KindStateChanged:       "state_changed",
	KindCommandHandled:     "command_handled",
	KindFeedback:           "feedback",
	KindErrorReported:      "error_reported",
}

// String returns the snake_case name of the kind.
func (k EventKind) String() string {
	if n, ok := eventKindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Event is a closed set of notifications flowing out of the recognition
// adapter, the output queue and the session. Only types in this package
// implement it; consumers switch on the concrete type or on Kind.
type Event interface {
	Kind() EventKind
	sealed()
}

// Observer receives events. Implementations must not block for long; they
// run on the goroutine that produced the event.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// ── Recognition events ───────────────────────────────────────────

// RecognitionStarted is emitted once the engine actually captures audio.
type RecognitionStarted struct {
	Language string `json:"language"`
}

// RecognitionEnded is emitted when a recognition session closes without a
// final result. Cancelled is set when the caller discarded the session.
type RecognitionEnded struct {
	Cancelled bool `json:"cancelled"`
}

// PartialResult carries an interim hypothesis.
type PartialResult struct {
	Text string `json:"text"`
}

// FinalResult carries the finished transcript.
type FinalResult struct {
	Text string `json:"text"`
}

// RecognitionFailed reports an engine failure. Capability is true when the
// device or platform cannot perform recognition at all.
type RecognitionFailed struct {
	Message    string `json:"message"`
	Capability bool   `json:"capability"`
}

// ── Output events ────────────────────────────────────────────────

// SpeechStarted is emitted when an utterance begins playing.
type SpeechStarted struct {
	ID      uint64     `json:"id"`
	Request TTSRequest `json:"request"`
}

// SpeechFinished is emitted when an utterance played to completion.
// Pending is the number of items still queued behind it.
type SpeechFinished struct {
	ID      uint64 `json:"id"`
	Pending int    `json:"pending"`
}

// SpeechCancelled is emitted when an in-flight utterance was stopped.
type SpeechCancelled struct {
	ID      uint64 `json:"id"`
	Pending int    `json:"pending"`
}

// SpeechFailed reports a synthesis or playback failure.
type SpeechFailed struct {
	ID      uint64 `json:"id"`
	Message string `json:"message"`
	Pending int    `json:"pending"`
}

// ── Session events ───────────────────────────────────────────────

// StateChanged is emitted on every session state transition.
type StateChanged struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// CommandHandled is emitted after an utterance has been parsed and, when it
// resolved, dispatched.
type CommandHandled struct {
	Command ParsedCommand  `json:"command"`
	Status  string         `json:"status"`
	Record  *CommandRecord `json:"record,omitempty"`
}

// Feedback is a user-facing message produced by the session, whether or not
// it is also spoken.
type Feedback struct {
	Text string `json:"text"`
}

// ErrorReported is the single error-reporting path for recognition, speech
// and command-handler failures.
type ErrorReported struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Error sources.
const (
	SourceRecognition = "recognition"
	SourceSpeech      = "speech"
	SourceDispatch    = "dispatch"
)

func (RecognitionStarted) Kind() EventKind { return KindRecognitionStarted }
func (RecognitionEnded) Kind() EventKind   { return KindRecognitionEnded }
func (PartialResult) Kind() EventKind      { return KindPartialResult }
func (FinalResult) Kind() EventKind        { return KindFinalResult }
func (RecognitionFailed) Kind() EventKind  { return KindRecognitionFailed }
func (SpeechStarted) Kind() EventKind      { return KindSpeechStarted }
func (SpeechFinished) Kind() EventKind     { return KindSpeechFinished }
func (SpeechCancelled) Kind() EventKind    { return KindSpeechCancelled }
func (SpeechFailed) Kind() EventKind       { return KindSpeechFailed }
func (StateChanged) Kind() EventKind       { return KindStateChanged }
func (CommandHandled) Kind() EventKind     { return KindCommandHandled }
func (Feedback) Kind() EventKind           { return KindFeedback }
func (ErrorReported) Kind() EventKind      { return KindErrorReported }

func (RecognitionStarted) sealed() {}
func (RecognitionEnded) sealed()   {}
func (PartialResult) sealed()      {}
func (FinalResult) sealed()        {}
func (RecognitionFailed) sealed()  {}
func (SpeechStarted) sealed()      {}
func (SpeechFinished) sealed()     {}
func (SpeechCancelled) sealed()    {}
func (SpeechFailed) sealed()       {}
func (StateChanged) sealed()       {}
func (CommandHandled) sealed()     {}
func (Feedback) sealed()           {}
func (ErrorReported) sealed()      {}
