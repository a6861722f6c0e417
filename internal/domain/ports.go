package domain

import "context"

// RecognitionEngine is a native speech-to-text engine. Exactly one instance
// exists per process. Start must not block on audio capture: the engine
// reports progress through the registered listener, in the order
// RecognitionStarted, PartialResult*, FinalResult or RecognitionEnded, and
// optionally RecognitionFailed.
type RecognitionEngine interface {
	Start(ctx context.Context, language string, partialResults bool) error
	// Stop asks the engine to finalize; it should emit FinalResult or
	// RecognitionEnded.
	Stop() error
	// Cancel discards the current session without emitting a result.
	Cancel() error
	// SetListener registers the event sink. Calling it twice replaces the
	// previous listener.
	SetListener(func(Event))
}

// CapabilityProber is implemented by engines that can tell up front whether
// the device supports them.
type CapabilityProber interface {
	Available(ctx context.Context) error
}

// SpeechEngine is a native text-to-speech engine. Speak blocks until the
// utterance has played, ctx is cancelled, or Stop is called.
type SpeechEngine interface {
	Speak(ctx context.Context, req TTSRequest) error
	Stop()
}

// SettingsStore persists the settings blob. Load returns ErrNotFound when
// nothing has been saved under key.
type SettingsStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
}

// HistoryStore persists command records beyond the in-memory window.
type HistoryStore interface {
	Append(ctx context.Context, rec CommandRecord) error
	Recent(ctx context.Context, limit int) ([]CommandRecord, error)
}

// Completer is the backend text-completion endpoint. Only application
// handlers call it; the voice engine never does.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
