package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hammamikhairi/voxengine/internal/commands"
	"github.com/hammamikhairi/voxengine/internal/dispatch"
	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
	"github.com/hammamikhairi/voxengine/internal/parser"
	"github.com/hammamikhairi/voxengine/internal/recognition"
	"github.com/hammamikhairi/voxengine/internal/speech"
)

func testLogger() *logger.Logger { return logger.New(logger.LevelOff, nil) }

// fakeRecognizer records calls and lets the test play the engine's part.
type fakeRecognizer struct {
	mu           sync.Mutex
	listener     func(domain.Event)
	setListeners int
	starts       int
	stops        int
	cancels      int
}

func (f *fakeRecognizer) Start(context.Context, string, bool) error {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) Cancel() error {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) SetListener(fn func(domain.Event)) {
	f.mu.Lock()
	f.listener = fn
	f.setListeners++
	f.mu.Unlock()
}

func (f *fakeRecognizer) emit(ev domain.Event) {
	f.mu.Lock()
	fn := f.listener
	f.mu.Unlock()
	fn(ev)
}

func (f *fakeRecognizer) counts() (starts, stops, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.cancels
}

// gateSpeaker blocks every utterance until released or cancelled.
type gateSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	started chan string
	release chan struct{}
}

func newGateSpeaker() *gateSpeaker {
	return &gateSpeaker{started: make(chan string, 16), release: make(chan struct{}, 16)}
}

func (g *gateSpeaker) Speak(ctx context.Context, req domain.TTSRequest) error {
	g.mu.Lock()
	g.spoken = append(g.spoken, req.Text)
	g.mu.Unlock()
	g.started <- req.Text
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gateSpeaker) Stop() {}

type memSettings struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memSettings) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (m *memSettings) Save(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = blob
	return nil
}

type harness struct {
	rec     *fakeRecognizer
	speaker *gateSpeaker
	queue   *speech.Queue
	disp    *dispatch.Dispatcher
	sess    *Session
	events  chan domain.Event
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	log := testLogger()

	reg, err := commands.NewRegistry(log, commands.Defaults()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := &harness{
		rec:     &fakeRecognizer{},
		speaker: newGateSpeaker(),
		events:  make(chan domain.Event, 256),
	}
	h.queue = speech.NewQueue(h.speaker, log)
	h.disp = dispatch.New(log)
	adapter := recognition.NewAdapter(h.rec, log)
	h.sess = New(adapter, h.queue, parser.New(reg, log), h.disp, log, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h.queue.Start(ctx)
	t.Cleanup(func() {
		h.sess.Destroy()
		cancel()
	})
	return h
}

func (h *harness) init(t *testing.T) {
	t.Helper()
	obs := domain.ObserverFunc(func(ev domain.Event) {
		select {
		case h.events <- ev:
		default:
		}
	})
	if err := h.sess.Initialize(context.Background(), obs); err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

// waitFor reads events until match returns true.
func (h *harness) waitFor(t *testing.T, what string, match func(domain.Event) bool) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			return nil
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func becameState(to domain.State) func(domain.Event) bool {
	return func(ev domain.Event) bool {
		sc, ok := ev.(domain.StateChanged)
		return ok && sc.To == to
	}
}

// listen starts a recognition session and confirms it from the engine side.
func (h *harness) listen(t *testing.T) {
	t.Helper()
	if err := h.sess.StartListening(context.Background(), "", true); err != nil {
		t.Fatalf("start listening: %v", err)
	}
	h.rec.emit(domain.RecognitionStarted{Language: "en-US"})
	if got := h.sess.State(); got != domain.StateListening {
		t.Fatalf("state = %s, want listening", got)
	}
}

func quietSettings() domain.Settings {
	st := domain.DefaultSettings()
	st.SilenceAutoSubmit = false
	return st
}

func TestUseBeforeInitialize(t *testing.T) {
	h := newHarness(t)
	if err := h.sess.StartListening(context.Background(), "", false); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
	if _, err := h.sess.Speak("hi", speech.Options{}); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestStartListeningWaitsForEngine(t *testing.T) {
	h := newHarness(t)
	h.init(t)

	if err := h.sess.StartListening(context.Background(), "", true); err != nil {
		t.Fatalf("start listening: %v", err)
	}
	if got := h.sess.State(); got != domain.StateIdle {
		t.Fatalf("state = %s before the engine confirmed, want idle", got)
	}
	if starts, _, _ := h.rec.counts(); starts != 1 {
		t.Fatalf("engine starts = %d", starts)
	}

	h.rec.emit(domain.RecognitionStarted{})
	if !h.sess.IsListening() {
		t.Fatal("session should be listening once the engine confirmed")
	}

	// A second start while listening is a no-op.
	if err := h.sess.StartListening(context.Background(), "", true); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if starts, _, _ := h.rec.counts(); starts != 1 {
		t.Fatalf("engine starts = %d after redundant start", starts)
	}
}

func TestStopListeningWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t)
	h.init(t)

	if err := h.sess.StopListening(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, stops, cancels := h.rec.counts(); stops != 0 || cancels != 0 {
		t.Fatalf("engine touched: stops=%d cancels=%d", stops, cancels)
	}
	if got := h.sess.State(); got != domain.StateIdle {
		t.Fatalf("state = %s", got)
	}
}

func TestListenTimeout(t *testing.T) {
	st := quietSettings()
	st.ListenTimeout = 50 * time.Millisecond
	h := newHarness(t, WithDefaultSettings(st))
	h.init(t)

	h.listen(t)
	h.rec.emit(domain.PartialResult{Text: "open no"})
	if got := h.sess.CurrentTranscript(); got != "open no" {
		t.Fatalf("transcript = %q", got)
	}

	h.waitFor(t, "idle after timeout", becameState(domain.StateIdle))
	if got := h.sess.CurrentTranscript(); got != "" {
		t.Fatalf("transcript = %q after timeout, want empty", got)
	}
	eventually(t, "engine stopped", func() bool {
		_, stops, _ := h.rec.counts()
		return stops == 1
	})
}

func TestFinalResultDispatchesAndSpeaks(t *testing.T) {
	h := newHarness(t, WithDefaultSettings(quietSettings()), WithInitialScreen(commands.ScreenNotes))
	h.disp.Register("", "goHome", func(context.Context, domain.ParsedCommand, dispatch.Request) (dispatch.Result, error) {
		return dispatch.Result{Message: "Home.", Screen: commands.ScreenHome}, nil
	})
	h.init(t)
	h.listen(t)

	h.rec.emit(domain.FinalResult{Text: "go home"})

	ev := h.waitFor(t, "command handled", func(ev domain.Event) bool {
		_, ok := ev.(domain.CommandHandled)
		return ok
	})
	ch := ev.(domain.CommandHandled)
	if ch.Command.Intent != "goHome" || ch.Status != string(dispatch.StatusExecuted) {
		t.Fatalf("handled = %+v", ch)
	}
	if h.sess.Screen() != commands.ScreenHome {
		t.Fatalf("screen = %s, want home", h.sess.Screen())
	}
	if got := h.sess.State(); got != domain.StateSpeaking {
		t.Fatalf("state = %s, want speaking", got)
	}

	select {
	case text := <-h.speaker.started:
		if text != "Home." {
			t.Fatalf("spoke %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feedback never spoken")
	}
	h.speaker.release <- struct{}{}

	h.waitFor(t, "idle after feedback", becameState(domain.StateIdle))
	if hist := h.sess.History(); len(hist) != 1 || !hist[0].Success {
		t.Fatalf("history = %+v", hist)
	}
}

func TestNotConfiguredFeedback(t *testing.T) {
	st := quietSettings()
	st.AutoFeedback = false
	h := newHarness(t, WithDefaultSettings(st))
	h.init(t)
	h.listen(t)

	h.rec.emit(domain.FinalResult{Text: "go home"})

	ev := h.waitFor(t, "feedback", func(ev domain.Event) bool {
		_, ok := ev.(domain.Feedback)
		return ok
	})
	if got, want := ev.(domain.Feedback).Text, speech.LineNotConfigured("goHome"); got != want {
		t.Fatalf("feedback = %q, want %q", got, want)
	}
	if got := h.sess.State(); got != domain.StateIdle {
		t.Fatalf("state = %s, want idle without auto feedback", got)
	}
	if len(h.sess.History()) != 0 {
		t.Fatal("an unhandled command leaves no record")
	}
}

func TestRecognitionErrorNormalized(t *testing.T) {
	h := newHarness(t, WithDefaultSettings(quietSettings()))
	h.init(t)
	h.listen(t)

	h.rec.emit(domain.RecognitionFailed{})

	ev := h.waitFor(t, "error report", func(ev domain.Event) bool {
		_, ok := ev.(domain.ErrorReported)
		return ok
	})
	er := ev.(domain.ErrorReported)
	if er.Message != "unknown error" || er.Source != domain.SourceRecognition {
		t.Fatalf("report = %+v", er)
	}
	if h.sess.State() != domain.StateError || h.sess.LastError() != "unknown error" {
		t.Fatalf("state = %s lastError = %q", h.sess.State(), h.sess.LastError())
	}
	if err := h.sess.StartListening(context.Background(), "", false); !errors.Is(err, domain.ErrSessionError) {
		t.Fatalf("start in error: %v", err)
	}

	h.sess.ClearError()
	if h.sess.State() != domain.StateIdle || h.sess.LastError() != "" {
		t.Fatalf("after clear: state = %s lastError = %q", h.sess.State(), h.sess.LastError())
	}
	// Clearing again is harmless.
	h.sess.ClearError()
}

func TestBargeInStopsSpeech(t *testing.T) {
	h := newHarness(t)
	h.init(t)

	if _, err := h.sess.Speak("a long announcement", speech.Options{}); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if !h.sess.IsSpeaking() {
		t.Fatal("session should be speaking")
	}
	select {
	case <-h.speaker.started:
	case <-time.After(2 * time.Second):
		t.Fatal("speech never started")
	}

	if err := h.sess.StartListening(context.Background(), "", false); err != nil {
		t.Fatalf("start listening: %v", err)
	}
	h.waitFor(t, "speech cancelled", func(ev domain.Event) bool {
		_, ok := ev.(domain.SpeechCancelled)
		return ok
	})
	h.rec.emit(domain.RecognitionStarted{})
	if !h.sess.IsListening() {
		t.Fatalf("state = %s, want listening", h.sess.State())
	}
}

func TestSpeakCancelsListening(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	h.listen(t)

	if _, err := h.sess.Speak("one moment", speech.Options{}); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if _, _, cancels := h.rec.counts(); cancels != 1 {
		t.Fatalf("engine cancels = %d, want 1", cancels)
	}
	if got := h.sess.State(); got != domain.StateSpeaking {
		t.Fatalf("state = %s", got)
	}
}

func TestInitializeTwiceAttachesOnce(t *testing.T) {
	h := newHarness(t)
	h.init(t)

	second := make(chan domain.Event, 16)
	err := h.sess.Initialize(context.Background(), domain.ObserverFunc(func(ev domain.Event) {
		select {
		case second <- ev:
		default:
		}
	}))
	if err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	h.rec.mu.Lock()
	n := h.rec.setListeners
	h.rec.mu.Unlock()
	if n != 1 {
		t.Fatalf("listener registered %d times", n)
	}

	h.listen(t)
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("rebound observer received nothing")
	}
}

func TestDestroy(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	h.listen(t)

	h.sess.Destroy()
	h.sess.Destroy()

	if err := h.sess.StartListening(context.Background(), "", false); !errors.Is(err, domain.ErrSessionDestroyed) {
		t.Fatalf("start after destroy: %v", err)
	}
	if err := h.sess.Initialize(context.Background(), nil); !errors.Is(err, domain.ErrSessionDestroyed) {
		t.Fatalf("initialize after destroy: %v", err)
	}
	if _, _, cancels := h.rec.counts(); cancels == 0 {
		t.Fatal("recognition should be cancelled on destroy")
	}
	if d := h.sess.Diagnose(); !d.Destroyed {
		t.Fatal("diagnostics should report destroyed")
	}
}

func TestSettingsPersistence(t *testing.T) {
	store := &memSettings{blobs: map[string][]byte{}}
	h := newHarness(t, WithSettingsStore(store))
	h.init(t)

	if err := h.sess.SetLanguage(context.Background(), "fr-fr"); err != nil {
		t.Fatalf("set language: %v", err)
	}
	if got := h.sess.Settings(); got.InputLanguage != "fr-FR" || got.OutputLanguage != "fr-FR" {
		t.Fatalf("languages = %s/%s", got.InputLanguage, got.OutputLanguage)
	}
	if err := h.sess.SetLanguage(context.Background(), "not a tag!"); !errors.Is(err, domain.ErrInvalidSettings) {
		t.Fatalf("bad tag: %v", err)
	}

	err := h.sess.UpdateSettings(context.Background(), func(st *domain.Settings) { st.Rate = 10 })
	if !errors.Is(err, domain.ErrInvalidSettings) {
		t.Fatalf("out of range rate: %v", err)
	}
	if h.sess.Settings().Rate != 1.0 {
		t.Fatal("a rejected update must not change settings")
	}

	// A fresh session over the same store picks the language up.
	h2 := newHarness(t, WithSettingsStore(store))
	h2.init(t)
	if got := h2.sess.Settings().InputLanguage; got != "fr-FR" {
		t.Fatalf("reloaded language = %s", got)
	}
}

func TestCorruptSettingsFallBackToDefaults(t *testing.T) {
	store := &memSettings{blobs: map[string][]byte{DefaultSettingsKey: []byte(`{"rate": -3}`)}}
	h := newHarness(t, WithSettingsStore(store))
	h.init(t)
	if got := h.sess.Settings(); got != domain.DefaultSettings() {
		t.Fatalf("settings = %+v, want defaults", got)
	}
}

func TestDisablingVoice(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	h.listen(t)

	if err := h.sess.UpdateSettings(context.Background(), func(st *domain.Settings) { st.VoiceEnabled = false }); err != nil {
		t.Fatalf("update: %v", err)
	}
	if h.sess.IsListening() {
		t.Fatal("disabling voice should end listening")
	}
	if err := h.sess.StartListening(context.Background(), "", false); !errors.Is(err, domain.ErrVoiceDisabled) {
		t.Fatalf("start with voice off: %v", err)
	}
	if _, err := h.sess.Speak("hello", speech.Options{}); !errors.Is(err, domain.ErrVoiceDisabled) {
		t.Fatalf("speak with voice off: %v", err)
	}
}

func TestTranscriptClearedOnIdleAfterDispatch(t *testing.T) {
	st := quietSettings()
	st.AutoFeedback = false
	h := newHarness(t, WithDefaultSettings(st))
	h.disp.Register("", "goHome", func(context.Context, domain.ParsedCommand, dispatch.Request) (dispatch.Result, error) {
		return dispatch.Result{Message: "Home."}, nil
	})
	h.init(t)
	h.listen(t)

	h.rec.emit(domain.FinalResult{Text: "go home"})

	h.waitFor(t, "idle after dispatch", becameState(domain.StateIdle))
	if got := h.sess.CurrentTranscript(); got != "" {
		t.Fatalf("transcript = %q after dispatch, want empty", got)
	}
	if d := h.sess.Diagnose(); d.Transcript != "" {
		t.Fatalf("diagnostics transcript = %q", d.Transcript)
	}
}

func TestTranscriptClearedOnEndWithoutResult(t *testing.T) {
	h := newHarness(t, WithDefaultSettings(quietSettings()))
	h.init(t)
	h.listen(t)

	h.rec.emit(domain.PartialResult{Text: "open no"})
	h.rec.emit(domain.RecognitionEnded{})

	if got := h.sess.State(); got != domain.StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if got := h.sess.CurrentTranscript(); got != "" {
		t.Fatalf("transcript = %q, want empty", got)
	}
}

func TestBlankSpeakIsNoop(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	h.listen(t)

	id, err := h.sess.Speak("   \t", speech.Options{})
	if err != nil || id != 0 {
		t.Fatalf("speak blank: id=%d err=%v", id, err)
	}
	if !h.sess.IsListening() {
		t.Fatalf("state = %s, blank speech must not interrupt listening", h.sess.State())
	}
	if _, _, cancels := h.rec.counts(); cancels != 0 {
		t.Fatalf("engine cancels = %d", cancels)
	}
	if err := h.sess.CancelListening(); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := h.sess.Speak("  ", speech.Options{}); err != nil {
		t.Fatalf("speak blank while idle: %v", err)
	}
	if h.sess.IsSpeaking() || h.sess.State() != domain.StateIdle {
		t.Fatalf("state = %s speaking = %v", h.sess.State(), h.sess.IsSpeaking())
	}
}

func TestBlankHandlerMessageReturnsToIdle(t *testing.T) {
	h := newHarness(t, WithDefaultSettings(quietSettings()))
	h.disp.Register("", "goHome", func(context.Context, domain.ParsedCommand, dispatch.Request) (dispatch.Result, error) {
		return dispatch.Result{Message: "  \n"}, nil
	})
	h.init(t)
	h.listen(t)

	h.rec.emit(domain.FinalResult{Text: "go home"})

	h.waitFor(t, "idle after silent handler", becameState(domain.StateIdle))
	if h.sess.IsSpeaking() {
		t.Fatal("nothing to say, session should not be speaking")
	}
	select {
	case text := <-h.speaker.started:
		t.Fatalf("spoke %q", text)
	default:
	}
}

func TestVoicePreferenceOverridesStoredSetting(t *testing.T) {
	blob := []byte(`{"voiceEnabled": true}`)
	tests := []struct {
		name string
		pref VoicePreference
		want bool
	}{
		{"disabled", func(context.Context) (bool, bool, error) { return false, true, nil }, false},
		{"no preference", func(context.Context) (bool, bool, error) { return false, false, nil }, true},
		{"unreadable", func(context.Context) (bool, bool, error) { return false, true, errors.New("denied") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memSettings{blobs: map[string][]byte{DefaultSettingsKey: blob}}
			h := newHarness(t, WithSettingsStore(store), WithVoicePreference(tt.pref))
			h.init(t)
			if got := h.sess.Settings().VoiceEnabled; got != tt.want {
				t.Fatalf("voiceEnabled = %v, want %v", got, tt.want)
			}
		})
	}

	store := &memSettings{blobs: map[string][]byte{DefaultSettingsKey: blob}}
	h := newHarness(t, WithSettingsStore(store), WithVoicePreference(tests[0].pref))
	h.init(t)
	if err := h.sess.StartListening(context.Background(), "", false); !errors.Is(err, domain.ErrVoiceDisabled) {
		t.Fatalf("start with voice preference off: %v", err)
	}
}
