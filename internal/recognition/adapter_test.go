package recognition

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

type fakeEngine struct {
	mu           sync.Mutex
	listener     func(domain.Event)
	setListeners int
	starts       int
	stops        int
	cancels      int
	startErr     error
	availErr     error
}

func (f *fakeEngine) Start(context.Context, string, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Cancel() error {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) SetListener(fn func(domain.Event)) {
	f.mu.Lock()
	f.listener = fn
	f.setListeners++
	f.mu.Unlock()
}

func (f *fakeEngine) emit(ev domain.Event) {
	f.mu.Lock()
	fn := f.listener
	f.mu.Unlock()
	fn(ev)
}

func (f *fakeEngine) counts() (starts, stops, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.cancels
}

// probingEngine adds a capability probe to fakeEngine.
type probingEngine struct {
	*fakeEngine
}

func (p probingEngine) Available(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availErr
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	ch     chan domain.Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan domain.Event, 32)}
}

func (r *recorder) record(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *recorder) wait(t *testing.T, kind domain.EventKind) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind() == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
			return nil
		}
	}
}

func newTestAdapter(t *testing.T, eng domain.RecognitionEngine, opts ...Option) (*Adapter, *recorder) {
	t.Helper()
	a := NewAdapter(eng, logger.New(logger.LevelOff, nil), opts...)
	a.Attach()
	rec := newRecorder()
	a.Subscribe(rec.record)
	return a, rec
}

func TestAttachRegistersOnce(t *testing.T) {
	eng := &fakeEngine{}
	a, rec := newTestAdapter(t, eng)

	if a.Attach() {
		t.Fatal("second Attach should be skipped")
	}
	if eng.setListeners != 1 {
		t.Fatalf("SetListener called %d times, want 1", eng.setListeners)
	}

	if err := a.Start(context.Background(), "en-US", true); err != nil {
		t.Fatalf("start: %v", err)
	}
	eng.emit(domain.RecognitionStarted{Language: "en-US"})
	if n := len(rec.all()); n != 1 {
		t.Fatalf("got %d events, want exactly 1", n)
	}
}

func TestStartWhileActiveRejected(t *testing.T) {
	eng := &fakeEngine{}
	a, _ := newTestAdapter(t, eng)

	if err := a.Start(context.Background(), "en-US", true); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(context.Background(), "en-US", true); !errors.Is(err, domain.ErrAlreadyActive) {
		t.Fatalf("second start: got %v, want ErrAlreadyActive", err)
	}
	if starts, _, _ := eng.counts(); starts != 1 {
		t.Fatalf("engine started %d times", starts)
	}
}

func TestFullSession(t *testing.T) {
	eng := &fakeEngine{}
	a, rec := newTestAdapter(t, eng)

	if err := a.Start(context.Background(), "en-US", true); err != nil {
		t.Fatalf("start: %v", err)
	}
	eng.emit(domain.RecognitionStarted{Language: "en-US"})
	eng.emit(domain.PartialResult{Text: "go"})
	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, stops, _ := eng.counts(); stops != 1 {
		t.Fatalf("engine stopped %d times", stops)
	}
	eng.emit(domain.PartialResult{Text: "go home"})
	eng.emit(domain.FinalResult{Text: "go home"})

	want := []domain.EventKind{
		domain.KindRecognitionStarted,
		domain.KindPartialResult,
		domain.KindPartialResult,
		domain.KindFinalResult,
	}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i, ev := range got {
		if ev.Kind() != want[i] {
			t.Fatalf("event %d = %s, want %s", i, ev.Kind(), want[i])
		}
	}
	if a.Active() {
		t.Fatal("adapter should be idle after the final result")
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	eng := &fakeEngine{}
	a, rec := newTestAdapter(t, eng)

	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, stops, cancels := eng.counts(); stops != 0 || cancels != 0 {
		t.Fatalf("engine touched: stops=%d cancels=%d", stops, cancels)
	}
	if len(rec.all()) != 0 {
		t.Fatal("no events expected")
	}
}

func TestCancelDropsLateResults(t *testing.T) {
	eng := &fakeEngine{}
	a, rec := newTestAdapter(t, eng)

	_ = a.Start(context.Background(), "en-US", true)
	eng.emit(domain.RecognitionStarted{})
	if err := a.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	ended := rec.wait(t, domain.KindRecognitionEnded).(domain.RecognitionEnded)
	if !ended.Cancelled {
		t.Fatal("cancel should report a cancelled end")
	}

	eng.emit(domain.PartialResult{Text: "late"})
	eng.emit(domain.FinalResult{Text: "late"})
	eng.emit(domain.RecognitionFailed{Message: "aborted"})
	for _, ev := range rec.all() {
		switch ev.(type) {
		case domain.FinalResult, domain.PartialResult, domain.RecognitionFailed:
			t.Fatalf("stale %s delivered after cancel", ev.Kind())
		}
	}
}

func TestStopWhileStartingCancels(t *testing.T) {
	eng := &fakeEngine{}
	a, rec := newTestAdapter(t, eng)

	_ = a.Start(context.Background(), "en-US", true)
	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, stops, cancels := eng.counts(); stops != 0 || cancels != 1 {
		t.Fatalf("stops=%d cancels=%d, want 0/1", stops, cancels)
	}
	rec.wait(t, domain.KindRecognitionEnded)

	// A late confirmation must not revive the session.
	eng.emit(domain.RecognitionStarted{})
	if a.Active() {
		t.Fatal("late start revived a cancelled session")
	}
}

func TestStartGraceExpires(t *testing.T) {
	eng := &fakeEngine{}
	a, rec := newTestAdapter(t, eng, WithStartGrace(20*time.Millisecond))

	if err := a.Start(context.Background(), "en-US", true); err != nil {
		t.Fatalf("start: %v", err)
	}
	failed := rec.wait(t, domain.KindRecognitionFailed).(domain.RecognitionFailed)
	if !strings.Contains(failed.Message, "did not start") {
		t.Fatalf("message = %q", failed.Message)
	}
	if failed.Capability {
		t.Fatal("a slow engine is not a capability failure")
	}
	if a.Active() {
		t.Fatal("adapter should be idle after the grace period")
	}
	if _, _, cancels := eng.counts(); cancels != 1 {
		t.Fatalf("engine cancelled %d times, want 1", cancels)
	}

	// The session can be retried.
	if err := a.Start(context.Background(), "en-US", true); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestConfirmedStartDisarmsGrace(t *testing.T) {
	eng := &fakeEngine{}
	a, rec := newTestAdapter(t, eng, WithStartGrace(20*time.Millisecond))

	_ = a.Start(context.Background(), "en-US", true)
	eng.emit(domain.RecognitionStarted{})
	time.Sleep(60 * time.Millisecond)

	for _, ev := range rec.all() {
		if ev.Kind() == domain.KindRecognitionFailed {
			t.Fatal("grace fired after the engine confirmed")
		}
	}
	if !a.Active() {
		t.Fatal("session should still be active")
	}
}

func TestCapabilityFailureReportedOnce(t *testing.T) {
	eng := probingEngine{&fakeEngine{availErr: errors.New("no microphone")}}
	a, rec := newTestAdapter(t, eng)

	err := a.Start(context.Background(), "en-US", true)
	if !IsUnavailable(err) {
		t.Fatalf("got %v, want ErrRecognitionUnavailable", err)
	}
	failed := rec.wait(t, domain.KindRecognitionFailed).(domain.RecognitionFailed)
	if !failed.Capability || !strings.Contains(failed.Message, "cannot listen") {
		t.Fatalf("unexpected failure %+v", failed)
	}

	if err := a.Start(context.Background(), "en-US", true); !IsUnavailable(err) {
		t.Fatalf("second start: %v", err)
	}
	if n := len(rec.all()); n != 1 {
		t.Fatalf("capability failure reported %d times", n)
	}
	if starts, _, _ := eng.counts(); starts != 0 {
		t.Fatal("engine should never have been started")
	}
	if !a.Status().Unavailable {
		t.Fatal("status should report unavailable")
	}
}

func TestEngineStartError(t *testing.T) {
	eng := &fakeEngine{startErr: errors.New("busy")}
	a, rec := newTestAdapter(t, eng)

	if err := a.Start(context.Background(), "en-US", true); err == nil {
		t.Fatal("expected an error")
	}
	failed := rec.wait(t, domain.KindRecognitionFailed).(domain.RecognitionFailed)
	if !strings.Contains(failed.Message, "busy") {
		t.Fatalf("message = %q", failed.Message)
	}
	if a.Active() {
		t.Fatal("adapter should be idle")
	}
}

func TestUnsubscribe(t *testing.T) {
	eng := &fakeEngine{}
	a := NewAdapter(eng, logger.New(logger.LevelOff, nil))
	a.Attach()
	rec := newRecorder()
	unsub := a.Subscribe(rec.record)
	unsub()

	_ = a.Start(context.Background(), "en-US", true)
	eng.emit(domain.RecognitionStarted{})
	if len(rec.all()) != 0 {
		t.Fatal("unsubscribed listener received events")
	}
}

func TestTextEngineThroughAdapter(t *testing.T) {
	eng := NewTextEngine()
	a, rec := newTestAdapter(t, eng)

	if err := a.Start(context.Background(), "en-US", true); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.wait(t, domain.KindRecognitionStarted)
	eng.Submit("  go home ")
	final := rec.wait(t, domain.KindFinalResult).(domain.FinalResult)
	if final.Text != "go home" {
		t.Fatalf("final = %q", final.Text)
	}

	// A new session can start immediately after the final result.
	if err := a.Start(context.Background(), "en-US", false); err != nil {
		t.Fatalf("restart: %v", err)
	}
	rec.wait(t, domain.KindRecognitionStarted)
	if err := a.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	rec.wait(t, domain.KindRecognitionEnded)
}

func TestCleanTranscript(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  go   home \n", "go home"},
		{"[BLANK_AUDIO]", ""},
		{"(keyboard clicking) next question", "next question"},
		{"[00:00:00.000 --> 00:00:02.000]  next", "next"},
		{"Thank you.", ""},
		{"you", ""},
		{"thank you for the help", "thank you for the help"},
	}
	for _, tt := range tests {
		if got := cleanTranscript(tt.in); got != tt.want {
			t.Errorf("cleanTranscript(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
