package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

func testLogger() *logger.Logger { return logger.New(logger.LevelOff, nil) }

// gateEngine blocks each utterance until released or stopped.
type gateEngine struct {
	mu      sync.Mutex
	spoken  []string
	release chan struct{}
	failOn  string
}

func newGateEngine() *gateEngine {
	return &gateEngine{release: make(chan struct{}, 16)}
}

func (g *gateEngine) Speak(ctx context.Context, req domain.TTSRequest) error {
	g.mu.Lock()
	g.spoken = append(g.spoken, req.Text)
	g.mu.Unlock()
	if req.Text == g.failOn {
		return errors.New("synthesis failed")
	}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gateEngine) Stop() {}

func (g *gateEngine) said() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.spoken...)
}

type eventLog struct {
	ch chan domain.Event
}

func (l *eventLog) next(t *testing.T) domain.Event {
	t.Helper()
	select {
	case ev := <-l.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

func newTestQueue(t *testing.T, eng domain.SpeechEngine) (*Queue, *eventLog) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	q := NewQueue(eng, testLogger())
	log := &eventLog{ch: make(chan domain.Event, 64)}
	q.Subscribe(func(ev domain.Event) { log.ch <- ev })
	q.Start(ctx)
	return q, log
}

func TestQueueFIFO(t *testing.T) {
	eng := newGateEngine()
	q, events := newTestQueue(t, eng)

	q.Speak("one", Options{})
	q.Speak("two", Options{})
	q.Speak("three", Options{})

	for i, want := range []string{"one", "two", "three"} {
		started := events.next(t).(domain.SpeechStarted)
		if started.Request.Text != want {
			t.Fatalf("item %d: started %q, want %q", i, started.Request.Text, want)
		}
		if !q.IsProcessing() {
			t.Fatal("queue should be processing while an item is in flight")
		}
		eng.release <- struct{}{}
		finished := events.next(t).(domain.SpeechFinished)
		if finished.Pending != 2-i {
			t.Fatalf("item %d: pending = %d, want %d", i, finished.Pending, 2-i)
		}
	}
	if q.LastSpoken() != "three" {
		t.Fatalf("last spoken = %q", q.LastSpoken())
	}
}

func TestQueueEmptyTextIgnored(t *testing.T) {
	q, _ := newTestQueue(t, newGateEngine())
	if id := q.Speak("   ", Options{}); id != 0 {
		t.Fatalf("empty text got id %d", id)
	}
	if q.Len() != 0 || q.IsProcessing() {
		t.Fatal("empty text should not be queued")
	}
}

func TestQueueDefaultsProsody(t *testing.T) {
	eng := newGateEngine()
	q, events := newTestQueue(t, eng)

	q.Speak("hello", Options{Language: "fr-FR"})
	req := events.next(t).(domain.SpeechStarted).Request
	if req.Rate != 1 || req.Pitch != 1 || req.Volume != 1 || req.Language != "fr-FR" {
		t.Fatalf("unexpected request %+v", req)
	}
	eng.release <- struct{}{}
}

func TestQueueSkipQueueInterrupts(t *testing.T) {
	eng := newGateEngine()
	q, events := newTestQueue(t, eng)

	q.Speak("long story", Options{})
	events.next(t) // started
	q.Speak("queued behind", Options{})

	q.Speak("urgent", Options{SkipQueue: true})
	if _, ok := events.next(t).(domain.SpeechCancelled); !ok {
		t.Fatal("expected the in-flight item to be cancelled")
	}
	started := events.next(t).(domain.SpeechStarted)
	if started.Request.Text != "urgent" {
		t.Fatalf("next item = %q, want urgent", started.Request.Text)
	}
	eng.release <- struct{}{}
	events.next(t) // finished

	for _, s := range eng.said() {
		if s == "queued behind" {
			t.Fatal("skipped item was spoken")
		}
	}
}

func TestQueueStopClearsEverything(t *testing.T) {
	eng := newGateEngine()
	q, events := newTestQueue(t, eng)

	q.Speak("a", Options{})
	events.next(t)
	q.Speak("b", Options{})
	q.Stop()

	if _, ok := events.next(t).(domain.SpeechCancelled); !ok {
		t.Fatal("expected the in-flight item to be cancelled")
	}
	if q.Len() != 0 {
		t.Fatalf("queue length = %d after stop", q.Len())
	}
	if q.IsProcessing() {
		t.Fatal("still processing after stop")
	}
}

func TestQueueReportsFailure(t *testing.T) {
	eng := newGateEngine()
	eng.failOn = "broken"
	q, events := newTestQueue(t, eng)

	q.Speak("broken", Options{})
	events.next(t)
	failed := events.next(t).(domain.SpeechFailed)
	if !strings.Contains(failed.Message, "synthesis failed") {
		t.Fatalf("message = %q", failed.Message)
	}
}

func TestSplitChunks(t *testing.T) {
	text := "First sentence here. Second one is a bit longer! Third? Fourth."
	chunks := splitChunks(text, 30)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %v", chunks)
	}
	if strings.Join(chunks, " ") != text {
		t.Fatalf("chunks lost text: %q", strings.Join(chunks, " "))
	}
	if got := splitChunks("short", 30); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text: %v", got)
	}
}

type fakeSynth struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSynth) Synthesize(_ context.Context, req domain.TTSRequest) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return []byte(req.Text), nil
}

func (f *fakeSynth) Voice() string { return "test-voice" }

type fakePlayer struct {
	mu     sync.Mutex
	played []string
}

func (f *fakePlayer) Play(_ context.Context, wav []byte, _ float64) error {
	f.mu.Lock()
	f.played = append(f.played, string(wav))
	f.mu.Unlock()
	return nil
}

func (f *fakePlayer) Stop() {}

func TestSynthEngineCachesAndOrders(t *testing.T) {
	synth := &fakeSynth{}
	player := &fakePlayer{}
	eng := NewSynthEngine(synth, player, testLogger(), WithChunkSize(20))

	req := domain.TTSRequest{Text: "One two three. Four five six. Seven.", Rate: 1, Pitch: 1, Volume: 1}
	if err := eng.Speak(context.Background(), req); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if strings.Join(player.played, " ") != req.Text {
		t.Fatalf("played out of order: %v", player.played)
	}
	first := synth.calls

	if err := eng.Speak(context.Background(), req); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if synth.calls != first {
		t.Fatalf("second speak re-synthesized (%d calls, want %d)", synth.calls, first)
	}

	// A different rate is a different waveform.
	req.Rate = 1.5
	_ = eng.Speak(context.Background(), req)
	if synth.calls == first {
		t.Fatal("rate change should miss the cache")
	}
}

func TestAzureClientSSML(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	c := NewAzureClient("key", "westeurope", testLogger(), WithEndpoint(srv.URL))
	audio, err := c.Synthesize(context.Background(), domain.TTSRequest{
		Text: "fish & chips", Rate: 1.25, Pitch: 0.9, Language: "en-GB",
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != "RIFF" {
		t.Fatalf("audio = %q", audio)
	}
	for _, want := range []string{"xml:lang='en-GB'", "rate='+25%'", "pitch='-10%'", "fish &amp; chips"} {
		if !strings.Contains(body, want) {
			t.Errorf("ssml missing %q: %s", want, body)
		}
	}

	bad := NewAzureClient("wrong", "westeurope", testLogger(), WithEndpoint(srv.URL))
	if _, err := bad.Synthesize(context.Background(), domain.TTSRequest{Text: "x"}); err == nil {
		t.Fatal("expected an error for a rejected key")
	}
}

func TestConsoleEngineStop(t *testing.T) {
	var printed []string
	eng := NewConsoleEngine(testLogger(), func(format string, a ...any) {
		printed = append(printed, format)
	}, time.Second)

	done := make(chan error, 1)
	go func() {
		done <- eng.Speak(context.Background(), domain.TTSRequest{Text: "a b c d e", Rate: 1})
	}()
	time.Sleep(20 * time.Millisecond)
	eng.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("speak: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stop did not interrupt the utterance")
	}
}

func TestLines(t *testing.T) {
	if got := HumanizeCommand("deleteNote"); got != "delete note" {
		t.Fatalf("HumanizeCommand = %q", got)
	}
	opts := []domain.Candidate{{CommandName: "nextQuestion"}, {CommandName: "nextSection"}}
	if got := LineClarify(opts); got != "Did you mean next question, or next section?" {
		t.Fatalf("LineClarify = %q", got)
	}
	if got := LineNotConfigured("openQuiz"); got != "Open quiz isn't available here." {
		t.Fatalf("LineNotConfigured = %q", got)
	}
	if LineNoResults() == LineNotUnderstood() || LineCapabilityUnavailable() == LineRecognitionFailed() {
		t.Fatal("distinct situations must have distinct lines")
	}
}
