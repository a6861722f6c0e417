package recognition

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	audiotranscriber "github.com/sklyt/whisper/pkg"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

// WhisperOption configures the WhisperEngine.
type WhisperOption func(*WhisperEngine)

// WithChunkDuration sets how long each recorded chunk lasts.
func WithChunkDuration(d time.Duration) WhisperOption {
	return func(w *WhisperEngine) { w.chunk = d }
}

// WithTempDir sets the directory for temporary WAV files.
func WithTempDir(dir string) WhisperOption {
	return func(w *WhisperEngine) { w.tempDir = dir }
}

// WithEndpointChunks sets how many silent chunks after speech end the
// utterance. Zero disables endpointing; the caller must Stop.
func WithEndpointChunks(n int) WhisperOption {
	return func(w *WhisperEngine) { w.endpoint = n }
}

// WhisperEngine is a RecognitionEngine backed by a local whisper.cpp model.
// It records the microphone in short chunks, transcribes each one, and
// reports the accumulated text as partial results.
type WhisperEngine struct {
	bin      string
	model    string
	tempDir  string
	chunk    time.Duration
	endpoint int
	log      *logger.Logger

	mu       sync.Mutex
	listener func(domain.Event)
	cur      *whisperRun
}

// whisperRun is one recording session.
type whisperRun struct {
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWhisperEngine creates an engine for the given whisper-cli binary and
// GGML model.
func NewWhisperEngine(bin, model string, log *logger.Logger, opts ...WhisperOption) *WhisperEngine {
	w := &WhisperEngine{
		bin:      bin,
		model:    model,
		tempDir:  ".voxengine-stt",
		chunk:    time.Second,
		endpoint: 2,
		log:      log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetListener registers the event sink.
func (w *WhisperEngine) SetListener(fn func(domain.Event)) {
	w.mu.Lock()
	w.listener = fn
	w.mu.Unlock()
}

// Available reports whether the binary and model are present.
func (w *WhisperEngine) Available(_ context.Context) error {
	if _, err := exec.LookPath(w.bin); err != nil {
		return fmt.Errorf("whisper binary %q not found: %w", w.bin, err)
	}
	if _, err := os.Stat(w.model); err != nil {
		return fmt.Errorf("whisper model %q: %w", w.model, err)
	}
	return nil
}

// Start begins recording in the background.
func (w *WhisperEngine) Start(ctx context.Context, language string, partialResults bool) error {
	w.mu.Lock()
	if w.cur != nil {
		w.mu.Unlock()
		return domain.ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &whisperRun{cancel: cancel, stop: make(chan struct{})}
	w.cur = r
	w.mu.Unlock()

	w.log.Debug("whisper: start (lang=%s, chunk=%s)", language, w.chunk)
	go w.run(runCtx, r, language, partialResults)
	return nil
}

// Stop finishes the current chunk and reports what was heard.
func (w *WhisperEngine) Stop() error {
	w.mu.Lock()
	r := w.cur
	w.mu.Unlock()
	if r != nil {
		r.stopOnce.Do(func() { close(r.stop) })
	}
	return nil
}

// Cancel abandons the session without reporting a result. It does not wait
// for the recorder to wind down.
func (w *WhisperEngine) Cancel() error {
	w.mu.Lock()
	r := w.cur
	w.cur = nil
	w.mu.Unlock()
	if r != nil {
		r.cancel()
	}
	return nil
}

func (w *WhisperEngine) emit(ev domain.Event) {
	w.mu.Lock()
	fn := w.listener
	w.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// release detaches r so a new session can start before r's final event
// has been delivered.
func (w *WhisperEngine) release(r *whisperRun) {
	w.mu.Lock()
	if w.cur == r {
		w.cur = nil
	}
	w.mu.Unlock()
}

// run records chunks until stopped, cancelled, or the user goes quiet.
func (w *WhisperEngine) run(ctx context.Context, r *whisperRun, language string, partial bool) {
	defer r.cancel()
	defer w.release(r)
	stop := r.stop

	w.emit(domain.RecognitionStarted{Language: language})

	var parts []string
	silent := 0
	for {
		text, err := w.recordChunk(ctx, stop)
		if ctx.Err() != nil {
			w.log.Debug("whisper: cancelled")
			return
		}
		if err != nil {
			w.release(r)
			w.emit(domain.RecognitionFailed{Message: err.Error()})
			return
		}

		if text = cleanTranscript(text); text != "" {
			silent = 0
			parts = append(parts, text)
			w.log.Debug("whisper: chunk %q", text)
			if partial {
				w.emit(domain.PartialResult{Text: strings.Join(parts, " ")})
			}
		} else if len(parts) > 0 {
			silent++
		}

		stopped := false
		select {
		case <-stop:
			stopped = true
		default:
		}
		if stopped || (w.endpoint > 0 && silent >= w.endpoint) {
			break
		}
	}

	w.release(r)
	if len(parts) == 0 {
		w.emit(domain.RecognitionEnded{})
		return
	}
	w.emit(domain.FinalResult{Text: strings.Join(parts, " ")})
}

// recordChunk records one chunk and returns its transcript. A stop request
// cuts the chunk short but keeps what was recorded; cancellation drops it.
func (w *WhisperEngine) recordChunk(ctx context.Context, stop <-chan struct{}) (string, error) {
	var (
		result string
		wg     sync.WaitGroup
	)
	wg.Add(1)
	callback := func(text string) {
		result = text
		wg.Done()
	}

	verbose := w.log.GetLevel() >= logger.LevelVerbose
	t, err := audiotranscriber.NewTranscriber(w.bin, w.model, w.tempDir, "wav", callback, verbose)
	if err != nil {
		return "", fmt.Errorf("transcriber init: %w", err)
	}
	if err := t.Start(); err != nil {
		return "", fmt.Errorf("recording start: %w", err)
	}

	select {
	case <-time.After(w.chunk):
	case <-stop:
	case <-ctx.Done():
		t.Stop()
		wg.Wait()
		return "", ctx.Err()
	}

	t.Stop()
	wg.Wait()
	return result, nil
}
