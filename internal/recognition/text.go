package recognition

import (
	"context"
	"strings"
	"sync"

	"github.com/hammamikhairi/voxengine/internal/domain"
)

// TextEngine is a RecognitionEngine fed with typed lines. Each session
// yields the next submitted line as its final result. It backs the console
// mode and tests.
type TextEngine struct {
	lines chan string

	mu       sync.Mutex
	listener func(domain.Event)
	cur      *textRun
}

type textRun struct {
	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTextEngine creates a text engine that buffers up to 8 lines.
func NewTextEngine() *TextEngine {
	return &TextEngine{lines: make(chan string, 8)}
}

// SetListener registers the event sink.
func (t *TextEngine) SetListener(fn func(domain.Event)) {
	t.mu.Lock()
	t.listener = fn
	t.mu.Unlock()
}

// Submit queues a line for the current or next session. It reports false
// when the buffer is full.
func (t *TextEngine) Submit(line string) bool {
	select {
	case t.lines <- line:
		return true
	default:
		return false
	}
}

// Start begins a session in the background.
func (t *TextEngine) Start(ctx context.Context, language string, partialResults bool) error {
	t.mu.Lock()
	if t.cur != nil {
		t.mu.Unlock()
		return domain.ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &textRun{ctx: runCtx, cancel: cancel, stop: make(chan struct{})}
	t.cur = r
	t.mu.Unlock()

	go t.run(r, language, partialResults)
	return nil
}

// Stop ends the session. A line not yet submitted is not waited for.
func (t *TextEngine) Stop() error {
	t.mu.Lock()
	r := t.cur
	t.mu.Unlock()
	if r != nil {
		r.stopOnce.Do(func() { close(r.stop) })
	}
	return nil
}

// Cancel abandons the session silently.
func (t *TextEngine) Cancel() error {
	t.mu.Lock()
	r := t.cur
	t.cur = nil
	t.mu.Unlock()
	if r != nil {
		r.cancel()
	}
	return nil
}

func (t *TextEngine) emit(r *textRun, ev domain.Event) {
	if r.ctx.Err() != nil {
		return
	}
	t.mu.Lock()
	fn := t.listener
	t.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// release detaches r so a new session can start before r's final event
// has been delivered.
func (t *TextEngine) release(r *textRun) {
	t.mu.Lock()
	if t.cur == r {
		t.cur = nil
	}
	t.mu.Unlock()
}

func (t *TextEngine) run(r *textRun, language string, partial bool) {
	defer r.cancel()
	defer t.release(r)

	t.emit(r, domain.RecognitionStarted{Language: language})

	select {
	case line := <-t.lines:
		line = strings.TrimSpace(line)
		if partial && line != "" {
			t.emit(r, domain.PartialResult{Text: line})
		}
		t.release(r)
		if line == "" {
			t.emit(r, domain.RecognitionEnded{})
			return
		}
		t.emit(r, domain.FinalResult{Text: line})
	case <-r.stop:
		t.release(r)
		t.emit(r, domain.RecognitionEnded{})
	case <-r.ctx.Done():
	}
}
