// Package speech is the output side of the engine: a strictly serialized
// utterance queue in front of a SpeechEngine, the engines themselves, and
// the phrases the session speaks back to the user.
package speech

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

// Options shape a single utterance. Zero values fall back to neutral
// prosody and the queue's default language.
type Options struct {
	Rate      float64
	Pitch     float64
	Volume    float64
	Language  string
	SkipQueue bool // drop everything queued or playing first
}

// QueueOption configures the Queue.
type QueueOption func(*Queue)

// WithDefaultLanguage sets the language used when Options leave it empty.
func WithDefaultLanguage(code string) QueueOption {
	return func(q *Queue) { q.language = code }
}

type item struct {
	id       uint64
	req      domain.TTSRequest
	queuedAt time.Time
}

// Queue serializes utterances through one SpeechEngine. Only one item is in
// flight at a time and items play in the order they were queued.
type Queue struct {
	engine   domain.SpeechEngine
	log      *logger.Logger
	language string

	mu         sync.Mutex
	items      []item
	notify     chan struct{}
	processing bool
	current    uint64
	cancelCur  context.CancelFunc
	nextID     uint64
	lastSpoken string
	subs       map[int]func(domain.Event)
	nextSub    int
}

// NewQueue creates a queue in front of engine. Call Start to begin playing.
func NewQueue(engine domain.SpeechEngine, log *logger.Logger, opts ...QueueOption) *Queue {
	q := &Queue{
		engine:   engine,
		log:      log,
		language: "en-US",
		notify:   make(chan struct{}, 1),
		subs:     make(map[int]func(domain.Event)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Subscribe adds an event consumer and returns a function that removes it.
func (q *Queue) Subscribe(fn func(domain.Event)) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	}
}

// Speak queues text and returns its id. Empty text is ignored and returns
// 0. With SkipQueue the queue is cleared and the current item stopped
// before text is added.
func (q *Queue) Speak(text string, o Options) uint64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	if o.SkipQueue {
		q.Stop()
	}

	req := domain.TTSRequest{
		Text:     text,
		Rate:     orOne(o.Rate),
		Pitch:    orOne(o.Pitch),
		Volume:   orOne(o.Volume),
		Language: o.Language,
	}
	if req.Language == "" {
		req.Language = q.language
	}

	q.mu.Lock()
	q.nextID++
	id := q.nextID
	q.items = append(q.items, item{id: id, req: req, queuedAt: time.Now()})
	n := len(q.items)
	q.mu.Unlock()

	q.log.Debug("queue: queued #%d (pending=%d): %s", id, n, truncate(text, 60))

	select {
	case q.notify <- struct{}{}:
	default: // already signaled
	}
	return id
}

// Stop clears the queue and interrupts the item being spoken, if any.
func (q *Queue) Stop() {
	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	cancel := q.cancelCur
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		q.engine.Stop()
	}
	if dropped > 0 || cancel != nil {
		q.log.Debug("queue: stopped (dropped=%d, interrupted=%v)", dropped, cancel != nil)
	}
}

// IsProcessing reports whether an item is being spoken.
func (q *Queue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Len returns the number of items waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Current returns the id of the item being spoken, or 0.
func (q *Queue) Current() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// LastSpoken returns the text of the most recent item that played to the
// end.
func (q *Queue) LastSpoken() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSpoken
}

// Start begins the processing goroutine. Non-blocking.
func (q *Queue) Start(ctx context.Context) {
	go q.processLoop(ctx)
	q.log.Info("output queue started")
}

func (q *Queue) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.Stop()
			q.log.Info("output queue stopped")
			return
		case <-q.notify:
			q.drain(ctx)
		}
	}
}

// drain plays queued items until the queue is empty.
func (q *Queue) drain(ctx context.Context) {
	for ctx.Err() == nil {
		it, itemCtx, ok := q.dequeue(ctx)
		if !ok {
			return
		}
		q.play(itemCtx, it)
	}
}

// dequeue pops the oldest item and marks it in flight.
func (q *Queue) dequeue(ctx context.Context) (item, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item{}, nil, false
	}
	it := q.items[0]
	q.items = q.items[1:]

	itemCtx, cancel := context.WithCancel(ctx)
	q.processing = true
	q.current = it.id
	q.cancelCur = cancel
	return it, itemCtx, true
}

func (q *Queue) play(ctx context.Context, it item) {
	q.log.Debug("queue: speaking #%d (waited=%s): %s",
		it.id, time.Since(it.queuedAt).Round(time.Millisecond), truncate(it.req.Text, 60))
	q.publish(domain.SpeechStarted{ID: it.id, Request: it.req})

	err := q.engine.Speak(ctx, it.req)
	cancelled := ctx.Err() != nil

	q.mu.Lock()
	q.cancelCur()
	q.processing = false
	q.current = 0
	q.cancelCur = nil
	if err == nil && !cancelled {
		q.lastSpoken = it.req.Text
	}
	pending := len(q.items)
	q.mu.Unlock()

	switch {
	case cancelled:
		q.log.Debug("queue: #%d cancelled", it.id)
		q.publish(domain.SpeechCancelled{ID: it.id, Pending: pending})
	case err != nil:
		msg := domain.ErrorMessage(err)
		q.log.Error("queue: #%d failed: %s", it.id, msg)
		q.publish(domain.SpeechFailed{ID: it.id, Message: msg, Pending: pending})
	default:
		q.publish(domain.SpeechFinished{ID: it.id, Pending: pending})
	}
}

func (q *Queue) publish(ev domain.Event) {
	q.mu.Lock()
	subs := make([]func(domain.Event), 0, len(q.subs))
	for _, fn := range q.subs {
		subs = append(subs, fn)
	}
	q.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func orOne(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
