// Package recognition wraps the process's single speech-to-text engine.
//
// The Adapter owns the start/stop/cancel contract: it rejects a second start
// while a session is live, turns a start that never produces audio into a
// synthetic error, filters events that arrive after a session was abandoned,
// and fans accepted events out to subscribers.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
	"github.com/hammamikhairi/voxengine/internal/timer"
)

// DefaultStartGrace is how long the engine has to confirm a start.
const DefaultStartGrace = 3 * time.Second

// phase tracks one recognition session.
type phase int

const (
	phaseIdle     phase = iota
	phaseStarting       // start requested, waiting for RecognitionStarted
	phaseActive         // capturing
	phaseStopping       // stop requested, waiting for final or end
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseStarting:
		return "starting"
	case phaseActive:
		return "active"
	case phaseStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithStartGrace sets how long a start may go unconfirmed before it is
// reported as failed.
func WithStartGrace(d time.Duration) Option {
	return func(a *Adapter) { a.grace = d }
}

// Status is a snapshot of the adapter for diagnostics.
type Status struct {
	Phase       string `json:"phase"`
	Language    string `json:"language"`
	Attached    bool   `json:"attached"`
	Unavailable bool   `json:"unavailable"`
	Subscribers int    `json:"subscribers"`
}

// Adapter mediates between one RecognitionEngine and its consumers.
type Adapter struct {
	engine     domain.RecognitionEngine
	log        *logger.Logger
	grace      time.Duration
	graceTimer *timer.Deadline

	mu          sync.Mutex
	phase       phase
	gen         uint64
	cancelled   bool
	attached    bool
	unavailable bool
	language    string
	subs        map[int]func(domain.Event)
	nextSub     int
}

// NewAdapter creates an adapter for engine. Call Attach before Start.
func NewAdapter(engine domain.RecognitionEngine, log *logger.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		engine: engine,
		log:    log,
		grace:  DefaultStartGrace,
		subs:   make(map[int]func(domain.Event)),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.graceTimer = timer.NewDeadline("recognition-grace", log)
	return a
}

// Attach registers the adapter as the engine's listener. It is safe to call
// repeatedly: only the first call reaches the engine, so events are never
// delivered twice. It reports whether this call performed the registration.
func (a *Adapter) Attach() bool {
	a.mu.Lock()
	if a.attached {
		a.mu.Unlock()
		a.log.Debug("recognition: listener already registered, skipping")
		return false
	}
	a.attached = true
	a.mu.Unlock()

	a.engine.SetListener(a.onEngineEvent)
	a.log.Debug("recognition: listener registered")
	return true
}

// Subscribe adds an event consumer and returns a function that removes it.
func (a *Adapter) Subscribe(fn func(domain.Event)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

// Probe asks the engine whether the device can recognize speech. Engines
// that cannot tell are assumed capable.
func (a *Adapter) Probe(ctx context.Context) error {
	p, ok := a.engine.(domain.CapabilityProber)
	if !ok {
		return nil
	}
	return p.Available(ctx)
}

// Start begins a recognition session. It fails with domain.ErrAlreadyActive
// while a session is live and with domain.ErrRecognitionUnavailable once the
// device has been found incapable. Engine failures are also delivered to
// subscribers as RecognitionFailed.
func (a *Adapter) Start(ctx context.Context, language string, partialResults bool) error {
	a.mu.Lock()
	if a.unavailable {
		a.mu.Unlock()
		return domain.ErrRecognitionUnavailable
	}
	if a.phase != phaseIdle {
		p := a.phase
		a.mu.Unlock()
		a.log.Warn("recognition: start rejected, session is %s", p)
		return domain.ErrAlreadyActive
	}
	a.mu.Unlock()

	if err := a.Probe(ctx); err != nil {
		a.reportCapability(err)
		return fmt.Errorf("%w: %v", domain.ErrRecognitionUnavailable, err)
	}

	a.mu.Lock()
	if a.phase != phaseIdle {
		a.mu.Unlock()
		return domain.ErrAlreadyActive
	}
	a.phase = phaseStarting
	a.cancelled = false
	a.language = language
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	a.graceTimer.Arm(a.grace, func() { a.graceExpired(gen) })
	a.log.Debug("recognition: starting (lang=%s, partial=%v)", language, partialResults)

	if err := a.engine.Start(ctx, language, partialResults); err != nil {
		a.graceTimer.Cancel()
		a.mu.Lock()
		if a.gen == gen {
			a.phase = phaseIdle
		}
		a.mu.Unlock()

		msg := domain.ErrorMessage(err)
		a.log.Error("recognition: engine start failed: %s", msg)
		a.publish(domain.RecognitionFailed{Message: "speech recognition failed to start: " + msg})
		return fmt.Errorf("starting recognition: %w", err)
	}
	return nil
}

// Stop asks the engine to finalize the current session. Stopping before the
// engine confirmed the start cancels instead. No-op when idle.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	switch a.phase {
	case phaseStarting:
		a.mu.Unlock()
		return a.Cancel()
	case phaseActive:
		a.phase = phaseStopping
		a.mu.Unlock()
	default:
		a.mu.Unlock()
		return nil
	}

	a.log.Debug("recognition: stopping")
	if err := a.engine.Stop(); err != nil {
		return fmt.Errorf("stopping recognition: %w", err)
	}
	return nil
}

// Cancel discards the current session. Subscribers receive a cancelled
// RecognitionEnded; anything the engine emits afterwards is dropped.
func (a *Adapter) Cancel() error {
	a.mu.Lock()
	if a.phase == phaseIdle {
		a.mu.Unlock()
		return nil
	}
	a.phase = phaseIdle
	a.cancelled = true
	a.gen++
	a.mu.Unlock()

	a.graceTimer.Cancel()
	a.log.Debug("recognition: cancelled")

	err := a.engine.Cancel()
	a.publish(domain.RecognitionEnded{Cancelled: true})
	if err != nil {
		return fmt.Errorf("cancelling recognition: %w", err)
	}
	return nil
}

// Active reports whether a session is starting, capturing or stopping.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase != phaseIdle
}

// Status returns a diagnostic snapshot.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Phase:       a.phase.String(),
		Language:    a.language,
		Attached:    a.attached,
		Unavailable: a.unavailable,
		Subscribers: len(a.subs),
	}
}

// graceExpired fires when a start was never confirmed.
func (a *Adapter) graceExpired(gen uint64) {
	a.mu.Lock()
	if a.gen != gen || a.phase != phaseStarting {
		a.mu.Unlock()
		return
	}
	a.phase = phaseIdle
	a.gen++
	a.mu.Unlock()

	_ = a.engine.Cancel()

	// Distinguish a device that cannot listen from an engine that silently
	// ignored the request.
	if err := a.Probe(context.Background()); err != nil {
		a.reportCapability(err)
		return
	}
	msg := fmt.Sprintf("speech recognition did not start within %s", a.grace)
	a.log.Error("recognition: %s", msg)
	a.publish(domain.RecognitionFailed{Message: msg})
}

// reportCapability marks the device incapable and reports it once.
func (a *Adapter) reportCapability(cause error) {
	a.mu.Lock()
	already := a.unavailable
	a.unavailable = true
	a.mu.Unlock()
	if already {
		return
	}

	msg := "this device cannot listen: " + domain.ErrorMessage(cause)
	a.log.Error("recognition: %s", msg)
	a.publish(domain.RecognitionFailed{Message: msg, Capability: true})
}

// onEngineEvent filters engine events against the session phase and
// forwards the ones that still belong to a live session.
func (a *Adapter) onEngineEvent(ev domain.Event) {
	a.mu.Lock()
	accept := false
	switch e := ev.(type) {
	case domain.RecognitionStarted:
		if a.phase == phaseStarting {
			a.phase = phaseActive
			accept = true
		}
	case domain.PartialResult:
		accept = a.phase == phaseActive || a.phase == phaseStopping
	case domain.FinalResult:
		if a.phase == phaseActive || a.phase == phaseStopping {
			a.phase = phaseIdle
			accept = true
		}
	case domain.RecognitionEnded:
		if a.phase != phaseIdle {
			a.phase = phaseIdle
			accept = true
		}
	case domain.RecognitionFailed:
		// Errors trailing a finished session are still reported; errors
		// trailing a cancelled one are not.
		if a.phase != phaseIdle || !a.cancelled {
			a.phase = phaseIdle
			accept = true
		}
		if e.Capability {
			a.unavailable = true
		}
	}
	p := a.phase
	a.mu.Unlock()

	if !accept {
		a.log.Debug("recognition: dropped stale %s (phase=%s)", ev.Kind(), p)
		return
	}
	switch ev.(type) {
	case domain.RecognitionStarted, domain.FinalResult, domain.RecognitionEnded, domain.RecognitionFailed:
		a.graceTimer.Cancel()
	}
	a.publish(ev)
}

func (a *Adapter) publish(ev domain.Event) {
	a.mu.Lock()
	subs := make([]func(domain.Event), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// IsUnavailable reports whether err means the device cannot recognize speech.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrRecognitionUnavailable)
}
