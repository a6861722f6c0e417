// Package dispatch routes resolved intents to application handlers. It owns
// the destructive-action confirmation policy and the command history.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

// Request is the context a handler runs in.
type Request struct {
	Screen string
	// ConfirmDestructive applies the confirmation policy to destructive
	// intents. When false they run straight away.
	ConfirmDestructive bool
}

// Result is what a handler reports back. A non-empty Screen switches the
// active screen; Message is spoken as feedback.
type Result struct {
	Message string
	Screen  string
}

// Handler performs one intent.
type Handler func(ctx context.Context, cmd domain.ParsedCommand, req Request) (Result, error)

// Status classifies an Outcome.
type Status string

const (
	StatusExecuted             Status = "executed"
	StatusFailed               Status = "failed"
	StatusNoResults            Status = "no_results"
	StatusNotConfigured        Status = "not_configured"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusCancelled            Status = "cancelled"
	StatusNothingToConfirm     Status = "nothing_to_confirm"
	StatusUnresolved           Status = "unresolved"
)

// ConfirmPolicy decides what happens to destructive intents.
type ConfirmPolicy string

const (
	// PolicyLog logs destructive intents and runs them.
	PolicyLog ConfirmPolicy = "log"
	// PolicyRequire parks destructive intents until the user confirms.
	PolicyRequire ConfirmPolicy = "require"
)

// DefaultConfirmWindow is how long a parked command waits for an answer.
const DefaultConfirmWindow = 30 * time.Second

// Outcome is the result of one Execute call.
type Outcome struct {
	Status  Status
	Command domain.ParsedCommand
	Result  Result
	Err     error
	Record  *domain.CommandRecord
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithPolicy sets the confirmation policy.
func WithPolicy(p ConfirmPolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithConfirmWindow sets how long a parked command stays valid.
func WithConfirmWindow(w time.Duration) Option {
	return func(d *Dispatcher) { d.window = w }
}

// WithHistoryStore persists every record in addition to the in-memory ring.
func WithHistoryStore(s domain.HistoryStore) Option {
	return func(d *Dispatcher) { d.store = s }
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

type handlerKey struct {
	screen string
	intent string
}

type pending struct {
	cmd     domain.ParsedCommand
	req     Request
	handler Handler
	expires time.Time
}

// Dispatcher maps (screen, intent) to handlers.
type Dispatcher struct {
	log     *logger.Logger
	policy  ConfirmPolicy
	window  time.Duration
	store   domain.HistoryStore
	now     func() time.Time
	history *History

	mu       sync.RWMutex
	handlers map[handlerKey]Handler
	parked   *pending
}

// New creates a dispatcher with an empty handler table.
func New(log *logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		policy:   PolicyLog,
		window:   DefaultConfirmWindow,
		now:      time.Now,
		history:  NewHistory(DefaultHistoryCap),
		handlers: make(map[handlerKey]Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds h to intent on screen. An empty screen or the universal
// screen makes the handler apply everywhere; a screen-specific handler
// takes precedence.
func (d *Dispatcher) Register(screen, intent string, h Handler) {
	if screen == "" {
		screen = domain.UniversalScreen
	}
	d.mu.Lock()
	d.handlers[handlerKey{screen, intent}] = h
	d.mu.Unlock()
	d.log.Debug("dispatch: handler for %s/%s registered", screen, intent)
}

// Unregister removes a handler.
func (d *Dispatcher) Unregister(screen, intent string) {
	if screen == "" {
		screen = domain.UniversalScreen
	}
	d.mu.Lock()
	delete(d.handlers, handlerKey{screen, intent})
	d.mu.Unlock()
}

// Handles reports whether an intent has a handler on screen.
func (d *Dispatcher) Handles(screen, intent string) bool {
	_, ok := d.lookup(screen, intent)
	return ok
}

func (d *Dispatcher) lookup(screen, intent string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if h, ok := d.handlers[handlerKey{screen, intent}]; ok {
		return h, true
	}
	h, ok := d.handlers[handlerKey{domain.UniversalScreen, intent}]
	return h, ok
}

// History returns the in-memory record ring.
func (d *Dispatcher) History() *History { return d.history }

// Policy returns the confirmation policy.
func (d *Dispatcher) Policy() ConfirmPolicy { return d.policy }

// Pending reports the command awaiting confirmation, if any.
func (d *Dispatcher) Pending() (domain.ParsedCommand, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.parked == nil || d.now().After(d.parked.expires) {
		return domain.ParsedCommand{}, false
	}
	return d.parked.cmd, true
}

// Execute runs the handler for cmd. It never returns an error: handler
// failures are carried in the Outcome and recorded in history.
func (d *Dispatcher) Execute(ctx context.Context, cmd domain.ParsedCommand, req Request) Outcome {
	if !cmd.Resolved() {
		return Outcome{Status: StatusUnresolved, Command: cmd}
	}

	if p := d.takeParked(); p != nil {
		switch cmd.Intent {
		case domain.IntentConfirm:
			d.log.Info("dispatch: %s confirmed", p.cmd.Intent)
			return d.run(ctx, p.cmd, p.req, p.handler)
		case domain.IntentCancelConfirm:
			d.log.Info("dispatch: %s cancelled", p.cmd.Intent)
			return Outcome{Status: StatusCancelled, Command: p.cmd}
		default:
			d.log.Info("dispatch: %s dropped, user moved on to %s", p.cmd.Intent, cmd.Intent)
		}
	}

	h, ok := d.lookup(req.Screen, cmd.Intent)
	if !ok {
		if cmd.Intent == domain.IntentConfirm || cmd.Intent == domain.IntentCancelConfirm {
			return Outcome{Status: StatusNothingToConfirm, Command: cmd}
		}
		d.log.Warn("dispatch: no handler for %s on screen %s", cmd.Intent, req.Screen)
		return Outcome{Status: StatusNotConfigured, Command: cmd}
	}

	if req.ConfirmDestructive && domain.IsDestructive(cmd.Intent) {
		if d.policy == PolicyRequire {
			d.park(cmd, req, h)
			d.log.Info("dispatch: %s awaits confirmation (window=%s)", cmd.Intent, d.window)
			return Outcome{Status: StatusAwaitingConfirmation, Command: cmd}
		}
		d.log.Info("dispatch: destructive intent %s proceeding (policy=%s)", cmd.Intent, d.policy)
	}

	return d.run(ctx, cmd, req, h)
}

// CancelPending drops a parked command. It reports whether one existed.
func (d *Dispatcher) CancelPending() bool {
	return d.takeParked() != nil
}

func (d *Dispatcher) park(cmd domain.ParsedCommand, req Request, h Handler) {
	d.mu.Lock()
	d.parked = &pending{cmd: cmd, req: req, handler: h, expires: d.now().Add(d.window)}
	d.mu.Unlock()
}

// takeParked removes and returns the parked command if it has not expired.
func (d *Dispatcher) takeParked() *pending {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.parked
	d.parked = nil
	if p == nil {
		return nil
	}
	if d.now().After(p.expires) {
		d.log.Debug("dispatch: confirmation for %s expired", p.cmd.Intent)
		return nil
	}
	return p
}

func (d *Dispatcher) run(ctx context.Context, cmd domain.ParsedCommand, req Request, h Handler) Outcome {
	res, err := safeCall(ctx, h, cmd, req)

	at := d.now()
	rec := domain.CommandRecord{
		ID:          d.history.NewID(at),
		Intent:      cmd.Intent,
		CommandName: cmd.CommandName,
		RawText:     cmd.RawText,
		Confidence:  cmd.Confidence,
		Timestamp:   at,
		Success:     err == nil,
		Result:      res.Message,
	}
	if err != nil {
		rec.Result = domain.ErrorMessage(err)
	}
	d.history.Append(rec)
	if d.store != nil {
		if serr := d.store.Append(ctx, rec); serr != nil {
			d.log.Error("dispatch: persisting record %s: %v", rec.ID, serr)
		}
	}

	out := Outcome{Command: cmd, Result: res, Err: err, Record: &rec}
	switch {
	case err == nil:
		out.Status = StatusExecuted
		d.log.Debug("dispatch: %s executed", cmd.Intent)
	case errors.Is(err, domain.ErrNoResults):
		out.Status = StatusNoResults
		d.log.Info("dispatch: %s found nothing", cmd.Intent)
	default:
		out.Status = StatusFailed
		d.log.Error("dispatch: %s failed: %v", cmd.Intent, err)
	}
	return out
}

// safeCall runs h and converts a panic into an error.
func safeCall(ctx context.Context, h Handler, cmd domain.ParsedCommand, req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", cmd.Intent, r)
		}
	}()
	return h(ctx, cmd, req)
}
