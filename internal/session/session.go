// Package session implements the voice session: the state machine that sits
// between the recognition adapter, the intent parser, the dispatcher and the
// output queue, and the public surface applications drive it through.
//
// The session is the only writer of its state. Adapter, queue and timer
// callbacks arrive on their own goroutines; each one re-checks the state
// under the lock before acting, and events are emitted after the lock is
// released.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hammamikhairi/voxengine/internal/dispatch"
	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
	"github.com/hammamikhairi/voxengine/internal/parser"
	"github.com/hammamikhairi/voxengine/internal/recognition"
	"github.com/hammamikhairi/voxengine/internal/speech"
	"github.com/hammamikhairi/voxengine/internal/timer"
)

// DefaultSettingsKey is the key settings are persisted under.
const DefaultSettingsKey = "voxengine.settings"

// Option configures the Session.
type Option func(*Session)

// WithSettingsStore persists settings through store.
func WithSettingsStore(store domain.SettingsStore) Option {
	return func(s *Session) { s.store = store }
}

// WithSettingsKey overrides DefaultSettingsKey.
func WithSettingsKey(key string) Option {
	return func(s *Session) { s.key = key }
}

// WithDefaultSettings sets the settings used when nothing is persisted.
func WithDefaultSettings(st domain.Settings) Option {
	return func(s *Session) { s.settings = st }
}

// VoicePreference reports the user's voice-modality preference. ok is false
// when the user has not expressed one.
type VoicePreference func(ctx context.Context) (enabled, ok bool, err error)

// WithVoicePreference applies pref over the persisted VoiceEnabled setting
// at Initialize.
func WithVoicePreference(pref VoicePreference) Option {
	return func(s *Session) { s.voicePref = pref }
}

// WithInitialScreen sets the screen the session starts on.
func WithInitialScreen(screen string) Option {
	return func(s *Session) { s.screen = screen }
}

// Session is one voice interaction session. There is one per process.
type Session struct {
	id         string
	adapter    *recognition.Adapter
	queue      *speech.Queue
	parser     *parser.Parser
	dispatcher *dispatch.Dispatcher
	store      domain.SettingsStore
	key        string
	voicePref  VoicePreference
	log        *logger.Logger
	validate   *validator.Validate

	listenTimer  *timer.Deadline
	silenceTimer *timer.Deadline

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       domain.State
	settings    domain.Settings
	permissions domain.Permissions
	transcript  string
	lastError   string
	screen      string
	observer    domain.Observer
	subs        map[int]func(domain.Event)
	nextSub     int
	unsubs      []func()
	initialized bool
	destroyed   bool
}

// New creates a session over one adapter, one queue, a parser and a
// dispatcher. Call Initialize before use.
func New(
	adapter *recognition.Adapter,
	queue *speech.Queue,
	p *parser.Parser,
	d *dispatch.Dispatcher,
	log *logger.Logger,
	opts ...Option,
) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           uuid.NewString(),
		adapter:      adapter,
		queue:        queue,
		parser:       p,
		dispatcher:   d,
		key:          DefaultSettingsKey,
		log:          log,
		validate:     validator.New(),
		listenTimer:  timer.NewDeadline("listen", log),
		silenceTimer: timer.NewDeadline("silence", log),
		ctx:          ctx,
		cancel:       cancel,
		state:        domain.StateIdle,
		settings:     domain.DefaultSettings(),
		screen:       "home",
		subs:         make(map[int]func(domain.Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Initialize wires the session to the adapter and queue, loads persisted
// settings and probes the recognizer. It may be called again at any time:
// later calls only rebind the observer, so engine listeners are never
// registered twice.
func (s *Session) Initialize(ctx context.Context, obs domain.Observer) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return domain.ErrSessionDestroyed
	}
	s.observer = obs
	if s.initialized {
		s.mu.Unlock()
		s.log.Debug("session: already initialized, observer rebound")
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	st, err := s.loadSettings(ctx)
	if err != nil {
		s.log.Warn("session: using default settings: %v", err)
	}
	st = s.applyVoicePreference(ctx, st)

	probeErr := s.adapter.Probe(ctx)
	if probeErr != nil {
		s.log.Warn("session: recognizer unavailable: %v", probeErr)
	}

	s.mu.Lock()
	s.settings = st
	s.permissions.Microphone = probeErr == nil
	s.mu.Unlock()

	s.adapter.Attach()
	unsubRec := s.adapter.Subscribe(s.onRecognition)
	unsubOut := s.queue.Subscribe(s.onSpeech)

	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubRec, unsubOut)
	s.mu.Unlock()

	s.log.Info("session %s initialized (lang=%s, voice=%v, microphone=%v)",
		s.id, st.InputLanguage, st.VoiceEnabled, probeErr == nil)
	return nil
}

// Subscribe adds a secondary event consumer alongside the observer bound by
// Initialize. It returns a function that removes it.
func (s *Session) Subscribe(fn func(domain.Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// StartListening asks the adapter to start a recognition session. The
// session only becomes Listening once the adapter confirms the start. An
// empty language uses the input language setting. Starting while speaking
// stops speech first; starting while already listening is a no-op.
func (s *Session) StartListening(ctx context.Context, language string, partialResults bool) error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.settings.VoiceEnabled {
		s.mu.Unlock()
		return domain.ErrVoiceDisabled
	}
	switch s.state {
	case domain.StateError:
		s.mu.Unlock()
		return domain.ErrSessionError
	case domain.StateProcessing:
		s.mu.Unlock()
		return domain.ErrBusy
	case domain.StateListening:
		s.mu.Unlock()
		s.log.Warn("session: start listening ignored, already listening")
		return nil
	}
	bargeIn := s.state == domain.StateSpeaking
	if language == "" {
		language = s.settings.InputLanguage
	}
	s.mu.Unlock()

	if bargeIn {
		s.log.Debug("session: barge-in, stopping speech")
		s.queue.Stop()
		s.mu.Lock()
		ev, _ := s.setStateLocked(domain.StateIdle)
		s.mu.Unlock()
		s.emit(ev)
	}

	err := s.adapter.Start(ctx, language, partialResults)
	if errors.Is(err, domain.ErrAlreadyActive) && s.State() == domain.StateIdle {
		// A previous session never finalized; the session has moved on.
		s.log.Warn("session: discarding stale recognition session")
		_ = s.adapter.Cancel()
		err = s.adapter.Start(ctx, language, partialResults)
	}
	if err != nil {
		return fmt.Errorf("start listening: %w", err)
	}
	return nil
}

// StopListening finalizes the current recognition session; the final
// result, if any, is processed as usual. It is a no-op unless listening. A
// start that has not been confirmed yet is abandoned silently.
func (s *Session) StopListening() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return domain.ErrSessionDestroyed
	}
	if s.state != domain.StateListening {
		s.mu.Unlock()
		if s.adapter.Active() {
			return s.adapter.Cancel()
		}
		return nil
	}
	s.listenTimer.Cancel()
	s.silenceTimer.Cancel()
	s.mu.Unlock()

	return s.adapter.Stop()
}

// CancelListening discards the current recognition session and its
// transcript.
func (s *Session) CancelListening() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return domain.ErrSessionDestroyed
	}
	s.listenTimer.Cancel()
	s.silenceTimer.Cancel()
	s.transcript = ""
	var evs []domain.Event
	if s.state == domain.StateListening {
		if ev, ok := s.setStateLocked(domain.StateIdle); ok {
			evs = append(evs, ev)
		}
	}
	s.mu.Unlock()
	s.emit(evs...)

	return s.adapter.Cancel()
}

// Speak queues text for output and returns its queue id. Zero option values
// take the session's voice settings. Speaking while listening cancels
// recognition first. Blank text is ignored.
func (s *Session) Speak(text string, opts speech.Options) (uint64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}

	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	if s.state == domain.StateError {
		s.mu.Unlock()
		return 0, domain.ErrSessionError
	}
	if !s.settings.VoiceEnabled {
		s.mu.Unlock()
		return 0, domain.ErrVoiceDisabled
	}
	listening := s.state == domain.StateListening || s.adapter.Active()
	s.mu.Unlock()

	if listening {
		if err := s.CancelListening(); err != nil {
			s.log.Warn("session: cancelling recognition before speaking: %v", err)
		}
	}

	s.mu.Lock()
	opts = s.fillOptionsLocked(opts)
	ev, _ := s.setStateLocked(domain.StateSpeaking)
	s.mu.Unlock()
	s.emit(ev)

	return s.queue.Speak(text, opts), nil
}

// StopSpeaking clears the output queue and interrupts the current
// utterance.
func (s *Session) StopSpeaking() {
	s.queue.Stop()

	s.mu.Lock()
	var ev domain.Event
	if s.state == domain.StateSpeaking && !s.queue.IsProcessing() {
		ev, _ = s.setStateLocked(domain.StateIdle)
	}
	s.mu.Unlock()
	s.emit(ev)
}

// ClearError leaves the Error state. It is a no-op in any other state.
func (s *Session) ClearError() {
	s.mu.Lock()
	if s.state != domain.StateError {
		s.mu.Unlock()
		return
	}
	s.lastError = ""
	ev, _ := s.setStateLocked(domain.StateIdle)
	s.mu.Unlock()
	s.emit(ev)
	s.log.Info("session: error cleared")
}

// SetScreen selects the command table used for the next utterance.
func (s *Session) SetScreen(screen string) {
	s.mu.Lock()
	prev := s.screen
	s.screen = screen
	s.mu.Unlock()
	if prev != screen {
		s.log.Debug("session: screen %s -> %s", prev, screen)
	}
}

// Destroy releases the session. Timers are cancelled, the output queue is
// cleared without flushing and any recognition is abandoned. The session
// cannot be used afterwards.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.listenTimer.Cancel()
	s.silenceTimer.Cancel()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	s.queue.Stop()
	_ = s.adapter.Cancel()
	s.cancel()
	s.log.Info("session %s destroyed", s.id)
}

// ── Queries ──────────────────────────────────────────────────────

// State returns the current state.
func (s *Session) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsListening reports whether a recognition session is live.
func (s *Session) IsListening() bool {
	return s.State() == domain.StateListening
}

// IsSpeaking reports whether output is playing or queued.
func (s *Session) IsSpeaking() bool {
	return s.State() == domain.StateSpeaking || s.queue.IsProcessing()
}

// CurrentTranscript returns the latest partial or final transcript.
func (s *Session) CurrentTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// LastError returns the message that put the session in Error, if any.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Screen returns the active screen.
func (s *Session) Screen() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

// Permissions returns what the device allows.
func (s *Session) Permissions() domain.Permissions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissions
}

// History returns the in-memory command history, oldest first.
func (s *Session) History() []domain.CommandRecord {
	return s.dispatcher.History().Records()
}

// ── internals ────────────────────────────────────────────────────

func (s *Session) usableLocked() error {
	if s.destroyed {
		return domain.ErrSessionDestroyed
	}
	if !s.initialized {
		return domain.ErrNotInitialized
	}
	return nil
}

// setStateLocked moves to state to and returns the StateChanged event. It
// refuses transitions the state machine does not allow. Entering Idle clears
// the transcript.
func (s *Session) setStateLocked(to domain.State) (domain.Event, bool) {
	from := s.state
	if from == to {
		return nil, false
	}
	if !domain.CanTransition(from, to) {
		s.log.Warn("session: refused transition %s -> %s", from, to)
		return nil, false
	}
	s.state = to
	if to == domain.StateIdle {
		s.transcript = ""
	}
	s.log.Debug("session: %s -> %s", from, to)
	return domain.StateChanged{From: from, To: to, At: now()}, true
}

func (s *Session) fillOptionsLocked(o speech.Options) speech.Options {
	if o.Rate <= 0 {
		o.Rate = s.settings.Rate
	}
	if o.Pitch <= 0 {
		o.Pitch = s.settings.Pitch
	}
	if o.Volume <= 0 {
		o.Volume = s.settings.Volume
	}
	if o.Language == "" {
		o.Language = s.settings.OutputLanguage
	}
	return o
}

// emit delivers events to the observer and subscribers. Nil events are
// skipped. It must be called without the lock held.
func (s *Session) emit(evs ...domain.Event) {
	if len(evs) == 0 {
		return
	}
	s.mu.Lock()
	obs := s.observer
	subs := make([]func(domain.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, ev := range evs {
		if ev == nil {
			continue
		}
		if obs != nil {
			obs.OnEvent(ev)
		}
		for _, fn := range subs {
			fn(ev)
		}
	}
}
