package session

import (
	"strings"
	"time"

	"github.com/hammamikhairi/voxengine/internal/dispatch"
	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/speech"
)

var now = time.Now

// Command statuses reported in CommandHandled besides the dispatcher's.
const (
	statusNoMatch = "no_match"
	statusClarify = "clarify"
)

// onRecognition handles adapter events.
func (s *Session) onRecognition(ev domain.Event) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	evs := []domain.Event{ev}
	var (
		final      string
		stopEngine bool
	)

	switch e := ev.(type) {
	case domain.RecognitionStarted:
		switch s.state {
		case domain.StateIdle, domain.StateSpeaking:
			if sc, ok := s.setStateLocked(domain.StateListening); ok {
				evs = append(evs, sc)
			}
			s.transcript = ""
			s.listenTimer.Arm(s.settings.ListenTimeout, s.onListenTimeout)
		case domain.StateListening:
		default:
			// Processing or Error: nobody wants this session any more.
			s.log.Warn("session: recognition started while %s, cancelling", s.state)
			stopEngine = true
		}

	case domain.PartialResult:
		if s.state != domain.StateListening {
			break
		}
		s.transcript = e.Text
		if s.settings.SilenceAutoSubmit && s.settings.SilenceTimeout > 0 {
			s.silenceTimer.Arm(s.settings.SilenceTimeout, s.onSilence)
		}

	case domain.FinalResult:
		if s.state != domain.StateListening {
			s.log.Debug("session: final result while %s, dropped", s.state)
			break
		}
		s.listenTimer.Cancel()
		s.silenceTimer.Cancel()
		s.transcript = e.Text
		if sc, ok := s.setStateLocked(domain.StateProcessing); ok {
			evs = append(evs, sc)
			final = e.Text
		}

	case domain.RecognitionEnded:
		if e.Cancelled {
			s.transcript = ""
		}
		if s.state != domain.StateListening {
			break
		}
		s.listenTimer.Cancel()
		s.silenceTimer.Cancel()
		if sc, ok := s.setStateLocked(domain.StateIdle); ok {
			evs = append(evs, sc)
		}

	case domain.RecognitionFailed:
		if e.Capability {
			s.permissions.Microphone = false
		}
		evs = append(evs, s.failLocked(domain.SourceRecognition, e.Message)...)
		if e.Capability {
			evs = append(evs, domain.Feedback{Text: speech.LineCapabilityUnavailable()})
		}
	}
	s.mu.Unlock()

	s.emit(evs...)
	if stopEngine {
		_ = s.adapter.Cancel()
	}
	if final != "" {
		s.process(final)
	}
}

// onSpeech handles output queue events.
func (s *Session) onSpeech(ev domain.Event) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	evs := []domain.Event{ev}

	switch e := ev.(type) {
	case domain.SpeechStarted:
		if s.state == domain.StateIdle {
			if sc, ok := s.setStateLocked(domain.StateSpeaking); ok {
				evs = append(evs, sc)
			}
		}
	case domain.SpeechFinished:
		evs = append(evs, s.speechDoneLocked(e.Pending)...)
	case domain.SpeechCancelled:
		evs = append(evs, s.speechDoneLocked(e.Pending)...)
	case domain.SpeechFailed:
		evs = append(evs, s.failLocked(domain.SourceSpeech, e.Message)...)
	}
	s.mu.Unlock()

	s.emit(evs...)
}

// speechDoneLocked returns to Idle once the queue has drained.
func (s *Session) speechDoneLocked(pending int) []domain.Event {
	if s.state != domain.StateSpeaking || pending > 0 {
		return nil
	}
	if sc, ok := s.setStateLocked(domain.StateIdle); ok {
		return []domain.Event{sc}
	}
	return nil
}

// failLocked moves to Error and records a normalized message.
func (s *Session) failLocked(source string, msg any) []domain.Event {
	s.listenTimer.Cancel()
	s.silenceTimer.Cancel()
	text := domain.ErrorMessage(msg)
	s.lastError = text
	s.log.Error("session: %s error: %s", source, text)

	evs := []domain.Event{domain.ErrorReported{Source: source, Message: text}}
	if sc, ok := s.setStateLocked(domain.StateError); ok {
		evs = append(evs, sc)
	}
	return evs
}

// process parses a final transcript, dispatches it, and produces feedback.
// It runs in Processing and leaves the session Speaking or Idle.
func (s *Session) process(text string) {
	s.mu.Lock()
	screen := s.screen
	st := s.settings
	s.mu.Unlock()

	cmd := s.parser.Parse(text, screen, st.ConfidenceThreshold)

	var (
		status   string
		feedback string
		record   *domain.CommandRecord
		evs      []domain.Event
	)
	switch cmd.Intent {
	case domain.IntentNoMatch:
		status = statusNoMatch
		feedback = speech.LineNotUnderstood()
	case domain.IntentAskClarification:
		status = statusClarify
		feedback = speech.LineClarify(cmd.Options)
	default:
		out := s.dispatcher.Execute(s.ctx, cmd, dispatch.Request{
			Screen:             screen,
			ConfirmDestructive: st.ConfirmDestructive,
		})
		status = string(out.Status)
		record = out.Record
		if out.Status == dispatch.StatusExecuted || out.Status == dispatch.StatusNoResults {
			cmd = out.Command
		}

		switch out.Status {
		case dispatch.StatusExecuted:
			feedback = out.Result.Message
			if out.Result.Screen != "" {
				s.SetScreen(out.Result.Screen)
			}
		case dispatch.StatusNoResults:
			feedback = speech.LineNoResults()
		case dispatch.StatusFailed:
			feedback = speech.LineHandlerFailed()
			evs = append(evs, domain.ErrorReported{
				Source:  domain.SourceDispatch,
				Message: domain.ErrorMessage(out.Err),
			})
		case dispatch.StatusNotConfigured:
			feedback = speech.LineNotConfigured(cmd.CommandName)
		case dispatch.StatusAwaitingConfirmation:
			feedback = speech.LineConfirmPrompt(cmd.CommandName)
		case dispatch.StatusCancelled:
			feedback = speech.LineCancelled()
		case dispatch.StatusNothingToConfirm:
			feedback = speech.LineNothingToConfirm()
		}
	}

	feedback = strings.TrimSpace(feedback)
	s.log.Info("session: %q -> %s (%s, confidence=%.2f)", text, cmd.Intent, status, cmd.Confidence)
	evs = append(evs, domain.CommandHandled{Command: cmd, Status: status, Record: record})
	if feedback != "" {
		evs = append(evs, domain.Feedback{Text: feedback})
	}

	s.mu.Lock()
	if s.destroyed || s.state != domain.StateProcessing {
		// Someone moved the session on while the handler ran.
		s.mu.Unlock()
		s.emit(evs...)
		return
	}
	speak := feedback != "" && s.settings.AutoFeedback && s.settings.VoiceEnabled
	var opts speech.Options
	if speak {
		opts = s.fillOptionsLocked(speech.Options{})
		if sc, ok := s.setStateLocked(domain.StateSpeaking); ok {
			evs = append(evs, sc)
		}
	} else if sc, ok := s.setStateLocked(domain.StateIdle); ok {
		evs = append(evs, sc)
	}
	s.mu.Unlock()

	s.emit(evs...)
	if speak {
		s.queue.Speak(feedback, opts)
	}
}

// onListenTimeout ends a recognition session that produced no result in
// time.
func (s *Session) onListenTimeout() {
	s.mu.Lock()
	if s.destroyed || s.state != domain.StateListening {
		s.mu.Unlock()
		return
	}
	s.silenceTimer.Cancel()
	ev, _ := s.setStateLocked(domain.StateIdle)
	s.mu.Unlock()

	s.log.Info("session: listen timeout")
	s.emit(ev)
	if err := s.adapter.Stop(); err != nil {
		s.log.Warn("session: stopping recognition after timeout: %v", err)
	}
}

// onSilence finalizes the utterance once the user has gone quiet.
func (s *Session) onSilence() {
	s.mu.Lock()
	if s.destroyed || s.state != domain.StateListening || s.transcript == "" {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.log.Debug("session: silence detected, finalizing")
	if err := s.adapter.Stop(); err != nil {
		s.log.Warn("session: stopping recognition after silence: %v", err)
	}
}
