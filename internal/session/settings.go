package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/text/language"

	"github.com/hammamikhairi/voxengine/internal/domain"
)

// Settings returns a copy of the current settings.
func (s *Session) Settings() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetLanguage switches both input and output language. code must be a
// well-formed BCP 47 tag; it is stored in canonical form.
func (s *Session) SetLanguage(ctx context.Context, code string) error {
	tag, err := language.Parse(code)
	if err != nil {
		return fmt.Errorf("%w: language %q: %v", domain.ErrInvalidSettings, code, err)
	}
	canonical := tag.String()
	return s.UpdateSettings(ctx, func(st *domain.Settings) {
		st.InputLanguage = canonical
		st.OutputLanguage = canonical
	})
}

// UpdateSettings applies fn to a copy of the settings, validates the result
// and persists it. Nothing changes if validation or persistence fails.
// Disabling voice abandons any recognition in progress.
func (s *Session) UpdateSettings(ctx context.Context, fn func(*domain.Settings)) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return domain.ErrSessionDestroyed
	}
	next := s.settings
	s.mu.Unlock()

	fn(&next)
	if err := s.validate.Struct(next); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	if err := s.saveSettings(ctx, next); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.settings
	s.settings = next
	s.mu.Unlock()

	s.log.Info("session: settings updated (lang=%s, voice=%v)", next.InputLanguage, next.VoiceEnabled)
	if prev.VoiceEnabled && !next.VoiceEnabled {
		if err := s.CancelListening(); err != nil {
			s.log.Warn("session: cancelling recognition after disabling voice: %v", err)
		}
		s.StopSpeaking()
	}
	return nil
}

// loadSettings reads persisted settings over the defaults. Missing or
// invalid blobs yield the defaults together with the reason.
func (s *Session) loadSettings(ctx context.Context) (domain.Settings, error) {
	s.mu.Lock()
	defaults := s.settings
	s.mu.Unlock()

	if s.store == nil {
		return defaults, nil
	}
	blob, err := s.store.Load(ctx, s.key)
	if errors.Is(err, domain.ErrNotFound) {
		return defaults, nil
	}
	if err != nil {
		return defaults, fmt.Errorf("loading settings: %w", err)
	}

	// Unmarshal over the defaults so fields added since the blob was
	// written keep their default values.
	st := defaults
	if err := json.Unmarshal(blob, &st); err != nil {
		return defaults, fmt.Errorf("decoding settings: %w", err)
	}
	if err := s.validate.Struct(st); err != nil {
		return defaults, fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	return st, nil
}

// applyVoicePreference merges the user's voice-modality preference into st.
// A preference that cannot be read leaves st unchanged.
func (s *Session) applyVoicePreference(ctx context.Context, st domain.Settings) domain.Settings {
	if s.voicePref == nil {
		return st
	}
	enabled, ok, err := s.voicePref(ctx)
	if err != nil {
		s.log.Warn("session: reading voice preference: %v", err)
		return st
	}
	if ok && enabled != st.VoiceEnabled {
		s.log.Info("session: voice preference sets voice=%v", enabled)
		st.VoiceEnabled = enabled
	}
	return st
}

func (s *Session) saveSettings(ctx context.Context, st domain.Settings) error {
	if s.store == nil {
		return nil
	}
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := s.store.Save(ctx, s.key, blob); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
