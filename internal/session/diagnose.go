package session

import (
	"time"

	"github.com/hammamikhairi/voxengine/internal/dispatch"
	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/recognition"
)

// SpeechStatus describes the output queue.
type SpeechStatus struct {
	Processing bool   `json:"processing"`
	Pending    int    `json:"pending"`
	Current    uint64 `json:"current"`
	LastSpoken string `json:"last_spoken"`
}

// Diagnostics is a point-in-time snapshot of the session and the components
// it drives.
type Diagnostics struct {
	SessionID     string                 `json:"session_id"`
	State         domain.State           `json:"state"`
	Screen        string                 `json:"screen"`
	Transcript    string                 `json:"transcript"`
	LastError     string                 `json:"last_error,omitempty"`
	Initialized   bool                   `json:"initialized"`
	Destroyed     bool                   `json:"destroyed"`
	Settings      domain.Settings        `json:"settings"`
	Permissions   domain.Permissions     `json:"permissions"`
	Recognition   recognition.Status     `json:"recognition"`
	Speech        SpeechStatus           `json:"speech"`
	ListenTimeout time.Duration          `json:"listen_timeout_remaining"`
	HistoryLen    int                    `json:"history_len"`
	Pending       *domain.ParsedCommand  `json:"pending_confirmation,omitempty"`
	Policy        dispatch.ConfirmPolicy `json:"confirm_policy"`
}

// Diagnose collects a snapshot for troubleshooting.
func (s *Session) Diagnose() Diagnostics {
	s.mu.Lock()
	d := Diagnostics{
		SessionID:     s.id,
		State:         s.state,
		Screen:        s.screen,
		Transcript:    s.transcript,
		LastError:     s.lastError,
		Initialized:   s.initialized,
		Destroyed:     s.destroyed,
		Settings:      s.settings,
		Permissions:   s.permissions,
		ListenTimeout: s.listenTimer.Remaining(),
	}
	s.mu.Unlock()

	d.Recognition = s.adapter.Status()
	d.Speech = SpeechStatus{
		Processing: s.queue.IsProcessing(),
		Pending:    s.queue.Len(),
		Current:    s.queue.Current(),
		LastSpoken: s.queue.LastSpoken(),
	}
	d.HistoryLen = s.dispatcher.History().Len()
	if cmd, ok := s.dispatcher.Pending(); ok {
		d.Pending = &cmd
	}
	d.Policy = s.dispatcher.Policy()
	return d
}
