package domain

import "time"

// Settings are the user-tunable voice preferences. They are persisted as an
// opaque JSON blob through a SettingsStore.
type Settings struct {
	InputLanguage       string        `json:"inputLanguage" validate:"required"`
	OutputLanguage      string        `json:"outputLanguage" validate:"required"`
	Rate                float64       `json:"rate" validate:"gt=0,lte=4"`
	Pitch               float64       `json:"pitch" validate:"gt=0,lte=2"`
	Volume              float64       `json:"volume" validate:"gte=0,lte=1"`
	ConfidenceThreshold float64       `json:"confidenceThreshold" validate:"gt=0,lt=1"`
	ListenTimeout       time.Duration `json:"listenTimeout" validate:"gt=0"`
	SilenceTimeout      time.Duration `json:"silenceTimeout" validate:"gte=0"`

	VoiceEnabled       bool `json:"voiceEnabled"`
	AutoFeedback       bool `json:"autoFeedback"`
	ConfirmDestructive bool `json:"confirmDestructive"`
	PartialResults     bool `json:"partialResults"`
	SilenceAutoSubmit  bool `json:"silenceAutoSubmit"`
}

// DefaultSettings returns the settings used when nothing has been persisted.
func DefaultSettings() Settings {
	return Settings{
		InputLanguage:       "en-US",
		OutputLanguage:      "en-US",
		Rate:                1.0,
		Pitch:               1.0,
		Volume:              1.0,
		ConfidenceThreshold: 0.6,
		ListenTimeout:       10 * time.Second,
		SilenceTimeout:      2 * time.Second,
		VoiceEnabled:        true,
		AutoFeedback:        true,
		ConfirmDestructive:  true,
		PartialResults:      true,
		SilenceAutoSubmit:   true,
	}
}

// Permissions records what the device allows.
type Permissions struct {
	Microphone bool `json:"microphone"`
}
