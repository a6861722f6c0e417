package parser

import (
	"math"
	"testing"

	"github.com/hammamikhairi/voxengine/internal/commands"
	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

func newParser(t *testing.T, entries ...domain.CommandEntry) (*Parser, *commands.Registry) {
	t.Helper()
	log := logger.New(logger.LevelOff, nil)
	if entries == nil {
		entries = commands.Defaults()
	}
	reg, err := commands.NewRegistry(log, entries...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return New(reg, log), reg
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestParseDefaults(t *testing.T) {
	p, _ := newParser(t)

	tests := []struct {
		name       string
		text       string
		screen     string
		wantIntent string
	}{
		{"go home from quiz", "go home", commands.ScreenQuiz, "goHome"},
		{"go home with noise", "  Go Home. ", commands.ScreenNotes, "goHome"},
		{"next on quiz", "next", commands.ScreenQuiz, "nextQuestion"},
		{"misheard next", "nxt question", commands.ScreenQuiz, "nextQuestion"},
		{"containment", "please delete last note", commands.ScreenNotes, "deleteNote"},
		{"screen scoped", "next", commands.ScreenNotes, domain.IntentNoMatch},
		{"gibberish", "purple elephant dances", commands.ScreenHome, domain.IntentNoMatch},
		{"empty", "   ", commands.ScreenHome, domain.IntentNoMatch},
		{"open notes", "notes", commands.ScreenHome, "openNotes"},
		{"confirm", "yes", commands.ScreenNotes, domain.IntentConfirm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.text, tt.screen, DefaultThreshold)
			if got.Intent != tt.wantIntent {
				t.Fatalf("Parse(%q, %s) intent = %q, want %q (confidence %.3f, options %v)",
					tt.text, tt.screen, got.Intent, tt.wantIntent, got.Confidence, got.Options)
			}
			if got.RawText != tt.text {
				t.Fatalf("raw text not preserved: %q", got.RawText)
			}
		})
	}
}

func TestGoHomeResolvesDirectly(t *testing.T) {
	p, reg := newParser(t)

	for _, screen := range reg.Screens() {
		got := p.Parse("go home", screen, DefaultThreshold)
		if got.Intent != "goHome" {
			t.Fatalf("screen %s: got %q", screen, got.Intent)
		}
		if !approx(got.Confidence, 0.9) {
			t.Fatalf("screen %s: confidence = %v, want 0.9", screen, got.Confidence)
		}
		if got.MatchedKeyword != "go home" {
			t.Fatalf("screen %s: matched keyword %q", screen, got.MatchedKeyword)
		}
		if len(got.Options) != 0 {
			t.Fatalf("screen %s: unexpected options %v", screen, got.Options)
		}
	}
}

func TestExactKeywordMeetsBaseConfidence(t *testing.T) {
	p, reg := newParser(t)

	for _, screen := range reg.Screens() {
		screenEntries, universal := reg.Entries(screen)
		for _, e := range append(screenEntries, universal...) {
			for _, kw := range e.Keywords {
				got := p.Parse(kw, screen, DefaultThreshold)
				if got.Intent == domain.IntentAskClarification {
					// Shared keywords legitimately ask; the entry must be offered.
					found := false
					for _, o := range got.Options {
						if o.Intent == e.Action {
							found = true
						}
					}
					if !found {
						t.Errorf("%s/%s keyword %q: clarification without the entry", screen, e.Name, kw)
					}
					continue
				}
				if got.Confidence < e.BaseConfidence-1e-9 {
					t.Errorf("%s/%s keyword %q: confidence %.3f < base %.3f (intent %s)",
						screen, e.Name, kw, got.Confidence, e.BaseConfidence, got.Intent)
				}
			}
		}
	}
}

func TestSharedKeywordFlipsToClarification(t *testing.T) {
	next := domain.CommandEntry{
		Screen: commands.ScreenQuiz, Name: "nextQuestion", Action: "nextQuestion",
		Keywords: []string{"next", "next question"}, BaseConfidence: 0.8,
	}
	p, reg := newParser(t, next)

	got := p.Parse("next", commands.ScreenQuiz, DefaultThreshold)
	if got.Intent != "nextQuestion" {
		t.Fatalf("single entry: got %q", got.Intent)
	}

	err := reg.Register(domain.CommandEntry{
		Screen: commands.ScreenQuiz, Name: "nextSection", Action: "nextSection",
		Keywords: []string{"next"}, BaseConfidence: 0.8,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	got = p.Parse("next", commands.ScreenQuiz, DefaultThreshold)
	if got.Intent != domain.IntentAskClarification {
		t.Fatalf("competing entries: got %q, want clarification", got.Intent)
	}
	if len(got.Options) != 2 {
		t.Fatalf("expected 2 options, got %v", got.Options)
	}
	if got.Options[0].Intent != "nextQuestion" {
		t.Fatalf("declaration order lost in options: %v", got.Options)
	}
}

func TestHighConfidenceTiesStillAsk(t *testing.T) {
	p, _ := newParser(t,
		domain.CommandEntry{Screen: "s", Name: "a", Action: "a", Keywords: []string{"stop"}, BaseConfidence: 0.95},
		domain.CommandEntry{Screen: "s", Name: "b", Action: "b", Keywords: []string{"stop"}, BaseConfidence: 0.9},
	)
	got := p.Parse("stop", "s", DefaultThreshold)
	if got.Intent != domain.IntentAskClarification {
		t.Fatalf("got %q, want clarification", got.Intent)
	}
}

func TestHighConfidenceBeatsCloseRunnerUp(t *testing.T) {
	p, _ := newParser(t,
		domain.CommandEntry{Screen: "s", Name: "a", Action: "a", Keywords: []string{"stop"}, BaseConfidence: 0.9},
		domain.CommandEntry{Screen: "s", Name: "b", Action: "b", Keywords: []string{"stop"}, BaseConfidence: 0.82},
	)
	got := p.Parse("stop", "s", DefaultThreshold)
	if got.Intent != "a" {
		t.Fatalf("got %q, want a", got.Intent)
	}
}

func TestOptionsCapped(t *testing.T) {
	var entries []domain.CommandEntry
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		entries = append(entries, domain.CommandEntry{
			Screen: "s", Name: name, Action: name, Keywords: []string{"go"}, BaseConfidence: 0.7,
		})
	}
	p, _ := newParser(t, entries...)

	got := p.Parse("go", "s", DefaultThreshold)
	if got.Intent != domain.IntentAskClarification {
		t.Fatalf("got %q", got.Intent)
	}
	if len(got.Options) != DefaultMaxOptions {
		t.Fatalf("expected %d options, got %d", DefaultMaxOptions, len(got.Options))
	}
}

func TestFirstKeywordWinsTies(t *testing.T) {
	p, _ := newParser(t, domain.CommandEntry{
		Screen: "s", Name: "a", Action: "a",
		Keywords: []string{"cat", "bat"}, BaseConfidence: 0.8,
	})
	// "hat" is one edit from both keywords.
	got := p.Parse("hat", "s", 0.5)
	if got.MatchedKeyword != "cat" {
		t.Fatalf("matched %q, want first keyword", got.MatchedKeyword)
	}
}

func TestUniversalThresholdIsLower(t *testing.T) {
	kw := "abcdefghij"
	// "abcdefgxyz" is 3 edits from the keyword: similarity 0.7.
	text := "abcdefgxyz"

	screenOnly, _ := newParser(t, domain.CommandEntry{
		Screen: "s", Name: "a", Action: "a", Keywords: []string{kw}, BaseConfidence: 0.8,
	})
	if got := screenOnly.Parse(text, "s", 0.75); got.Intent != domain.IntentNoMatch {
		t.Fatalf("screen entry below threshold should not match, got %q", got.Intent)
	}

	universal, _ := newParser(t, domain.CommandEntry{
		Screen: domain.UniversalScreen, Name: "a", Action: "a", Keywords: []string{kw}, BaseConfidence: 0.8,
	})
	// 0.75 × 0.9 = 0.675 < 0.7.
	if got := universal.Parse(text, "s", 0.75); got.Intent != "a" {
		t.Fatalf("universal entry should clear the relaxed threshold, got %q", got.Intent)
	}
}

func TestNoMatchNeverPanics(t *testing.T) {
	p, _ := newParser(t)
	inputs := []string{"", "?", "ééé", "a", "   \t\n", "🙂🙂🙂"}
	for _, in := range inputs {
		got := p.Parse(in, "missing-screen", 0.99)
		if got.Intent != domain.IntentNoMatch {
			t.Errorf("Parse(%q) = %q, want NO_MATCH", in, got.Intent)
		}
	}
}
