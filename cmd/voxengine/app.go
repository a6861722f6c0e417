package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hammamikhairi/voxengine/internal/backend"
	"github.com/hammamikhairi/voxengine/internal/commands"
	"github.com/hammamikhairi/voxengine/internal/config"
	"github.com/hammamikhairi/voxengine/internal/dispatch"
	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
	"github.com/hammamikhairi/voxengine/internal/parser"
	"github.com/hammamikhairi/voxengine/internal/speech"
	"github.com/hammamikhairi/voxengine/internal/textmatch"
)

type quizItem struct {
	question string
	answer   string
}

var quiz = []quizItem{
	{"What is the capital of Japan?", "tokyo"},
	{"How many legs does a spider have?", "eight"},
	{"Which planet is known as the red planet?", "mars"},
	{"What gas do plants take in from the air?", "carbon dioxide"},
	{"What is the largest ocean on Earth?", "pacific"},
}

// demoApp is the small application behind the built-in command tables:
// a home screen, a notebook, a quiz and an ask-anything screen.
type demoApp struct {
	log       *logger.Logger
	tables    parser.TableSource
	completer domain.Completer // nil when no backend is configured
	lastSaid  func() string

	mu       sync.Mutex
	notes    []string
	question int
	trail    []string // screens visited before the current one
}

// newDemoApp creates the app. Set completer before registering to enable
// the ask screen.
func newDemoApp(tables parser.TableSource, lastSaid func() string, log *logger.Logger) *demoApp {
	return &demoApp{log: log, tables: tables, lastSaid: lastSaid}
}

// register binds every handler the demo provides.
func (a *demoApp) register(d *dispatch.Dispatcher) {
	u := domain.UniversalScreen
	d.Register(u, "goHome", a.goHome)
	d.Register(u, "goBack", a.goBack)
	d.Register(u, "help", a.help)
	d.Register(u, "repeatLast", a.repeatLast)

	d.Register(commands.ScreenHome, "openNotes", a.open(commands.ScreenNotes, "Notes. Say take a note, read notes, or delete note."))
	d.Register(commands.ScreenHome, "openQuiz", a.openQuiz)
	d.Register(commands.ScreenHome, "openAsk", a.open(commands.ScreenAsk, "Ask me anything."))

	d.Register(commands.ScreenNotes, "saveNote", a.saveNote)
	d.Register(commands.ScreenNotes, "readNotes", a.readNotes)
	d.Register(commands.ScreenNotes, "deleteNote", a.deleteNote)
	d.Register(commands.ScreenNotes, "clearNotes", a.clearNotes)

	d.Register(commands.ScreenQuiz, "nextQuestion", a.stepQuestion(1))
	d.Register(commands.ScreenQuiz, "previousQuestion", a.stepQuestion(-1))
	d.Register(commands.ScreenQuiz, "repeatQuestion", a.stepQuestion(0))
	d.Register(commands.ScreenQuiz, "answerQuestion", a.answerQuestion)

	d.Register(commands.ScreenAsk, "askQuestion", a.askQuestion)
}

// describe summarizes the app state for the completion backend.
func (a *demoApp) describe() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("The user keeps %d notes and is on quiz question %d of %d.",
		len(a.notes), a.question+1, len(quiz))
}

// ── Navigation ───────────────────────────────────────────────────

func (a *demoApp) navigate(from, to, message string) dispatch.Result {
	a.mu.Lock()
	if from != to {
		a.trail = append(a.trail, from)
	}
	a.mu.Unlock()
	return dispatch.Result{Message: message, Screen: to}
}

func (a *demoApp) open(screen, message string) dispatch.Handler {
	return func(_ context.Context, _ domain.ParsedCommand, req dispatch.Request) (dispatch.Result, error) {
		return a.navigate(req.Screen, screen, message), nil
	}
}

func (a *demoApp) goHome(_ context.Context, _ domain.ParsedCommand, req dispatch.Request) (dispatch.Result, error) {
	a.mu.Lock()
	a.trail = a.trail[:0]
	a.mu.Unlock()
	if req.Screen == commands.ScreenHome {
		return dispatch.Result{Message: "You're already home."}, nil
	}
	return dispatch.Result{Message: "Home.", Screen: commands.ScreenHome}, nil
}

func (a *demoApp) goBack(_ context.Context, _ domain.ParsedCommand, _ dispatch.Request) (dispatch.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.trail) == 0 {
		return dispatch.Result{Message: "There's nowhere to go back to."}, nil
	}
	prev := a.trail[len(a.trail)-1]
	a.trail = a.trail[:len(a.trail)-1]
	return dispatch.Result{Message: "Back to " + prev + ".", Screen: prev}, nil
}

func (a *demoApp) help(_ context.Context, _ domain.ParsedCommand, req dispatch.Request) (dispatch.Result, error) {
	screen, universal := a.tables.Entries(req.Screen)
	var b strings.Builder
	if len(screen) > 0 {
		fmt.Fprintf(&b, "On %s you can say: %s. ", req.Screen, phrases(screen))
	}
	fmt.Fprintf(&b, "Anywhere: %s.", phrases(universal))
	return dispatch.Result{Message: b.String()}, nil
}

func phrases(entries []domain.CommandEntry) string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if len(e.Keywords) > 0 {
			out = append(out, e.Keywords[0])
		}
	}
	return strings.Join(out, ", ")
}

func (a *demoApp) repeatLast(_ context.Context, _ domain.ParsedCommand, _ dispatch.Request) (dispatch.Result, error) {
	last := ""
	if a.lastSaid != nil {
		last = a.lastSaid()
	}
	if last == "" {
		return dispatch.Result{Message: speech.LineNothingToRepeat()}, nil
	}
	return dispatch.Result{Message: last}, nil
}

// ── Notes ────────────────────────────────────────────────────────

func (a *demoApp) saveNote(_ context.Context, cmd domain.ParsedCommand, _ dispatch.Request) (dispatch.Result, error) {
	text := payload(cmd)
	if text == "" {
		return dispatch.Result{Message: "Say take a note, followed by the note."}, nil
	}
	a.mu.Lock()
	a.notes = append(a.notes, text)
	n := len(a.notes)
	a.mu.Unlock()
	return dispatch.Result{Message: fmt.Sprintf("Saved note %d.", n)}, nil
}

func (a *demoApp) readNotes(_ context.Context, _ domain.ParsedCommand, _ dispatch.Request) (dispatch.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.notes) == 0 {
		return dispatch.Result{}, fmt.Errorf("reading notes: %w", domain.ErrNoResults)
	}
	parts := make([]string, len(a.notes))
	for i, n := range a.notes {
		parts[i] = fmt.Sprintf("%d: %s.", i+1, n)
	}
	return dispatch.Result{Message: strings.Join(parts, " ")}, nil
}

func (a *demoApp) deleteNote(_ context.Context, _ domain.ParsedCommand, _ dispatch.Request) (dispatch.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.notes) == 0 {
		return dispatch.Result{}, fmt.Errorf("deleting note: %w", domain.ErrNoResults)
	}
	last := a.notes[len(a.notes)-1]
	a.notes = a.notes[:len(a.notes)-1]
	return dispatch.Result{Message: "Deleted: " + last + "."}, nil
}

func (a *demoApp) clearNotes(_ context.Context, _ domain.ParsedCommand, _ dispatch.Request) (dispatch.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.notes) == 0 {
		return dispatch.Result{}, fmt.Errorf("clearing notes: %w", domain.ErrNoResults)
	}
	n := len(a.notes)
	a.notes = nil
	return dispatch.Result{Message: fmt.Sprintf("Cleared %d notes.", n)}, nil
}

// ── Quiz ─────────────────────────────────────────────────────────

func (a *demoApp) openQuiz(_ context.Context, _ domain.ParsedCommand, req dispatch.Request) (dispatch.Result, error) {
	a.mu.Lock()
	a.question = 0
	q := quiz[0].question
	a.mu.Unlock()
	return a.navigate(req.Screen, commands.ScreenQuiz, "Quiz time. "+q), nil
}

// stepQuestion moves delta questions and reads the one it lands on.
func (a *demoApp) stepQuestion(delta int) dispatch.Handler {
	return func(_ context.Context, _ domain.ParsedCommand, _ dispatch.Request) (dispatch.Result, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		next := a.question + delta
		if next < 0 || next >= len(quiz) {
			return dispatch.Result{}, fmt.Errorf("question %d: %w", next+1, domain.ErrNoResults)
		}
		a.question = next
		return dispatch.Result{Message: fmt.Sprintf("Question %d. %s", next+1, quiz[next].question)}, nil
	}
}

func (a *demoApp) answerQuestion(_ context.Context, cmd domain.ParsedCommand, _ dispatch.Request) (dispatch.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q := quiz[a.question]
	if textmatch.ContainsWords(textmatch.Normalize(cmd.RawText), q.answer) {
		return dispatch.Result{Message: "Correct!"}, nil
	}
	return dispatch.Result{Message: "Not quite. The answer is " + q.answer + "."}, nil
}

// ── Ask ──────────────────────────────────────────────────────────

func (a *demoApp) askQuestion(ctx context.Context, cmd domain.ParsedCommand, _ dispatch.Request) (dispatch.Result, error) {
	if a.completer == nil {
		return dispatch.Result{Message: fmt.Sprintf("Asking needs a backend. Set %s and %s.", config.EnvBackendEndpoint, config.EnvBackendKey)}, nil
	}
	answer, err := a.completer.Complete(ctx, cmd.RawText)
	if err != nil {
		if !errors.Is(err, domain.ErrNoResults) {
			a.log.Error("app: ask failed: %v", err)
		}
		return dispatch.Result{}, err
	}
	return dispatch.Result{Message: backend.Speakable(answer)}, nil
}

// payload returns what the user said after the matched keyword, e.g.
// "buy milk" for "take a note buy milk".
func payload(cmd domain.ParsedCommand) string {
	raw := cmd.RawText
	kw := strings.ToLower(cmd.MatchedKeyword)
	lower := strings.ToLower(raw)
	if kw == "" || len(lower) != len(raw) {
		return ""
	}
	i := strings.Index(lower, kw)
	if i < 0 {
		return ""
	}
	return strings.Trim(raw[i+len(kw):], " ,.:;!?")
}
