package commands

import "github.com/hammamikhairi/voxengine/internal/domain"

// Screen ids used by the built-in tables.
const (
	ScreenHome  = "home"
	ScreenNotes = "notes"
	ScreenQuiz  = "quiz"
	ScreenAsk   = "ask"
)

func entry(screen, name string, base float64, keywords ...string) domain.CommandEntry {
	return domain.CommandEntry{
		Screen:         screen,
		Name:           name,
		Action:         name,
		Keywords:       keywords,
		BaseConfidence: base,
	}
}

// Defaults returns the built-in command tables.
func Defaults() []domain.CommandEntry {
	u := domain.UniversalScreen
	return []domain.CommandEntry{
		entry(u, "goHome", 0.9, "go home", "home", "main menu"),
		entry(u, "goBack", 0.85, "go back", "back", "previous screen"),
		entry(u, "help", 0.8, "help", "what can i say", "commands"),
		entry(u, "repeatLast", 0.8, "repeat that", "say that again", "say again"),
		entry(u, domain.IntentConfirm, 0.9, "yes", "confirm", "do it"),
		entry(u, domain.IntentCancelConfirm, 0.9, "no", "cancel", "never mind"),

		entry(ScreenHome, "openNotes", 0.85, "notes", "open notes", "my notes"),
		entry(ScreenHome, "openQuiz", 0.85, "quiz", "start quiz", "open quiz"),
		entry(ScreenHome, "openAsk", 0.85, "ask", "ask a question", "coach"),

		entry(ScreenNotes, "saveNote", 0.8, "save note", "take a note", "note that"),
		entry(ScreenNotes, "readNotes", 0.8, "read notes", "read my notes", "list notes"),
		entry(ScreenNotes, "deleteNote", 0.8, "delete note", "delete last note", "remove note"),
		entry(ScreenNotes, "clearNotes", 0.75, "clear notes", "delete all notes", "clear all"),

		entry(ScreenQuiz, "nextQuestion", 0.8, "next", "next question", "skip"),
		entry(ScreenQuiz, "previousQuestion", 0.8, "previous", "previous question", "last question"),
		entry(ScreenQuiz, "repeatQuestion", 0.8, "repeat question", "read question", "what was the question"),
		entry(ScreenQuiz, "answerQuestion", 0.7, "the answer is", "my answer is", "answer"),

		entry(ScreenAsk, "askQuestion", 0.75, "ask", "question", "what is", "how do", "explain"),
	}
}
