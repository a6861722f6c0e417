// lines.go centralises every string the engine speaks back to the user.
// Keep lines short and direct; the TTS engine handles inflection.

package speech

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hammamikhairi/voxengine/internal/domain"
)

// ── Global ───────────────────────────────────────────────────────

func LineWelcome() string {
	return "Ready. Say a command."
}

func LineBye() string {
	return "Bye."
}

func LineNothingToRepeat() string {
	return "I haven't said anything yet."
}

// ── Parsing ──────────────────────────────────────────────────────

var notUnderstood = []string{
	"Sorry, I didn't catch that.",
	"I didn't understand. Try again?",
	"Say that again?",
	"I'm not sure what you meant.",
}

// LineNotUnderstood is spoken when no command matched.
func LineNotUnderstood() string {
	return notUnderstood[rand.Intn(len(notUnderstood))]
}

// LineClarify asks the user to pick between close candidates.
func LineClarify(options []domain.Candidate) string {
	names := make([]string, 0, len(options))
	for _, o := range options {
		names = append(names, HumanizeCommand(o.CommandName))
	}
	switch len(names) {
	case 0:
		return LineNotUnderstood()
	case 1:
		return fmt.Sprintf("Did you mean %s?", names[0])
	default:
		return fmt.Sprintf("Did you mean %s, or %s?",
			strings.Join(names[:len(names)-1], ", "), names[len(names)-1])
	}
}

// ── Dispatch ─────────────────────────────────────────────────────

// LineNotConfigured is spoken when a command resolved but nothing handles
// it on this screen.
func LineNotConfigured(commandName string) string {
	if commandName == "" {
		return "That command isn't available here."
	}
	return fmt.Sprintf("%s isn't available here.", capitalize(HumanizeCommand(commandName)))
}

func LineHandlerFailed() string {
	return "Something went wrong doing that."
}

func LineNoResults() string {
	return "No resources found."
}

// LineConfirmPrompt asks before running a destructive command.
func LineConfirmPrompt(commandName string) string {
	return fmt.Sprintf("Are you sure you want to %s? Say yes or no.", HumanizeCommand(commandName))
}

func LineCancelled() string {
	return "Okay, cancelled."
}

func LineNothingToConfirm() string {
	return "There's nothing to confirm."
}

// ── Recognition ──────────────────────────────────────────────────

func LineCapabilityUnavailable() string {
	return "This device cannot listen right now."
}

func LineRecognitionFailed() string {
	return "I couldn't hear you. Try again."
}

var listeningFillers = []string{
	"Listening.",
	"Go ahead.",
	"Yes?",
}

// LineListening returns a random acknowledgment for when listening starts.
func LineListening() string {
	return listeningFillers[rand.Intn(len(listeningFillers))]
}

// HumanizeCommand turns a camelCase command name into words:
// "deleteNote" becomes "delete note".
func HumanizeCommand(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte(' ')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
