package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

// PromptSpoken is the system prompt for answers that will be read aloud.
const PromptSpoken = `You are a concise voice assistant.
Your answer will be spoken aloud by a text-to-speech engine.

Rules:
- Answer in 1-3 short sentences.
- Never use markdown, lists, code blocks or emojis.
- If you do not know, say so in one sentence.`

var _ domain.Completer = (*Completer)(nil)

// Completer turns the chat client into a single-prompt completion endpoint
// whose replies are safe to speak.
type Completer struct {
	client  *Client
	system  string
	context func() string
	log     *logger.Logger
}

// CompleterOption configures the Completer.
type CompleterOption func(*Completer)

// WithSystemPrompt replaces PromptSpoken.
func WithSystemPrompt(p string) CompleterOption {
	return func(c *Completer) { c.system = p }
}

// WithContext supplies a context block sent ahead of every prompt, such as
// the active screen.
func WithContext(fn func() string) CompleterOption {
	return func(c *Completer) { c.context = fn }
}

// NewCompleter wraps client.
func NewCompleter(client *Client, log *logger.Logger, opts ...CompleterOption) *Completer {
	c := &Completer{client: client, system: PromptSpoken, log: log}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete sends prompt and returns a speakable reply. An empty reply is
// reported as domain.ErrNoResults.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("backend: empty prompt: %w", domain.ErrNoResults)
	}

	reply, err := c.client.Chat(ctx, c.buildMessages(prompt))
	if err != nil {
		return "", err
	}
	reply = Speakable(reply)
	if reply == "" {
		return "", fmt.Errorf("backend: blank reply: %w", domain.ErrNoResults)
	}
	return reply, nil
}

// buildMessages assembles the system prompt, an optional context exchange
// and the user prompt.
func (c *Completer) buildMessages(prompt string) []Message {
	msgs := []Message{{Role: RoleSystem, Content: c.system}}
	if c.context != nil {
		if block := strings.TrimSpace(c.context()); block != "" {
			msgs = append(msgs,
				Message{Role: RoleUser, Content: block},
				Message{Role: RoleAssistant, Content: "Got it, I have the context."},
			)
		}
	}
	return append(msgs, Message{Role: RoleUser, Content: prompt})
}

var (
	reFence    = regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```")
	reEmphasis = regexp.MustCompile(`[*_]{1,3}([^*_]+)[*_]{1,3}`)
	reHeading  = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	reBullet   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	reSpaces   = regexp.MustCompile(`\s+`)
)

// Speakable strips markdown a model may emit despite instructions and
// flattens the text to one line.
func Speakable(s string) string {
	s = reFence.ReplaceAllString(s, "$1")
	s = reHeading.ReplaceAllString(s, "")
	s = reBullet.ReplaceAllString(s, "")
	s = reEmphasis.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, "`", "")
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}
