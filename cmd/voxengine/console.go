package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hammamikhairi/voxengine/internal/display"
	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
	"github.com/hammamikhairi/voxengine/internal/recognition"
	"github.com/hammamikhairi/voxengine/internal/session"
	"github.com/hammamikhairi/voxengine/internal/speech"
)

// consoleApp turns console input into session calls.
type consoleApp struct {
	sess  *session.Session
	typed *recognition.TextEngine // nil when listening to the microphone
	ui    *display.UI
	log   *logger.Logger
}

func (c *consoleApp) run(ctx context.Context) {
	c.ui.PrintChat(speech.LineWelcome())
	if _, err := c.sess.Speak(speech.LineWelcome(), speech.Options{}); err != nil {
		c.log.Debug("welcome not spoken: %v", err)
	}

	uiCh := c.ui.InputChan()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-uiCh:
			if !ok || !c.handle(ctx, line) {
				return
			}
		}
	}
}

// handle processes one console line. It reports false when the user quits.
func (c *consoleApp) handle(ctx context.Context, line string) bool {
	switch {
	case line == "":
		c.toggleListening(ctx)
	case line == "quit" || line == "exit" || line == "/quit":
		c.ui.PrintChat(speech.LineBye())
		return false
	case strings.HasPrefix(line, "/"):
		c.console(ctx, line)
	case c.typed == nil:
		c.ui.PrintHint("Voice input is on. Press Enter to talk.")
	default:
		c.utter(ctx, line)
	}
	return true
}

// utter feeds a typed line to the text engine as one utterance.
func (c *consoleApp) utter(ctx context.Context, line string) {
	if !c.sess.IsListening() {
		st := c.sess.Settings()
		if err := c.sess.StartListening(ctx, "", st.PartialResults); err != nil {
			c.report(err)
			return
		}
	}
	if !c.typed.Submit(line) {
		c.ui.PrintUrgent("Input is backed up, try again in a moment.")
	}
}

func (c *consoleApp) toggleListening(ctx context.Context) {
	if c.sess.IsListening() {
		if err := c.sess.StopListening(); err != nil {
			c.report(err)
		}
		return
	}
	st := c.sess.Settings()
	if err := c.sess.StartListening(ctx, "", st.PartialResults); err != nil {
		c.report(err)
		return
	}
	c.ui.PrintHint(speech.LineListening())
}

func (c *consoleApp) report(err error) {
	switch {
	case errors.Is(err, domain.ErrSessionError):
		c.ui.PrintUrgent("The session is in an error state. Type /clear to reset it.")
	case errors.Is(err, domain.ErrVoiceDisabled):
		c.ui.PrintUrgent("Voice is off. Type /voice on to enable it.")
	case errors.Is(err, domain.ErrRecognitionUnavailable):
		c.ui.PrintUrgent(speech.LineCapabilityUnavailable())
	default:
		c.ui.PrintUrgent(domain.ErrorMessage(err))
	}
}

// ── Console commands ─────────────────────────────────────────────

func (c *consoleApp) console(ctx context.Context, line string) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "help":
		c.showHelp()
	case "lang":
		if len(args) != 1 {
			c.ui.PrintHint("usage: /lang CODE (e.g. /lang fr-FR)")
			return
		}
		if err := c.sess.SetLanguage(ctx, args[0]); err != nil {
			c.report(err)
			return
		}
		c.ui.PrintInfo("Language set to " + c.sess.Settings().InputLanguage + ".")
	case "voice":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			c.ui.PrintHint("usage: /voice on|off")
			return
		}
		on := args[0] == "on"
		if err := c.sess.UpdateSettings(ctx, func(st *domain.Settings) { st.VoiceEnabled = on }); err != nil {
			c.report(err)
			return
		}
		c.ui.PrintInfo("Voice " + args[0] + ".")
	case "stop":
		c.sess.StopSpeaking()
	case "cancel":
		if err := c.sess.CancelListening(); err != nil {
			c.report(err)
		}
	case "clear":
		c.sess.ClearError()
		c.ui.PrintInfo("Ready.")
	case "screen":
		if len(args) != 1 {
			c.ui.PrintHint("usage: /screen ID")
			return
		}
		c.sess.SetScreen(args[0])
	case "history":
		c.showHistory()
	case "diag":
		c.showDiagnostics()
	default:
		c.ui.PrintUrgent("Unknown console command /" + name + ". Type /help.")
	}
	c.ui.Refresh()
}

func (c *consoleApp) showHelp() {
	c.ui.PrintInfo("Console commands:")
	for _, l := range []string{
		"(Enter)         start or stop listening",
		"/lang CODE      switch input and output language",
		"/voice on|off   enable or disable voice",
		"/stop           stop speaking",
		"/cancel         abandon listening",
		"/clear          leave the error state",
		"/screen ID      switch command table",
		"/history        recent commands",
		"/diag           session diagnostics",
		"quit            exit",
	} {
		c.ui.PrintHint(l)
	}
	c.ui.PrintInfo(`Say "help" for the commands of the current screen.`)
}

func (c *consoleApp) showHistory() {
	recs := c.sess.History()
	if len(recs) == 0 {
		c.ui.PrintHint("No commands yet.")
		return
	}
	for _, r := range recs {
		mark := "ok"
		if !r.Success {
			mark = "failed"
		}
		c.ui.PrintHint(fmt.Sprintf("%s  %-16s %-6s %q", r.Timestamp.Format("15:04:05"), r.Intent, mark, r.RawText))
	}
}

func (c *consoleApp) showDiagnostics() {
	out, err := json.MarshalIndent(c.sess.Diagnose(), "", "  ")
	if err != nil {
		c.report(err)
		return
	}
	for _, l := range strings.Split(string(out), "\n") {
		c.ui.PrintHint(l)
	}
}
