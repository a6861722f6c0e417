package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
)

// ANSI escape codes for terminal formatting.
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	cyan  = "\033[36m"
)

// PrintFunc prints formatted output. Matches fmt.Printf and
// display.UI.Printf.
type PrintFunc func(format string, a ...any)

// ConsoleEngine is a domain.SpeechEngine that prints utterances instead of
// playing them. With a per-word pace it holds each utterance for roughly
// the time it would take to say, so interruption behaves as with audio.
type ConsoleEngine struct {
	log     *logger.Logger
	printFn PrintFunc
	perWord time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

// NewConsoleEngine creates a console engine. A nil printFn writes to stdout.
func NewConsoleEngine(log *logger.Logger, printFn PrintFunc, perWord time.Duration) *ConsoleEngine {
	if printFn == nil {
		printFn = func(format string, a ...any) {
			fmt.Printf(format+"\n", a...)
		}
	}
	return &ConsoleEngine{log: log, printFn: printFn, perWord: perWord}
}

// Speak prints req and waits out its pace.
func (c *ConsoleEngine) Speak(ctx context.Context, req domain.TTSRequest) error {
	c.log.Debug("console: say %q (lang=%s, rate=%.2f)", req.Text, req.Language, req.Rate)
	c.printFn("%s%s» %s%s", cyan, bold, req.Text, reset)

	if c.perWord <= 0 {
		return ctx.Err()
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.stop = stop
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.stop == stop {
			c.stop = nil
		}
		c.mu.Unlock()
	}()

	rate := req.Rate
	if rate <= 0 {
		rate = 1
	}
	words := len(strings.Fields(req.Text))
	pace := time.Duration(float64(c.perWord) * float64(words) / rate)

	t := time.NewTimer(pace)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cuts the current utterance short.
func (c *ConsoleEngine) Stop() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}
