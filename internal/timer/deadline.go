// Package timer provides the restartable, generation-guarded deadlines the
// voice session uses for its listen timeout, silence detection and the
// recognition start grace period.
package timer

import (
	"sync"
	"time"

	"github.com/hammamikhairi/voxengine/internal/logger"
)

// Deadline runs a function once after a delay. Re-arming or cancelling
// invalidates any earlier arm: a callback whose generation is stale never
// runs, even if its underlying time.Timer already fired.
type Deadline struct {
	name string
	log  *logger.Logger

	mu       sync.Mutex
	t        *time.Timer
	gen      uint64
	deadline time.Time
}

// NewDeadline creates an unarmed deadline. name appears in debug logs.
func NewDeadline(name string, log *logger.Logger) *Deadline {
	return &Deadline{name: name, log: log}
}

// Arm schedules fn to run after d, replacing any pending schedule.
// fn runs on its own goroutine.
func (dl *Deadline) Arm(d time.Duration, fn func()) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.t != nil {
		dl.t.Stop()
	}
	dl.gen++
	gen := dl.gen
	dl.deadline = time.Now().Add(d)
	dl.t = time.AfterFunc(d, func() { dl.fire(gen, fn) })

	dl.log.Debug("timer %s: armed for %s", dl.name, d)
}

func (dl *Deadline) fire(gen uint64, fn func()) {
	dl.mu.Lock()
	if gen != dl.gen || dl.t == nil {
		dl.mu.Unlock()
		return
	}
	dl.t = nil
	dl.mu.Unlock()

	dl.log.Debug("timer %s: fired", dl.name)
	fn()
}

// Cancel disarms the deadline. It reports whether one was pending.
func (dl *Deadline) Cancel() bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.t == nil {
		return false
	}
	dl.t.Stop()
	dl.t = nil
	dl.gen++
	dl.log.Debug("timer %s: cancelled", dl.name)
	return true
}

// Active reports whether the deadline is armed and has not fired.
func (dl *Deadline) Active() bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.t != nil
}

// Remaining returns the time left before the deadline fires, or zero when
// it is not armed.
func (dl *Deadline) Remaining() time.Duration {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.t == nil {
		return 0
	}
	if r := time.Until(dl.deadline); r > 0 {
		return r
	}
	return 0
}
