package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/hammamikhairi/voxengine/internal/logger"
)

func TestDeadlineFires(t *testing.T) {
	dl := NewDeadline("test", logger.New(logger.LevelOff, nil))
	fired := make(chan struct{}, 1)

	dl.Arm(20*time.Millisecond, func() { fired <- struct{}{} })
	if !dl.Active() {
		t.Fatal("expected active after arm")
	}
	if dl.Remaining() <= 0 {
		t.Fatal("expected positive remaining time")
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("deadline did not fire")
	}
	if dl.Active() {
		t.Fatal("expected inactive after firing")
	}
}

func TestDeadlineCancel(t *testing.T) {
	dl := NewDeadline("test", logger.New(logger.LevelOff, nil))
	var calls atomic.Int32

	dl.Arm(20*time.Millisecond, func() { calls.Add(1) })
	if !dl.Cancel() {
		t.Fatal("Cancel should report a pending deadline")
	}
	if dl.Cancel() {
		t.Fatal("second Cancel should report nothing pending")
	}

	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("cancelled deadline fired %d times", calls.Load())
	}
}

func TestDeadlineRearmSupersedes(t *testing.T) {
	dl := NewDeadline("test", logger.New(logger.LevelOff, nil))
	var first, second atomic.Int32

	dl.Arm(20*time.Millisecond, func() { first.Add(1) })
	dl.Arm(60*time.Millisecond, func() { second.Add(1) })

	time.Sleep(40 * time.Millisecond)
	if first.Load() != 0 {
		t.Fatal("superseded callback ran")
	}
	time.Sleep(80 * time.Millisecond)
	if second.Load() != 1 {
		t.Fatalf("expected replacement to fire once, got %d", second.Load())
	}
}
