package exchange

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClock lets tests step time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestController(refresh time.Duration) (*CycleController, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	ctrl := NewCycleController(refresh, testLogger())
	ctrl.now = clock.now
	return ctrl, clock
}

func TestBeforeCycleRunsWhenIdle(t *testing.T) {
	t.Parallel()
	ctrl, _ := newTestController(time.Second)

	if got := ctrl.BeforeCycle(); got != CycleRun {
		t.Fatalf("BeforeCycle() = %v, want run", got)
	}
	if ctrl.ShouldBlockEntries() {
		t.Error("ShouldBlockEntries() = true with no 429s")
	}
}

func TestRegisterRateLimitPauses(t *testing.T) {
	t.Parallel()
	ctrl, clock := newTestController(time.Second)

	ctrl.RegisterRateLimit("test")

	if got := ctrl.BeforeCycle(); got != CyclePaused {
		t.Fatalf("BeforeCycle() = %v, want paused", got)
	}
	if !ctrl.ShouldBlockEntries() {
		t.Error("ShouldBlockEntries() = false after a 429")
	}

	// base backoff = 2x refresh = 2s
	clock.advance(2100 * time.Millisecond)
	if got := ctrl.BeforeCycle(); got == CyclePaused {
		t.Fatalf("BeforeCycle() still paused after backoff elapsed")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()
	ctrl, _ := newTestController(time.Second)

	// 2s, 4s, 8s, ..., capped at 60s
	if got := ctrl.backoffFor(1); got != 2*time.Second {
		t.Errorf("backoffFor(1) = %v, want 2s", got)
	}
	if got := ctrl.backoffFor(3); got != 8*time.Second {
		t.Errorf("backoffFor(3) = %v, want 8s", got)
	}
	if got := ctrl.backoffFor(20); got != maxBackoff {
		t.Errorf("backoffFor(20) = %v, want %v", got, maxBackoff)
	}
}

func TestPauseUntilIsMonotonic(t *testing.T) {
	t.Parallel()
	ctrl, clock := newTestController(time.Second)

	// Build a long pause first.
	for i := 0; i < 5; i++ {
		ctrl.RegisterRateLimit("storm")
	}
	longUntil := ctrl.pauseUntil

	// Decay the counter back to 1 so the next backoff is short again.
	ctrl.consecutive429 = 0
	clock.advance(time.Millisecond)
	ctrl.RegisterRateLimit("late")

	if ctrl.pauseUntil.Before(longUntil) {
		t.Errorf("pauseUntil moved earlier: %v -> %v", longUntil, ctrl.pauseUntil)
	}
}

func TestCleanCycleDecaysCounter(t *testing.T) {
	t.Parallel()
	ctrl, clock := newTestController(time.Second)

	ctrl.RegisterRateLimit("a")
	ctrl.RegisterRateLimit("b")

	// wait out the pause, then two clean cycles
	clock.advance(2 * time.Minute)
	ctrl.OnCycleComplete(false)
	if got := ctrl.Consecutive(); got != 1 {
		t.Fatalf("consecutive = %d after one clean cycle, want 1", got)
	}
	ctrl.OnCycleComplete(false)
	if got := ctrl.Consecutive(); got != 0 {
		t.Fatalf("consecutive = %d after two clean cycles, want 0", got)
	}
	// floor at zero
	ctrl.OnCycleComplete(false)
	if got := ctrl.Consecutive(); got != 0 {
		t.Fatalf("consecutive = %d, want floor 0", got)
	}
	if ctrl.ShouldBlockEntries() {
		t.Error("ShouldBlockEntries() = true after full decay")
	}
}

func TestSkipAfterRateLimitedCycle(t *testing.T) {
	t.Parallel()
	ctrl, clock := newTestController(time.Second)

	ctrl.RegisterRateLimit("x")
	clock.advance(3 * time.Second) // past the 2s backoff
	ctrl.OnCycleComplete(true)

	// less than one refresh interval since the rate-limited cycle ended
	clock.advance(500 * time.Millisecond)
	if got := ctrl.BeforeCycle(); got != CycleSkip {
		t.Fatalf("BeforeCycle() = %v, want skip", got)
	}

	clock.advance(time.Second)
	if got := ctrl.BeforeCycle(); got != CycleRun {
		t.Fatalf("BeforeCycle() = %v, want run", got)
	}
}

// A continuous 429 storm must settle into the paused state and stay there;
// the controller never lets a cycle through mid-storm.
func TestRateLimitStormReachesPaused(t *testing.T) {
	t.Parallel()
	ctrl, clock := newTestController(time.Second)

	for i := 0; i < 50; i++ {
		ctrl.RegisterRateLimit("storm")
		if got := ctrl.BeforeCycle(); got != CyclePaused {
			t.Fatalf("iteration %d: BeforeCycle() = %v, want paused", i, got)
		}
		clock.advance(100 * time.Millisecond)
	}

	remaining := ctrl.pauseUntil.Sub(clock.t)
	if remaining > maxBackoff {
		t.Errorf("pause extends %v past now, beyond the %v cap", remaining, maxBackoff)
	}
}
