// backoff.go implements the per-venue rate-limit cycle controller.
//
// Where ratelimit.go paces individual REST requests proactively, this
// controller reacts to observed 429s: each registered rate limit arms an
// exponential pause (base = 2x the engine refresh interval, capped at 60s)
// during which the control loop must not run at all. A cycle that ends with
// a rate limit additionally forces the next cycle to be skipped. Clean
// cycles decay the 429 counter one step at a time, and any nonzero counter
// blocks new entry quotes while still allowing reduce-only closes.
package exchange

import (
	"log/slog"
	"sync"
	"time"
)

// CycleDecision tells the engine what to do with the upcoming control cycle.
type CycleDecision int

const (
	CycleRun  CycleDecision = iota // proceed normally
	CycleSkip                      // sit out this one cycle
	CyclePaused                    // inside a backoff window, do nothing
)

func (d CycleDecision) String() string {
	switch d {
	case CycleSkip:
		return "skip"
	case CyclePaused:
		return "paused"
	default:
		return "run"
	}
}

const maxBackoff = 60 * time.Second

// CycleController centralizes rate-limit backoff for one venue. It never
// returns errors; its only output is the per-cycle decision and the
// entry-blocking flag.
type CycleController struct {
	mu              sync.Mutex
	refreshInterval time.Duration
	consecutive429  int
	paused          bool
	pauseUntil      time.Time
	lastCycleEnd    time.Time
	lastHadLimit    bool
	logger          *slog.Logger

	now func() time.Time // stubbed in tests
}

// NewCycleController creates a controller for the given engine refresh interval.
func NewCycleController(refreshInterval time.Duration, logger *slog.Logger) *CycleController {
	return &CycleController{
		refreshInterval: refreshInterval,
		logger:          logger.With("component", "ratelimit"),
		now:             time.Now,
	}
}

// RegisterRateLimit records an observed 429 from the given source and arms
// (or extends) the backoff pause. The pause deadline is monotonic: a later
// registration can only push it out, never pull it in.
func (c *CycleController) RegisterRateLimit(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutive429++
	backoff := c.backoffFor(c.consecutive429)
	until := c.now().Add(backoff)
	if until.After(c.pauseUntil) {
		c.pauseUntil = until
	}
	c.paused = true
	c.lastHadLimit = true

	c.logger.Warn("rate limit registered",
		"source", source,
		"consecutive", c.consecutive429,
		"backoff", backoff,
		"pause_until", c.pauseUntil,
	)
}

// backoffFor returns the exponential pause for the nth consecutive 429.
// base = 2x refresh interval, doubling per occurrence, capped at 60s.
func (c *CycleController) backoffFor(n int) time.Duration {
	backoff := 2 * c.refreshInterval
	for i := 1; i < n; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// BeforeCycle decides whether the upcoming control cycle may run.
func (c *CycleController) BeforeCycle() CycleDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Before(c.pauseUntil) {
		return CyclePaused
	}
	if c.paused {
		c.paused = false
		c.logger.Info("rate limit pause expired", "consecutive", c.consecutive429)
	}
	if c.lastHadLimit && !c.lastCycleEnd.IsZero() && now.Sub(c.lastCycleEnd) < c.refreshInterval {
		return CycleSkip
	}
	return CycleRun
}

// OnCycleComplete records the outcome of a finished cycle. A clean cycle
// decays the consecutive-429 counter by one (floor 0).
func (c *CycleController) OnCycleComplete(hadRateLimit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastCycleEnd = c.now()
	c.lastHadLimit = hadRateLimit
	if !hadRateLimit && c.consecutive429 > 0 {
		c.consecutive429--
	}
}

// ShouldBlockEntries reports whether new entry quotes must be suppressed.
// Reduce-only closes remain allowed regardless.
func (c *CycleController) ShouldBlockEntries() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutive429 >= 1
}

// Consecutive returns the current consecutive-429 counter (for snapshots).
func (c *CycleController) Consecutive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutive429
}
