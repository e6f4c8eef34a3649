// Package ratelimit keeps entity-store traffic inside a rolling call budget:
// a per-caller limiter, exponential retry for transient failures, a FIFO
// request queue and collection wrappers that tie them together.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"clarify/internal/logger"
)

// LimitConfig defines the rolling call budget of one caller.
type LimitConfig struct {
	Window   time.Duration // rolling window length
	SoftCap  int           // calls per window that pass without delay
	HardCap  int           // calls per window before callers wait for the window to drain
	Throttle time.Duration // delay applied between the soft and hard cap
}

// DefaultLimitConfig returns the default budget: 10 fast calls, 20 before forced delay, per caller per minute.
func DefaultLimitConfig() LimitConfig {
	return LimitConfig{
		Window:   time.Minute,
		SoftCap:  10,
		HardCap:  20,
		Throttle: 300 * time.Millisecond,
	}
}

// WindowFactory builds the rolling window of one caller.
type WindowFactory func(caller string) Window

// Limiter is the injectable call budget shared by every gateway wrapper. Each
// caller (see WithCaller) draws on its own window.
type Limiter struct {
	cfg       LimitConfig
	newWindow WindowFactory
	log       *logger.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	inFlight  atomic.Int64

	mu      sync.Mutex
	windows map[string]*callerWindow
}

type callerWindow struct {
	Window
	lastUsed time.Time
}

// NewLimiter builds a limiter; a nil factory keeps windows in process memory.
func NewLimiter(cfg LimitConfig, newWindow WindowFactory, log *logger.Logger) *Limiter {
	if newWindow == nil {
		newWindow = func(string) Window { return NewMemoryWindow(cfg.Window) }
	}
	return &Limiter{
		cfg:       cfg,
		newWindow: newWindow,
		log:       log.With("service", "RateLimiter"),
		now:       time.Now,
		sleep:     sleepCtx,
		windows:   make(map[string]*callerWindow),
	}
}

func (l *Limiter) window(caller string) Window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[caller]
	if !ok {
		w = &callerWindow{Window: l.newWindow(caller)}
		l.windows[caller] = w
	}
	w.lastUsed = l.now()
	return w.Window
}

// Callers reports how many caller windows are tracked.
func (l *Limiter) Callers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Acquire blocks until the budget of the caller in ctx admits one more call,
// then records it. Every successful Acquire must be paired with Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	caller := CallerFrom(ctx)
	window := l.window(caller)
	for {
		now := l.now()
		count, oldest, err := window.Snapshot(ctx, now)
		if err != nil {
			// A broken shared window must not stop traffic.
			l.log.Warn("rate window unavailable, admitting call", "error", err)
			count = 0
		}

		switch {
		case count < l.cfg.SoftCap:
		case count < l.cfg.HardCap:
			if err := l.sleep(ctx, l.cfg.Throttle); err != nil {
				return err
			}
		default:
			wait := oldest.Add(l.cfg.Window).Sub(now)
			if wait <= 0 {
				wait = l.cfg.Throttle
			}
			l.log.Debug("call budget exhausted, waiting", "caller", caller, "wait", wait, "count", count)
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if err := window.Record(ctx, l.now()); err != nil {
			l.log.Warn("failed to record call", "error", err)
		}
		l.inFlight.Add(1)
		return nil
	}
}

// Release marks an acquired call as finished.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
}

// InFlight reports calls acquired but not yet released.
func (l *Limiter) InFlight() int64 {
	return l.inFlight.Load()
}

// Prune drops expired calls from every window and forgets callers idle for a
// whole window; scheduled once per window.
func (l *Limiter) Prune(ctx context.Context) {
	now := l.now()
	l.mu.Lock()
	live := make([]Window, 0, len(l.windows))
	for caller, w := range l.windows {
		if !w.lastUsed.After(now.Add(-l.cfg.Window)) {
			delete(l.windows, caller)
			continue
		}
		live = append(live, w.Window)
	}
	l.mu.Unlock()

	for _, w := range live {
		if err := w.Prune(ctx, now); err != nil {
			l.log.Warn("rate window prune failed", "error", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
