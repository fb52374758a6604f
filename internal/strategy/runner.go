package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// Runner invokes a Cycle on a fixed interval. Cycles never overlap within a
// process; when a LockManager is set they also do not overlap across
// processes sharing the same lock key.
type Runner struct {
	cycle    *Cycle
	interval time.Duration
	locks    domain.LockManager
	lockKey  string
	logger   *slog.Logger

	observers []func(CycleReport)

	mu   sync.RWMutex
	last *CycleReport
	runs int64
}

// NewRunner creates a Runner. locks may be nil.
func NewRunner(cycle *Cycle, interval time.Duration, locks domain.LockManager, lockKey string, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	if lockKey == "" {
		lockKey = "cycle:" + cycle.cfg.Strategy
	}
	return &Runner{
		cycle:    cycle,
		interval: interval,
		locks:    locks,
		lockKey:  lockKey,
		logger:   logger.With(slog.String("component", "strategy_runner")),
	}
}

// OnReport registers fn to receive every finished cycle's report. It must be
// called before Run.
func (r *Runner) OnReport(fn func(CycleReport)) {
	r.observers = append(r.observers, fn)
}

// Run executes a cycle immediately and then once per interval until ctx is
// cancelled. Cycle failures are logged, never returned.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "runner: started", slog.Duration("interval", r.interval))
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "runner: stopped")
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single cycle, honouring the distributed lock. It
// returns the report, or nil when the cycle was skipped or crashed.
func (r *Runner) RunOnce(ctx context.Context) *CycleReport {
	if r.locks != nil {
		// The lock outlives a cycle that hangs; the next holder proceeds once it expires.
		unlock, err := r.locks.Acquire(ctx, r.lockKey, 2*r.interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				r.logger.InfoContext(ctx, "runner: another instance holds the cycle lock, skipping")
			} else {
				r.logger.WarnContext(ctx, "runner: lock unavailable, skipping", slog.String("error", err.Error()))
			}
			return nil
		}
		defer unlock()
	}

	rep, err := r.safeRun(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "runner: cycle did not complete", slog.String("error", err.Error()))
	}
	if rep == nil {
		return nil
	}
	r.mu.Lock()
	r.last = rep
	r.runs++
	r.mu.Unlock()
	for _, fn := range r.observers {
		fn(*rep)
	}
	return rep
}

// safeRun contains a panic escaping the cycle. The state file is left as it
// was before the cycle.
func (r *Runner) safeRun(ctx context.Context) (rep *CycleReport, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "runner: cycle panicked",
				slog.String("panic", fmt.Sprint(p)),
				slog.String("stack", string(debug.Stack())),
			)
			rep, err = nil, fmt.Errorf("strategy: cycle panicked: %v", p)
		}
	}()
	out, err := r.cycle.Run(ctx)
	return &out, err
}

// LastReport returns the most recent cycle report, if any.
func (r *Runner) LastReport() (CycleReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return CycleReport{}, false
	}
	return *r.last, true
}

// Runs returns how many cycles have finished, aborted ones included.
func (r *Runner) Runs() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs
}
