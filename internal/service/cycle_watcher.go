package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
	"github.com/alanyoungcy/meanrevbot/internal/strategy"
)

// CycleWatcher follows the cycle reports published on the bus by a trading
// process. Dashboard-only deployments use it in place of a local Runner.
type CycleWatcher struct {
	bus    domain.SignalBus
	logger *slog.Logger

	mu   sync.RWMutex
	last *strategy.CycleReport
	runs int64
}

// NewCycleWatcher creates a CycleWatcher.
func NewCycleWatcher(bus domain.SignalBus, logger *slog.Logger) *CycleWatcher {
	return &CycleWatcher{
		bus:    bus,
		logger: logger.With(slog.String("component", "cycle_watcher")),
	}
}

// Run consumes the cycles channel until ctx is cancelled.
func (w *CycleWatcher) Run(ctx context.Context) error {
	msgs, err := w.bus.Subscribe(ctx, domain.ChannelCycles)
	if err != nil {
		return fmt.Errorf("service: subscribe cycles: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := w.observe(msg); err != nil {
				w.logger.WarnContext(ctx, "cycle_watcher: bad message", slog.String("error", err.Error()))
			}
		}
	}
}

func (w *CycleWatcher) observe(msg []byte) error {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return err
	}
	if env.Type != "cycle" {
		return fmt.Errorf("unexpected message type %q", env.Type)
	}
	var rep strategy.CycleReport
	if err := json.Unmarshal(env.Payload, &rep); err != nil {
		return err
	}
	w.mu.Lock()
	w.last = &rep
	w.runs++
	w.mu.Unlock()
	return nil
}

// LastReport returns the most recently observed report.
func (w *CycleWatcher) LastReport() (strategy.CycleReport, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return strategy.CycleReport{}, false
	}
	return *w.last, true
}

// Runs returns how many reports have been observed since start.
func (w *CycleWatcher) Runs() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.runs
}
