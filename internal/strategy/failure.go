package strategy

import (
	"context"
	"strings"
	"time"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// FailureClass separates execution failures worth retrying from those that
// disqualify a market.
type FailureClass int

const (
	FailurePersistent FailureClass = iota
	FailureTransient
)

func (c FailureClass) String() string {
	if c == FailureTransient {
		return "transient"
	}
	return "persistent"
}

// DefaultTransientErrors lists venue messages that indicate a sequencing
// conflict rather than a problem with the market.
var DefaultTransientErrors = []string{"account sequence mismatch"}

// ClassifyFailure matches msg case-insensitively against the transient
// patterns. Anything unmatched, including an empty message, is persistent.
func ClassifyFailure(msg string, transient []string) FailureClass {
	if msg == "" {
		return FailurePersistent
	}
	lower := strings.ToLower(msg)
	for _, p := range transient {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return FailureTransient
		}
	}
	return FailurePersistent
}

// CycleScope is the mutable view of one cycle shared by the monitor and the
// scanner. State must not be retained after the cycle ends.
type CycleScope struct {
	ID    string
	State *domain.EngineState
	// Checkpoint persists State mid-cycle. Nil when pending intents are not
	// tracked.
	Checkpoint func(ctx context.Context)
}

func (s *CycleScope) checkpoint(ctx context.Context) {
	if s.Checkpoint != nil {
		s.Checkpoint(ctx)
	}
}

func (s *CycleScope) tracking() bool { return s.Checkpoint != nil }

// emitter stamps events with cycle and strategy identity.
type emitter struct {
	sink     domain.EventSink
	strategy string
	now      func() time.Time
}

func (e emitter) emit(ctx context.Context, cycleID string, ev domain.Event) {
	if e.sink == nil {
		return
	}
	ev.CycleID = cycleID
	ev.Strategy = e.strategy
	if ev.Time.IsZero() {
		ev.Time = e.now().UTC()
	}
	e.sink.Emit(ctx, ev)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
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
