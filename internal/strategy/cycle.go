package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// StateStore loads and saves the engine state. Load never fails; a missing
// or corrupt store yields an empty state.
type StateStore interface {
	Load(ctx context.Context) *domain.EngineState
	Save(ctx context.Context, st *domain.EngineState) error
}

// CycleConfig carries every tunable of one strategy instance.
type CycleConfig struct {
	Strategy     string
	Signal       SignalConfig
	Risk         RiskConfig
	Scan         ScanConfig
	BlacklistTTL time.Duration
	// TrackPending persists request intents before each execution call.
	TrackPending bool
}

// Deps are the collaborators a Cycle drives.
type Deps struct {
	Store    StateStore
	Market   domain.MarketData
	History  domain.PriceHistory
	Executor domain.Executor
	// Recorder, when set, receives every fetched snapshot.
	Recorder domain.PriceRecorder
	Events   domain.EventSink
}

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
)

// CycleReport describes one finished cycle.
type CycleReport struct {
	ID            string        `json:"id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Outcome       Outcome       `json:"outcome"`
	AbortReason   string        `json:"abort_reason,omitempty"`
	Markets       int           `json:"markets"`
	Monitor       MonitorResult `json:"monitor"`
	Scan          ScanResult    `json:"scan"`
	Expired       []string      `json:"expired,omitempty"`
	Reconciled    int           `json:"reconciled"`
	OpenPositions int           `json:"open_positions"`
	Blacklisted   int           `json:"blacklisted"`
	Pending       int           `json:"pending"`
	SaveError     string        `json:"save_error,omitempty"`
}

// Duration returns how long the cycle ran.
func (r CycleReport) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Cycle runs one full pass: load, fetch, monitor, scan, save.
type Cycle struct {
	cfg     CycleConfig
	deps    Deps
	monitor *PositionMonitor
	scanner *EntryScanner
	events  emitter
	logger  *slog.Logger
}

// NewCycle creates a Cycle.
func NewCycle(cfg CycleConfig, deps Deps, logger *slog.Logger) *Cycle {
	if deps.Events == nil {
		deps.Events = domain.NopSink{}
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "mean_reversion"
	}
	ev := emitter{sink: deps.Events, strategy: cfg.Strategy, now: time.Now}
	logger = logger.With(slog.String("strategy", cfg.Strategy))
	return &Cycle{
		cfg:     cfg,
		deps:    deps,
		monitor: newPositionMonitor(deps.Executor, cfg.Risk, ev, logger),
		scanner: newEntryScanner(deps.History, deps.Executor, NewSignalGenerator(cfg.Signal), cfg.Scan, ev, logger),
		events:  ev,
		logger:  logger.With(slog.String("component", "strategy_cycle")),
	}
}

// setClock replaces the time source of the cycle and its components.
func (c *Cycle) setClock(now func() time.Time) {
	c.events.now = now
	c.monitor.events.now = now
	c.scanner.events.now = now
}

// Run executes one cycle. It returns an error wrapping
// domain.ErrDataUnavailable when the cycle aborted before touching state; a
// failed save is reported in the CycleReport only.
func (c *Cycle) Run(ctx context.Context) (CycleReport, error) {
	rep := CycleReport{ID: uuid.NewString(), StartedAt: c.events.now().UTC()}
	log := c.logger.With(slog.String("cycle", rep.ID))

	st := c.deps.Store.Load(ctx)

	snaps, err := c.deps.Market.FetchMarkets(ctx)
	if err == nil && len(snaps) == 0 {
		err = fmt.Errorf("no markets returned: %w", domain.ErrDataUnavailable)
	}
	if err != nil {
		return c.abort(ctx, rep, "fetch markets", err), fmt.Errorf("strategy: fetch markets: %w", err)
	}
	rep.Markets = len(snaps)

	leverages, err := c.deps.Market.FetchMaxLeverages(ctx)
	if err == nil && leverages == nil {
		err = fmt.Errorf("no leverage table returned: %w", domain.ErrDataUnavailable)
	}
	if err != nil {
		return c.abort(ctx, rep, "fetch leverages", err), fmt.Errorf("strategy: fetch leverages: %w", err)
	}

	if c.deps.Recorder != nil {
		if err := c.deps.Recorder.Record(ctx, snaps); err != nil {
			log.WarnContext(ctx, "strategy: record prices failed", slog.String("error", err.Error()))
		}
	}

	scope := &CycleScope{ID: rep.ID, State: st}
	if c.cfg.TrackPending {
		scope.Checkpoint = func(ctx context.Context) {
			_ = c.deps.Store.Save(context.WithoutCancel(ctx), st)
		}
	}

	rep.Expired = st.ExpireBlacklist(c.events.now(), c.cfg.BlacklistTTL)
	for _, id := range rep.Expired {
		log.InfoContext(ctx, "strategy: blacklist entry expired", slog.String("market", id))
		c.events.emit(ctx, rep.ID, domain.Event{Type: domain.EventBlacklistExpired, MarketID: id})
	}

	rep.Reconciled = c.reconcile(ctx, scope)

	prices := domain.PriceIndex(snaps)
	rep.Monitor = c.monitor.Run(ctx, scope, prices)
	rep.Scan = c.scanner.Run(ctx, scope, snaps, leverages)

	if err := c.deps.Store.Save(context.WithoutCancel(ctx), st); err != nil {
		rep.SaveError = err.Error()
	}

	rep.OpenPositions = len(st.Positions)
	rep.Blacklisted = len(st.Blacklist)
	rep.Pending = len(st.Pending)
	rep.Outcome = OutcomeCompleted
	rep.FinishedAt = c.events.now().UTC()

	log.InfoContext(ctx, "strategy: cycle completed",
		slog.Int("markets", rep.Markets),
		slog.Int("closed", rep.Monitor.Closed),
		slog.Int("opened", rep.Scan.Opened),
		slog.Int("blacklisted_now", rep.Scan.Blacklisted),
		slog.Int("open_positions", rep.OpenPositions),
		slog.Int("blacklist_size", rep.Blacklisted),
		slog.Duration("took", rep.Duration()),
	)
	c.events.emit(ctx, rep.ID, domain.Event{
		Type:   domain.EventCycleCompleted,
		Reason: fmt.Sprintf("opened=%d closed=%d", rep.Scan.Opened, rep.Monitor.Closed),
		Error:  rep.SaveError,
	})
	return rep, nil
}

func (c *Cycle) abort(ctx context.Context, rep CycleReport, stage string, err error) CycleReport {
	rep.Outcome = OutcomeAborted
	rep.AbortReason = fmt.Sprintf("%s: %v", stage, err)
	rep.FinishedAt = c.events.now().UTC()
	c.logger.ErrorContext(ctx, "strategy: cycle aborted, state untouched",
		slog.String("cycle", rep.ID),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	c.events.emit(ctx, rep.ID, domain.Event{
		Type:   domain.EventCycleAborted,
		Reason: stage,
		Error:  err.Error(),
	})
	return rep
}

// reconcile resolves intents left by an interrupted cycle. It returns the
// number of intents cleared.
func (c *Cycle) reconcile(ctx context.Context, scope *CycleScope) int {
	st := scope.State
	if len(st.Pending) == 0 {
		return 0
	}
	ids := make([]string, 0, len(st.Pending))
	for id := range st.Pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rec, ok := c.deps.Executor.(domain.PositionReconciler)
	if !ok {
		cleared := 0
		for _, id := range ids {
			in := st.Pending[id]
			if in.Kind == domain.IntentClose {
				st.ClearPending(id)
				cleared++
				continue
			}
			c.logger.WarnContext(ctx, "strategy: unresolved open intent blocks market, edit the state file to clear it",
				slog.String("market", id),
				slog.Time("since", in.CreatedAt),
			)
		}
		return cleared
	}

	venue, err := rec.OpenPositions(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "strategy: reconcile failed, keeping pending intents",
			slog.Int("pending", len(ids)),
			slog.String("error", err.Error()),
		)
		return 0
	}

	for _, id := range ids {
		in := st.Pending[id]
		dir, live := venue[id]
		var outcome string
		switch in.Kind {
		case domain.IntentOpen:
			if live && !st.HasPosition(id) {
				if !dir.Valid() {
					dir = in.Direction
				}
				st.Positions[id] = domain.Position{
					MarketID:  id,
					OpenPrice: in.Price,
					Direction: dir,
					Leverage:  in.Leverage,
					OpenedAt:  in.CreatedAt,
					OrderRef:  "reconciled",
				}
				outcome = "opened"
			} else {
				outcome = "not_filled"
			}
		case domain.IntentClose:
			if !live {
				delete(st.Positions, id)
				outcome = "closed"
			} else {
				outcome = "still_open"
			}
		}
		st.ClearPending(id)
		c.logger.InfoContext(ctx, "strategy: pending intent reconciled",
			slog.String("market", id),
			slog.String("kind", string(in.Kind)),
			slog.String("outcome", outcome),
		)
		c.events.emit(ctx, scope.ID, domain.Event{
			Type:      domain.EventPendingResolved,
			MarketID:  id,
			Direction: in.Direction,
			Reason:    string(in.Kind) + ":" + outcome,
		})
	}
	return len(ids)
}
