package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// ScanConfig sizes new entries.
type ScanConfig struct {
	Collateral   decimal.Decimal
	Leverage     decimal.Decimal
	PreOpenDelay time.Duration
	// HistoryLength is the number of prices requested per market. Values
	// below the oscillator period are raised to it.
	HistoryLength   int
	TransientErrors []string
}

// ScanResult summarises one scanning pass.
type ScanResult struct {
	Eligible     int `json:"eligible"`
	Insufficient int `json:"insufficient"`
	Signals      int `json:"signals"`
	Opened       int `json:"opened"`
	Failed       int `json:"failed"`
	Blacklisted  int `json:"blacklisted"`
}

// EntryScanner looks for oscillator signals on every eligible market and
// opens positions on them.
type EntryScanner struct {
	history domain.PriceHistory
	exec    domain.Executor
	signals *SignalGenerator
	cfg     ScanConfig
	events  emitter
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

func newEntryScanner(history domain.PriceHistory, exec domain.Executor, signals *SignalGenerator, cfg ScanConfig, events emitter, logger *slog.Logger) *EntryScanner {
	if cfg.TransientErrors == nil {
		cfg.TransientErrors = DefaultTransientErrors
	}
	return &EntryScanner{
		history: history,
		exec:    exec,
		signals: signals,
		cfg:     cfg,
		events:  events,
		sleep:   sleepContext,
		logger:  logger.With(slog.String("component", "entry_scanner")),
	}
}

// Eligible returns the snapshot markets that are not blacklisted, hold no
// position and have no unresolved request, in market id order. Markets
// quoted at a non-positive price are left for a later cycle.
func Eligible(st *domain.EngineState, snaps []domain.MarketSnapshot) []domain.MarketSnapshot {
	seen := make(map[string]struct{}, len(snaps))
	out := make([]domain.MarketSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if _, dup := seen[s.MarketID]; dup || s.MarketID == "" {
			continue
		}
		seen[s.MarketID] = struct{}{}
		if !s.LastPrice.IsPositive() {
			continue
		}
		if st.Blacklisted(s.MarketID) || st.HasPosition(s.MarketID) || st.HasPending(s.MarketID) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// Run scans the eligible markets one at a time. A failure on one market is
// contained to that market.
func (s *EntryScanner) Run(ctx context.Context, scope *CycleScope, snaps []domain.MarketSnapshot, leverages domain.LeverageTable) ScanResult {
	eligible := Eligible(scope.State, snaps)
	res := ScanResult{Eligible: len(eligible)}
	for _, snap := range eligible {
		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "scanner: stopping, context done")
			return res
		}
		s.scanMarket(ctx, scope, snap, leverages, &res)
	}
	return res
}

func (s *EntryScanner) scanMarket(ctx context.Context, scope *CycleScope, snap domain.MarketSnapshot, leverages domain.LeverageTable, res *ScanResult) {
	id := snap.MarketID
	defer func() {
		if r := recover(); r != nil {
			s.unexpected(ctx, scope, id, fmt.Errorf("panic: %v", r), res)
		}
	}()

	period := s.signals.Period()
	history, err := s.history.FetchPriceHistory(ctx, id, max(s.cfg.HistoryLength, period))
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientData) || errors.Is(err, domain.ErrDataUnavailable) {
			res.Insufficient++
			s.logger.DebugContext(ctx, "scanner: no usable history",
				slog.String("market", id),
				slog.String("error", err.Error()),
			)
			return
		}
		s.unexpected(ctx, scope, id, fmt.Errorf("fetch history: %w", err), res)
		return
	}
	if len(history) < period {
		res.Insufficient++
		s.logger.DebugContext(ctx, "scanner: insufficient history",
			slog.String("market", id),
			slog.Int("points", len(history)),
			slog.Int("period", period),
		)
		return
	}

	sig := s.signals.Evaluate(history)
	s.logger.DebugContext(ctx, "scanner: oscillator",
		slog.String("market", id),
		slog.Float64("value", sig.Value),
		slog.String("signal", string(sig.Direction)),
	)
	if !sig.Has() {
		return
	}
	res.Signals++

	leverage := decimal.Min(s.cfg.Leverage, leverages.Max(id))
	s.logger.InfoContext(ctx, "scanner: entry signal",
		slog.String("market", id),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("oscillator", sig.Value),
		slog.String("price", snap.LastPrice.String()),
		slog.String("leverage", leverage.String()),
	)

	if s.cfg.PreOpenDelay > 0 {
		if err := s.sleep(ctx, s.cfg.PreOpenDelay); err != nil {
			s.logger.InfoContext(ctx, "scanner: open cancelled during delay", slog.String("market", id))
			return
		}
	}

	if scope.tracking() {
		scope.State.SetPending(id, domain.PendingIntent{
			Kind:       domain.IntentOpen,
			Direction:  sig.Direction,
			Leverage:   leverage,
			Collateral: s.cfg.Collateral,
			Price:      snap.LastPrice,
			CreatedAt:  s.events.now().UTC(),
		})
		scope.checkpoint(ctx)
	}

	result, err := s.exec.OpenPosition(ctx, domain.OpenRequest{
		MarketID:     id,
		Direction:    sig.Direction,
		SizeFraction: domain.FullSize,
		Collateral:   s.cfg.Collateral,
		Leverage:     leverage,
	})
	if err != nil {
		// Outcome unknown: any open intent stays pending for reconciliation.
		if ctx.Err() != nil {
			s.logger.WarnContext(ctx, "scanner: open interrupted", slog.String("market", id))
			return
		}
		res.Failed++
		s.rejected(ctx, scope, id, sig.Direction, err.Error(), res)
		return
	}
	scope.State.ClearPending(id)

	if !result.Confirmed {
		res.Failed++
		msg := result.Error
		if msg == "" {
			msg = "empty response"
		}
		s.rejected(ctx, scope, id, sig.Direction, msg, res)
		return
	}

	if scope.State.HasPosition(id) {
		s.logger.ErrorContext(ctx, "scanner: position appeared during open, keeping existing",
			slog.String("market", id))
		return
	}
	now := s.events.now().UTC()
	scope.State.Positions[id] = domain.Position{
		MarketID:  id,
		OpenPrice: snap.LastPrice,
		Direction: sig.Direction,
		Leverage:  leverage,
		OpenedAt:  now,
		OrderRef:  result.OrderRef,
	}
	res.Opened++
	s.logger.InfoContext(ctx, "scanner: position opened",
		slog.String("market", id),
		slog.String("direction", string(sig.Direction)),
		slog.String("order_ref", result.OrderRef),
	)
	s.events.emit(ctx, scope.ID, domain.Event{
		Type:      domain.EventPositionOpened,
		MarketID:  id,
		Direction: sig.Direction,
		Price:     snap.LastPrice.String(),
		Leverage:  leverage.String(),
		OrderRef:  result.OrderRef,
		Time:      now,
	})
}

// rejected handles an open the venue did not confirm.
func (s *EntryScanner) rejected(ctx context.Context, scope *CycleScope, id string, dir domain.Direction, msg string, res *ScanResult) {
	class := ClassifyFailure(msg, s.cfg.TransientErrors)
	s.logger.WarnContext(ctx, "scanner: open failed",
		slog.String("market", id),
		slog.String("class", class.String()),
		slog.String("error", msg),
	)
	s.events.emit(ctx, scope.ID, domain.Event{
		Type:      domain.EventOpenFailed,
		MarketID:  id,
		Direction: dir,
		Reason:    class.String(),
		Error:     msg,
	})
	if class == FailureTransient {
		return
	}
	s.blacklist(ctx, scope, id, msg, res)
}

// unexpected handles a Go error or panic raised while processing one market.
func (s *EntryScanner) unexpected(ctx context.Context, scope *CycleScope, id string, err error, res *ScanResult) {
	if ctx.Err() != nil {
		return
	}
	res.Failed++
	s.logger.ErrorContext(ctx, "scanner: unexpected error",
		slog.String("market", id),
		slog.String("error", err.Error()),
	)
	if ClassifyFailure(err.Error(), s.cfg.TransientErrors) == FailureTransient {
		return
	}
	s.blacklist(ctx, scope, id, err.Error(), res)
}

func (s *EntryScanner) blacklist(ctx context.Context, scope *CycleScope, id, reason string, res *ScanResult) {
	scope.State.AddBlacklist(id, s.events.now().UTC())
	res.Blacklisted++
	s.logger.WarnContext(ctx, "scanner: market blacklisted",
		slog.String("market", id),
		slog.String("reason", reason),
	)
	s.events.emit(ctx, scope.ID, domain.Event{
		Type:     domain.EventMarketBlacklisted,
		MarketID: id,
		Reason:   reason,
	})
}
