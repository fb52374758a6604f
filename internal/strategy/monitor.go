package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// MonitorResult summarises one monitoring pass.
type MonitorResult struct {
	Checked int `json:"checked"`
	Skipped int `json:"skipped"`
	Closed  int `json:"closed"`
	Failed  int `json:"failed"`
}

// PositionMonitor applies the risk rules to every open position and closes
// the ones that breach them. A failed close never blacklists the market; the
// position stays in state and is retried next cycle.
type PositionMonitor struct {
	exec   domain.Executor
	risk   RiskConfig
	events emitter
	logger *slog.Logger
}

func newPositionMonitor(exec domain.Executor, risk RiskConfig, events emitter, logger *slog.Logger) *PositionMonitor {
	return &PositionMonitor{
		exec:   exec,
		risk:   risk,
		events: events,
		logger: logger.With(slog.String("component", "position_monitor")),
	}
}

// Run evaluates each position against prices and issues closes. Positions
// are processed one at a time in market id order.
func (m *PositionMonitor) Run(ctx context.Context, scope *CycleScope, prices map[string]decimal.Decimal) MonitorResult {
	var res MonitorResult
	ids := make([]string, 0, len(scope.State.Positions))
	for id := range scope.State.Positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return res
		}
		pos := scope.State.Positions[id]
		price, ok := prices[id]
		if !ok {
			res.Skipped++
			m.logger.InfoContext(ctx, "monitor: no usable price for open position, holding",
				slog.String("market", id))
			continue
		}
		res.Checked++

		switch m.check(ctx, scope, pos, price) {
		case closeDone:
			res.Closed++
		case closeFailed:
			res.Failed++
		}
	}
	return res
}

type closeOutcome int

const (
	closeHeld closeOutcome = iota
	closeDone
	closeFailed
)

func (m *PositionMonitor) check(ctx context.Context, scope *CycleScope, pos domain.Position, price decimal.Decimal) (out closeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "monitor: panic while checking position",
				slog.String("market", pos.MarketID),
				slog.String("panic", fmt.Sprint(r)),
			)
			out = closeFailed
		}
	}()

	now := m.events.now()
	d := EvaluateRisk(pos, price, now, m.risk)
	m.logger.DebugContext(ctx, "monitor: position checked",
		slog.String("market", pos.MarketID),
		slog.String("direction", string(pos.Direction)),
		slog.String("open_price", pos.OpenPrice.String()),
		slog.String("price", price.String()),
		slog.String("pnl", d.PnL.StringFixed(4)),
		slog.Duration("held", now.Sub(pos.OpenedAt)),
	)
	if !d.Close {
		return closeHeld
	}

	m.logger.InfoContext(ctx, "monitor: closing position",
		slog.String("market", pos.MarketID),
		slog.String("reason", string(d.Reason)),
		slog.String("pnl", d.PnL.StringFixed(4)),
	)

	if scope.tracking() {
		scope.State.SetPending(pos.MarketID, domain.PendingIntent{
			Kind:      domain.IntentClose,
			Direction: pos.Direction,
			Leverage:  pos.Leverage,
			Price:     price,
			CreatedAt: now.UTC(),
		})
		scope.checkpoint(ctx)
	}

	result, err := m.exec.ClosePosition(ctx, domain.CloseRequest{
		MarketID:     pos.MarketID,
		Direction:    pos.Direction,
		SizeFraction: domain.FullSize,
	})
	if err != nil {
		// Outcome unknown: the close intent stays pending for reconciliation.
		m.logger.WarnContext(ctx, "monitor: close request failed",
			slog.String("market", pos.MarketID),
			slog.String("error", err.Error()),
		)
		m.failed(ctx, scope, pos, d, err.Error())
		return closeFailed
	}
	scope.State.ClearPending(pos.MarketID)

	if !result.Confirmed {
		msg := result.Error
		if msg == "" {
			msg = "empty response"
		}
		m.logger.WarnContext(ctx, "monitor: close rejected, will retry next cycle",
			slog.String("market", pos.MarketID),
			slog.String("error", msg),
		)
		m.failed(ctx, scope, pos, d, msg)
		return closeFailed
	}

	delete(scope.State.Positions, pos.MarketID)
	m.logger.InfoContext(ctx, "monitor: position closed",
		slog.String("market", pos.MarketID),
		slog.String("order_ref", result.OrderRef),
	)
	m.events.emit(ctx, scope.ID, domain.Event{
		Type:      domain.EventPositionClosed,
		MarketID:  pos.MarketID,
		Direction: pos.Direction,
		Price:     price.String(),
		Leverage:  pos.Leverage.String(),
		PnL:       d.PnL.StringFixed(6),
		Reason:    string(d.Reason),
		OrderRef:  result.OrderRef,
	})
	return closeDone
}

func (m *PositionMonitor) failed(ctx context.Context, scope *CycleScope, pos domain.Position, d RiskDecision, msg string) {
	m.events.emit(ctx, scope.ID, domain.Event{
		Type:      domain.EventCloseFailed,
		MarketID:  pos.MarketID,
		Direction: pos.Direction,
		PnL:       d.PnL.StringFixed(6),
		Reason:    string(d.Reason),
		Error:     msg,
	})
}
