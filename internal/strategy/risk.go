package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// ExitReason explains why a position is closed.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitMaxHold    ExitReason = "max_hold"
)

// RiskConfig bounds how long and how far a position may run.
type RiskConfig struct {
	// StopLoss is a signed fraction, e.g. -0.05.
	StopLoss decimal.Decimal
	// TakeProfit is a signed fraction, e.g. 0.05.
	TakeProfit decimal.Decimal
	MaxHold    time.Duration
}

// RiskDecision is the outcome of EvaluateRisk.
type RiskDecision struct {
	Close  bool
	Reason ExitReason
	PnL    decimal.Decimal
}

// PnLFraction returns the leveraged, direction-adjusted return of pos at
// price. A non-positive open price yields zero.
func PnLFraction(pos domain.Position, price decimal.Decimal) decimal.Decimal {
	if !pos.OpenPrice.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(pos.OpenPrice).
		Div(pos.OpenPrice).
		Mul(pos.Direction.Sign()).
		Mul(pos.Leverage)
}

// EvaluateRisk decides whether pos must be closed. Stop-loss wins over
// take-profit, which wins over the holding limit.
func EvaluateRisk(pos domain.Position, price decimal.Decimal, now time.Time, cfg RiskConfig) RiskDecision {
	pnl := PnLFraction(pos, price)
	d := RiskDecision{PnL: pnl}
	switch {
	case pnl.LessThanOrEqual(cfg.StopLoss):
		d.Close, d.Reason = true, ExitStopLoss
	case pnl.GreaterThanOrEqual(cfg.TakeProfit):
		d.Close, d.Reason = true, ExitTakeProfit
	case cfg.MaxHold > 0 && now.Sub(pos.OpenedAt) > cfg.MaxHold:
		d.Close, d.Reason = true, ExitMaxHold
	}
	return d
}
