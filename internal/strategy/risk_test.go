package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func defaultRisk() RiskConfig {
	return RiskConfig{StopLoss: dec("-0.05"), TakeProfit: dec("0.05"), MaxHold: 6 * time.Hour}
}

func TestEvaluateRisk(t *testing.T) {
	opened := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	long := domain.Position{MarketID: "BTC", OpenPrice: dec("100"), Direction: domain.DirectionLong, Leverage: dec("2"), OpenedAt: opened}
	short := long
	short.Direction = domain.DirectionShort

	tests := []struct {
		name   string
		pos    domain.Position
		price  string
		now    time.Time
		cfg    RiskConfig
		close  bool
		reason ExitReason
		pnl    string
	}{
		{"long stop loss", long, "94", opened.Add(time.Hour), defaultRisk(), true, ExitStopLoss, "-0.12"},
		{"long take profit", long, "103", opened.Add(time.Hour), defaultRisk(), true, ExitTakeProfit, "0.06"},
		{"long hold", long, "101", opened.Add(time.Hour), defaultRisk(), false, ExitNone, "0.02"},
		{"short gains when price falls", short, "97", opened.Add(time.Hour), defaultRisk(), true, ExitTakeProfit, "0.06"},
		{"short stop loss", short, "103", opened.Add(time.Hour), defaultRisk(), true, ExitStopLoss, "-0.06"},
		{"stop loss boundary inclusive", long, "97.5", opened.Add(time.Hour), defaultRisk(), true, ExitStopLoss, "-0.05"},
		{"take profit boundary inclusive", long, "102.5", opened.Add(time.Hour), defaultRisk(), true, ExitTakeProfit, "0.05"},
		{"max hold exceeded", long, "100", opened.Add(6*time.Hour + time.Second), defaultRisk(), true, ExitMaxHold, "0"},
		{"max hold exactly reached holds", long, "100", opened.Add(6 * time.Hour), defaultRisk(), false, ExitNone, "0"},
		{"stop loss dominates max hold", long, "90", opened.Add(48 * time.Hour), defaultRisk(), true, ExitStopLoss, "-0.2"},
		{
			"stop loss dominates take profit",
			long, "100", opened.Add(time.Hour),
			RiskConfig{StopLoss: dec("0.01"), TakeProfit: dec("-0.01"), MaxHold: time.Hour},
			true, ExitStopLoss, "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateRisk(tt.pos, dec(tt.price), tt.now, tt.cfg)
			if got.Close != tt.close || got.Reason != tt.reason {
				t.Fatalf("decision = %+v, want close=%v reason=%q", got, tt.close, tt.reason)
			}
			if !got.PnL.Equal(dec(tt.pnl)) {
				t.Fatalf("pnl = %s, want %s", got.PnL, tt.pnl)
			}
		})
	}
}

func TestPnLFractionZeroOpenPrice(t *testing.T) {
	pos := domain.Position{OpenPrice: decimal.Zero, Direction: domain.DirectionLong, Leverage: dec("3")}
	if got := PnLFraction(pos, dec("10")); !got.IsZero() {
		t.Fatalf("pnl = %s, want 0", got)
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		msg  string
		want FailureClass
	}{
		{"account sequence mismatch, expected 12, got 11", FailureTransient},
		{"Account Sequence Mismatch", FailureTransient},
		{"insufficient funds", FailurePersistent},
		{"", FailurePersistent},
	}
	for _, tt := range tests {
		if got := ClassifyFailure(tt.msg, DefaultTransientErrors); got != tt.want {
			t.Errorf("ClassifyFailure(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
	if got := ClassifyFailure("nonce too low", []string{"nonce too low"}); got != FailureTransient {
		t.Errorf("custom pattern not honoured: %v", got)
	}
}
