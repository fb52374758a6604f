package domain

import "github.com/shopspring/decimal"

// MarketSnapshot is the latest observed price of one market.
type MarketSnapshot struct {
	MarketID  string          `json:"market_id"`
	LastPrice decimal.Decimal `json:"last_price"`
}

// LeverageTable maps market ids to the maximum leverage the venue allows.
type LeverageTable map[string]decimal.Decimal

// DefaultMaxLeverage applies to markets missing from a LeverageTable.
var DefaultMaxLeverage = decimal.NewFromInt(1)

// Max returns the maximum leverage for marketID, defaulting to 1.
func (t LeverageTable) Max(marketID string) decimal.Decimal {
	if v, ok := t[marketID]; ok && v.IsPositive() {
		return v
	}
	return DefaultMaxLeverage
}

// PriceIndex indexes snapshots by market id. Snapshots without a positive
// last price are left out.
func PriceIndex(snaps []MarketSnapshot) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(snaps))
	for _, s := range snaps {
		if !s.LastPrice.IsPositive() {
			continue
		}
		out[s.MarketID] = s.LastPrice
	}
	return out
}
