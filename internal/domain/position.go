package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a leveraged position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sign returns 1 for long and -1 for short.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Position is an open leveraged trade on one market.
type Position struct {
	MarketID  string          `json:"market_id"`
	OpenPrice decimal.Decimal `json:"open_price"`
	Direction Direction       `json:"direction"`
	Leverage  decimal.Decimal `json:"leverage"`
	OpenedAt  time.Time       `json:"opened_at"`
	OrderRef  string          `json:"order_ref,omitempty"`
}

// Validate checks the fields a loaded position must carry.
func (p Position) Validate() error {
	if p.MarketID == "" {
		return fmt.Errorf("position: empty market id")
	}
	if !p.OpenPrice.IsPositive() {
		return fmt.Errorf("position %s: open price must be positive", p.MarketID)
	}
	if !p.Direction.Valid() {
		return fmt.Errorf("position %s: unknown direction %q", p.MarketID, p.Direction)
	}
	if !p.Leverage.IsPositive() {
		return fmt.Errorf("position %s: leverage must be positive", p.MarketID)
	}
	if p.OpenedAt.IsZero() {
		return fmt.Errorf("position %s: missing opened_at", p.MarketID)
	}
	return nil
}

// IntentKind distinguishes pending open and close requests.
type IntentKind string

const (
	IntentOpen  IntentKind = "open"
	IntentClose IntentKind = "close"
)

// PendingIntent records an execution request that was sent but not yet
// answered. It is persisted before the request goes out so a restarted
// engine can reconcile it against the venue.
type PendingIntent struct {
	Kind       IntentKind      `json:"kind"`
	Direction  Direction       `json:"direction"`
	Leverage   decimal.Decimal `json:"leverage"`
	Collateral decimal.Decimal `json:"collateral"`
	Price      decimal.Decimal `json:"price"`
	CreatedAt  time.Time       `json:"created_at"`
}
