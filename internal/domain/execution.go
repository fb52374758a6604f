package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketData supplies the per-cycle market and leverage snapshots.
// Implementations return an error wrapping ErrDataUnavailable when the
// source cannot be reached.
type MarketData interface {
	FetchMarkets(ctx context.Context) ([]MarketSnapshot, error)
	FetchMaxLeverages(ctx context.Context) (LeverageTable, error)
}

// PriceHistory supplies oldest-first price series. A series shorter than
// minLength is a valid answer, not an error.
type PriceHistory interface {
	FetchPriceHistory(ctx context.Context, marketID string, minLength int) ([]float64, error)
}

// OpenRequest asks the venue to open a leveraged position.
type OpenRequest struct {
	MarketID     string          `json:"market_id"`
	Direction    Direction       `json:"direction"`
	SizeFraction decimal.Decimal `json:"size_fraction"`
	Collateral   decimal.Decimal `json:"collateral"`
	Leverage     decimal.Decimal `json:"leverage"`
}

// CloseRequest asks the venue to close a position.
type CloseRequest struct {
	MarketID     string          `json:"market_id"`
	Direction    Direction       `json:"direction"`
	SizeFraction decimal.Decimal `json:"size_fraction"`
}

// ExecutionResult is the venue's answer to an open or close request.
type ExecutionResult struct {
	Confirmed bool   `json:"confirmed"`
	OrderRef  string `json:"order_ref,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Executor submits open and close requests. A returned Go error means the
// outcome is unknown (transport failure, timeout). A definitive rejection is
// reported through ExecutionResult with Confirmed false.
type Executor interface {
	OpenPosition(ctx context.Context, req OpenRequest) (ExecutionResult, error)
	ClosePosition(ctx context.Context, req CloseRequest) (ExecutionResult, error)
}

// PositionReconciler is implemented by executors that can report the
// positions currently open on the venue.
type PositionReconciler interface {
	OpenPositions(ctx context.Context) (map[string]Direction, error)
}

// FullSize is the size fraction used for every open and close.
var FullSize = decimal.NewFromInt(1)
