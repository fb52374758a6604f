package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// JournalEntry is one row of the trade journal.
type JournalEntry struct {
	ID        int64     `json:"id"`
	CycleID   string    `json:"cycle_id"`
	Strategy  string    `json:"strategy"`
	EventType EventType `json:"event_type"`
	MarketID  string    `json:"market_id,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Price     string    `json:"price,omitempty"`
	Leverage  string    `json:"leverage,omitempty"`
	PnL       string    `json:"pnl,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	OrderRef  string    `json:"order_ref,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TradeJournal persists an append-only record of engine events.
type TradeJournal interface {
	Append(ctx context.Context, ev Event) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]JournalEntry, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]JournalEntry, error)
}
