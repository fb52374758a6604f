package domain

import (
	"context"
	"time"
)

// EventType names what happened inside a cycle.
type EventType string

const (
	EventPositionOpened    EventType = "position_opened"
	EventPositionClosed    EventType = "position_closed"
	EventOpenFailed        EventType = "open_failed"
	EventCloseFailed       EventType = "close_failed"
	EventMarketBlacklisted EventType = "market_blacklisted"
	EventBlacklistExpired  EventType = "blacklist_expired"
	EventPendingResolved   EventType = "pending_resolved"
	EventCycleCompleted    EventType = "cycle_completed"
	EventCycleAborted      EventType = "cycle_aborted"
)

// Event is emitted by the engine for journaling, notification and metrics.
// Fields that do not apply to the event type are left empty.
type Event struct {
	Type      EventType `json:"type"`
	CycleID   string    `json:"cycle_id"`
	Strategy  string    `json:"strategy"`
	MarketID  string    `json:"market_id,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Price     string    `json:"price,omitempty"`
	Leverage  string    `json:"leverage,omitempty"`
	PnL       string    `json:"pnl,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	OrderRef  string    `json:"order_ref,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// EventSink receives engine events. Implementations must not block the
// cycle for long and must not fail it.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
