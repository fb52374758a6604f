package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// PriceRecorder keeps a rolling window of observed prices per market.
type PriceRecorder interface {
	Record(ctx context.Context, snaps []MarketSnapshot) error
}

// Bus channel and stream names used for engine events.
const (
	ChannelEvents = "events"
	ChannelCycles = "cycles"
	StreamEvents  = "events:log"
)
