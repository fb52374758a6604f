package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
	"github.com/alanyoungcy/meanrevbot/internal/strategy"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  [][]byte
	err       error
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return b.err
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, payload)
	return b.err
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeJournal struct {
	entries []domain.Event
	err     error
}

func (j *fakeJournal) Append(_ context.Context, ev domain.Event) error {
	j.entries = append(j.entries, ev)
	return j.err
}

func (j *fakeJournal) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.JournalEntry, error) {
	return nil, nil
}

func (j *fakeJournal) ListRecent(context.Context, domain.ListOpts) ([]domain.JournalEntry, error) {
	return nil, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	seen []domain.EventType
	done chan struct{}
}

func (n *fakeNotifier) NotifyEvent(_ context.Context, ev domain.Event) error {
	n.mu.Lock()
	n.seen = append(n.seen, ev.Type)
	n.mu.Unlock()
	if n.done != nil {
		n.done <- struct{}{}
	}
	return errors.New("chat down")
}

type fakeBroadcaster struct {
	channels []string
}

func (b *fakeBroadcaster) Broadcast(channel string, _ []byte) {
	b.channels = append(b.channels, channel)
}

type countSink struct{ n int }

func (s *countSink) Emit(context.Context, domain.Event) { s.n++ }

func TestReporterFansOut(t *testing.T) {
	bus := &fakeBus{}
	journal := &fakeJournal{}
	bc := &fakeBroadcaster{}
	sink := &countSink{}
	r := NewReporter(ReporterDeps{Bus: bus, Journal: journal, Broadcaster: bc, Sinks: []domain.EventSink{sink}}, discard())

	ev := domain.Event{Type: domain.EventPositionOpened, MarketID: "BTC", Direction: domain.DirectionLong}
	r.Emit(context.Background(), ev)

	if sink.n != 1 || len(journal.entries) != 1 || journal.entries[0].MarketID != "BTC" {
		t.Fatalf("sink=%d journal=%v", sink.n, journal.entries)
	}
	if len(bus.published[domain.ChannelEvents]) != 1 || len(bus.streamed) != 1 {
		t.Fatalf("bus published=%v streamed=%d", bus.published, len(bus.streamed))
	}
	var env struct {
		Type    string       `json:"type"`
		Payload domain.Event `json:"payload"`
	}
	if err := json.Unmarshal(bus.published[domain.ChannelEvents][0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "event" || env.Payload.Type != domain.EventPositionOpened {
		t.Fatalf("envelope = %+v", env)
	}
	if len(bc.channels) != 1 || bc.channels[0] != domain.ChannelEvents {
		t.Fatalf("broadcast = %v", bc.channels)
	}
}

func TestReporterSwallowsFailures(t *testing.T) {
	bus := &fakeBus{err: errors.New("redis down")}
	journal := &fakeJournal{err: errors.New("pg down")}
	r := NewReporter(ReporterDeps{Bus: bus, Journal: journal}, discard())

	// Must not panic or block.
	r.Emit(context.Background(), domain.Event{Type: domain.EventCycleCompleted})
	r.ReportCycle(context.Background(), strategy.CycleReport{ID: "c1"})

	if len(bus.published[domain.ChannelCycles]) != 1 {
		t.Fatalf("cycle report not published: %v", bus.published)
	}
}

func TestReporterDeliversNotificationsInBackground(t *testing.T) {
	n := &fakeNotifier{done: make(chan struct{}, 4)}
	r := NewReporter(ReporterDeps{Notifier: n}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Emit(ctx, domain.Event{Type: domain.EventMarketBlacklisted})
	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestReporterDropsWhenQueueFull(t *testing.T) {
	n := &fakeNotifier{}
	r := NewReporter(ReporterDeps{Notifier: n}, discard())
	for i := 0; i < notifyQueueSize+10; i++ {
		r.Emit(context.Background(), domain.Event{Type: domain.EventCycleCompleted})
	}
	if len(r.queue) != notifyQueueSize {
		t.Fatalf("queue len = %d", len(r.queue))
	}

	// Drain on shutdown delivers what was queued.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = r.Run(ctx)
	if len(n.seen) != notifyQueueSize {
		t.Fatalf("delivered = %d", len(n.seen))
	}
}
