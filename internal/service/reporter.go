// Package service fans engine output out to the infrastructure adapters.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
	"github.com/alanyoungcy/meanrevbot/internal/strategy"
)

// EventNotifier sends operator alerts for events.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// Broadcaster pushes a payload to in-process subscribers such as the
// WebSocket hub.
type Broadcaster interface {
	Broadcast(channel string, data []byte)
}

// ReporterDeps are the optional destinations of a Reporter. Nil fields are
// skipped.
type ReporterDeps struct {
	Bus         domain.SignalBus
	Journal     domain.TradeJournal
	Notifier    EventNotifier
	Broadcaster Broadcaster
	// Sinks receive every event synchronously, e.g. metrics.
	Sinks []domain.EventSink
}

// notifyQueueSize bounds the alerts waiting for delivery.
const notifyQueueSize = 64

// Reporter implements domain.EventSink. Every destination failure is logged
// and swallowed so reporting can never fail a cycle. Notifications are
// delivered from a background worker because chat APIs are slow.
type Reporter struct {
	deps   ReporterDeps
	queue  chan domain.Event
	logger *slog.Logger
}

// NewReporter creates a Reporter. Call Run to start notification delivery.
func NewReporter(deps ReporterDeps, logger *slog.Logger) *Reporter {
	return &Reporter{
		deps:   deps,
		queue:  make(chan domain.Event, notifyQueueSize),
		logger: logger.With(slog.String("component", "reporter")),
	}
}

// Emit journals, publishes, and queues ev for notification.
func (r *Reporter) Emit(ctx context.Context, ev domain.Event) {
	for _, s := range r.deps.Sinks {
		s.Emit(ctx, ev)
	}

	if r.deps.Journal != nil {
		if err := r.deps.Journal.Append(ctx, ev); err != nil {
			r.logger.WarnContext(ctx, "reporter: journal append failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	payload, err := json.Marshal(envelope{Type: "event", Payload: ev})
	if err != nil {
		r.logger.WarnContext(ctx, "reporter: marshal event", slog.String("error", err.Error()))
	} else {
		r.publish(ctx, domain.ChannelEvents, payload)
		if r.deps.Bus != nil {
			if err := r.deps.Bus.StreamAppend(ctx, domain.StreamEvents, payload); err != nil {
				r.logger.WarnContext(ctx, "reporter: stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	if r.deps.Notifier != nil {
		select {
		case r.queue <- ev:
		default:
			r.logger.WarnContext(ctx, "reporter: notification queue full, dropping alert",
				slog.String("event", string(ev.Type)),
				slog.String("market", ev.MarketID),
			)
		}
	}
}

// ReportCycle publishes a finished cycle's report.
func (r *Reporter) ReportCycle(ctx context.Context, rep strategy.CycleReport) {
	payload, err := json.Marshal(envelope{Type: "cycle", Payload: rep})
	if err != nil {
		r.logger.WarnContext(ctx, "reporter: marshal cycle report", slog.String("error", err.Error()))
		return
	}
	r.publish(ctx, domain.ChannelCycles, payload)
}

// Run delivers queued notifications until ctx is cancelled, then drains
// what is already queued.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx))
			return nil
		case ev := <-r.queue:
			r.notify(ctx, ev)
		}
	}
}

func (r *Reporter) drain(ctx context.Context) {
	for {
		select {
		case ev := <-r.queue:
			r.notify(ctx, ev)
		default:
			return
		}
	}
}

func (r *Reporter) notify(ctx context.Context, ev domain.Event) {
	if err := r.deps.Notifier.NotifyEvent(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "reporter: notification failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Reporter) publish(ctx context.Context, channel string, payload []byte) {
	if r.deps.Bus != nil {
		if err := r.deps.Bus.Publish(ctx, channel, payload); err != nil {
			r.logger.WarnContext(ctx, "reporter: publish failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.deps.Broadcaster != nil {
		r.deps.Broadcaster.Broadcast(channel, payload)
	}
}

// envelope is the wire shape of bus and WebSocket messages.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

var _ domain.EventSink = (*Reporter)(nil)
