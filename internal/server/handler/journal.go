package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// JournalHandler serves the trade journal and the recent event stream.
type JournalHandler struct {
	journal domain.TradeJournal
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewJournalHandler creates a JournalHandler. Either dependency may be nil,
// in which case its endpoint answers 503.
func NewJournalHandler(journal domain.TradeJournal, bus domain.SignalBus, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{journal: journal, bus: bus, logger: logger}
}

// ListJournal returns journal rows, newest first, optionally for one market.
// GET /api/journal?market=BTC&limit=50&offset=0&since=...&until=...
func (h *JournalHandler) ListJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	opts := parseListOpts(r)

	var (
		entries []domain.JournalEntry
		err     error
	)
	if market := r.URL.Query().Get("market"); market != "" {
		entries, err = h.journal.ListByMarket(r.Context(), market, opts)
	} else {
		entries, err = h.journal.ListRecent(r.Context(), opts)
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: list journal", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type streamEntry struct {
	ID      string `json:"id"`
	Message any    `json:"message"`
}

// ListEvents returns events from the replayable stream after the given id.
// GET /api/events?after=0&count=100
func (h *JournalHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	after := r.URL.Query().Get("after")
	count := queryInt(r, "count", 100, 1, 1000)

	msgs, err := h.bus.StreamRead(r.Context(), domain.StreamEvents, after, count)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: read event stream", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "event stream read failed")
		return
	}
	out := make([]streamEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, streamEntry{ID: m.ID, Message: rawJSON(m.Payload)})
	}
	writeJSON(w, http.StatusOK, out)
}
