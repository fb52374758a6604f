package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
	"github.com/alanyoungcy/meanrevbot/internal/strategy"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubState struct {
	st  *domain.EngineState
	err error
}

func (s stubState) Read() (*domain.EngineState, error) { return s.st, s.err }

type stubCycles struct {
	rep  *strategy.CycleReport
	runs int64
}

func (s stubCycles) LastReport() (strategy.CycleReport, bool) {
	if s.rep == nil {
		return strategy.CycleReport{}, false
	}
	return *s.rep, true
}

func (s stubCycles) Runs() int64 { return s.runs }

func get(t *testing.T, h http.HandlerFunc, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("refused") },
	}, discard())
	rec, body := get(t, h.HealthCheck, "/api/health")
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("code=%d body=%v", rec.Code, body)
	}
	deps := body["dependencies"].(map[string]any)
	if deps["redis"] != "ok" || deps["postgres"] != "refused" {
		t.Fatalf("deps = %v", deps)
	}

	rec, body = get(t, NewHealthHandler(nil, discard()).HealthCheck, "/api/health")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("liveness: code=%d body=%v", rec.Code, body)
	}
}

func TestGetState(t *testing.T) {
	st := domain.NewEngineState()
	st.Positions["BTC"] = domain.Position{
		MarketID:  "BTC",
		OpenPrice: decimal.RequireFromString("100"),
		Direction: domain.DirectionLong,
		Leverage:  decimal.NewFromInt(2),
		OpenedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	st.AddBlacklist("DOGE", time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC))
	st.SetPending("BTC", domain.PendingIntent{Kind: domain.IntentClose, Direction: domain.DirectionLong})

	rec, body := get(t, NewStateHandler(stubState{st: st}, discard()).GetState, "/api/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	positions := body["positions"].([]any)
	if len(positions) != 1 {
		t.Fatalf("positions = %v", positions)
	}
	p := positions[0].(map[string]any)
	if p["market_id"] != "BTC" || p["pending"] == nil {
		t.Fatalf("position = %v", p)
	}
	if bl := body["blacklist"].([]any); len(bl) != 1 || bl[0] != "DOGE" {
		t.Fatalf("blacklist = %v", body["blacklist"])
	}
}

func TestGetStateMissingAndCorrupt(t *testing.T) {
	missing := stubState{err: fmt.Errorf("state: read: %w", fs.ErrNotExist)}
	rec, body := get(t, NewStateHandler(missing, discard()).GetState, "/api/state")
	if rec.Code != http.StatusOK || len(body["positions"].([]any)) != 0 {
		t.Fatalf("missing: code=%d body=%v", rec.Code, body)
	}

	corrupt := stubState{err: domain.ErrInvalidState}
	rec, _ = get(t, NewStateHandler(corrupt, discard()).GetState, "/api/state")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("corrupt: code=%d", rec.Code)
	}
}

func TestStatusAndLastCycle(t *testing.T) {
	info := StatusInfo{Mode: "trade", StrategyName: "mean_reversion", Interval: time.Minute}

	h := NewStatusHandler(info, stubCycles{})
	rec, _ := get(t, h.GetLastCycle, "/api/cycles/last")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("no report: code=%d", rec.Code)
	}

	rep := &strategy.CycleReport{ID: "c-1", Outcome: strategy.OutcomeCompleted, Markets: 3}
	h = NewStatusHandler(info, stubCycles{rep: rep, runs: 7})
	rec, body := get(t, h.GetLastCycle, "/api/cycles/last")
	if rec.Code != http.StatusOK || body["id"] != "c-1" || body["markets"] != float64(3) {
		t.Fatalf("last: code=%d body=%v", rec.Code, body)
	}

	rec, body = get(t, h.GetStatus, "/api/status")
	if rec.Code != http.StatusOK || body["cycles"] != float64(7) || body["interval"] != "1m0s" {
		t.Fatalf("status = %v", body)
	}
	if last := body["last_cycle"].(map[string]any); last["outcome"] != "completed" {
		t.Fatalf("last_cycle = %v", last)
	}

	rec, _ = get(t, NewStatusHandler(info, nil).GetLastCycle, "/api/cycles/last")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil source: code=%d", rec.Code)
	}
}

type stubJournal struct {
	market string
	opts   domain.ListOpts
}

func (j *stubJournal) Append(context.Context, domain.Event) error { return nil }

func (j *stubJournal) ListByMarket(_ context.Context, m string, o domain.ListOpts) ([]domain.JournalEntry, error) {
	j.market, j.opts = m, o
	return []domain.JournalEntry{{ID: 1, MarketID: m, EventType: domain.EventPositionOpened}}, nil
}

func (j *stubJournal) ListRecent(_ context.Context, o domain.ListOpts) ([]domain.JournalEntry, error) {
	j.opts = o
	return nil, nil
}

type stubBus struct{ msgs []domain.StreamMessage }

func (b stubBus) Publish(context.Context, string, []byte) error { return nil }
func (b stubBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b stubBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b stubBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return b.msgs, nil
}

func TestListJournal(t *testing.T) {
	j := &stubJournal{}
	h := NewJournalHandler(j, nil, discard())

	rec := httptest.NewRecorder()
	h.ListJournal(rec, httptest.NewRequest(http.MethodGet, "/api/journal?market=BTC&limit=9999&since=2024-06-01T00:00:00Z", nil))
	if rec.Code != http.StatusOK || j.market != "BTC" || j.opts.Limit != 500 || j.opts.Since == nil {
		t.Fatalf("code=%d market=%q opts=%+v", rec.Code, j.market, j.opts)
	}

	rec = httptest.NewRecorder()
	h.ListJournal(rec, httptest.NewRequest(http.MethodGet, "/api/journal", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty journal body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	NewJournalHandler(nil, nil, discard()).ListJournal(rec, httptest.NewRequest(http.MethodGet, "/api/journal", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil journal: code=%d", rec.Code)
	}
}

func TestListEvents(t *testing.T) {
	bus := stubBus{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"event"}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
	}}
	rec := httptest.NewRecorder()
	NewJournalHandler(nil, bus, discard()).ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?after=0", nil))

	var out []struct {
		ID      string          `json:"id"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || string(out[0].Message) != `{"type":"event"}` || string(out[1].Message) != `"not json"` {
		t.Fatalf("out = %s", rec.Body.String())
	}
}
