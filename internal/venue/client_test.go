package venue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/meanrevbot/internal/crypto"
	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", opts...)
}

func TestFetchMarkets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `[{"market_id":"BTC","last_price":"101.5"},{"market_id":"ETH","last_price":3.25}]`)
	})

	snaps, err := c.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(snaps) != 2 || snaps[0].MarketID != "BTC" || !snaps[1].LastPrice.Equal(decimal.RequireFromString("3.25")) {
		t.Fatalf("snaps = %+v", snaps)
	}
}

func TestFetchFailuresAreDataUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, "upstream down"},
		{"throttled", http.StatusTooManyRequests, "slow down"},
		{"malformed", http.StatusOK, "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			if _, err := c.FetchMarkets(context.Background()); !errors.Is(err, domain.ErrDataUnavailable) {
				t.Fatalf("markets err = %v", err)
			}
			if _, err := c.FetchMaxLeverages(context.Background()); !errors.Is(err, domain.ErrDataUnavailable) {
				t.Fatalf("leverages err = %v", err)
			}
		})
	}
}

func TestFetchMaxLeverages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"BTC":"20","ETH":"5"}`)
	})
	table, err := c.FetchMaxLeverages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !table.Max("BTC").Equal(decimal.NewFromInt(20)) || !table.Max("DOGE").Equal(decimal.NewFromInt(1)) {
		t.Fatalf("table = %v", table)
	}

	null := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `null`)
	})
	table, err = null.FetchMaxLeverages(context.Background())
	if err != nil || table == nil {
		t.Fatalf("null body: table=%v err=%v", table, err)
	}
}

func TestFetchPriceHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/BTC/history":
			if r.URL.Query().Get("limit") != "14" {
				t.Errorf("limit = %s", r.URL.Query().Get("limit"))
			}
			io.WriteString(w, `{"prices":[1,2,3.5]}`)
		case "/markets/NEW/history":
			http.Error(w, "no history", http.StatusNotFound)
		case "/markets/GONE/history":
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"unknown market"}`)
		case "/markets/SLOW/history":
			http.Error(w, "slow down", http.StatusTooManyRequests)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})

	prices, err := c.FetchPriceHistory(context.Background(), "BTC", 14)
	if err != nil || len(prices) != 3 || prices[2] != 3.5 {
		t.Fatalf("prices = %v, err = %v", prices, err)
	}
	if _, err := c.FetchPriceHistory(context.Background(), "NEW", 14); !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("404 err = %v", err)
	}
	if _, err := c.FetchPriceHistory(context.Background(), "ERR", 14); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("500 err = %v", err)
	}
	if _, err := c.FetchPriceHistory(context.Background(), "SLOW", 14); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("429 err = %v", err)
	}

	_, err = c.FetchPriceHistory(context.Background(), "GONE", 14)
	if err == nil || errors.Is(err, domain.ErrDataUnavailable) || errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("400 err = %v, want a plain rejection", err)
	}
	if !strings.Contains(err.Error(), "unknown market") {
		t.Fatalf("400 err = %v, want gateway message", err)
	}
}

func TestOpenPositionSignedRequest(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	var got domain.OpenRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPost || r.URL.Path != "/positions/open" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get(crypto.HeaderAPIKey) != "k" {
			t.Errorf("missing api key header")
		}
		if !crypto.Verify("s", r.Header.Get(crypto.HeaderTimestamp), r.Method, r.URL.Path, string(body), r.Header.Get(crypto.HeaderSignature)) {
			t.Errorf("bad signature")
		}
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode: %v", err)
		}
		io.WriteString(w, `{"confirmed":true,"order_ref":"ord-1"}`)
	}, WithAuth(auth), WithRateLimit(100, 1))

	res, err := c.OpenPosition(context.Background(), domain.OpenRequest{
		MarketID:     "BTC",
		Direction:    domain.DirectionLong,
		SizeFraction: domain.FullSize,
		Collateral:   decimal.RequireFromString("10.1"),
		Leverage:     decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if !res.Confirmed || res.OrderRef != "ord-1" {
		t.Fatalf("res = %+v", res)
	}
	if got.MarketID != "BTC" || got.Direction != domain.DirectionLong || !got.Collateral.Equal(decimal.RequireFromString("10.1")) {
		t.Fatalf("request = %+v", got)
	}
}

func TestExecutionRejectionIsResult(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
		wantMsg string
	}{
		{"explicit unconfirmed", http.StatusOK, `{"confirmed":false,"error":"insufficient margin"}`, false, "insufficient margin"},
		{"json rejection", http.StatusUnprocessableEntity, `{"error":"account sequence mismatch"}`, false, "account sequence mismatch"},
		{"message field", http.StatusBadRequest, `{"message":"market halted"}`, false, "market halted"},
		{"plain rejection", http.StatusConflict, `position exists`, false, "position exists"},
		{"unauthorized", http.StatusUnauthorized, `bad key`, true, ""},
		{"server error", http.StatusInternalServerError, `oops`, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			res, err := c.ClosePosition(context.Background(), domain.CloseRequest{MarketID: "BTC", Direction: domain.DirectionShort, SizeFraction: domain.FullSize})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", res)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Confirmed || res.Error != tt.wantMsg {
				t.Fatalf("res = %+v", res)
			}
		})
	}
}

func TestOpenPositionsAndCancel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"market_id":"BTC","direction":"short"}]`)
	})
	open, err := c.OpenPositions(context.Background())
	if err != nil || open["BTC"] != domain.DirectionShort {
		t.Fatalf("open = %v, err = %v", open, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.OpenPosition(ctx, domain.OpenRequest{MarketID: "BTC"}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestPaperExecutor(t *testing.T) {
	p := NewPaperExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	res, err := p.OpenPosition(ctx, domain.OpenRequest{MarketID: "BTC", Direction: domain.DirectionLong})
	if err != nil || !res.Confirmed || len(res.OrderRef) <= len("paper-") || res.OrderRef[:6] != "paper-" {
		t.Fatalf("open = %+v, err = %v", res, err)
	}
	open, _ := p.OpenPositions(ctx)
	if open["BTC"] != domain.DirectionLong {
		t.Fatalf("book = %v", open)
	}

	if res, err := p.ClosePosition(ctx, domain.CloseRequest{MarketID: "BTC"}); err != nil || !res.Confirmed {
		t.Fatalf("close = %+v, err = %v", res, err)
	}
	open, _ = p.OpenPositions(ctx)
	if len(open) != 0 {
		t.Fatalf("book after close = %v", open)
	}
}
