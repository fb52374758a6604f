package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMarketSetJSONSorted(t *testing.T) {
	s := NewMarketSet("ETH", "ATOM", "BTC")
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(data), `["ATOM","BTC","ETH"]`; got != want {
		t.Fatalf("json = %s, want %s", got, want)
	}

	var back MarketSet
	if err := json.Unmarshal([]byte(`["X","Y","X"]`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != 2 || !back.Has("X") || !back.Has("Y") {
		t.Fatalf("unexpected set %v", back)
	}
}

func TestLeverageTableMaxDefaultsToOne(t *testing.T) {
	table := LeverageTable{"BTC": decimal.NewFromInt(20)}
	if got := table.Max("BTC"); !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("BTC max = %s", got)
	}
	if got := table.Max("DOGE"); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("missing market max = %s, want 1", got)
	}
	var nilTable LeverageTable
	if got := nilTable.Max("BTC"); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("nil table max = %s, want 1", got)
	}
}

func TestPriceIndexDropsNonPositivePrices(t *testing.T) {
	idx := PriceIndex([]MarketSnapshot{
		{MarketID: "BTC", LastPrice: decimal.NewFromInt(100)},
		{MarketID: "ZERO", LastPrice: decimal.Zero},
		{MarketID: "NEG", LastPrice: decimal.NewFromInt(-3)},
	})
	if len(idx) != 1 || !idx["BTC"].Equal(decimal.NewFromInt(100)) {
		t.Fatalf("index = %v", idx)
	}
}

func TestEngineStateValidate(t *testing.T) {
	opened := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	good := Position{
		MarketID:  "BTC",
		OpenPrice: decimal.NewFromInt(100),
		Direction: DirectionLong,
		Leverage:  decimal.NewFromInt(2),
		OpenedAt:  opened,
	}

	tests := []struct {
		name    string
		mutate  func(p *Position)
		key     string
		wantErr bool
	}{
		{name: "valid", mutate: func(*Position) {}, key: "BTC"},
		{name: "key mismatch", mutate: func(*Position) {}, key: "ETH", wantErr: true},
		{name: "zero price", mutate: func(p *Position) { p.OpenPrice = decimal.Zero }, key: "BTC", wantErr: true},
		{name: "bad direction", mutate: func(p *Position) { p.Direction = "sideways" }, key: "BTC", wantErr: true},
		{name: "negative leverage", mutate: func(p *Position) { p.Leverage = decimal.NewFromInt(-1) }, key: "BTC", wantErr: true},
		{name: "missing time", mutate: func(p *Position) { p.OpenedAt = time.Time{} }, key: "BTC", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := good
			tt.mutate(&p)
			st := NewEngineState()
			st.Positions[tt.key] = p
			err := st.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidState) {
				t.Fatalf("error %v does not wrap ErrInvalidState", err)
			}
		})
	}
}

func TestNormalizeFillsMarketIDFromKey(t *testing.T) {
	st := &EngineState{Positions: map[string]Position{
		"SOL": {OpenPrice: decimal.NewFromInt(10), Direction: DirectionShort, Leverage: decimal.NewFromInt(1), OpenedAt: time.Now()},
	}}
	st.Normalize()
	if st.Positions["SOL"].MarketID != "SOL" {
		t.Fatalf("market id = %q", st.Positions["SOL"].MarketID)
	}
	if st.Blacklist == nil {
		t.Fatal("blacklist not initialised")
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestExpireBlacklist(t *testing.T) {
	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	st := NewEngineState()
	st.AddBlacklist("OLD", now.Add(-48*time.Hour))
	st.AddBlacklist("NEW", now.Add(-time.Hour))
	st.Blacklist["MANUAL"] = struct{}{}

	if got := st.ExpireBlacklist(now, 0); got != nil {
		t.Fatalf("ttl 0 expired %v", got)
	}
	got := st.ExpireBlacklist(now, 24*time.Hour)
	if len(got) != 1 || got[0] != "OLD" {
		t.Fatalf("expired = %v, want [OLD]", got)
	}
	if st.Blacklisted("OLD") {
		t.Fatal("OLD still blacklisted")
	}
	if !st.Blacklisted("NEW") || !st.Blacklisted("MANUAL") {
		t.Fatalf("blacklist = %v", st.Blacklist.Sorted())
	}
}

func TestPendingLifecycle(t *testing.T) {
	st := NewEngineState()
	st.SetPending("BTC", PendingIntent{Kind: IntentOpen, Direction: DirectionLong})
	if !st.HasPending("BTC") {
		t.Fatal("pending not recorded")
	}
	st.ClearPending("BTC")
	if st.HasPending("BTC") || st.Pending != nil {
		t.Fatalf("pending = %v, want nil", st.Pending)
	}
}
