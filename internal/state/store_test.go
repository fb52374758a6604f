package state

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleState() *domain.EngineState {
	st := domain.NewEngineState()
	st.Positions["BTC"] = domain.Position{
		MarketID:  "BTC",
		OpenPrice: decimal.RequireFromString("64250.5"),
		Direction: domain.DirectionLong,
		Leverage:  decimal.NewFromInt(2),
		OpenedAt:  time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		OrderRef:  "0xabc",
	}
	st.Positions["ETH"] = domain.Position{
		MarketID:  "ETH",
		OpenPrice: decimal.RequireFromString("3100"),
		Direction: domain.DirectionShort,
		Leverage:  decimal.RequireFromString("1.5"),
		OpenedAt:  time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC),
	}
	st.AddBlacklist("DOGE", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	st.Blacklist["PEPE"] = struct{}{}
	return st
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "meanReversion.json")
	store := NewStore(path, testLogger())

	want := sampleState()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := store.Load(ctx)

	if len(got.Positions) != len(want.Positions) {
		t.Fatalf("positions = %d, want %d", len(got.Positions), len(want.Positions))
	}
	for id, w := range want.Positions {
		g, ok := got.Positions[id]
		if !ok {
			t.Fatalf("position %s missing", id)
		}
		if g.MarketID != w.MarketID || g.Direction != w.Direction || g.OrderRef != w.OrderRef ||
			!g.OpenPrice.Equal(w.OpenPrice) || !g.Leverage.Equal(w.Leverage) || !g.OpenedAt.Equal(w.OpenedAt) {
			t.Fatalf("position %s = %+v, want %+v", id, g, w)
		}
	}
	if strings.Join(got.Blacklist.Sorted(), ",") != "DOGE,PEPE" {
		t.Fatalf("blacklist = %v", got.Blacklist.Sorted())
	}
	if !got.BlacklistedAt["DOGE"].Equal(want.BlacklistedAt["DOGE"]) {
		t.Fatalf("blacklisted_at = %v", got.BlacklistedAt)
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	st := store.Load(context.Background())
	if len(st.Positions) != 0 || len(st.Blacklist) != 0 {
		t.Fatalf("expected empty state, got %+v", st)
	}
	if st.Positions == nil || st.Blacklist == nil {
		t.Fatal("empty state must have writable maps")
	}
}

func TestLoadCorruptFileReturnsEmpty(t *testing.T) {
	tests := map[string]string{
		"truncated":   `{"positions": {"BTC": {"open_price": "1"`,
		"empty":       ``,
		"wrong shape": `{"positions": [], "blacklist": {}}`,
		"invalid position": `{"positions": {"BTC": {"market_id": "BTC", "open_price": "0",
			"direction": "long", "leverage": "2", "opened_at": "2024-05-01T00:00:00Z"}}, "blacklist": []}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			st := NewStore(path, testLogger()).Load(context.Background())
			if len(st.Positions) != 0 || len(st.Blacklist) != 0 {
				t.Fatalf("expected empty state, got %+v", st)
			}
		})
	}
}

func TestLoadHandEditedDocument(t *testing.T) {
	body := `{
  "positions": {
    "ATOM": {"open_price": 8.25, "direction": "short", "leverage": 2, "opened_at": "2024-05-01T10:00:00Z"}
  },
  "blacklist": ["OSMO"]
}`
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	st := NewStore(path, testLogger()).Load(context.Background())
	pos, ok := st.Positions["ATOM"]
	if !ok {
		t.Fatal("ATOM position missing")
	}
	if pos.MarketID != "ATOM" || !pos.OpenPrice.Equal(decimal.RequireFromString("8.25")) {
		t.Fatalf("position = %+v", pos)
	}
	if !st.Blacklisted("OSMO") {
		t.Fatal("OSMO not blacklisted")
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "state.json"), testLogger())
	for i := 0; i < 3; i++ {
		if err := store.Save(context.Background(), sampleState()); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("dir entries = %v", names)
	}
}

func TestSaveFailureIsReturned(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStore(filepath.Join(blocker, "state.json"), testLogger())
	if err := store.Save(context.Background(), sampleState()); err == nil {
		t.Fatal("expected error writing below a regular file")
	}
}

type memBlob struct {
	puts map[string][]byte
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.puts[path] = b
	return nil
}

func TestSaveUploadsBackup(t *testing.T) {
	blob := &memBlob{puts: map[string][]byte{}}
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(path, testLogger(), WithBackup(blob, "state-backups"))
	if err := store.Save(context.Background(), sampleState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(blob.puts) != 1 {
		t.Fatalf("uploads = %d, want 1", len(blob.puts))
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for key, data := range blob.puts {
		if !strings.HasPrefix(key, "state-backups/") || !strings.HasSuffix(key, "/state.json") {
			t.Fatalf("unexpected key %q", key)
		}
		if !bytes.Equal(data, onDisk) {
			t.Fatal("backup differs from file on disk")
		}
	}
}
