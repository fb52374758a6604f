package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit", ClientConfig{DSN: "postgres://x/y", Host: "ignored"}, "postgres://x/y"},
		{"defaults", ClientConfig{Host: "db", Database: "bot", User: "u", Password: "p"}, "postgres://u:p@db:5432/bot?sslmode=disable"},
		{"ssl", ClientConfig{Host: "db", Port: 6543, Database: "bot", User: "u", Password: "p", SSLMode: "require"}, "postgres://u:p@db:6543/bot?sslmode=require"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Fatalf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_trade_journal.sql" {
		t.Fatalf("names = %v", names)
	}
}

func TestBuildJournalQuery(t *testing.T) {
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	query, args := buildJournalQuery("BTC", domain.ListOpts{Limit: 10, Offset: 20, Since: &since})
	for _, frag := range []string{"market_id = $1", "event_time >= $2", "LIMIT $3", "OFFSET $4", "ORDER BY event_time DESC"} {
		if !strings.Contains(query, frag) {
			t.Errorf("query missing %q:\n%s", frag, query)
		}
	}
	if len(args) != 4 || args[0] != "BTC" || args[2] != 10 || args[3] != 20 {
		t.Fatalf("args = %v", args)
	}

	query, args = buildJournalQuery("", domain.ListOpts{})
	if strings.Contains(query, "market_id =") || strings.Contains(query, "LIMIT") || len(args) != 0 {
		t.Fatalf("unfiltered query = %s, args = %v", query, args)
	}
}
