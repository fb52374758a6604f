package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// FormatEvent renders an engine event as a short alert title and body.
func FormatEvent(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventPositionOpened:
		title = fmt.Sprintf("Opened %s %s", strings.ToUpper(string(ev.Direction)), ev.MarketID)
	case domain.EventPositionClosed:
		title = fmt.Sprintf("Closed %s %s", ev.MarketID, ev.Reason)
	case domain.EventOpenFailed:
		title = "Open failed: " + ev.MarketID
	case domain.EventCloseFailed:
		title = "Close failed: " + ev.MarketID
	case domain.EventMarketBlacklisted:
		title = "Blacklisted " + ev.MarketID
	case domain.EventBlacklistExpired:
		title = "Blacklist expired: " + ev.MarketID
	case domain.EventPendingResolved:
		title = "Pending intent resolved: " + ev.MarketID
	case domain.EventCycleAborted:
		title = "Cycle aborted"
	case domain.EventCycleCompleted:
		title = "Cycle completed"
	default:
		title = string(ev.Type)
	}

	var lines []string
	add := func(k, v string) {
		if v != "" {
			lines = append(lines, k+": "+v)
		}
	}
	add("strategy", ev.Strategy)
	add("price", ev.Price)
	add("leverage", ev.Leverage)
	add("pnl", ev.PnL)
	if ev.Type != domain.EventPositionClosed {
		add("reason", ev.Reason)
	}
	add("order", ev.OrderRef)
	add("error", ev.Error)
	add("cycle", ev.CycleID)
	if !ev.Time.IsZero() {
		add("time", ev.Time.UTC().Format("2006-01-02 15:04:05Z"))
	}
	return strings.TrimSpace(title), strings.Join(lines, "\n")
}
