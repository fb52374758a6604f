package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// MarketSet is a set of market ids. It serialises as a sorted JSON array so
// the state file stays stable and easy to edit by hand.
type MarketSet map[string]struct{}

// NewMarketSet builds a set from ids.
func NewMarketSet(ids ...string) MarketSet {
	s := make(MarketSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s MarketSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s MarketSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s MarketSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *MarketSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewMarketSet(ids...)
	return nil
}

// EngineState is the persisted aggregate of one strategy instance.
type EngineState struct {
	Positions     map[string]Position      `json:"positions"`
	Blacklist     MarketSet                `json:"blacklist"`
	BlacklistedAt map[string]time.Time     `json:"blacklisted_at,omitempty"`
	Pending       map[string]PendingIntent `json:"pending,omitempty"`
}

// NewEngineState returns an empty state.
func NewEngineState() *EngineState {
	return &EngineState{
		Positions: make(map[string]Position),
		Blacklist: make(MarketSet),
	}
}

// Normalize replaces nil maps with empty ones so callers can write freely.
func (s *EngineState) Normalize() {
	if s.Positions == nil {
		s.Positions = make(map[string]Position)
	}
	if s.Blacklist == nil {
		s.Blacklist = make(MarketSet)
	}
	for id, pos := range s.Positions {
		if pos.MarketID == "" {
			pos.MarketID = id
			s.Positions[id] = pos
		}
	}
}

// Validate checks every position and that position keys match their market
// ids. A state that fails validation is treated as corrupt. Call Normalize
// first.
func (s *EngineState) Validate() error {
	var errs []error
	for id, pos := range s.Positions {
		if pos.MarketID != id {
			errs = append(errs, fmt.Errorf("position key %q holds market %q", id, pos.MarketID))
			continue
		}
		if err := pos.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for id, in := range s.Pending {
		if in.Kind != IntentOpen && in.Kind != IntentClose {
			errs = append(errs, fmt.Errorf("pending %s: unknown kind %q", id, in.Kind))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidState, errors.Join(errs...))
	}
	return nil
}

// HasPosition reports whether marketID has an open position.
func (s *EngineState) HasPosition(marketID string) bool {
	_, ok := s.Positions[marketID]
	return ok
}

// Blacklisted reports whether marketID is excluded from new entries.
func (s *EngineState) Blacklisted(marketID string) bool {
	return s.Blacklist.Has(marketID)
}

// AddBlacklist excludes marketID from new entries, recording when.
func (s *EngineState) AddBlacklist(marketID string, at time.Time) {
	if s.Blacklist == nil {
		s.Blacklist = make(MarketSet)
	}
	s.Blacklist[marketID] = struct{}{}
	if s.BlacklistedAt == nil {
		s.BlacklistedAt = make(map[string]time.Time)
	}
	s.BlacklistedAt[marketID] = at
}

// ExpireBlacklist removes entries blacklisted more than ttl before now and
// returns the removed ids. Entries without a timestamp never expire, and a
// non-positive ttl disables expiry.
func (s *EngineState) ExpireBlacklist(now time.Time, ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	var expired []string
	for id, at := range s.BlacklistedAt {
		if !s.Blacklist.Has(id) {
			delete(s.BlacklistedAt, id)
			continue
		}
		if now.Sub(at) > ttl {
			delete(s.Blacklist, id)
			delete(s.BlacklistedAt, id)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// SetPending records an in-flight request for marketID.
func (s *EngineState) SetPending(marketID string, in PendingIntent) {
	if s.Pending == nil {
		s.Pending = make(map[string]PendingIntent)
	}
	s.Pending[marketID] = in
}

// ClearPending drops the in-flight request for marketID.
func (s *EngineState) ClearPending(marketID string) {
	delete(s.Pending, marketID)
	if len(s.Pending) == 0 {
		s.Pending = nil
	}
}

// HasPending reports whether marketID has an unresolved request.
func (s *EngineState) HasPending(marketID string) bool {
	_, ok := s.Pending[marketID]
	return ok
}
