package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// JournalStore implements domain.TradeJournal using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given connection
// pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

const journalSelectCols = `id, cycle_id, strategy, event_type, market_id, direction,
	COALESCE(price::text, ''), COALESCE(leverage::text, ''), COALESCE(pnl::text, ''),
	reason, order_ref, error, event_time`

// Append inserts one event. Empty numeric fields are stored as NULL.
func (s *JournalStore) Append(ctx context.Context, ev domain.Event) error {
	const query = `
		INSERT INTO trade_journal (
			cycle_id, strategy, event_type, market_id, direction,
			price, leverage, pnl,
			reason, order_ref, error, event_time
		) VALUES (
			$1, $2, $3, $4, $5,
			NULLIF($6, '')::numeric, NULLIF($7, '')::numeric, NULLIF($8, '')::numeric,
			$9, $10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		ev.CycleID, ev.Strategy, string(ev.Type), ev.MarketID, string(ev.Direction),
		ev.Price, ev.Leverage, ev.PnL,
		ev.Reason, ev.OrderRef, ev.Error, ev.Time,
	)
	if err != nil {
		return fmt.Errorf("postgres: append journal %s: %w", ev.Type, err)
	}
	return nil
}

// ListByMarket returns the journal rows for one market, newest first.
func (s *JournalStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	query, args := buildJournalQuery(marketID, opts)
	return s.query(ctx, query, args)
}

// ListRecent returns journal rows across all markets, newest first.
func (s *JournalStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	query, args := buildJournalQuery("", opts)
	return s.query(ctx, query, args)
}

func (s *JournalStore) query(ctx context.Context, query string, args []any) ([]domain.JournalEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal: %w", err)
	}
	defer rows.Close()

	entries, err := scanJournalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan journal: %w", err)
	}
	return entries, nil
}

// buildJournalQuery assembles the filtered, paginated select. An empty
// marketID selects every market.
func buildJournalQuery(marketID string, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + journalSelectCols + ` FROM trade_journal WHERE 1=1`
	args := []any{}
	argIdx := 1

	if marketID != "" {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, marketID)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND event_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND event_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY event_time DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

func scanJournalRows(rows pgx.Rows) ([]domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e         domain.JournalEntry
			eventType string
			direction string
		)
		if err := rows.Scan(
			&e.ID, &e.CycleID, &e.Strategy, &eventType, &e.MarketID, &direction,
			&e.Price, &e.Leverage, &e.PnL,
			&e.Reason, &e.OrderRef, &e.Error, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.EventType = domain.EventType(eventType)
		e.Direction = domain.Direction(direction)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Compile-time interface check.
var _ domain.TradeJournal = (*JournalStore)(nil)
