package venue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

var (
	_ domain.Executor           = (*PaperExecutor)(nil)
	_ domain.PositionReconciler = (*PaperExecutor)(nil)
)

// PaperExecutor confirms every request without touching the venue and keeps
// an in-memory book of what it opened.
type PaperExecutor struct {
	mu        sync.Mutex
	positions map[string]domain.Direction
	logger    *slog.Logger
}

// NewPaperExecutor creates a dry-run executor.
func NewPaperExecutor(logger *slog.Logger) *PaperExecutor {
	return &PaperExecutor{
		positions: make(map[string]domain.Direction),
		logger:    logger.With(slog.String("component", "paper_executor")),
	}
}

// OpenPosition records the position and returns a confirmed result.
func (p *PaperExecutor) OpenPosition(ctx context.Context, req domain.OpenRequest) (domain.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ExecutionResult{}, err
	}
	ref := "paper-" + uuid.NewString()

	p.mu.Lock()
	p.positions[req.MarketID] = req.Direction
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "paper: open",
		slog.String("market_id", req.MarketID),
		slog.String("direction", string(req.Direction)),
		slog.String("collateral", req.Collateral.String()),
		slog.String("leverage", req.Leverage.String()),
		slog.String("order_ref", ref),
	)
	return domain.ExecutionResult{Confirmed: true, OrderRef: ref}, nil
}

// ClosePosition forgets the position and returns a confirmed result.
func (p *PaperExecutor) ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ExecutionResult{}, err
	}
	ref := "paper-" + uuid.NewString()

	p.mu.Lock()
	delete(p.positions, req.MarketID)
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "paper: close",
		slog.String("market_id", req.MarketID),
		slog.String("direction", string(req.Direction)),
		slog.String("order_ref", ref),
	)
	return domain.ExecutionResult{Confirmed: true, OrderRef: ref}, nil
}

// OpenPositions returns a copy of the paper book.
func (p *PaperExecutor) OpenPositions(_ context.Context) (map[string]domain.Direction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]domain.Direction, len(p.positions))
	for k, v := range p.positions {
		out[k] = v
	}
	return out, nil
}
