package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/meanrevbot/internal/config"
	"github.com/alanyoungcy/meanrevbot/internal/domain"
	"github.com/alanyoungcy/meanrevbot/internal/server"
	"github.com/alanyoungcy/meanrevbot/internal/server/handler"
	"github.com/alanyoungcy/meanrevbot/internal/server/ws"
	"github.com/alanyoungcy/meanrevbot/internal/service"
	"github.com/alanyoungcy/meanrevbot/internal/strategy"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// TradeMode runs the strategy on its interval until ctx is cancelled. The
// HTTP API and WebSocket hub run alongside when server.enabled is set.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.Duration("interval", a.cfg.Strategy.Interval.Duration))

	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = a.newHub(deps)
	}
	reporter := a.newReporter(deps, hub)
	runner, err := a.newRunner(deps, reporter)
	if err != nil {
		return err
	}

	g.Go(func() error { return reporter.Run(ctx) })
	g.Go(func() error {
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("runner: %w", err)
		}
		return nil
	})
	if hub != nil {
		g.Go(func() error { return hub.Run(ctx) })
		a.serve(ctx, g, deps, runner, hub)
	}

	return g.Wait()
}

// OnceMode runs exactly one cycle and returns. An aborted or crashed cycle
// is an error so external schedulers see a failed run.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "running a single cycle")

	reporter := a.newReporter(deps, nil)
	runner, err := a.newRunner(deps, reporter)
	if err != nil {
		return err
	}

	notifyCtx, stopNotify := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- reporter.Run(notifyCtx) }()

	rep := runner.RunOnce(ctx)

	// Stopping the reporter delivers the notifications already queued.
	stopNotify()
	<-done

	switch {
	case rep == nil:
		return errors.New("app: cycle did not complete")
	case rep.Outcome == strategy.OutcomeAborted:
		return fmt.Errorf("app: cycle aborted: %s", rep.AbortReason)
	case rep.SaveError != "":
		return fmt.Errorf("app: state not saved: %s", rep.SaveError)
	}
	return nil
}

// ServerMode serves the read-only API over the state file without trading.
// With Redis enabled it follows the cycles and events of trading processes
// through the bus.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))

	g, ctx := errgroup.WithContext(ctx)

	hub := a.newHub(deps)
	g.Go(func() error { return hub.Run(ctx) })

	var cycles handler.CycleSource
	if deps.Bus != nil {
		watcher := service.NewCycleWatcher(deps.Bus, a.logger)
		cycles = watcher
		g.Go(func() error { return watcher.Run(ctx) })
	}

	a.serve(ctx, g, deps, cycles, hub)
	return g.Wait()
}

// newRunner builds the cycle and its runner. Every finished report feeds the
// metrics and is published for dashboards.
func (a *App) newRunner(deps *Dependencies, reporter *service.Reporter) (*strategy.Runner, error) {
	cfg, err := CycleConfig(a.cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	cycle := strategy.NewCycle(cfg, strategy.Deps{
		Store:    deps.State,
		Market:   deps.Market,
		History:  deps.History,
		Executor: deps.Executor,
		Recorder: deps.Recorder,
		Events:   reporter,
	}, a.logger)

	runner := strategy.NewRunner(cycle, a.cfg.Strategy.Interval.Duration, deps.Locks, "", a.logger)
	runner.OnReport(deps.Metrics.ObserveCycle)
	runner.OnReport(func(rep strategy.CycleReport) {
		reporter.ReportCycle(context.Background(), rep)
	})
	return runner, nil
}

// newReporter wires the event destinations. The hub is fed directly only
// when there is no bus, otherwise it relays the bus and would see every
// message twice.
func (a *App) newReporter(deps *Dependencies, hub *ws.Hub) *service.Reporter {
	rd := service.ReporterDeps{
		Bus:     deps.Bus,
		Journal: deps.Journal,
		Sinks:   []domain.EventSink{deps.Metrics},
	}
	if deps.Notifier.Enabled() {
		rd.Notifier = deps.Notifier
	}
	if hub != nil && deps.Bus == nil {
		rd.Broadcaster = hub
	}
	return service.NewReporter(rd, a.logger)
}

func (a *App) newHub(deps *Dependencies) *ws.Hub {
	return ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StrategyName:   a.cfg.Strategy.Name,
		StartedAt:      a.startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
}

// serve starts the HTTP server on g and shuts it down when ctx ends.
func (a *App) serve(ctx context.Context, g *errgroup.Group, deps *Dependencies, cycles handler.CycleSource, hub *ws.Hub) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: handler.NewStatusHandler(handler.StatusInfo{
			Mode:         a.cfg.Mode,
			StrategyName: a.cfg.Strategy.Name,
			DryRun:       a.cfg.Venue.DryRun,
			Interval:     a.cfg.Strategy.Interval.Duration,
			StartedAt:    a.startedAt,
		}, cycles),
		State:   handler.NewStateHandler(deps.State, a.logger),
		Journal: handler.NewJournalHandler(deps.Journal, deps.Bus, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimitRPS: a.cfg.Server.RateLimitRPS,
		RateBurst:    a.cfg.Server.RateBurst,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// CycleConfig converts the strategy section of the configuration into the
// engine's parameters.
func CycleConfig(s config.StrategyConfig) (strategy.CycleConfig, error) {
	collateral, err := s.CollateralDecimal()
	if err != nil {
		return strategy.CycleConfig{}, fmt.Errorf("collateral: %w", err)
	}
	leverage, err := s.LeverageDecimal()
	if err != nil {
		return strategy.CycleConfig{}, fmt.Errorf("leverage: %w", err)
	}
	signal := strategy.SignalConfig{
		Period:     s.RSIPeriod,
		Oversold:   s.Oversold,
		Overbought: s.Overbought,
		Smoothing:  strategy.Smoothing(s.Smoothing),
	}
	if err := signal.Validate(); err != nil {
		return strategy.CycleConfig{}, err
	}
	if s.HistoryLength < s.RSIPeriod {
		return strategy.CycleConfig{}, fmt.Errorf("history length %d is shorter than period %d", s.HistoryLength, s.RSIPeriod)
	}
	return strategy.CycleConfig{
		Strategy: s.Name,
		Signal:   signal,
		Risk: strategy.RiskConfig{
			StopLoss:   decimal.NewFromFloat(s.StopLossPct),
			TakeProfit: decimal.NewFromFloat(s.TakeProfitPct),
			MaxHold:    s.MaxHold.Duration,
		},
		Scan: strategy.ScanConfig{
			Collateral:      collateral,
			Leverage:        leverage,
			PreOpenDelay:    s.PreOpenDelay.Duration,
			HistoryLength:   s.HistoryLength,
			TransientErrors: s.TransientErrors,
		},
		BlacklistTTL: s.BlacklistTTL.Duration,
		TrackPending: s.TrackPending,
	}, nil
}
