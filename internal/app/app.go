// Package app provides the top-level application lifecycle for the helios
// pipeline. It wires together the venues, scanner, evaluator thresholds,
// orchestrator, kill switch, persistence, and the control API, then runs
// everything under one errgroup until shutdown.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/helioslabs/helios/internal/config"
	"github.com/helioslabs/helios/internal/domain"
	"github.com/helioslabs/helios/internal/engine"
	"github.com/helioslabs/helios/internal/evaluator"
	"github.com/helioslabs/helios/internal/killswitch"
	"github.com/helioslabs/helios/internal/ledger"
	"github.com/helioslabs/helios/internal/oracle"
	"github.com/helioslabs/helios/internal/orchestrator"
	"github.com/helioslabs/helios/internal/scanner"
	"github.com/helioslabs/helios/internal/server"
	"github.com/helioslabs/helios/internal/server/middleware"
	"github.com/helioslabs/helios/internal/server/ws"
	"github.com/helioslabs/helios/internal/venue"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the pipeline goroutines, and blocks
// until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	sources, runners, err := a.buildVenues(deps)
	if err != nil {
		return fmt.Errorf("app: venues: %w", err)
	}

	exec, err := a.buildEngine()
	if err != nil {
		return fmt.Errorf("app: engine: %w", err)
	}

	fees := evaluator.FeeConfig{
		CapitalAllocation:  a.cfg.Evaluator.CapitalAllocation,
		TakerFeeRate:       a.cfg.Evaluator.TakerFeeRate,
		MakerFeeRate:       a.cfg.Evaluator.MakerFeeRate,
		NetworkFee:         a.cfg.Evaluator.NetworkFee,
		MaxSlippageRate:    a.cfg.Evaluator.MaxSlippageRate,
		MinProfitThreshold: a.cfg.Evaluator.MinProfitThreshold,
		MinConfidence:      a.cfg.Evaluator.MinConfidence,
	}

	led := ledger.New(a.cfg.Safety.TotalCapital)

	orch := orchestrator.New(orchestrator.Config{
		Mode:             domain.Mode(strings.ToLower(a.cfg.Mode)),
		MaxTradesPerHour: a.cfg.Safety.MaxTradesPerHour,
		DailyLossLimit:   a.cfg.Safety.DailyLossLimit,
		Fees:             fees,
		QueueSize:        a.cfg.Safety.QueueSize,
		OracleWindow:     a.cfg.Safety.OracleWindow.Duration,
	}, led, exec, a.buildOracle(), deps.TradeStore, deps.Clock, a.logger)

	scan := scanner.New(scanner.Config{
		Symbols:          a.cfg.Scanner.Symbols,
		Interval:         a.cfg.Scanner.Interval.Duration,
		VenueTimeout:     a.cfg.Scanner.VenueTimeout.Duration,
		MinSpreadPercent: a.cfg.Scanner.MinSpreadPercent,
	}, sources, deps.Clock, a.logger)
	if deps.QuoteCache != nil {
		scan.SetQuoteMirror(deps.QuoteCache)
	}

	ks := killswitch.New(orch, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	// Streaming venues maintain their own connections.
	for _, run := range runners {
		run := run
		g.Go(func() error { return run(ctx) })
	}

	spreads := make(chan []domain.Spread, 16)
	g.Go(func() error { return scan.Run(ctx, spreads) })
	g.Go(func() error { return orch.Run(ctx, spreads) })

	ksEvents := make(chan domain.Event, 16)
	g.Go(func() error { return ks.Run(ctx, ksEvents) })
	g.Go(func() error {
		a.dispatchEvents(ctx, orch.Events(), ksEvents, deps)
		return nil
	})

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		var hub *ws.Hub
		if deps.EventBus != nil {
			hub = ws.NewHub(deps.EventBus, a.logger, ws.Config{
				Mode:      a.cfg.Mode,
				StartedAt: deps.Clock.Now(),
			})
			g.Go(func() error { return hub.Run(ctx) })
		}

		srv := server.New(server.Config{
			Port:        a.cfg.Server.Port,
			APIKey:      a.cfg.Server.APIKey,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			RateLimit: middleware.RateLimitConfig{
				RequestsPerMinute: a.cfg.Server.RequestsPerMinute,
				Enabled:           a.cfg.Server.RequestsPerMinute > 0,
			},
		}, server.Deps{
			Controller:  orch,
			Status:      orch,
			KillSwitch:  ks,
			Trades:      deps.TradeStore,
			Hub:         hub,
			Pingers:     deps.Pingers,
			Logger:      a.logger,
			RateLimiter: deps.RateLimiter,
		})
		g.Go(func() error { return srv.Start(ctx) })
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// venueRunner is a long-lived connection loop for streaming venues.
type venueRunner func(ctx context.Context) error

// buildVenues constructs one MarketDataSource per configured venue, plus
// runner loops for the streaming ones.
func (a *App) buildVenues(deps *Dependencies) ([]domain.MarketDataSource, []venueRunner, error) {
	sources := make([]domain.MarketDataSource, 0, len(a.cfg.Venues))
	var runners []venueRunner

	for _, vc := range a.cfg.Venues {
		switch vc.Kind {
		case "rest":
			sources = append(sources, venue.NewRESTSource(venue.RESTConfig{
				Name:    vc.Name,
				BaseURL: vc.BaseURL,
				APIKey:  vc.APIKey,
				Timeout: vc.Timeout.Duration,
			}, deps.Clock))
		case "ws":
			src := venue.NewWSSource(venue.WSConfig{
				Name:       vc.Name,
				URL:        vc.WSURL,
				Symbols:    a.cfg.Scanner.Symbols,
				StaleAfter: vc.StaleAfter.Duration,
			}, deps.Clock, a.logger)
			sources = append(sources, src)
			runners = append(runners, src.Run)
		case "sim":
			sources = append(sources, venue.NewSimSource(venue.SimConfig{
				Name:              vc.Name,
				BasePrices:        vc.BasePrices,
				DriftPercent:      vc.DriftPercent,
				VolatilityPercent: vc.VolatilityPercent,
				Seed:              vc.Seed,
			}, deps.Clock))
		default:
			return nil, nil, fmt.Errorf("unknown venue kind %q", vc.Kind)
		}
	}
	return sources, runners, nil
}

// buildEngine selects the execution engine for the configured mode.
// Simulation needs none: outcomes are synthesized at settlement.
func (a *App) buildEngine() (domain.ExecutionEngine, error) {
	switch strings.ToLower(a.cfg.Mode) {
	case "simulation":
		return nil, nil
	case "paper":
		return engine.NewPaperEngine(engine.PaperConfig{
			FillFailureRate:   a.cfg.Engine.Paper.FillFailureRate,
			MaxAdversePercent: a.cfg.Engine.Paper.MaxAdversePercent,
			FeeRate:           a.cfg.Engine.Paper.FeeRate,
			Latency:           a.cfg.Engine.Paper.Latency.Duration,
			Seed:              a.cfg.Engine.Paper.Seed,
		}, a.logger), nil
	case "live":
		placers := make(map[string]engine.OrderPlacer, len(a.cfg.Engine.OrderEndpoints))
		for name, ep := range a.cfg.Engine.OrderEndpoints {
			placers[name] = engine.NewRESTTrader(engine.TraderConfig{
				Venue:   name,
				BaseURL: ep.BaseURL,
				APIKey:  ep.APIKey,
				Timeout: ep.Timeout.Duration,
			})
		}
		return engine.NewLiveEngine(placers, a.logger), nil
	default:
		return nil, fmt.Errorf("unsupported mode %q", a.cfg.Mode)
	}
}

// buildOracle returns the external risk service client, or the permissive
// oracle when none is configured.
func (a *App) buildOracle() domain.RiskOracle {
	if a.cfg.Oracle.BaseURL == "" {
		return oracle.Permissive{}
	}
	return oracle.NewClient(oracle.Config{
		BaseURL: a.cfg.Oracle.BaseURL,
		APIKey:  a.cfg.Oracle.APIKey,
		Timeout: a.cfg.Oracle.Timeout.Duration,
	})
}

// dispatchEvents is the single consumer of the orchestrator's event channel.
// It fans each event out to the kill switch, the notifier, and the event bus.
func (a *App) dispatchEvents(ctx context.Context, events <-chan domain.Event, ks chan<- domain.Event, deps *Dependencies) {
	defer close(ks)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			select {
			case ks <- ev:
			default:
				// The kill switch only acts on safety events; dropping
				// the rest under backlog is acceptable.
				if ev.Type == domain.EventSafetyLimit {
					select {
					case ks <- ev:
					case <-ctx.Done():
						return
					}
				}
			}

			if deps.Notifier != nil {
				go func(ev domain.Event) {
					nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := deps.Notifier.Notify(nctx, ev); err != nil {
						a.logger.Warn("notify failed", slog.String("error", err.Error()))
					}
				}(ev)
			}

			if deps.EventBus != nil {
				a.publishEvent(ctx, ev, deps)
			}
		}
	}
}

// publishEvent mirrors one event onto the redis bus: a pub/sub channel per
// event type for live subscribers, and a capped stream for trade history.
func (a *App) publishEvent(ctx context.Context, ev domain.Event, deps *Dependencies) {
	data, err := json.Marshal(ev)
	if err != nil {
		a.logger.Error("marshal event", slog.String("error", err.Error()))
		return
	}

	if err := deps.EventBus.Publish(ctx, "events:"+string(ev.Type), data); err != nil {
		a.logger.Warn("publish event",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}

	switch ev.Type {
	case domain.EventTradeCompleted, domain.EventTradeFailed, domain.EventTradeRollback:
		if err := deps.EventBus.StreamAppend(ctx, "trade-history", data); err != nil {
			a.logger.Warn("stream append", slog.String("error", err.Error()))
		}
	}
}
