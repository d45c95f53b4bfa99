package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
	"github.com/119969788/poly-copy-trading/internal/cache/redis"
	"github.com/119969788/poly-copy-trading/internal/config"
	"github.com/119969788/poly-copy-trading/internal/domain"
	"github.com/119969788/poly-copy-trading/internal/notify"
	"github.com/119969788/poly-copy-trading/internal/resolver"
	"github.com/119969788/poly-copy-trading/internal/server"
	"github.com/119969788/poly-copy-trading/internal/server/handler"
)

// shutdownTimeout bounds the report upload and the final notification.
const shutdownTimeout = 20 * time.Second

// RunMode trades until ctx is cancelled: the engine loop, the push feed, the
// stats schedule, the status server, notifications and the coin lock all run
// under one errgroup. On return the shutdown report is logged, archived and
// sent.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	e := a.cfg.Engine
	a.logger.InfoContext(ctx, "starting run mode",
		slog.String("session_id", deps.SessionID),
		slog.String("coin", e.Coin),
		slog.String("engine_mode", e.Mode),
		slog.Bool("dry_run", !a.cfg.Live()),
	)

	var lease *redis.Lease
	if deps.Locks != nil {
		var err error
		lease, err = deps.Locks.Acquire(ctx, "coin:"+strings.ToLower(e.Coin), a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: another process is trading %s: %w", e.Coin, err)
			}
			return fmt.Errorf("app: coin lock: %w", err)
		}
		defer lease.Release()
	}

	if deps.Positions != nil {
		a.warnOrphanedPositions(ctx, deps)
	}

	engine, err := arbitrage.New(engineConfig(a.cfg), arbitrage.Deps{
		Prices:    deps.Prices,
		Finder:    deps.Resolver,
		Prober:    deps.Prober,
		Executor:  deps.Executor,
		Feed:      subscriber(deps),
		Observers: observers(deps),
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: engine: %w", err)
	}
	if deps.Metrics != nil {
		deps.Metrics.Watch(engine)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})

	if deps.Feed != nil {
		g.Go(func() error {
			return deps.Feed.Run(gctx)
		})
	}

	g.Go(func() error {
		return deps.Notifier.Run(gctx)
	})

	if lease != nil {
		g.Go(func() error {
			if err := lease.Keep(gctx, a.logger); err != nil {
				return fmt.Errorf("app: coin lock lost: %w", err)
			}
			return nil
		})
	}

	if err := a.startStatsCron(gctx, g, engine); err != nil {
		return err
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, engine)
	}

	runErr := g.Wait()
	a.shutdown(deps, engine)
	return runErr
}

// ScanMode resolves the market once and prints its prices and tradability.
// No orders are placed.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	e := a.cfg.Engine
	market, err := deps.Resolver.FindMarket(ctx, resolver.Query{
		Coin:            e.Coin,
		DurationMinutes: e.DurationMinutes,
	})
	if err != nil {
		return fmt.Errorf("app: scan: %w", err)
	}

	pq := deps.Prices.Pair(ctx, market)
	report := scanReport{
		Market:      market.Key(),
		Question:    market.Question,
		ConditionID: market.ConditionID,
		EndDate:     market.EndDate,
	}
	for _, side := range domain.Sides {
		tokenID := market.TokenID(side)
		row := scanSide{
			Side:     string(side),
			TokenID:  tokenID,
			Tradable: deps.Prober.IsTradable(ctx, tokenID),
		}
		if q, ok := pq.Get(side); ok {
			price := q.Price
			row.Price = &price
			row.Source = q.Source
			row.Derived = q.Derived
		}
		report.Sides = append(report.Sides, row)
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

type scanReport struct {
	Market      string     `json:"market"`
	Question    string     `json:"question,omitempty"`
	ConditionID string     `json:"condition_id,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Sides       []scanSide `json:"sides"`
}

type scanSide struct {
	Side     string   `json:"side"`
	TokenID  string   `json:"token_id"`
	Price    *float64 `json:"price"`
	Source   string   `json:"source,omitempty"`
	Derived  bool     `json:"derived,omitempty"`
	Tradable bool     `json:"tradable"`
}

// startStatsCron logs the session statistics every stats_interval.
func (a *App) startStatsCron(ctx context.Context, g *errgroup.Group, engine *arbitrage.Engine) error {
	c := cron.New()
	spec := "@every " + a.cfg.Engine.StatsInterval.Duration.String()
	if _, err := c.AddFunc(spec, func() { engine.LogStats(ctx) }); err != nil {
		return fmt.Errorf("app: stats schedule %q: %w", spec, err)
	}
	c.Start()
	g.Go(func() error {
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	})
	return nil
}

// startHTTPServer adds the status server to the errgroup. The server is shut
// down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, engine *arbitrage.Engine) {
	var history handler.History
	if deps.Positions != nil {
		history = deps.Positions
	}
	h := server.Handlers{
		Health: handler.NewHealthHandler(engine, a.cfg.Server.MaxTickAge.Duration),
		Status: handler.NewStatusHandler(engine, history, !a.cfg.Live(), a.logger),
	}
	if deps.Audit != nil {
		h.Events = handler.NewEventsHandler(deps.Audit, a.logger)
	}
	if deps.Metrics != nil {
		h.Metrics = deps.Metrics.Handler()
	}
	srv := server.NewServer(server.Config{
		Addr:      a.cfg.Server.Addr,
		APIKey:    a.cfg.Server.APIKey,
		RateLimit: a.cfg.Server.RateLimit,
		RateBurst: a.cfg.Server.RateBurst,
	}, h, a.logger)
	g.Go(func() error {
		return srv.Run(ctx)
	})
}

// shutdown logs the report, archives the session and sends the final
// notification. Open positions are listed, never liquidated.
func (a *App) shutdown(deps *Dependencies, engine *arbitrage.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	report := engine.ShutdownReport()
	for _, p := range report.Positions {
		a.logger.WarnContext(ctx, "position still open at shutdown",
			slog.String("token_id", p.TokenID),
			slog.String("side", string(p.Side)),
			slog.String("market", p.MarketSlug),
			slog.Float64("entry_price", p.EntryPrice),
			slog.Float64("size", p.Size),
			slog.Float64("held_minutes", p.HeldMinutes),
		)
	}
	a.logger.InfoContext(ctx, "shutdown report",
		slog.String("session_id", deps.SessionID),
		slog.String("market", report.Market),
		slog.Int("open_positions", len(report.Positions)),
		slog.Any("stats", report.Stats),
	)

	if deps.Archive != nil {
		if err := deps.Archive.Upload(ctx, report); err != nil {
			a.logger.ErrorContext(ctx, "session archive upload failed", slog.String("error", err.Error()))
		}
	}

	title, body := notify.FormatReport(report)
	if err := deps.Notifier.Notify(ctx, "shutdown", title, body); err != nil {
		a.logger.WarnContext(ctx, "shutdown notification failed", slog.String("error", err.Error()))
	}
}

// warnOrphanedPositions reports journal rows left open by earlier sessions.
// They are not adopted: the ledger starts empty every run.
func (a *App) warnOrphanedPositions(ctx context.Context, deps *Dependencies) {
	rows, err := deps.Positions.ListOpen(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "journal: list open positions failed", slog.String("error", err.Error()))
		return
	}
	for _, r := range rows {
		if r.SessionID == deps.SessionID {
			continue
		}
		a.logger.WarnContext(ctx, "position left open by an earlier session",
			slog.String("session_id", r.SessionID),
			slog.String("token_id", r.TokenID),
			slog.String("market", r.MarketSlug),
			slog.Float64("size", r.Size-r.SoldSize),
			slog.Time("entry_time", r.EntryTime),
		)
	}
}

// engineConfig maps the [engine] section onto the engine parameters.
func engineConfig(cfg *config.Config) arbitrage.Config {
	e := cfg.Engine
	return arbitrage.Config{
		Coin:              strings.ToLower(strings.TrimSpace(e.Coin)),
		DurationMinutes:   e.DurationMinutes,
		Mode:              arbitrage.Mode(strings.ToLower(e.Mode)),
		BuyThreshold:      e.BuyThreshold,
		SellThreshold:     e.SellThreshold,
		TradeSize:         e.TradeSize,
		PairCostThreshold: e.PairCostThreshold,
		PairOrderSize:     e.PairOrderSize,
		CheckInterval:     e.CheckInterval.Duration,
		HoldingTimeout:    e.HoldingTimeout.Duration,
		RotationThreshold: e.RotationThreshold,
		TickTimeout:       e.TickTimeout.Duration,
	}
}

// subscriber returns the feed as an engine subscriber, or nil when the feed
// is disabled.
func subscriber(deps *Dependencies) arbitrage.Subscriber {
	if deps.Feed == nil {
		return nil
	}
	return deps.Feed
}

// observers lists the enabled event sinks.
func observers(deps *Dependencies) []arbitrage.Observer {
	var obs []arbitrage.Observer
	if deps.Metrics != nil {
		obs = append(obs, deps.Metrics)
	}
	if deps.Journal != nil {
		obs = append(obs, deps.Journal)
	}
	if deps.Archive != nil {
		obs = append(obs, deps.Archive)
	}
	if deps.Notifier != nil {
		obs = append(obs, deps.Notifier)
	}
	return obs
}
