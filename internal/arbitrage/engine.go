// Package arbitrage runs the price-threshold engine for one two-outcome
// UP/DOWN market: buy on dips, sell into strength, force exits on holding
// timeout, and rotate to a fresh market when the current one stops trading.
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/119969788/poly-copy-trading/internal/domain"
	"github.com/119969788/poly-copy-trading/internal/executor"
	"github.com/119969788/poly-copy-trading/internal/ledger"
	"github.com/119969788/poly-copy-trading/internal/pricing"
	"github.com/119969788/poly-copy-trading/internal/resolver"
)

// Mode selects the trading rule set.
type Mode string

const (
	// ModeDip trades each side on its own buy and sell thresholds.
	ModeDip Mode = "dip"
	// ModePair buys both sides when their combined price is under the cost
	// threshold and holds them to settlement.
	ModePair Mode = "pair"
)

// maxResolveAttempts bounds how many invalid markets one tick skips while
// looking for a market to track.
const maxResolveAttempts = 3

// Config holds the engine parameters.
type Config struct {
	Coin            string
	DurationMinutes int
	Mode            Mode

	BuyThreshold  float64
	SellThreshold float64
	TradeSize     float64 // collateral spent per dip buy

	PairCostThreshold float64
	PairOrderSize     float64 // shares per side

	CheckInterval     time.Duration
	HoldingTimeout    time.Duration
	RotationThreshold int
	TickTimeout       time.Duration
}

// Validate checks the parameters the rules depend on.
func (c Config) Validate() error {
	var errs []error
	if c.Coin == "" {
		errs = append(errs, errors.New("coin is required"))
	}
	switch c.Mode {
	case ModeDip:
		if !(c.BuyThreshold > 0 && c.BuyThreshold < 1) {
			errs = append(errs, fmt.Errorf("buy threshold %v outside (0,1)", c.BuyThreshold))
		}
		if !(c.SellThreshold > 0 && c.SellThreshold <= 1) {
			errs = append(errs, fmt.Errorf("sell threshold %v outside (0,1]", c.SellThreshold))
		}
		if c.TradeSize <= 0 {
			errs = append(errs, fmt.Errorf("trade size %v must be positive", c.TradeSize))
		}
	case ModePair:
		if !(c.PairCostThreshold > 0 && c.PairCostThreshold <= 1) {
			errs = append(errs, fmt.Errorf("pair cost threshold %v outside (0,1]", c.PairCostThreshold))
		}
		if c.PairOrderSize <= 0 {
			errs = append(errs, fmt.Errorf("pair order size %v must be positive", c.PairOrderSize))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.CheckInterval <= 0 {
		errs = append(errs, errors.New("check interval must be positive"))
	}
	if c.HoldingTimeout <= 0 {
		errs = append(errs, errors.New("holding timeout must be positive"))
	}
	if c.RotationThreshold < 1 {
		errs = append(errs, errors.New("rotation threshold must be at least 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("arbitrage: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// PriceSource prices tokens. *pricing.Chain implements it.
type PriceSource interface {
	Price(ctx context.Context, market domain.Market, tokenID string) (pricing.Quote, bool)
	Pair(ctx context.Context, market domain.Market) pricing.PairQuote
}

// MarketFinder locates markets. *resolver.Resolver implements it.
type MarketFinder interface {
	FindMarket(ctx context.Context, q resolver.Query) (domain.Market, error)
}

// TradabilityChecker answers whether the venue accepts orders for a token.
type TradabilityChecker interface {
	IsTradable(ctx context.Context, tokenID string) bool
}

// Subscriber re-targets the push feed.
type Subscriber interface {
	Subscribe(ctx context.Context, tokenIDs []string) error
}

// Deps are the engine's collaborators. Feed and Now are optional.
type Deps struct {
	Prices    PriceSource
	Finder    MarketFinder
	Prober    TradabilityChecker
	Executor  executor.Executor
	Feed      Subscriber
	Observers []Observer
	Now       func() time.Time
}

// Engine is the tick-driven decision loop. One Engine trades one coin.
type Engine struct {
	cfg       Config
	prices    PriceSource
	finder    MarketFinder
	prober    TradabilityChecker
	exec      executor.Executor
	feed      Subscriber
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time

	ledger *ledger.Ledger

	// tickMu serialises ticks; a tick that cannot take it is skipped.
	tickMu sync.Mutex

	// mu guards the fields below for Snapshot readers.
	mu          sync.RWMutex
	market      *domain.Market
	tokens      [2]string // cached UP, DOWN token ids of market
	unavailable int
	untradable  map[string]bool
	seen        map[string]domain.Market // token id -> market it belongs to
	stats       Stats
	lastTick    time.Time

	stopMu sync.Mutex
	stop   context.CancelFunc
}

// New creates an Engine.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Prices == nil || deps.Finder == nil || deps.Prober == nil || deps.Executor == nil {
		return nil, errors.New("arbitrage: prices, finder, prober and executor are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = cfg.CheckInterval
	}
	logger = logger.With(slog.String("component", "engine"), slog.String("coin", cfg.Coin))
	return &Engine{
		cfg:        cfg,
		prices:     deps.Prices,
		finder:     deps.Finder,
		prober:     deps.Prober,
		exec:       deps.Executor,
		feed:       deps.Feed,
		observers:  append([]Observer{LogObserver{Logger: logger}}, deps.Observers...),
		logger:     logger,
		now:        now,
		ledger:     ledger.New(),
		untradable: make(map[string]bool),
		seen:       make(map[string]domain.Market),
		stats:      Stats{StartedAt: now()},
	}, nil
}

// Run ticks immediately and then every CheckInterval until ctx is done or
// Stop is called. A tick in flight when the stop arrives runs to completion
// under TickTimeout.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.stopMu.Lock()
	e.stop = cancel
	e.stopMu.Unlock()
	defer cancel()

	e.logger.InfoContext(ctx, "engine started",
		slog.String("mode", string(e.cfg.Mode)),
		slog.Float64("buy_threshold", e.cfg.BuyThreshold),
		slog.Float64("sell_threshold", e.cfg.SellThreshold),
		slog.Duration("check_interval", e.cfg.CheckInterval),
		slog.Duration("holding_timeout", e.cfg.HoldingTimeout),
	)

	t := time.NewTicker(e.cfg.CheckInterval)
	defer t.Stop()
	e.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return ctx.Err()
		case <-t.C:
			e.runTick(ctx)
		}
	}
}

// Stop ends Run after the current tick.
func (e *Engine) Stop() {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	if e.stop != nil {
		e.stop()
	}
}

func (e *Engine) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.TickTimeout)
	defer cancel()
	e.Tick(tctx)
}

// Tick runs one evaluation. It reports false when another tick was still
// running and this one was skipped.
func (e *Engine) Tick(ctx context.Context) bool {
	if !e.tickMu.TryLock() {
		e.mu.Lock()
		e.stats.SkippedTicks++
		e.mu.Unlock()
		e.logger.WarnContext(ctx, "tick skipped, previous tick still running")
		return false
	}
	defer e.tickMu.Unlock()

	now := e.now()
	e.mu.Lock()
	e.stats.Ticks++
	e.lastTick = now
	e.mu.Unlock()

	attempted := make(map[string]bool)
	if market, ok := e.currentMarket(ctx, now); ok {
		pq := e.prices.Pair(ctx, market)
		if pq.BothAbsent() {
			e.handleUnavailable(ctx, market, now)
		} else {
			e.setUnavailable(0)
			switch e.cfg.Mode {
			case ModePair:
				e.evaluatePair(ctx, market, pq, now)
			default:
				for _, side := range domain.Sides {
					if q, ok := pq.Get(side); ok {
						e.evaluateSide(ctx, market, side, q, now, attempted)
					}
				}
			}
		}
	}
	e.sweepTimeouts(ctx, now, attempted)
	return true
}

// currentMarket returns the tracked market, resolving one when none is held.
// A tracked market that fails validation is rotated away immediately.
func (e *Engine) currentMarket(ctx context.Context, now time.Time) (domain.Market, bool) {
	e.mu.RLock()
	m := e.market
	e.mu.RUnlock()

	if m == nil {
		for attempt := 0; attempt < maxResolveAttempts; attempt++ {
			found, err := e.finder.FindMarket(ctx, resolver.Query{
				Coin:            e.cfg.Coin,
				DurationMinutes: e.cfg.DurationMinutes,
				Exclude:         e.excludeSet(""),
			})
			if err != nil {
				e.logger.ErrorContext(ctx, "no market to track", slog.String("error", err.Error()))
				return domain.Market{}, false
			}
			if err := found.Validate(); err != nil {
				e.markUntradable(found.Key())
				e.logger.ErrorContext(ctx, "resolved market is invalid",
					slog.String("market", found.Key()),
					slog.String("error", err.Error()),
				)
				continue
			}
			e.setMarket(ctx, found)
			e.emit(ctx, Event{Kind: EventMarketSelected, Time: now, MarketSlug: found.Key()})
			return found, true
		}
		return domain.Market{}, false
	}

	if err := m.Validate(); err != nil {
		e.logger.ErrorContext(ctx, "tracked market failed validation, rotating",
			slog.String("market", m.Key()),
			slog.String("error", err.Error()),
		)
		if !e.rotate(ctx, *m, now, "invalid market") {
			return domain.Market{}, false
		}
		e.mu.RLock()
		m = e.market
		e.mu.RUnlock()
	}
	return *m, true
}

func (e *Engine) setMarket(ctx context.Context, m domain.Market) {
	up, down := m.TokenID(domain.SideUp), m.TokenID(domain.SideDown)
	e.mu.Lock()
	e.market = &m
	e.tokens = [2]string{up, down}
	e.seen[up] = m
	e.seen[down] = m
	e.mu.Unlock()

	if e.feed != nil {
		if err := e.feed.Subscribe(ctx, []string{up, down}); err != nil {
			e.logger.WarnContext(ctx, "feed subscribe failed", slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) setUnavailable(n int) {
	e.mu.Lock()
	e.unavailable = n
	e.mu.Unlock()
}

func (e *Engine) markUntradable(key string) {
	if key == "" {
		return
	}
	e.mu.Lock()
	e.untradable[key] = true
	e.mu.Unlock()
}

// excludeSet returns the untradable keys plus extra.
func (e *Engine) excludeSet(extra string) map[string]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]bool, len(e.untradable)+1)
	for k := range e.untradable {
		out[k] = true
	}
	if extra != "" {
		out[extra] = true
	}
	return out
}

// marketFor returns the market a token was traded in, falling back to the
// tracked market.
func (e *Engine) marketFor(tokenID string) domain.Market {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if m, ok := e.seen[tokenID]; ok {
		return m
	}
	if e.market != nil {
		return *e.market
	}
	return domain.Market{}
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	for _, o := range e.observers {
		o.Observe(ctx, ev)
	}
}

func (e *Engine) newPositionID() string {
	return uuid.NewString()
}

// Snapshot is a read-only view of the engine state.
type Snapshot struct {
	Coin                   string
	Mode                   Mode
	Market                 *domain.Market
	Tokens                 [2]string
	ConsecutiveUnavailable int
	Untradable             []string
	Positions              []domain.Position
	Stats                  Stats
	LastTick               time.Time
}

// Snapshot copies the current state. Safe to call from any goroutine.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Snapshot{
		Coin:                   e.cfg.Coin,
		Mode:                   e.cfg.Mode,
		Tokens:                 e.tokens,
		ConsecutiveUnavailable: e.unavailable,
		Positions:              e.ledger.List(),
		Stats:                  e.stats,
		LastTick:               e.lastTick,
	}
	if e.market != nil {
		m := *e.market
		s.Market = &m
	}
	for k := range e.untradable {
		s.Untradable = append(s.Untradable, k)
	}
	slices.Sort(s.Untradable)
	return s
}

// OpenPosition is a position listed in the shutdown report.
type OpenPosition struct {
	domain.Position
	HeldMinutes float64
}

// Report is produced at shutdown. Open positions are listed, never closed.
type Report struct {
	Coin      string
	Market    string
	StoppedAt time.Time
	Positions []OpenPosition
	Stats     Stats
}

// ShutdownReport lists open positions with their holding time and the
// session statistics.
func (e *Engine) ShutdownReport() Report {
	snap := e.Snapshot()
	now := e.now()
	r := Report{Coin: snap.Coin, StoppedAt: now, Stats: snap.Stats}
	if snap.Market != nil {
		r.Market = snap.Market.Key()
	}
	for _, p := range snap.Positions {
		r.Positions = append(r.Positions, OpenPosition{Position: p, HeldMinutes: p.Held(now).Minutes()})
	}
	return r
}

// LogStats writes the session statistics at info.
func (e *Engine) LogStats(ctx context.Context) {
	snap := e.Snapshot()
	market := ""
	if snap.Market != nil {
		market = snap.Market.Key()
	}
	e.logger.InfoContext(ctx, "session stats",
		slog.String("market", market),
		slog.Int("open_positions", len(snap.Positions)),
		slog.Any("stats", snap.Stats),
	)
}
