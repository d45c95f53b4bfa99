// Package resolver locates the two-outcome market the engine should trade.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
	"github.com/119969788/poly-copy-trading/internal/retry"
)

// Candidate is a market found by a strategy, with the event it came from.
type Candidate struct {
	Market     domain.Market
	EventSlug  string
	EventTitle string
}

// Catalog is the discovery surface the strategies need.
type Catalog interface {
	MarketBySlug(ctx context.Context, slug string) (domain.Market, error)
	MarketByConditionID(ctx context.Context, conditionID string) (domain.Market, error)
	EventMarkets(ctx context.Context, eventSlug string) ([]Candidate, error)
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Query asks for a market of Coin with the preferred duration. Exclude holds
// market keys (domain.Market.Key) that must not be returned.
type Query struct {
	Coin            string
	DurationMinutes int
	Exclude         map[string]bool
}

func (q Query) excluded(m domain.Market) bool {
	return q.Exclude[m.Key()] || (m.ID != "" && q.Exclude[m.ID])
}

// Strategy produces candidate markets for a query.
type Strategy interface {
	Name() string
	Find(ctx context.Context, cat Catalog, q Query) ([]Candidate, error)
}

// Config configures a Resolver.
type Config struct {
	EventSlug   string // explicit event or market slug, tried first when set
	ConditionID string // manual fallback, tried last when set
	Retry     retry.Policy
	Now       func() time.Time
}

// Resolver runs its strategies in order and returns the first valid,
// non-excluded market.
type Resolver struct {
	catalog    Catalog
	strategies []Strategy
	logger     *slog.Logger
}

// New builds a Resolver with the standard strategy order: explicit slug,
// windowed event slug, free-text search, slug templates, then the configured
// condition id.
func New(catalog Catalog, cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	var strategies []Strategy
	if s := strings.TrimSpace(cfg.EventSlug); s != "" {
		strategies = append(strategies, EventSlugStrategy{Slug: s})
	}
	strategies = append(strategies, WindowStrategy{Now: now}, SearchStrategy{}, TemplateStrategy{})
	if id := strings.TrimSpace(cfg.ConditionID); id != "" {
		strategies = append(strategies, ConditionIDStrategy{ConditionID: id})
	}
	return NewWithStrategies(&retryingCatalog{inner: catalog, policy: cfg.Retry}, logger, strategies...)
}

// NewWithStrategies builds a Resolver with an explicit strategy list.
func NewWithStrategies(catalog Catalog, logger *slog.Logger, strategies ...Strategy) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		catalog:    catalog,
		strategies: strategies,
		logger:     logger.With(slog.String("component", "resolver")),
	}
}

// FindMarket returns a validated market for q, or an error wrapping
// domain.ErrNotFound when every strategy is exhausted.
func (r *Resolver) FindMarket(ctx context.Context, q Query) (domain.Market, error) {
	q.Coin = strings.ToLower(strings.TrimSpace(q.Coin))
	if q.Coin == "" {
		return domain.Market{}, fmt.Errorf("resolver: find market: %w: empty coin", domain.ErrNotFound)
	}
	if q.DurationMinutes <= 0 {
		q.DurationMinutes = 15
	}

	var failures []error
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return domain.Market{}, fmt.Errorf("resolver: find market: %w", err)
		}
		cands, err := s.Find(ctx, r.catalog, q)
		if err != nil {
			r.logger.DebugContext(ctx, "strategy failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
			failures = append(failures, fmt.Errorf("%s: %w", s.Name(), err))
		}
		m, ok, err := r.pick(ctx, s.Name(), q, cands)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", s.Name(), err))
		}
		if ok {
			r.logger.InfoContext(ctx, "market resolved",
				slog.String("strategy", s.Name()),
				slog.String("slug", m.Slug),
				slog.String("condition_id", m.ConditionID),
				slog.String("up_token", m.TokenID(domain.SideUp)),
				slog.String("down_token", m.TokenID(domain.SideDown)),
			)
			return m, nil
		}
	}

	err := fmt.Errorf("resolver: no market for %s %dm: %w", q.Coin, q.DurationMinutes, domain.ErrNotFound)
	if len(failures) > 0 {
		err = fmt.Errorf("%w (%v)", err, errors.Join(failures...))
	}
	return domain.Market{}, err
}

// pick returns the first usable candidate. Markets without token ids get one
// backfill lookup by slug; markets that still fail validation are reported
// and skipped, never patched.
func (r *Resolver) pick(ctx context.Context, strategy string, q Query, cands []Candidate) (domain.Market, bool, error) {
	var invalid []error
	seen := make(map[string]bool, len(cands))
	for _, c := range cands {
		m := c.Market
		if m.Slug == "" && m.ID == "" {
			continue
		}
		if seen[m.Key()] || q.excluded(m) {
			continue
		}
		seen[m.Key()] = true
		if m.Status == domain.MarketStatusClosed {
			continue
		}

		if !m.HasTokens() && m.Slug != "" {
			if filled, err := r.catalog.MarketBySlug(ctx, m.Slug); err == nil {
				m = backfill(m, filled)
			} else {
				r.logger.DebugContext(ctx, "token backfill failed",
					slog.String("slug", m.Slug),
					slog.String("error", err.Error()),
				)
			}
		}
		if err := m.Validate(); err != nil {
			r.logger.WarnContext(ctx, "rejecting market",
				slog.String("strategy", strategy),
				slog.String("slug", m.Slug),
				slog.String("error", err.Error()),
			)
			invalid = append(invalid, err)
			continue
		}
		return m, true, nil
	}
	return domain.Market{}, false, errors.Join(invalid...)
}

// backfill copies token ids, and the fields that come with them, from a
// fresh lookup of the same market.
func backfill(m, fresh domain.Market) domain.Market {
	if !fresh.HasTokens() {
		return m
	}
	m.TokenIDs = fresh.TokenIDs
	m.Outcomes = fresh.Outcomes
	m.OutcomePrices = fresh.OutcomePrices
	if m.ConditionID == "" {
		m.ConditionID = fresh.ConditionID
	}
	if m.ID == "" {
		m.ID = fresh.ID
	}
	if fresh.Status != "" {
		m.Status = fresh.Status
	}
	return m
}

// retryingCatalog wraps every catalog call in the retry policy.
type retryingCatalog struct {
	inner  Catalog
	policy retry.Policy
}

func (c *retryingCatalog) MarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	return retry.Do(ctx, c.policy, func(ctx context.Context) (domain.Market, error) {
		return c.inner.MarketBySlug(ctx, slug)
	})
}

func (c *retryingCatalog) MarketByConditionID(ctx context.Context, conditionID string) (domain.Market, error) {
	return retry.Do(ctx, c.policy, func(ctx context.Context) (domain.Market, error) {
		return c.inner.MarketByConditionID(ctx, conditionID)
	})
}

func (c *retryingCatalog) EventMarkets(ctx context.Context, eventSlug string) ([]Candidate, error) {
	return retry.Do(ctx, c.policy, func(ctx context.Context) ([]Candidate, error) {
		return c.inner.EventMarkets(ctx, eventSlug)
	})
}

func (c *retryingCatalog) Search(ctx context.Context, query string) ([]Candidate, error) {
	return retry.Do(ctx, c.policy, func(ctx context.Context) ([]Candidate, error) {
		return c.inner.Search(ctx, query)
	})
}
