// Package pricing answers "what is the current price of outcome token X"
// from an ordered chain of sources.
package pricing

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// errNoPrice is returned by a source that has nothing for the token.
var errNoPrice = errors.New("pricing: no price")

// Source is one way of pricing a token. market is the market record the
// token belongs to and may be used for snapshot or slug lookups.
type Source interface {
	Name() string
	Price(ctx context.Context, market domain.Market, tokenID string) (float64, error)
}

// Quote is a price with its provenance.
type Quote struct {
	Price   float64
	Source  string
	Derived bool // computed from the complementary side
}

// PairQuote holds both sides of a market after the complement rule.
type PairQuote struct {
	Up, Down     Quote
	UpOK, DownOK bool
}

// Get returns the quote for side.
func (p PairQuote) Get(side domain.Side) (Quote, bool) {
	if side == domain.SideDown {
		return p.Down, p.DownOK
	}
	return p.Up, p.UpOK
}

// BothAbsent reports whether neither side could be priced.
func (p PairQuote) BothAbsent() bool {
	return !p.UpOK && !p.DownOK
}

// BothObserved reports whether both sides came from a source.
func (p PairQuote) BothObserved() bool {
	return p.UpOK && p.DownOK && !p.Up.Derived && !p.Down.Derived
}

// Chain tries its sources in order; the first usable answer wins.
type Chain struct {
	sources []Source
	timeout time.Duration
	logger  *slog.Logger
}

// NewChain builds a chain. timeout bounds each source call; zero means 4s.
func NewChain(timeout time.Duration, logger *slog.Logger, sources ...Source) *Chain {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		sources: sources,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "pricing")),
	}
}

// Price returns the first usable price for tokenID. Source errors, timeouts
// and out-of-range values fall through to the next source; an exhausted
// chain returns false.
func (c *Chain) Price(ctx context.Context, market domain.Market, tokenID string) (Quote, bool) {
	if tokenID == "" {
		return Quote{}, false
	}
	for _, src := range c.sources {
		if ctx.Err() != nil {
			return Quote{}, false
		}
		p, err := c.try(ctx, src, market, tokenID)
		if err != nil {
			if !errors.Is(err, errNoPrice) {
				c.logger.DebugContext(ctx, "price source failed",
					slog.String("source", src.Name()),
					slog.String("token_id", tokenID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		v, ok := Normalize(p)
		if !ok {
			c.logger.DebugContext(ctx, "price source returned unusable value",
				slog.String("source", src.Name()),
				slog.String("token_id", tokenID),
				slog.Float64("price", p),
			)
			continue
		}
		return Quote{Price: v, Source: src.Name()}, true
	}
	return Quote{}, false
}

func (c *Chain) try(ctx context.Context, src Source, market domain.Market, tokenID string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return src.Price(ctx, market, tokenID)
}

// Pair prices both sides of market concurrently and applies the complement
// rule: when exactly one side is observed, the other is 1-x clamped to
// [0,1]. A derived price is never derived from.
func (c *Chain) Pair(ctx context.Context, market domain.Market) PairQuote {
	var pq PairQuote
	var g errgroup.Group
	g.Go(func() error {
		pq.Up, pq.UpOK = c.Price(ctx, market, market.TokenID(domain.SideUp))
		return nil
	})
	g.Go(func() error {
		pq.Down, pq.DownOK = c.Price(ctx, market, market.TokenID(domain.SideDown))
		return nil
	})
	_ = g.Wait()
	return Complete(pq)
}

// Complete fills a single missing side from the observed one.
func Complete(pq PairQuote) PairQuote {
	switch {
	case pq.UpOK && !pq.DownOK && !pq.Up.Derived:
		pq.Down = Quote{Price: Complement(pq.Up.Price), Source: "complement", Derived: true}
		pq.DownOK = true
	case pq.DownOK && !pq.UpOK && !pq.Down.Derived:
		pq.Up = Quote{Price: Complement(pq.Down.Price), Source: "complement", Derived: true}
		pq.UpOK = true
	}
	return pq
}

// Complement returns clamp(1-p, 0, 1).
func Complement(p float64) float64 {
	return Clamp(1 - p)
}

// Clamp limits p to [0,1].
func Clamp(p float64) float64 {
	return math.Min(1, math.Max(0, p))
}

// Normalize rejects non-finite and non-positive prices and clamps values
// above 1.
func Normalize(p float64) (float64, bool) {
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return 0, false
	}
	return Clamp(p), true
}
