package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// PriceReader is a synchronous cache read, e.g. the push feed.
type PriceReader interface {
	Price(tokenID string) (float64, bool)
}

// BookFetcher reads a live order book.
type BookFetcher interface {
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error)
}

// MarketFetcher re-reads a market by slug.
type MarketFetcher interface {
	GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error)
}

// FeedSource reads the push-feed cache. No I/O.
type FeedSource struct {
	Feed PriceReader
}

func (FeedSource) Name() string { return "feed" }

func (s FeedSource) Price(_ context.Context, _ domain.Market, tokenID string) (float64, error) {
	if s.Feed == nil {
		return 0, errNoPrice
	}
	p, ok := s.Feed.Price(tokenID)
	if !ok {
		return 0, errNoPrice
	}
	return p, nil
}

// SnapshotSource uses the outcome prices embedded in the market record. A
// record older than MaxAge is ignored so a closed market cannot keep
// answering with its last snapshot; zero MaxAge never expires.
type SnapshotSource struct {
	MaxAge time.Duration
	Now    func() time.Time
}

func (SnapshotSource) Name() string { return "snapshot" }

func (s SnapshotSource) Price(_ context.Context, market domain.Market, tokenID string) (float64, error) {
	if s.MaxAge > 0 && !market.FetchedAt.IsZero() {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		if now().Sub(market.FetchedAt) > s.MaxAge {
			return 0, errNoPrice
		}
	}
	p, ok := market.SnapshotPrice(tokenID)
	if !ok {
		return 0, errNoPrice
	}
	return p, nil
}

// BookSource takes the best bid of the live order book. Markets without a
// condition id are skipped.
type BookSource struct {
	Books BookFetcher
}

func (BookSource) Name() string { return "book" }

func (s BookSource) Price(ctx context.Context, market domain.Market, tokenID string) (float64, error) {
	if s.Books == nil || market.ConditionID == "" {
		return 0, errNoPrice
	}
	book, err := s.Books.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, fmt.Errorf("pricing: book %s: %w", tokenID, err)
	}
	if book.BestBid <= 0 {
		return 0, errNoPrice
	}
	return book.BestBid, nil
}

// RESTSource re-fetches the market by slug and reads the token's price from
// the fresh outcome list. Markets that stopped trading are ignored; their
// final prices are settlement values, not quotes.
type RESTSource struct {
	Markets MarketFetcher
}

func (RESTSource) Name() string { return "rest" }

func (s RESTSource) Price(ctx context.Context, market domain.Market, tokenID string) (float64, error) {
	if s.Markets == nil || market.Slug == "" {
		return 0, errNoPrice
	}
	fresh, err := s.Markets.GetMarketBySlug(ctx, market.Slug)
	if err != nil {
		return 0, fmt.Errorf("pricing: rest %s: %w", market.Slug, err)
	}
	if fresh.Status != domain.MarketStatusActive {
		return 0, errNoPrice
	}
	p, ok := fresh.SnapshotPrice(tokenID)
	if !ok {
		return 0, errNoPrice
	}
	return p, nil
}
