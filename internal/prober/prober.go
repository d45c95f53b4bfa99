// Package prober answers whether the venue still accepts orders for a token.
package prober

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// BookFetcher is the order-book read the prober relies on.
type BookFetcher interface {
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error)
}

// Prober checks tradability with a cheap order-book request.
type Prober struct {
	books   BookFetcher
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Prober. timeout bounds each probe; zero means 4s.
func New(books BookFetcher, timeout time.Duration, logger *slog.Logger) *Prober {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		books:   books,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "prober")),
	}
}

// IsTradable reports whether the venue answered with a book for tokenID.
// A not-found answer means the market is closed. Any other failure also
// returns false, since trading a dead market is worse than waiting a tick.
func (p *Prober) IsTradable(ctx context.Context, tokenID string) bool {
	if tokenID == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.books.GetOrderBook(ctx, tokenID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrNotFound):
		p.logger.InfoContext(ctx, "token has no order book", slog.String("token_id", tokenID))
		return false
	default:
		p.logger.WarnContext(ctx, "tradability probe failed",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
		return false
	}
}
