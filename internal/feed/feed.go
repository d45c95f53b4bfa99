// Package feed keeps the latest pushed price per token from the CLOB market
// WebSocket and exposes it as a synchronous cache read.
package feed

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// Stream is one WebSocket connection lifetime: it subscribes to assetIDs and
// returns when the connection ends or ctx is done.
type Stream interface {
	Run(ctx context.Context, assetIDs []string) error
}

// Mirror is an optional shared copy of the price cache.
type Mirror interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
}

// Config tunes the feed.
type Config struct {
	StaleAfter    time.Duration // cached prices older than this read as absent; 0 keeps them forever
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration
	MirrorTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 30 * time.Second
		if c.ReconnectMax < c.ReconnectMin {
			c.ReconnectMax = c.ReconnectMin
		}
	}
	if c.MirrorTimeout <= 0 {
		c.MirrorTimeout = time.Second
	}
	return c
}

type entry struct {
	price float64
	at    time.Time
}

type mirrorWrite struct {
	assetID string
	entry
}

// Feed owns the push connection and the price cache.
type Feed struct {
	stream Stream
	mirror Mirror
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	prices     map[string]entry
	tokens     []string
	connCancel context.CancelFunc
	changed    chan struct{}

	mirrorCh chan mirrorWrite
}

// New creates a Feed. mirror may be nil.
func New(stream Stream, mirror Mirror, cfg Config, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Feed{
		stream:  stream,
		mirror:  mirror,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "feed")),
		now:     time.Now,
		prices:  make(map[string]entry),
		changed: make(chan struct{}, 1),
	}
	if mirror != nil {
		f.mirrorCh = make(chan mirrorWrite, 256)
	}
	return f
}

// Price returns the cached price for tokenID when it is fresh.
func (f *Feed) Price(tokenID string) (float64, bool) {
	f.mu.RLock()
	e, ok := f.prices[tokenID]
	f.mu.RUnlock()
	if !ok || e.price <= 0 {
		return 0, false
	}
	if f.cfg.StaleAfter > 0 && f.now().Sub(e.at) > f.cfg.StaleAfter {
		return 0, false
	}
	return e.price, true
}

// Tokens returns the current subscription set.
func (f *Feed) Tokens() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.tokens)
}

// Subscribe replaces the subscription set and restarts the connection.
// Cached prices of dropped tokens are kept until they go stale so positions
// of a previous market can still be priced. With a mirror, tokens missing
// from the cache are seeded from it.
func (f *Feed) Subscribe(ctx context.Context, tokenIDs []string) error {
	tokens := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if id != "" && !slices.Contains(tokens, id) {
			tokens = append(tokens, id)
		}
	}

	f.mu.Lock()
	same := slices.Equal(tokens, f.tokens)
	f.tokens = tokens
	cancel := f.connCancel
	f.mu.Unlock()

	if f.mirror != nil {
		f.seed(ctx, tokens)
	}
	if same {
		return nil
	}
	f.logger.InfoContext(ctx, "subscription replaced", slog.Any("tokens", tokens))
	if cancel != nil {
		cancel()
	}
	select {
	case f.changed <- struct{}{}:
	default:
	}
	return ctx.Err()
}

func (f *Feed) seed(ctx context.Context, tokens []string) {
	for _, id := range tokens {
		if _, ok := f.Price(id); ok {
			continue
		}
		mctx, cancel := context.WithTimeout(ctx, f.cfg.MirrorTimeout)
		p, ts, err := f.mirror.GetPrice(mctx, id)
		cancel()
		if err != nil {
			continue
		}
		f.store(id, p, ts, false)
	}
}

// Run keeps a connection open for the current subscription set, reconnecting
// with exponential backoff, until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if f.mirrorCh != nil {
		g.Go(func() error { return f.mirrorLoop(gctx) })
	}
	g.Go(func() error { return f.connLoop(gctx) })
	return g.Wait()
}

func (f *Feed) connLoop(ctx context.Context) error {
	backoff := f.cfg.ReconnectMin
	for {
		connCtx, cancel, tokens := f.attach(ctx)
		if len(tokens) == 0 {
			cancel()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.changed:
				continue
			}
		}

		started := f.now()
		err := f.stream.Run(connCtx, tokens)
		resubscribed := connCtx.Err() != nil && ctx.Err() == nil
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if resubscribed {
			backoff = f.cfg.ReconnectMin
			select {
			case <-f.changed:
			default:
			}
			continue
		}
		if f.now().Sub(started) > f.cfg.ReconnectMax {
			backoff = f.cfg.ReconnectMin
		}

		attrs := []any{slog.Duration("backoff", backoff), slog.Int("tokens", len(tokens))}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		f.logger.WarnContext(ctx, "stream disconnected, reconnecting", attrs...)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-f.changed:
			t.Stop()
			backoff = f.cfg.ReconnectMin
			continue
		case <-t.C:
		}
		backoff *= 2
		if backoff > f.cfg.ReconnectMax {
			backoff = f.cfg.ReconnectMax
		}
	}
}

// attach snapshots the subscription set and registers the cancel func of
// the connection serving it under one lock, so a concurrent Subscribe always
// cancels the connection that runs on the old set.
func (f *Feed) attach(ctx context.Context) (context.Context, context.CancelFunc, []string) {
	connCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connCancel = cancel
	return connCtx, cancel, slices.Clone(f.tokens)
}

func (f *Feed) mirrorLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case w := <-f.mirrorCh:
			mctx, cancel := context.WithTimeout(ctx, f.cfg.MirrorTimeout)
			err := f.mirror.SetPrice(mctx, w.assetID, w.price, w.at)
			cancel()
			if err != nil {
				f.logger.DebugContext(ctx, "mirror write failed",
					slog.String("asset_id", w.assetID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// HandleBook records the best bid of a book frame, or its mid when the bid
// side is empty.
func (f *Feed) HandleBook(snap domain.OrderbookSnapshot) {
	p := snap.BestBid
	if p <= 0 {
		p = snap.MidPrice
	}
	f.store(snap.AssetID, p, snap.Timestamp, true)
}

// HandlePriceChange records the best bid carried by a price change. Frames
// without one only count when they add bid size above the cached price;
// other level updates say nothing about the top of the book.
func (f *Feed) HandlePriceChange(c domain.PriceChange) {
	if c.BestBid > 0 {
		f.store(c.AssetID, c.BestBid, c.Timestamp, true)
		return
	}
	if !strings.EqualFold(c.Side, "BUY") || c.Size <= 0 {
		return
	}
	if cur, ok := f.Price(c.AssetID); !ok || c.Price <= cur {
		return
	}
	f.store(c.AssetID, c.Price, c.Timestamp, true)
}

// HandleLastTrade records the last traded price.
func (f *Feed) HandleLastTrade(t domain.LastTradePrice) {
	f.store(t.AssetID, t.Price, t.Timestamp, true)
}

func (f *Feed) store(assetID string, price float64, at time.Time, mirror bool) {
	if assetID == "" || !(price > 0) {
		return
	}
	if price > 1 {
		price = 1
	}
	now := f.now()
	if at.IsZero() || at.After(now) {
		at = now
	}

	f.mu.Lock()
	if cur, ok := f.prices[assetID]; ok && cur.at.After(at) {
		f.mu.Unlock()
		return
	}
	f.prices[assetID] = entry{price: price, at: at}
	f.mu.Unlock()

	if mirror && f.mirrorCh != nil {
		select {
		case f.mirrorCh <- mirrorWrite{assetID: assetID, entry: entry{price: price, at: at}}:
		default:
		}
	}
}
