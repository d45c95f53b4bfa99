package arbitrage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
	"github.com/119969788/poly-copy-trading/internal/executor"
	"github.com/119969788/poly-copy-trading/internal/pricing"
)

// sizeEpsilon absorbs float noise when comparing filled and held sizes.
const sizeEpsilon = 1e-9

// evaluateSide applies the dip rules to one side. Thresholds are inclusive.
func (e *Engine) evaluateSide(ctx context.Context, market domain.Market, side domain.Side, q pricing.Quote, now time.Time, attempted map[string]bool) {
	tokenID := market.TokenID(side)
	price := pricing.Clamp(q.Price)

	if pos, held := e.ledger.Get(tokenID); held {
		if pos.Mode != domain.PositionModeDip {
			return
		}
		if price >= e.cfg.SellThreshold {
			attempted[tokenID] = true
			e.sell(ctx, pos, price, e.cfg.SellThreshold, domain.CloseTakeProfit, now)
		}
		return
	}

	if price > e.cfg.BuyThreshold {
		return
	}
	if price <= 0 {
		e.logger.DebugContext(ctx, "buy signal without a positive price",
			slog.String("token_id", tokenID),
			slog.String("side", string(side)),
		)
		return
	}
	attempted[tokenID] = true
	e.buy(ctx, market, side, price, e.cfg.TradeSize/price, e.cfg.BuyThreshold, domain.PositionModeDip, now)
}

// evaluatePair buys both sides when neither is held and the observed pair
// costs less than the threshold. If the first leg fails the second is not
// sent.
func (e *Engine) evaluatePair(ctx context.Context, market domain.Market, pq pricing.PairQuote, now time.Time) {
	up, down := market.TokenID(domain.SideUp), market.TokenID(domain.SideDown)
	if e.ledger.Has(up) || e.ledger.Has(down) {
		return
	}
	if !pq.BothObserved() {
		e.logger.DebugContext(ctx, "pair mode needs both prices observed")
		return
	}
	upPrice, downPrice := pricing.Clamp(pq.Up.Price), pricing.Clamp(pq.Down.Price)
	cost := upPrice + downPrice
	if !(cost < e.cfg.PairCostThreshold) {
		return
	}

	size := e.cfg.PairOrderSize
	if !e.buy(ctx, market, domain.SideUp, upPrice, size, e.cfg.PairCostThreshold, domain.PositionModePair, now) {
		return
	}
	if !e.buy(ctx, market, domain.SideDown, downPrice, size, e.cfg.PairCostThreshold, domain.PositionModePair, now) {
		e.mu.Lock()
		e.stats.UnhedgedPairs++
		e.mu.Unlock()
		ev := Event{
			Kind:       EventPairUnhedged,
			Time:       now,
			MarketSlug: market.Key(),
			TokenID:    up,
			Side:       domain.SideUp,
			Price:      cost,
			Threshold:  e.cfg.PairCostThreshold,
			Reason:     "second leg failed",
		}
		if pos, ok := e.ledger.Get(up); ok {
			ev.Size = pos.Size
			ev.FillPrice = pos.EntryPrice
			ev.Simulated = pos.Simulated
		}
		e.emit(ctx, ev)
		return
	}
	e.mu.Lock()
	e.stats.PairsOpened++
	e.mu.Unlock()
	e.emit(ctx, Event{
		Kind:       EventPairOpened,
		Time:       now,
		MarketSlug: market.Key(),
		Price:      cost,
		Threshold:  e.cfg.PairCostThreshold,
		Size:       size,
	})
}

// sweepTimeouts exits every dip position held at least HoldingTimeout,
// including positions of markets the engine rotated away from. Without a
// price the sell is forced.
func (e *Engine) sweepTimeouts(ctx context.Context, now time.Time, attempted map[string]bool) {
	for _, pos := range e.ledger.List() {
		if pos.Mode != domain.PositionModeDip || attempted[pos.TokenID] {
			continue
		}
		if pos.Held(now) < e.cfg.HoldingTimeout {
			continue
		}
		q, ok := e.prices.Price(ctx, e.marketFor(pos.TokenID), pos.TokenID)
		if ok {
			e.sell(ctx, pos, pricing.Clamp(q.Price), 0, domain.CloseTimeout, now)
			continue
		}
		e.logger.WarnContext(ctx, "holding timeout without a price, forcing exit",
			slog.String("token_id", pos.TokenID),
			slog.Duration("held", pos.Held(now)),
		)
		e.sell(ctx, pos, 0, 0, domain.CloseForcedLiquidation, now)
	}
}

// buy places a buy and records the position on success.
func (e *Engine) buy(ctx context.Context, market domain.Market, side domain.Side, price, size, threshold float64, mode domain.PositionMode, now time.Time) bool {
	tokenID := market.TokenID(side)
	fill, err := e.exec.Buy(ctx, executor.Request{TokenID: tokenID, Side: side, Size: size, Price: price})
	if err != nil {
		e.orderFailed(ctx, market.Key(), tokenID, side, price, threshold, size, "buy", err, now)
		return false
	}

	entry := fill.Price
	if !(entry > 0 && entry < 1) {
		entry = price
	}
	pos := domain.Position{
		ID:          e.newPositionID(),
		TokenID:     tokenID,
		Side:        side,
		Mode:        mode,
		EntryPrice:  entry,
		EntryTime:   now,
		Size:        fill.FilledSize,
		MarketSlug:  market.Key(),
		ConditionID: market.ConditionID,
		Simulated:   fill.Simulated,
	}
	if err := e.ledger.Open(pos); err != nil {
		e.logger.ErrorContext(ctx, "ledger rejected position", slog.String("token_id", tokenID), slog.String("error", err.Error()))
		return false
	}

	e.mu.Lock()
	e.stats.Buys++
	e.mu.Unlock()
	e.emit(ctx, Event{
		Kind:       EventBuy,
		Time:       now,
		MarketSlug: market.Key(),
		TokenID:    tokenID,
		Side:       side,
		Price:      price,
		Threshold:  threshold,
		Size:       fill.FilledSize,
		FillPrice:  entry,
		OrderID:    fill.OrderID,
		Reason:     string(mode),
		Simulated:  fill.Simulated,
		Position:   &pos,
	})
	return true
}

// sell exits pos. The position leaves the ledger only when the sell
// succeeds; a partial fill keeps the remainder open.
func (e *Engine) sell(ctx context.Context, pos domain.Position, price, threshold float64, reason domain.CloseReason, now time.Time) {
	force := reason == domain.CloseForcedLiquidation
	fill, err := e.exec.Sell(ctx, executor.Request{
		TokenID: pos.TokenID,
		Side:    pos.Side,
		Size:    pos.Size,
		Price:   price,
		Force:   force,
	})
	if err != nil {
		e.orderFailed(ctx, pos.MarketSlug, pos.TokenID, pos.Side, price, threshold, pos.Size, "sell", err, now)
		return
	}

	sold := fill.FilledSize
	if sold > pos.Size {
		sold = pos.Size
	}
	if _, err := e.ledger.Close(pos.TokenID); err != nil {
		e.logger.ErrorContext(ctx, "ledger close failed", slog.String("token_id", pos.TokenID), slog.String("error", err.Error()))
		return
	}
	if rest := pos.Size - sold; rest > sizeEpsilon {
		remainder := pos
		remainder.Size = rest
		if err := e.ledger.Open(remainder); err != nil {
			e.logger.ErrorContext(ctx, "ledger reopen of unsold remainder failed",
				slog.String("token_id", pos.TokenID),
				slog.Float64("unsold", rest),
				slog.String("error", err.Error()),
			)
		}
	}

	exit := fill.Price
	if !(exit > 0) {
		exit = price
	}
	closed := domain.ClosedPosition{
		Position:  pos,
		ExitPrice: exit,
		ExitTime:  now,
		SoldSize:  sold,
		Reason:    reason,
		PnLKnown:  exit > 0,
	}
	pnl := realizedPnL(pos.EntryPrice, exit, sold)
	if closed.PnLKnown {
		closed.RealizedPnL, _ = pnl.Float64()
	}

	kind := EventSell
	e.mu.Lock()
	switch reason {
	case domain.CloseTimeout:
		kind = EventTimeoutExit
		e.stats.Timeouts++
	case domain.CloseForcedLiquidation:
		kind = EventForcedLiquidation
		e.stats.ForcedLiquidations++
	default:
		e.stats.Sells++
	}
	if closed.PnLKnown {
		e.stats.RealizedPnL = e.stats.RealizedPnL.Add(pnl)
	} else {
		e.stats.UnknownPnLExits++
	}
	e.mu.Unlock()

	e.emit(ctx, Event{
		Kind:       kind,
		Time:       now,
		MarketSlug: pos.MarketSlug,
		TokenID:    pos.TokenID,
		Side:       pos.Side,
		Price:      price,
		Threshold:  threshold,
		Size:       sold,
		FillPrice:  exit,
		OrderID:    fill.OrderID,
		Reason:     string(reason),
		PnL:        closed.RealizedPnL,
		Simulated:  fill.Simulated,
		Closed:     &closed,
	})
}

// orderFailed reports a failed order. Venue rejections are surfaced as
// events; anything else is transient and only logged.
func (e *Engine) orderFailed(ctx context.Context, market, tokenID string, side domain.Side, price, threshold, size float64, op string, err error, now time.Time) {
	if !errors.Is(err, domain.ErrOrderRejected) && !errors.Is(err, domain.ErrInvariantViolation) {
		e.logger.WarnContext(ctx, op+" failed",
			slog.String("token_id", tokenID),
			slog.Float64("price", price),
			slog.String("error", err.Error()),
		)
		return
	}
	e.mu.Lock()
	e.stats.RejectedOrders++
	e.mu.Unlock()
	e.emit(ctx, Event{
		Kind:       EventOrderRejected,
		Time:       now,
		MarketSlug: market,
		TokenID:    tokenID,
		Side:       side,
		Price:      price,
		Threshold:  threshold,
		Size:       size,
		Reason:     op,
		Err:        err.Error(),
	})
}
