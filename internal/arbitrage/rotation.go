package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
	"github.com/119969788/poly-copy-trading/internal/resolver"
)

// handleUnavailable runs when neither side could be priced. The counter only
// moves when the prober confirms a side is not tradable; both tradable means
// the price outage is transient.
func (e *Engine) handleUnavailable(ctx context.Context, market domain.Market, now time.Time) {
	up, down := market.TokenID(domain.SideUp), market.TokenID(domain.SideDown)
	dead := !e.prober.IsTradable(ctx, up) || !e.prober.IsTradable(ctx, down)
	if !dead {
		e.logger.InfoContext(ctx, "no prices but market still tradable",
			slog.String("market", market.Key()),
		)
		return
	}

	e.mu.Lock()
	e.unavailable++
	n := e.unavailable
	e.mu.Unlock()
	e.logger.WarnContext(ctx, "market not tradable",
		slog.String("market", market.Key()),
		slog.Int("consecutive", n),
		slog.Int("threshold", e.cfg.RotationThreshold),
	)
	if n >= e.cfg.RotationThreshold {
		e.rotate(ctx, market, now, "not tradable")
	}
}

// rotate marks old untradable and swaps in a replacement. Open positions are
// left alone. On failure the counter is kept so the next tick retries.
func (e *Engine) rotate(ctx context.Context, old domain.Market, now time.Time, reason string) bool {
	e.markUntradable(old.Key())
	found, err := e.finder.FindMarket(ctx, resolver.Query{
		Coin:            e.cfg.Coin,
		DurationMinutes: e.cfg.DurationMinutes,
		Exclude:         e.excludeSet(old.Key()),
	})
	if err == nil && (found.Key() == old.Key() || found.TokenIDs == old.TokenIDs) {
		err = fmt.Errorf("resolver returned the current market %s", old.Key())
	}
	if err == nil {
		if verr := found.Validate(); verr != nil {
			e.markUntradable(found.Key())
			err = verr
		}
	}
	if err != nil {
		e.mu.Lock()
		e.stats.RotationFailures++
		e.mu.Unlock()
		e.emit(ctx, Event{
			Kind:       EventRotationFailed,
			Time:       now,
			MarketSlug: old.Key(),
			Reason:     reason,
			Err:        err.Error(),
		})
		return false
	}

	e.setMarket(ctx, found)
	e.mu.Lock()
	e.unavailable = 0
	e.stats.Rotations++
	e.mu.Unlock()
	e.emit(ctx, Event{
		Kind:       EventRotation,
		Time:       now,
		MarketSlug: found.Key(),
		FromMarket: old.Key(),
		Reason:     reason,
	})
	return true
}
