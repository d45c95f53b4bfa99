package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
	"github.com/119969788/poly-copy-trading/internal/domain"
)

// Journal is an arbitrage.Observer that persists positions and writes every
// event to the audit log. Store failures are logged and never reach the
// engine.
type Journal struct {
	positions domain.PositionStore
	audit     domain.AuditStore
	sessionID string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewJournal creates a Journal. timeout bounds each write; zero means 2s.
func NewJournal(positions domain.PositionStore, audit domain.AuditStore, sessionID string, timeout time.Duration, logger *slog.Logger) *Journal {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		positions: positions,
		audit:     audit,
		sessionID: sessionID,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "journal")),
	}
}

// Observe implements arbitrage.Observer.
func (j *Journal) Observe(ctx context.Context, ev arbitrage.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()

	switch {
	case ev.Kind == arbitrage.EventBuy && ev.Position != nil:
		if err := j.positions.Open(ctx, j.sessionID, *ev.Position); err != nil {
			j.logger.WarnContext(ctx, "journal open failed", slog.String("error", err.Error()))
		}
	case ev.Closed != nil:
		if err := j.positions.Close(ctx, *ev.Closed); err != nil {
			j.logger.WarnContext(ctx, "journal close failed", slog.String("error", err.Error()))
		}
	}

	if err := j.audit.Log(ctx, j.sessionID, string(ev.Kind), auditDetail(ev)); err != nil {
		j.logger.WarnContext(ctx, "audit write failed",
			slog.String("event", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// auditDetail flattens an event into the JSONB detail column, leaving out
// empty fields.
func auditDetail(ev arbitrage.Event) map[string]any {
	d := map[string]any{
		"market":    ev.MarketSlug,
		"at":        ev.Time.UTC().Format(time.RFC3339Nano),
		"simulated": ev.Simulated,
	}
	set := func(k string, v any, ok bool) {
		if ok {
			d[k] = v
		}
	}
	set("token_id", ev.TokenID, ev.TokenID != "")
	set("side", string(ev.Side), ev.Side != "")
	set("price", ev.Price, ev.TokenID != "")
	set("threshold", ev.Threshold, ev.Threshold != 0)
	set("size", ev.Size, ev.Size != 0)
	set("fill_price", ev.FillPrice, ev.OrderID != "")
	set("order_id", ev.OrderID, ev.OrderID != "")
	set("reason", ev.Reason, ev.Reason != "")
	set("from_market", ev.FromMarket, ev.FromMarket != "")
	set("error", ev.Err, ev.Err != "")
	if ev.Closed != nil {
		d["pnl_known"] = ev.Closed.PnLKnown
		set("pnl", ev.PnL, ev.Closed.PnLKnown)
	}
	return d
}
