package arbitrage

import (
	"context"
	"log/slog"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// EventKind names an engine transition.
type EventKind string

const (
	EventBuy               EventKind = "buy"
	EventSell              EventKind = "sell"
	EventTimeoutExit       EventKind = "timeout_exit"
	EventForcedLiquidation EventKind = "forced_liquidation"
	EventOrderRejected     EventKind = "order_rejected"
	EventMarketSelected    EventKind = "market_selected"
	EventRotation          EventKind = "rotation"
	EventRotationFailed    EventKind = "rotation_failed"
	EventPairOpened        EventKind = "pair_opened"
	EventPairUnhedged      EventKind = "pair_unhedged" // first leg filled, second failed
)

// Event carries enough detail to reconstruct a decision afterwards.
type Event struct {
	Kind       EventKind
	Time       time.Time
	MarketSlug string
	TokenID    string
	Side       domain.Side
	Price      float64 // quote the decision was made on; 0 when absent
	Threshold  float64
	Size       float64
	FillPrice  float64
	OrderID    string
	Reason     string
	PnL        float64
	Simulated  bool
	FromMarket string // rotation only
	Err        string

	Position *domain.Position       // set on buys
	Closed   *domain.ClosedPosition // set on exits
}

// Observer receives engine events. Implementations must not block for long;
// they run inside the tick.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// LogObserver writes every event as a structured log line.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) Observe(ctx context.Context, ev Event) {
	attrs := []any{
		slog.String("event", string(ev.Kind)),
		slog.String("market", ev.MarketSlug),
		slog.Time("at", ev.Time),
	}
	if ev.TokenID != "" {
		attrs = append(attrs,
			slog.String("token_id", ev.TokenID),
			slog.String("side", string(ev.Side)),
			slog.Float64("price", ev.Price),
			slog.Float64("threshold", ev.Threshold),
			slog.Float64("size", ev.Size),
		)
	}
	if ev.OrderID != "" {
		attrs = append(attrs, slog.String("order_id", ev.OrderID), slog.Float64("fill_price", ev.FillPrice))
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	if ev.Closed != nil && ev.Closed.PnLKnown {
		attrs = append(attrs, slog.Float64("pnl", ev.PnL))
	}
	if ev.FromMarket != "" {
		attrs = append(attrs, slog.String("from_market", ev.FromMarket))
	}
	attrs = append(attrs, slog.Bool("simulated", ev.Simulated))

	switch ev.Kind {
	case EventOrderRejected, EventRotationFailed:
		attrs = append(attrs, slog.String("error", ev.Err))
		o.Logger.ErrorContext(ctx, "engine event", attrs...)
	case EventForcedLiquidation, EventRotation, EventPairUnhedged:
		o.Logger.WarnContext(ctx, "engine event", attrs...)
	default:
		o.Logger.InfoContext(ctx, "engine event", attrs...)
	}
}
