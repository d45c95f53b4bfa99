package arbitrage

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Stats are the session counters.
type Stats struct {
	StartedAt          time.Time
	Ticks              int
	SkippedTicks       int
	Buys               int
	Sells              int
	Timeouts           int
	ForcedLiquidations int
	Rotations          int
	RotationFailures   int
	RejectedOrders     int
	PairsOpened        int
	UnhedgedPairs      int
	RealizedPnL        decimal.Decimal
	// UnknownPnLExits counts exits whose fill price was not reported.
	UnknownPnLExits int
}

// LogValue renders the stats as one structured group.
func (s Stats) LogValue() slog.Value {
	pnl, _ := s.RealizedPnL.Round(4).Float64()
	return slog.GroupValue(
		slog.Time("started_at", s.StartedAt),
		slog.Int("ticks", s.Ticks),
		slog.Int("skipped_ticks", s.SkippedTicks),
		slog.Int("buys", s.Buys),
		slog.Int("sells", s.Sells),
		slog.Int("timeouts", s.Timeouts),
		slog.Int("forced_liquidations", s.ForcedLiquidations),
		slog.Int("rotations", s.Rotations),
		slog.Int("rotation_failures", s.RotationFailures),
		slog.Int("rejected_orders", s.RejectedOrders),
		slog.Int("pairs_opened", s.PairsOpened),
		slog.Int("unhedged_pairs", s.UnhedgedPairs),
		slog.Float64("realized_pnl", pnl),
		slog.Int("unknown_pnl_exits", s.UnknownPnLExits),
	)
}

// realizedPnL computes (exit - entry) * size in decimal.
func realizedPnL(entry, exit, size float64) decimal.Decimal {
	return decimal.NewFromFloat(exit).
		Sub(decimal.NewFromFloat(entry)).
		Mul(decimal.NewFromFloat(size))
}
