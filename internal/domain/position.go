package domain

import "time"

// PositionMode records which engine rule opened a position.
type PositionMode string

const (
	// PositionModeDip positions follow the buy/sell thresholds and the holding
	// timeout.
	PositionModeDip PositionMode = "dip"
	// PositionModePair positions are one leg of a complementary pair and are
	// held until settlement.
	PositionModePair PositionMode = "pair"
)

// Position is one open holding in one outcome token.
type Position struct {
	ID          string
	TokenID     string
	Side        Side
	Mode        PositionMode
	EntryPrice  float64
	EntryTime   time.Time
	Size        float64 // outcome shares
	MarketSlug  string
	ConditionID string
	Simulated   bool
}

// Held returns how long the position has been open at now.
func (p Position) Held(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// Cost returns the entry notional in collateral units.
func (p Position) Cost() float64 {
	return p.EntryPrice * p.Size
}

// CloseReason explains why a position left the ledger.
type CloseReason string

const (
	CloseTakeProfit        CloseReason = "take_profit"
	CloseTimeout           CloseReason = "timeout"
	CloseForcedLiquidation CloseReason = "forced_liquidation"
)

// ClosedPosition is a position after a successful sell.
type ClosedPosition struct {
	Position
	ExitPrice   float64 // 0 when the exit price is unknown
	ExitTime    time.Time
	SoldSize    float64
	Reason      CloseReason
	RealizedPnL float64
	PnLKnown    bool
}
