package executor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Simulator fills every valid request in full at the requested price without
// touching the network.
type Simulator struct {
	logger *slog.Logger
}

// NewSimulator creates a Simulator.
func NewSimulator(logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{logger: logger.With(slog.String("component", "executor"), slog.Bool("simulated", true))}
}

func (s *Simulator) Buy(ctx context.Context, req Request) (Fill, error) {
	if err := req.validate("buy", true); err != nil {
		return Fill{}, err
	}
	return s.fill(ctx, "buy", req), nil
}

// Sell fills even without a price when Force is set; the fill then carries
// price 0.
func (s *Simulator) Sell(ctx context.Context, req Request) (Fill, error) {
	if err := req.validate("sell", !req.Force); err != nil {
		return Fill{}, err
	}
	return s.fill(ctx, "sell", req), nil
}

func (s *Simulator) fill(ctx context.Context, op string, req Request) Fill {
	f := Fill{
		OrderID:    "sim-" + uuid.NewString(),
		FilledSize: req.Size,
		Price:      req.Price,
		Simulated:  true,
	}
	s.logger.InfoContext(ctx, "simulated "+op,
		slog.String("order_id", f.OrderID),
		slog.String("token_id", req.TokenID),
		slog.String("side", string(req.Side)),
		slog.Float64("size", req.Size),
		slog.Float64("price", req.Price),
		slog.Bool("force", req.Force),
	)
	return f
}
