// Package executor turns engine decisions into orders, either simulated or
// posted to the CLOB as fill-and-kill market orders.
package executor

import (
	"context"
	"fmt"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// Request is one buy or sell instruction from the engine. Size is in shares.
// Price is the reference quote; a forced sell may carry no price.
type Request struct {
	TokenID string
	Side    domain.Side
	Size    float64
	Price   float64
	Force   bool
}

// Fill is what actually executed.
type Fill struct {
	OrderID    string
	FilledSize float64
	Price      float64
	Simulated  bool
}

// Executor places orders.
type Executor interface {
	Buy(ctx context.Context, req Request) (Fill, error)
	Sell(ctx context.Context, req Request) (Fill, error)
}

func (r Request) validate(op string, needPrice bool) error {
	if r.TokenID == "" {
		return fmt.Errorf("executor: %s: %w: empty token id", op, domain.ErrInvariantViolation)
	}
	if !(r.Size > 0) {
		return fmt.Errorf("executor: %s %s: %w: size %v", op, r.TokenID, domain.ErrInvariantViolation, r.Size)
	}
	if needPrice && !(r.Price > 0 && r.Price <= 1) {
		return fmt.Errorf("executor: %s %s: %w: price %v", op, r.TokenID, domain.ErrInvariantViolation, r.Price)
	}
	return nil
}
