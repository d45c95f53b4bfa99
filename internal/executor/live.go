package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/119969788/poly-copy-trading/internal/crypto"
	"github.com/119969788/poly-copy-trading/internal/domain"
)

// FloorPrice is the limit used for a forced sell that has no reference price.
const FloorPrice = 0.01

const zeroAddress = "0x0000000000000000000000000000000000000000"

// OrderPoster submits signed orders.
type OrderPoster interface {
	PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
}

// OrderSigner signs order payloads.
type OrderSigner interface {
	Address() common.Address
	SignOrder(order crypto.OrderPayload) (string, error)
}

// LiveConfig holds the account parameters of live orders.
type LiveConfig struct {
	// Funder holds the collateral. Empty means the signer address.
	Funder string
	// SignatureType is 0 (EOA), 1 (POLY_PROXY) or 2 (POLY_GNOSIS_SAFE).
	SignatureType int
	// FloorPrice overrides FloorPrice when positive.
	FloorPrice float64
}

// Live posts fill-and-kill market orders. Orders are never retried: a
// resubmitted FAK can fill twice.
type Live struct {
	poster OrderPoster
	signer OrderSigner
	cfg    LiveConfig
	logger *slog.Logger
	salt   func() string
}

// NewLive creates a live executor.
func NewLive(poster OrderPoster, signer OrderSigner, cfg LiveConfig, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FloorPrice <= 0 {
		cfg.FloorPrice = FloorPrice
	}
	return &Live{
		poster: poster,
		signer: signer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "executor"), slog.Bool("simulated", false)),
		salt:   func() string { return strconv.FormatInt(time.Now().UnixNano(), 10) },
	}
}

func (l *Live) Buy(ctx context.Context, req Request) (Fill, error) {
	if err := req.validate("buy", true); err != nil {
		return Fill{}, err
	}
	return l.submit(ctx, domain.OrderSideBuy, req, req.Price)
}

// Sell posts a FAK sell. A forced sell without a usable price goes out at the
// floor price.
func (l *Live) Sell(ctx context.Context, req Request) (Fill, error) {
	if err := req.validate("sell", !req.Force); err != nil {
		return Fill{}, err
	}
	price := req.Price
	if req.Force && !(price > 0 && price <= 1) {
		price = l.cfg.FloorPrice
	}
	return l.submit(ctx, domain.OrderSideSell, req, price)
}

func (l *Live) submit(ctx context.Context, side domain.OrderSide, req Request, price float64) (Fill, error) {
	op := "buy"
	sideInt := crypto.OrderSideBuy
	if side == domain.OrderSideSell {
		op = "sell"
		sideInt = crypto.OrderSideSell
	}

	maker, taker, err := MarketOrderAmounts(side, decimal.NewFromFloat(req.Size), decimal.NewFromFloat(price))
	if err != nil {
		return Fill{}, fmt.Errorf("executor/live: %s %s: %w", op, req.TokenID, err)
	}

	signer := l.signer.Address().Hex()
	funder := signer
	if l.cfg.Funder != "" {
		funder = common.HexToAddress(l.cfg.Funder).Hex()
	}
	payload := crypto.OrderPayload{
		Salt:          l.salt(),
		Maker:         funder,
		Signer:        signer,
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   maker.String(),
		TakerAmount:   taker.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideInt,
		SignatureType: l.cfg.SignatureType,
	}
	signature, err := l.signer.SignOrder(payload)
	if err != nil {
		return Fill{}, fmt.Errorf("executor/live: sign %s: %w: %v", op, domain.ErrSigningFailed, err)
	}

	order := domain.Order{
		Salt:          payload.Salt,
		TokenID:       req.TokenID,
		Maker:         funder,
		Signer:        signer,
		Side:          side,
		Type:          domain.OrderTypeFAK,
		MakerAmount:   maker,
		TakerAmount:   taker,
		SignatureType: l.cfg.SignatureType,
		Signature:     signature,
		CreatedAt:     time.Now().UTC(),
	}

	res, err := l.poster.PostOrder(ctx, order)
	if err != nil {
		l.logger.ErrorContext(ctx, "order failed",
			slog.String("op", op),
			slog.String("token_id", req.TokenID),
			slog.Float64("size", req.Size),
			slog.Float64("price", price),
			slog.String("error", err.Error()),
		)
		return Fill{}, fmt.Errorf("executor/live: %s %s: %w", op, req.TokenID, err)
	}

	fill := fillFromResult(side, res, price)
	if fill.FilledSize <= 0 {
		return Fill{}, fmt.Errorf("executor/live: %s %s: %w: no fill (status %s) %s",
			op, req.TokenID, domain.ErrOrderRejected, res.Status, res.Message)
	}
	l.logger.InfoContext(ctx, "order filled",
		slog.String("op", op),
		slog.String("order_id", fill.OrderID),
		slog.String("token_id", req.TokenID),
		slog.String("side", string(req.Side)),
		slog.Float64("requested", req.Size),
		slog.Float64("filled", fill.FilledSize),
		slog.Float64("price", fill.Price),
		slog.Bool("force", req.Force),
	)
	return fill, nil
}

// fillFromResult reads the executed size from the venue answer: shares
// received for a buy, shares given up for a sell.
func fillFromResult(side domain.OrderSide, res domain.OrderResult, limit float64) Fill {
	f := Fill{OrderID: res.OrderID, Price: limit}
	shares, usdc := res.TakingAmount, res.MakingAmount
	if side == domain.OrderSideSell {
		shares, usdc = res.MakingAmount, res.TakingAmount
	}
	f.FilledSize = shares
	if shares > 0 && usdc > 0 {
		f.Price = usdc / shares
	}
	return f
}

var baseUnit = decimal.New(1, 6)

// MarketOrderAmounts computes maker and taker amounts in 1e6 base units.
// A buy gives up USDC (2 dp) for shares (4 dp, rounded down); a sell gives
// up shares (2 dp, rounded down) for USDC (4 dp, rounded down).
func MarketOrderAmounts(side domain.OrderSide, size, price decimal.Decimal) (maker, taker *big.Int, err error) {
	if !size.IsPositive() || !price.IsPositive() || price.GreaterThan(decimal.NewFromInt(1)) {
		return nil, nil, fmt.Errorf("%w: size %s price %s", domain.ErrInvariantViolation, size, price)
	}

	var makerAmt, takerAmt decimal.Decimal
	switch side {
	case domain.OrderSideBuy:
		makerAmt = size.Mul(price).RoundDown(2)
		takerAmt = makerAmt.DivRound(price, 8).RoundDown(4)
	case domain.OrderSideSell:
		makerAmt = size.RoundDown(2)
		takerAmt = makerAmt.Mul(price).RoundDown(4)
	default:
		return nil, nil, fmt.Errorf("%w: unknown side %q", domain.ErrInvariantViolation, side)
	}
	if !makerAmt.IsPositive() || !takerAmt.IsPositive() {
		return nil, nil, fmt.Errorf("%w: order rounds to zero (size %s price %s)", domain.ErrOrderRejected, size, price)
	}
	return makerAmt.Mul(baseUnit).BigInt(), takerAmt.Mul(baseUnit).BigInt(), nil
}
