package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
	"github.com/119969788/poly-copy-trading/internal/config"
	"github.com/119969788/poly-copy-trading/internal/domain"
	"github.com/119969788/poly-copy-trading/internal/metrics"
	"github.com/119969788/poly-copy-trading/internal/notify"
	"github.com/119969788/poly-copy-trading/internal/pricing"
	"github.com/119969788/poly-copy-trading/internal/prober"
	"github.com/119969788/poly-copy-trading/internal/resolver"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixedStrategy struct {
	market domain.Market
}

func (fixedStrategy) Name() string { return "fixed" }

func (s fixedStrategy) Find(context.Context, resolver.Catalog, resolver.Query) ([]resolver.Candidate, error) {
	return []resolver.Candidate{{Market: s.market}}, nil
}

type books map[string]bool

func (b books) GetOrderBook(_ context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	if b[tokenID] {
		return domain.OrderbookSnapshot{AssetID: tokenID}, nil
	}
	return domain.OrderbookSnapshot{}, fmt.Errorf("book %s: %w", tokenID, domain.ErrNotFound)
}

func TestEngineConfigMapping(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.Coin = " BTC "
	cfg.Engine.Mode = "PAIR"
	got := engineConfig(&cfg)
	if got.Coin != "btc" || got.Mode != arbitrage.ModePair {
		t.Fatalf("got coin=%q mode=%q", got.Coin, got.Mode)
	}
	if got.CheckInterval != time.Minute || got.HoldingTimeout != 15*time.Minute {
		t.Fatalf("cadence: got %v/%v", got.CheckInterval, got.HoldingTimeout)
	}
	if got.RotationThreshold != 2 || got.BuyThreshold != 0.80 || got.SellThreshold != 0.90 {
		t.Fatalf("rules: got %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("defaults must build a valid engine config: %v", err)
	}
}

func TestObserversSkipsDisabledSinks(t *testing.T) {
	if obs := observers(&Dependencies{}); len(obs) != 0 {
		t.Fatalf("got %d observers, want 0", len(obs))
	}
	deps := &Dependencies{
		Metrics:  metrics.New(),
		Notifier: notify.NewNotifier(nil, nil, 1, quiet()),
	}
	if obs := observers(deps); len(obs) != 2 {
		t.Fatalf("got %d observers, want 2", len(obs))
	}
	if subscriber(deps) != nil {
		t.Fatal("disabled feed must be a nil subscriber")
	}
}

func TestScanModePrintsBothSides(t *testing.T) {
	m := domain.Market{
		Slug:          "eth-updown-15m-1760000400",
		ConditionID:   "0xabc",
		Outcomes:      [2]string{"Up", "Down"},
		TokenIDs:      [2]string{"11", "12"},
		OutcomePrices: [2]float64{0.25, 0},
		Status:        domain.MarketStatusActive,
	}
	cfg := config.Defaults()
	cfg.Mode = "scan"

	var out bytes.Buffer
	a := New(&cfg, quiet())
	a.out = &out
	deps := &Dependencies{
		Resolver: resolver.NewWithStrategies(nil, quiet(), fixedStrategy{market: m}),
		Prober:   prober.New(books{"11": true}, time.Second, quiet()),
		Prices:   pricing.NewChain(time.Second, quiet(), pricing.SnapshotSource{}),
	}
	if err := a.ScanMode(context.Background(), deps); err != nil {
		t.Fatalf("ScanMode: %v", err)
	}

	var got scanReport
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if got.Market != m.Slug || len(got.Sides) != 2 {
		t.Fatalf("got %+v", got)
	}
	up, down := got.Sides[0], got.Sides[1]
	if up.Side != "UP" || up.Price == nil || *up.Price != 0.25 || up.Source != "snapshot" || !up.Tradable {
		t.Fatalf("up side: %+v", up)
	}
	if down.Side != "DOWN" || down.Price == nil || *down.Price != 0.75 || !down.Derived || down.Tradable {
		t.Fatalf("down side: %+v", down)
	}
}

func TestScanModeNoMarket(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, quiet())
	a.out = io.Discard
	deps := &Dependencies{
		Resolver: resolver.NewWithStrategies(nil, quiet()),
	}
	if err := a.ScanMode(context.Background(), deps); err == nil {
		t.Fatal("expected an error when no market resolves")
	}
}
