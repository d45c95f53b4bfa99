package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
	"github.com/119969788/poly-copy-trading/internal/domain"
)

type fixedSnapshot arbitrage.Snapshot

func (f fixedSnapshot) Snapshot() arbitrage.Snapshot { return arbitrage.Snapshot(f) }

func TestObserveCountsEvents(t *testing.T) {
	m := New(WithNamespace("test"), WithConstLabel("coin", "eth"))
	ctx := context.Background()

	m.Observe(ctx, arbitrage.Event{Kind: arbitrage.EventBuy, Side: domain.SideUp, Price: 0.75, Size: 12, Simulated: true})
	m.Observe(ctx, arbitrage.Event{
		Kind:      arbitrage.EventSell,
		Side:      domain.SideUp,
		Price:     0.92,
		Size:      12,
		PnL:       2.04,
		Simulated: true,
		Closed:    &domain.ClosedPosition{PnLKnown: true},
	})
	m.Observe(ctx, arbitrage.Event{
		Kind:      arbitrage.EventForcedLiquidation,
		Side:      domain.SideDown,
		Size:      5,
		Simulated: true,
		Closed:    &domain.ClosedPosition{},
	})

	if got := testutil.ToFloat64(m.events.WithLabelValues("buy", "true")); got != 1 {
		t.Fatalf("buy events: got %v want 1", got)
	}
	if got := testutil.ToFloat64(m.tradedSize.WithLabelValues("sell")); got != 17 {
		t.Fatalf("sold shares: got %v want 17", got)
	}
	if got := testutil.ToFloat64(m.realizedPnL); got != 2.04 {
		t.Fatalf("pnl: got %v want 2.04", got)
	}
	if got := testutil.ToFloat64(m.decisionPx.WithLabelValues("UP")); got != 0.92 {
		t.Fatalf("up decision price: got %v want 0.92", got)
	}
}

func TestHandlerExposesWatchedGauges(t *testing.T) {
	m := New()
	m.Watch(fixedSnapshot{
		ConsecutiveUnavailable: 1,
		Positions:              []domain.Position{{TokenID: "1"}, {TokenID: "2"}},
		LastTick:               time.Unix(1_700_000_000, 0),
	})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)
	for _, want := range []string{
		"dipbot_open_positions 2",
		"dipbot_consecutive_unavailable 1",
		"dipbot_last_tick_timestamp_seconds 1.7e+09",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in\n%s", want, body)
		}
	}
}
