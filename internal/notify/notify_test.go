package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
	"github.com/119969788/poly-copy-trading/internal/domain"
)

type recSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recSender) Name() string { return "rec" }

func (r *recSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func TestObserveFiltersAndDelivers(t *testing.T) {
	s := &recSender{}
	n := NewNotifier([]Sender{s}, []string{"buy", " rotation "}, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx) }()

	n.Observe(ctx, arbitrage.Event{Kind: arbitrage.EventBuy, Side: domain.SideUp, FillPrice: 0.75, Simulated: true})
	n.Observe(ctx, arbitrage.Event{Kind: arbitrage.EventSell})
	n.Observe(ctx, arbitrage.Event{Kind: arbitrage.EventRotation, FromMarket: "old"})

	deadline := time.Now().Add(2 * time.Second)
	for s.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	titles := append([]string(nil), s.titles...)
	s.mu.Unlock()
	if len(titles) != 2 || titles[0] != "[SIM] BUY UP @ 0.7500" || titles[1] != "Market rotated" {
		t.Fatalf("titles: %v", titles)
	}
}

func TestObserveDropsWhenQueueFull(t *testing.T) {
	s := &recSender{}
	n := NewNotifier([]Sender{s}, nil, 1, nil)
	n.Observe(context.Background(), arbitrage.Event{Kind: arbitrage.EventBuy})
	n.Observe(context.Background(), arbitrage.Event{Kind: arbitrage.EventBuy})
	if len(n.queue) != 1 {
		t.Fatalf("queue: %d", len(n.queue))
	}
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	bad := &recSender{err: errors.New("boom")}
	good := &recSender{}
	n := NewNotifier([]Sender{bad, good}, nil, 0, nil)
	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err: %v", err)
	}
	if good.count() != 1 {
		t.Fatal("second sender skipped")
	}
}

func TestFormatExitWithUnknownPnL(t *testing.T) {
	title, body := FormatEvent(arbitrage.Event{
		Kind:   arbitrage.EventForcedLiquidation,
		Side:   domain.SideDown,
		Closed: &domain.ClosedPosition{},
	})
	if title != "[LIVE] FORCED LIQUIDATION DOWN" || !strings.Contains(body, "exit price unknown") {
		t.Fatalf("got %q / %q", title, body)
	}
}

func TestFormatUnhedgedPair(t *testing.T) {
	title, body := FormatEvent(arbitrage.Event{
		Kind:      arbitrage.EventPairUnhedged,
		Side:      domain.SideUp,
		TokenID:   "11",
		Size:      10,
		FillPrice: 0.4,
		Simulated: true,
	})
	if title != "[SIM] PAIR unhedged, holding UP only" || !strings.Contains(body, "token: 11") || !strings.Contains(body, "entry: 0.4000") {
		t.Fatalf("got %q / %q", title, body)
	}
}

func TestFormatReport(t *testing.T) {
	_, body := FormatReport(arbitrage.Report{
		Coin:  "eth",
		Stats: arbitrage.Stats{Buys: 3, RealizedPnL: decimal.RequireFromString("0.5")},
		Positions: []arbitrage.OpenPosition{{
			Position:    domain.Position{TokenID: "11", Side: domain.SideUp, Size: 2, EntryPrice: 0.7},
			HeldMinutes: 3.5,
		}},
	})
	for _, want := range []string{"buys 3", "realized pnl: 0.5000", "open positions (1, not liquidated)", "held 3.5m"} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in %q", want, body)
		}
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path: %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	if err := s.Send(context.Background(), "T", "M"); err != nil {
		t.Fatal(err)
	}
	if got["chat_id"] != "42" || got["text"] != "*T*\nM" {
		t.Fatalf("payload: %v", got)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "M")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err: %v", err)
	}
}
