package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
	"github.com/119969788/poly-copy-trading/internal/domain"
	"github.com/119969788/poly-copy-trading/internal/server/handler"
)

type fakeEngine struct{ snap arbitrage.Snapshot }

func (f fakeEngine) Snapshot() arbitrage.Snapshot { return f.snap }

type fakeHistory struct{}

func (fakeHistory) ListHistory(_ context.Context, opts domain.ListOpts) ([]domain.PositionRecord, error) {
	return []domain.PositionRecord{{Position: domain.Position{ID: "p1"}, Status: domain.PositionClosed}}, nil
}

type fakeEvents struct{}

func (fakeEvents) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return []domain.AuditEntry{{ID: 1, SessionID: "s1", Event: "buy", CreatedAt: time.Now()}}, nil
}

func newTestServer(t *testing.T, cfg Config, snap arbitrage.Snapshot) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := fakeEngine{snap: snap}
	s := NewServer(cfg, Handlers{
		Health: handler.NewHealthHandler(eng, time.Hour),
		Status: handler.NewStatusHandler(eng, fakeHistory{}, true, logger),
		Events: handler.NewEventsHandler(fakeEvents{}, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "dipbot_ticks 1\n")
		}),
	}, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, header ...string) (int, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func testSnapshot() arbitrage.Snapshot {
	m := domain.Market{Slug: "eth-updown-15m-1", TokenIDs: [2]string{"11", "12"}}
	return arbitrage.Snapshot{
		Coin:     "eth",
		Mode:     arbitrage.ModeDip,
		Market:   &m,
		Tokens:   [2]string{"11", "12"},
		LastTick: time.Now(),
		Positions: []domain.Position{{
			ID: "p1", TokenID: "11", Side: domain.SideUp, EntryPrice: 0.7,
			EntryTime: time.Now().Add(-10 * time.Minute), Size: 14,
		}},
	}
}

func TestStatusEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{}, testSnapshot())

	code, body := get(t, srv.URL+"/status")
	if code != http.StatusOK || body["market"] != "eth-updown-15m-1" || body["open_positions"] != float64(1) || body["dry_run"] != true {
		t.Fatalf("status: %d %v", code, body)
	}

	code, body = get(t, srv.URL+"/positions")
	positions, _ := body["positions"].([]any)
	if code != http.StatusOK || len(positions) != 1 {
		t.Fatalf("positions: %d %v", code, body)
	}
	held := positions[0].(map[string]any)["held_minutes"].(float64)
	if held < 9.9 || held > 11 {
		t.Fatalf("held minutes: %v", held)
	}

	code, body = get(t, srv.URL+"/positions/history?limit=5")
	if code != http.StatusOK || len(body["positions"].([]any)) != 1 {
		t.Fatalf("history: %d %v", code, body)
	}

	code, body = get(t, srv.URL+"/events")
	events, _ := body["events"].([]any)
	if code != http.StatusOK || len(events) != 1 || events[0].(map[string]any)["event"] != "buy" {
		t.Fatalf("events: %d %v", code, body)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %v %v", resp, err)
	}
	resp.Body.Close()
}

func TestHealthReportsStall(t *testing.T) {
	snap := testSnapshot()
	snap.LastTick = time.Now().Add(-2 * time.Hour)
	srv := newTestServer(t, Config{}, snap)
	code, body := get(t, srv.URL+"/healthz")
	if code != http.StatusServiceUnavailable || body["status"] != "stalled" {
		t.Fatalf("healthz: %d %v", code, body)
	}
}

func TestAuthSkipsHealth(t *testing.T) {
	srv := newTestServer(t, Config{APIKey: "secret"}, testSnapshot())

	if code, _ := get(t, srv.URL+"/healthz"); code != http.StatusOK {
		t.Fatalf("healthz without key: %d", code)
	}
	if code, _ := get(t, srv.URL+"/status"); code != http.StatusUnauthorized {
		t.Fatalf("status without key: %d", code)
	}
	if code, _ := get(t, srv.URL+"/status", "Authorization", "Bearer secret"); code != http.StatusOK {
		t.Fatalf("status with bearer: %d", code)
	}
	if code, _ := get(t, srv.URL+"/status", "X-API-Key", "wrong"); code != http.StatusUnauthorized {
		t.Fatalf("status with wrong key: %d", code)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{RateLimit: 0.001, RateBurst: 1}, testSnapshot())
	if code, _ := get(t, srv.URL+"/status"); code != http.StatusOK {
		t.Fatalf("first: %d", code)
	}
	if code, _ := get(t, srv.URL+"/status"); code != http.StatusTooManyRequests {
		t.Fatalf("second: %d", code)
	}
}
