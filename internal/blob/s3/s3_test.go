package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
	"github.com/119969788/poly-copy-trading/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	parts   map[string]int64
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, parts: map[string]int64{}}
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	m.objects[path] = b
	return err
}

func (m *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, partSize int64) error {
	b, err := io.ReadAll(data)
	m.objects[path] = b
	m.parts[path] = partSize
	return err
}

func TestNormaliseEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"https://e2.example.com", false, "https://e2.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, c := range cases {
		if got := normaliseEndpoint(c.in, c.ssl); got != c.want {
			t.Fatalf("normaliseEndpoint(%q, %v): got %q want %q", c.in, c.ssl, got, c.want)
		}
	}
}

func testReport() arbitrage.Report {
	stopped := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	return arbitrage.Report{
		Coin:      "eth",
		Market:    "eth-updown-15m-1",
		StoppedAt: stopped,
		Stats:     arbitrage.Stats{Buys: 2, RealizedPnL: decimal.RequireFromString("1.25")},
		Positions: []arbitrage.OpenPosition{{
			Position: domain.Position{
				ID: "p1", TokenID: "11", Side: domain.SideUp, Mode: domain.PositionModeDip,
				EntryPrice: 0.7, EntryTime: stopped.Add(-7 * time.Minute), Size: 14.28,
			},
			HeldMinutes: 7,
		}},
	}
}

func TestSessionArchiveUpload(t *testing.T) {
	w := newMemWriter()
	a := NewSessionArchive(w, "sessions", "abc", 0, nil)
	ctx := context.Background()
	a.Observe(ctx, arbitrage.Event{Kind: arbitrage.EventBuy, TokenID: "11", Price: 0.7, Simulated: true})
	a.Observe(ctx, arbitrage.Event{Kind: arbitrage.EventRotation, FromMarket: "old"})

	if err := a.Upload(ctx, testReport()); err != nil {
		t.Fatal(err)
	}

	reportKey := "sessions/eth/2025-03-04/abc/report.json"
	var doc reportDoc
	if err := json.Unmarshal(w.objects[reportKey], &doc); err != nil {
		t.Fatalf("report at %s: %v", reportKey, err)
	}
	if doc.Events != 2 || doc.Stats.RealizedPnL != "1.2500" || len(doc.OpenPositions) != 1 {
		t.Fatalf("report: %+v", doc)
	}
	if doc.OpenPositions[0].HeldMinutes != 7 {
		t.Fatalf("held minutes: %v", doc.OpenPositions[0].HeldMinutes)
	}

	eventsKey := "sessions/eth/2025-03-04/abc/events.jsonl"
	lines := strings.Split(strings.TrimSpace(string(w.objects[eventsKey])), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], `"from_market":"old"`) {
		t.Fatalf("events: %q", lines)
	}
	if w.parts[eventsKey] != minPartSize {
		t.Fatalf("part size: %d", w.parts[eventsKey])
	}
}

func TestSessionArchiveCapsEvents(t *testing.T) {
	w := newMemWriter()
	a := NewSessionArchive(w, "", "s", 1, nil)
	for range 3 {
		a.Observe(context.Background(), arbitrage.Event{Kind: arbitrage.EventBuy})
	}
	if err := a.Upload(context.Background(), testReport()); err != nil {
		t.Fatal(err)
	}
	report, events := a.Keys(testReport())
	var doc reportDoc
	if err := json.Unmarshal(w.objects[report], &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Events != 1 || doc.Dropped != 2 {
		t.Fatalf("events=%d dropped=%d", doc.Events, doc.Dropped)
	}
	if bytes.Count(w.objects[events], []byte("\n")) != 1 {
		t.Fatal("buffer not capped")
	}
}

func TestSessionArchiveSkipsEmptyEventLog(t *testing.T) {
	w := newMemWriter()
	a := NewSessionArchive(w, "p", "s", 0, nil)
	if err := a.Upload(context.Background(), testReport()); err != nil {
		t.Fatal(err)
	}
	if len(w.objects) != 1 {
		t.Fatalf("objects: %v", len(w.objects))
	}
}
