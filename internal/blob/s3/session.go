package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
	"github.com/119969788/poly-copy-trading/internal/domain"
)

// defaultMaxEvents caps the buffered event log of one session.
const defaultMaxEvents = 50_000

// SessionArchive buffers engine events as JSON lines and uploads them with
// the shutdown report when the session ends. It implements
// arbitrage.Observer.
type SessionArchive struct {
	writer    domain.BlobWriter
	prefix    string
	sessionID string
	maxEvents int
	logger    *slog.Logger

	mu      sync.Mutex
	buf     bytes.Buffer
	events  int
	dropped int
}

// NewSessionArchive creates an archive writing under prefix. maxEvents <= 0
// uses the default cap.
func NewSessionArchive(w domain.BlobWriter, prefix, sessionID string, maxEvents int, logger *slog.Logger) *SessionArchive {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionArchive{
		writer:    w,
		prefix:    prefix,
		sessionID: sessionID,
		maxEvents: maxEvents,
		logger:    logger.With(slog.String("component", "session_archive")),
	}
}

type eventLine struct {
	Kind       string  `json:"kind"`
	Time       string  `json:"time"`
	Market     string  `json:"market"`
	TokenID    string  `json:"token_id,omitempty"`
	Side       string  `json:"side,omitempty"`
	Price      float64 `json:"price,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	Size       float64 `json:"size,omitempty"`
	FillPrice  float64 `json:"fill_price,omitempty"`
	OrderID    string  `json:"order_id,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	PnL        float64 `json:"pnl,omitempty"`
	FromMarket string  `json:"from_market,omitempty"`
	Error      string  `json:"error,omitempty"`
	Simulated  bool    `json:"simulated"`
}

// Observe implements arbitrage.Observer.
func (a *SessionArchive) Observe(_ context.Context, ev arbitrage.Event) {
	line, err := json.Marshal(eventLine{
		Kind:       string(ev.Kind),
		Time:       ev.Time.UTC().Format(time.RFC3339Nano),
		Market:     ev.MarketSlug,
		TokenID:    ev.TokenID,
		Side:       string(ev.Side),
		Price:      ev.Price,
		Threshold:  ev.Threshold,
		Size:       ev.Size,
		FillPrice:  ev.FillPrice,
		OrderID:    ev.OrderID,
		Reason:     ev.Reason,
		PnL:        ev.PnL,
		FromMarket: ev.FromMarket,
		Error:      ev.Err,
		Simulated:  ev.Simulated,
	})
	if err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.events >= a.maxEvents {
		a.dropped++
		return
	}
	a.buf.Write(line)
	a.buf.WriteByte('\n')
	a.events++
}

type reportDoc struct {
	SessionID     string            `json:"session_id"`
	Coin          string            `json:"coin"`
	Market        string            `json:"market"`
	StoppedAt     time.Time         `json:"stopped_at"`
	Stats         statsDoc          `json:"stats"`
	OpenPositions []openPositionDoc `json:"open_positions"`
	Events        int               `json:"events"`
	Dropped       int               `json:"dropped_events"`
}

type statsDoc struct {
	StartedAt          time.Time `json:"started_at"`
	Ticks              int       `json:"ticks"`
	SkippedTicks       int       `json:"skipped_ticks"`
	Buys               int       `json:"buys"`
	Sells              int       `json:"sells"`
	Timeouts           int       `json:"timeouts"`
	ForcedLiquidations int       `json:"forced_liquidations"`
	Rotations          int       `json:"rotations"`
	RotationFailures   int       `json:"rotation_failures"`
	RejectedOrders     int       `json:"rejected_orders"`
	PairsOpened        int       `json:"pairs_opened"`
	RealizedPnL        string    `json:"realized_pnl"`
	UnknownPnLExits    int       `json:"unknown_pnl_exits"`
}

type openPositionDoc struct {
	ID          string    `json:"id"`
	TokenID     string    `json:"token_id"`
	Side        string    `json:"side"`
	Mode        string    `json:"mode"`
	Market      string    `json:"market"`
	EntryPrice  float64   `json:"entry_price"`
	EntryTime   time.Time `json:"entry_time"`
	Size        float64   `json:"size"`
	HeldMinutes float64   `json:"held_minutes"`
}

// Keys returns the object keys of the report and the event log.
func (a *SessionArchive) Keys(r arbitrage.Report) (report, events string) {
	dir := path.Join(a.prefix, r.Coin, r.StoppedAt.UTC().Format("2006-01-02"), a.sessionID)
	return path.Join(dir, "report.json"), path.Join(dir, "events.jsonl")
}

// Upload writes the report and the buffered events.
func (a *SessionArchive) Upload(ctx context.Context, r arbitrage.Report) error {
	a.mu.Lock()
	events := bytes.Clone(a.buf.Bytes())
	doc := a.document(r)
	a.mu.Unlock()

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal report: %w", err)
	}
	reportKey, eventsKey := a.Keys(r)
	if err := a.writer.Put(ctx, reportKey, bytes.NewReader(body), "application/json"); err != nil {
		return err
	}
	if len(events) > 0 {
		if err := a.writer.PutMultipart(ctx, eventsKey, bytes.NewReader(events), minPartSize); err != nil {
			return err
		}
	}
	a.logger.InfoContext(ctx, "session report uploaded",
		slog.String("report", reportKey),
		slog.Int("events", doc.Events),
		slog.Int("dropped", doc.Dropped),
	)
	return nil
}

func (a *SessionArchive) document(r arbitrage.Report) reportDoc {
	s := r.Stats
	doc := reportDoc{
		SessionID: a.sessionID,
		Coin:      r.Coin,
		Market:    r.Market,
		StoppedAt: r.StoppedAt.UTC(),
		Stats: statsDoc{
			StartedAt:          s.StartedAt.UTC(),
			Ticks:              s.Ticks,
			SkippedTicks:       s.SkippedTicks,
			Buys:               s.Buys,
			Sells:              s.Sells,
			Timeouts:           s.Timeouts,
			ForcedLiquidations: s.ForcedLiquidations,
			Rotations:          s.Rotations,
			RotationFailures:   s.RotationFailures,
			RejectedOrders:     s.RejectedOrders,
			PairsOpened:        s.PairsOpened,
			RealizedPnL:        s.RealizedPnL.StringFixed(4),
			UnknownPnLExits:    s.UnknownPnLExits,
		},
		OpenPositions: []openPositionDoc{},
		Events:        a.events,
		Dropped:       a.dropped,
	}
	for _, p := range r.Positions {
		doc.OpenPositions = append(doc.OpenPositions, openPositionDoc{
			ID:          p.ID,
			TokenID:     p.TokenID,
			Side:        string(p.Side),
			Mode:        string(p.Mode),
			Market:      p.MarketSlug,
			EntryPrice:  p.EntryPrice,
			EntryTime:   p.EntryTime.UTC(),
			Size:        p.Size,
			HeldMinutes: p.HeldMinutes,
		})
	}
	return doc
}
