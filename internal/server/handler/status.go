package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
	"github.com/119969788/poly-copy-trading/internal/domain"
)

// History lists journaled positions.
type History interface {
	ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.PositionRecord, error)
}

// StatusHandler serves the engine state.
type StatusHandler struct {
	engine  Snapshotter
	history History // nil when the journal is disabled
	dryRun  bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(engine Snapshotter, history History, dryRun bool, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{engine: engine, history: history, dryRun: dryRun, logger: logger, now: time.Now}
}

type positionJSON struct {
	ID          string  `json:"id"`
	TokenID     string  `json:"token_id"`
	Side        string  `json:"side"`
	Mode        string  `json:"mode"`
	Market      string  `json:"market"`
	EntryPrice  float64 `json:"entry_price"`
	EntryTime   string  `json:"entry_time"`
	Size        float64 `json:"size"`
	HeldMinutes float64 `json:"held_minutes"`
	Simulated   bool    `json:"simulated"`
}

type statusResponse struct {
	Coin                   string         `json:"coin"`
	Mode                   string         `json:"mode"`
	DryRun                 bool           `json:"dry_run"`
	Market                 string         `json:"market,omitempty"`
	Tokens                 []string       `json:"tokens,omitempty"`
	ConsecutiveUnavailable int            `json:"consecutive_unavailable"`
	Untradable             []string       `json:"untradable"`
	OpenPositions          int            `json:"open_positions"`
	LastTick               string         `json:"last_tick,omitempty"`
	Stats                  map[string]any `json:"stats"`
}

// GetStatus handles GET /status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	s := h.engine.Snapshot()
	resp := statusResponse{
		Coin:                   s.Coin,
		Mode:                   string(s.Mode),
		DryRun:                 h.dryRun,
		ConsecutiveUnavailable: s.ConsecutiveUnavailable,
		Untradable:             s.Untradable,
		OpenPositions:          len(s.Positions),
		Stats:                  statsJSON(s.Stats),
	}
	if resp.Untradable == nil {
		resp.Untradable = []string{}
	}
	if s.Market != nil {
		resp.Market = s.Market.Key()
		resp.Tokens = []string{s.Tokens[0], s.Tokens[1]}
	}
	if !s.LastTick.IsZero() {
		resp.LastTick = s.LastTick.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPositions handles GET /positions.
func (h *StatusHandler) ListPositions(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	out := []positionJSON{}
	for _, p := range h.engine.Snapshot().Positions {
		out = append(out, positionJSON{
			ID:          p.ID,
			TokenID:     p.TokenID,
			Side:        string(p.Side),
			Mode:        string(p.Mode),
			Market:      p.MarketSlug,
			EntryPrice:  p.EntryPrice,
			EntryTime:   p.EntryTime.UTC().Format(time.RFC3339),
			Size:        p.Size,
			HeldMinutes: p.Held(now).Minutes(),
			Simulated:   p.Simulated,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// ListHistory handles GET /positions/history.
func (h *StatusHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "position journal disabled")
		return
	}
	records, err := h.history.ListHistory(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if records == nil {
		records = []domain.PositionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": records})
}

func statsJSON(s arbitrage.Stats) map[string]any {
	return map[string]any{
		"started_at":          s.StartedAt.UTC().Format(time.RFC3339),
		"ticks":               s.Ticks,
		"skipped_ticks":       s.SkippedTicks,
		"buys":                s.Buys,
		"sells":               s.Sells,
		"timeouts":            s.Timeouts,
		"forced_liquidations": s.ForcedLiquidations,
		"rotations":           s.Rotations,
		"rotation_failures":   s.RotationFailures,
		"rejected_orders":     s.RejectedOrders,
		"pairs_opened":        s.PairsOpened,
		"unhedged_pairs":      s.UnhedgedPairs,
		"realized_pnl":        s.RealizedPnL.StringFixed(4),
		"unknown_pnl_exits":   s.UnknownPnLExits,
	}
}
