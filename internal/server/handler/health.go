package handler

import (
	"net/http"
	"time"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
)

// Snapshotter is the engine's read-only state view.
type Snapshotter interface {
	Snapshot() arbitrage.Snapshot
}

// HealthHandler reports liveness. The engine counts as stalled when no tick
// ran for MaxTickAge.
type HealthHandler struct {
	engine     Snapshotter
	maxTickAge time.Duration
	now        func() time.Time
}

// NewHealthHandler creates a HealthHandler. maxTickAge <= 0 disables the
// stall check.
func NewHealthHandler(engine Snapshotter, maxTickAge time.Duration) *HealthHandler {
	return &HealthHandler{engine: engine, maxTickAge: maxTickAge, now: time.Now}
}

// HealthCheck handles GET /healthz.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	now := h.now().UTC()
	body := map[string]any{"status": "ok", "timestamp": now.Format(time.RFC3339)}
	if h.engine != nil {
		last := h.engine.Snapshot().LastTick
		if !last.IsZero() {
			body["last_tick"] = last.UTC().Format(time.RFC3339)
		}
		if h.maxTickAge > 0 && !last.IsZero() && now.Sub(last) > h.maxTickAge {
			body["status"] = "stalled"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}
