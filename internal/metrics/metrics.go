// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/119969788/poly-copy-trading/internal/arbitrage"
)

// Config holds the metric naming options.
type Config struct {
	Namespace   string
	ConstLabels prometheus.Labels
	// ProcessCollectors adds the Go runtime and process collectors.
	ProcessCollectors bool
}

// OptionFn mutates a Config.
type OptionFn func(Config) Config

// WithNamespace prefixes every metric name.
func WithNamespace(ns string) OptionFn {
	return func(c Config) Config {
		c.Namespace = ns
		return c
	}
}

// WithConstLabel attaches a label to every metric, e.g. the traded coin.
func WithConstLabel(name, value string) OptionFn {
	return func(c Config) Config {
		labels := prometheus.Labels{}
		for k, v := range c.ConstLabels {
			labels[k] = v
		}
		labels[name] = value
		c.ConstLabels = labels
		return c
	}
}

// WithProcessCollectors registers the runtime collectors as well.
func WithProcessCollectors() OptionFn {
	return func(c Config) Config {
		c.ProcessCollectors = true
		return c
	}
}

// Metrics is an arbitrage.Observer backed by its own registry.
type Metrics struct {
	cfg      Config
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	decisionPx  *prometheus.GaugeVec
	realizedPnL prometheus.Gauge
	tradedSize  *prometheus.CounterVec
}

// New creates the collectors and registers them.
func New(opts ...OptionFn) *Metrics {
	cfg := Config{Namespace: "dipbot"}
	for _, o := range opts {
		cfg = o(cfg)
	}

	m := &Metrics{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "engine_events_total",
			Help:        "Engine transitions by kind.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind", "simulated"}),
		decisionPx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "decision_price",
			Help:        "Quote of the last buy or exit per side.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"side"}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "realized_pnl_usdc",
			Help:        "Realised profit of closed positions with a known exit price.",
			ConstLabels: cfg.ConstLabels,
		}),
		tradedSize: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "traded_shares_total",
			Help:        "Shares bought and sold.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"op"}),
	}
	m.registry.MustRegister(m.events, m.decisionPx, m.realizedPnL, m.tradedSize)
	if cfg.ProcessCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Observe implements arbitrage.Observer.
func (m *Metrics) Observe(_ context.Context, ev arbitrage.Event) {
	sim := "false"
	if ev.Simulated {
		sim = "true"
	}
	m.events.WithLabelValues(string(ev.Kind), sim).Inc()

	switch ev.Kind {
	case arbitrage.EventBuy:
		m.tradedSize.WithLabelValues("buy").Add(ev.Size)
		m.decisionPx.WithLabelValues(string(ev.Side)).Set(ev.Price)
	case arbitrage.EventSell, arbitrage.EventTimeoutExit, arbitrage.EventForcedLiquidation:
		m.tradedSize.WithLabelValues("sell").Add(ev.Size)
		if ev.Price > 0 {
			m.decisionPx.WithLabelValues(string(ev.Side)).Set(ev.Price)
		}
		if ev.Closed != nil && ev.Closed.PnLKnown {
			m.realizedPnL.Add(ev.PnL)
		}
	}
}

// Snapshotter is the engine's read-only state view.
type Snapshotter interface {
	Snapshot() arbitrage.Snapshot
}

// Watch registers gauges that read the engine state at scrape time.
func (m *Metrics) Watch(s Snapshotter) {
	gauge := func(name, help string, fn func(arbitrage.Snapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   m.cfg.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: m.cfg.ConstLabels,
		}, func() float64 { return fn(s.Snapshot()) })
	}
	m.registry.MustRegister(
		gauge("open_positions", "Positions currently held.", func(s arbitrage.Snapshot) float64 {
			return float64(len(s.Positions))
		}),
		gauge("consecutive_unavailable", "Ticks in a row the tracked market was not tradable.", func(s arbitrage.Snapshot) float64 {
			return float64(s.ConsecutiveUnavailable)
		}),
		gauge("ticks", "Ticks evaluated since start.", func(s arbitrage.Snapshot) float64 {
			return float64(s.Stats.Ticks)
		}),
		gauge("skipped_ticks", "Ticks skipped because the previous one was still running.", func(s arbitrage.Snapshot) float64 {
			return float64(s.Stats.SkippedTicks)
		}),
		gauge("last_tick_timestamp_seconds", "Unix time of the last tick.", func(s arbitrage.Snapshot) float64 {
			if s.LastTick.IsZero() {
				return 0
			}
			return float64(s.LastTick.UnixNano()) / 1e9
		}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
