package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/niftyrun/internal/cache"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/pipeline"
)

// MetricsRegistry holds the Prometheus metrics of the decision loop
type MetricsRegistry struct {
	registry *prometheus.Registry

	CycleDuration *prometheus.HistogramVec
	Cycles        *prometheus.CounterVec
	Decisions     *prometheus.CounterVec
	NoTrades      *prometheus.CounterVec
	GuardVetoes   *prometheus.CounterVec

	OpenPositions     prometheus.Gauge
	DayPnLPct         prometheus.Gauge
	RiskStateVersion  prometheus.Gauge
	RiskFlags         *prometheus.GaugeVec
	LastSignalVerdict *prometheus.GaugeVec

	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	StreamEvents *prometheus.CounterVec

	mu         sync.Mutex
	cacheTypes map[string]struct{}
}

// NewMetricsRegistry creates the metrics on a private registry
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "niftyrun_cycle_duration_seconds",
				Help:    "Duration of one decision cycle in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"outcome"},
		),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyrun_cycles_total",
				Help: "Total decision cycles by index and outcome kind",
			},
			[]string{"index", "kind"},
		),

		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyrun_decisions_total",
				Help: "Total trade decisions by index and action",
			},
			[]string{"index", "action"},
		),

		NoTrades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyrun_no_trades_total",
				Help: "Total no-trade outcomes by reason code",
			},
			[]string{"reason"},
		),

		GuardVetoes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyrun_guard_vetoes_total",
				Help: "Total guard vetoes by guard",
			},
			[]string{"guard"},
		),

		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "niftyrun_risk_open_positions",
				Help: "Open positions in the latest risk state",
			},
		),

		DayPnLPct: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "niftyrun_risk_day_pnl_pct",
				Help: "Day P&L fraction in the latest risk state",
			},
		),

		RiskStateVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "niftyrun_risk_state_version",
				Help: "Version of the latest published risk state",
			},
		),

		RiskFlags: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "niftyrun_risk_flag",
				Help: "Risk halts in the latest risk state (1 = raised)",
			},
			[]string{"flag"},
		),

		LastSignalVerdict: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "niftyrun_signal_strength",
				Help: "Strength of each detector's opinion in the latest evaluated cycle",
			},
			[]string{"detector", "direction"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "niftyrun_cache_hit_ratio",
				Help: "Current cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyrun_cache_hits_total",
				Help: "Total number of cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyrun_cache_misses_total",
				Help: "Total number of cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		StreamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyrun_stream_events_total",
				Help: "Stream bus events by metric and topic",
			},
			[]string{"metric", "topic"},
		),

		cacheTypes: make(map[string]struct{}),
	}

	m.registry.MustRegister(
		m.CycleDuration,
		m.Cycles,
		m.Decisions,
		m.NoTrades,
		m.GuardVetoes,
		m.OpenPositions,
		m.DayPnLPct,
		m.RiskStateVersion,
		m.RiskFlags,
		m.LastSignalVerdict,
		m.CacheHitRatio,
		m.CacheHits,
		m.CacheMisses,
		m.StreamEvents,
	)
	return m
}

// Registry exposes the underlying registry
func (m *MetricsRegistry) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle records one completed cycle
func (m *MetricsRegistry) ObserveCycle(res pipeline.Result, elapsed time.Duration) {
	reason := res.Outcome.Reason()
	m.CycleDuration.WithLabelValues(reason).Observe(elapsed.Seconds())

	index := res.Audit.Index
	if td := res.Outcome.Decision; td != nil {
		m.Cycles.WithLabelValues(index, "trade_decision").Inc()
		m.Decisions.WithLabelValues(td.Index, td.Action).Inc()
	} else {
		m.Cycles.WithLabelValues(index, "no_trade").Inc()
		m.NoTrades.WithLabelValues(reason).Inc()
	}
	if !res.Guard.Allow {
		m.GuardVetoes.WithLabelValues(res.Guard.BlockedBy).Inc()
	}

	for _, op := range res.Opinions {
		m.LastSignalVerdict.WithLabelValues(op.Detector, string(op.Direction)).Set(float64(op.Strength))
	}
	m.ObserveRiskState(res.Audit.RiskState)

	log.Debug().
		Str("cycle_id", res.CycleID).
		Str("outcome", reason).
		Dur("duration", elapsed).
		Msg("cycle metrics recorded")
}

// ObserveRiskState mirrors a risk state snapshot into gauges
func (m *MetricsRegistry) ObserveRiskState(s domain.RiskState) {
	m.OpenPositions.Set(float64(s.OpenPositions))
	m.DayPnLPct.Set(s.DayPnLPct)
	m.RiskStateVersion.Set(float64(s.Version))
	m.RiskFlags.WithLabelValues("vol_spike_halt").Set(boolGauge(s.VolSpikeHalt))
	m.RiskFlags.WithLabelValues("cooldown_active").Set(boolGauge(s.CooldownActive))
}

// StreamCallback adapts stream bus metric samples to StreamEvents
func (m *MetricsRegistry) StreamCallback() func(metric string, value interface{}, tags map[string]string) {
	return func(metric string, value interface{}, tags map[string]string) {
		n, ok := value.(int)
		if !ok || n <= 0 {
			n = 1
		}
		m.StreamEvents.WithLabelValues(metric, tags["topic"]).Add(float64(n))
	}
}

// RecordCacheHit records a cache hit for the specified cache type
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio(cacheType)
}

// RecordCacheMiss records a cache miss for the specified cache type
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio(cacheType)
}

// updateCacheHitRatio recomputes the hit ratio across every cache type seen so far
func (m *MetricsRegistry) updateCacheHitRatio(cacheType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheTypes[cacheType] = struct{}{}

	totalHits, totalMisses := 0.0, 0.0
	for ct := range m.cacheTypes {
		totalHits += counterValue(m.CacheHits, ct)
		totalMisses += counterValue(m.CacheMisses, ct)
	}
	if total := totalHits + totalMisses; total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}

func counterValue(vec *prometheus.CounterVec, label string) float64 {
	c, err := vec.GetMetricWithLabelValues(label)
	if err != nil {
		return 0
	}
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// InstrumentCache wraps c so lookups are counted under cacheType
func (m *MetricsRegistry) InstrumentCache(c cache.Cache, cacheType string) cache.Cache {
	return &instrumentedCache{Cache: c, metrics: m, cacheType: cacheType}
}

type instrumentedCache struct {
	cache.Cache
	metrics   *MetricsRegistry
	cacheType string
}

func (c *instrumentedCache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok := c.Cache.Get(ctx, key)
	if ok {
		c.metrics.RecordCacheHit(c.cacheType)
	} else {
		c.metrics.RecordCacheMiss(c.cacheType)
	}
	return v, ok
}

// MetricsHandler serves the registry in the Prometheus exposition format
func (m *MetricsRegistry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
