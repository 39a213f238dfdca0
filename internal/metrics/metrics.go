// Package metrics 汇总 Prometheus 指标；所有方法对 nil 接收者安全，组件可以不注入。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exhub"

type Metrics struct {
	ExchangeStatus    *prometheus.GaugeVec
	ExchangeConnected *prometheus.GaugeVec
	Restarts          *prometheus.CounterVec
	HealthChecks      *prometheus.CounterVec
	ConnectDuration   *prometheus.HistogramVec
	SymbolFetchErrors *prometheus.CounterVec
	OverlapSymbols    prometheus.Gauge
	CandidateSymbols  *prometheus.GaugeVec
	Subscriptions     *prometheus.GaugeVec
	DiscoveryRuns     *prometheus.CounterVec
}

// New 在 reg 上注册全部指标；reg 为 nil 时使用默认 Registerer。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ExchangeStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exchange_status",
			Help:      "Adapter status code (0 disconnected, 1 connecting, 2 connected, 3 authenticated, 4 error, 5 maintenance).",
		}, []string{"exchange"}),
		ExchangeConnected: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exchange_connected",
			Help:      "1 when the adapter holds a live session.",
		}, []string{"exchange"}),
		Restarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_restarts_total",
			Help:      "Adapter restarts by result.",
		}, []string{"exchange", "result"}),
		HealthChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Health check results by reported status.",
		}, []string{"exchange", "status"}),
		ConnectDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Time spent in Connect.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"exchange"}),
		SymbolFetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbol_fetch_errors_total",
			Help:      "Supported-symbol fetches that failed or timed out.",
		}, []string{"exchange"}),
		OverlapSymbols: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overlap_symbols",
			Help:      "Symbols in the current overlap set.",
		}),
		CandidateSymbols: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidate_symbols",
			Help:      "Subscription candidates per exchange.",
		}, []string{"exchange"}),
		Subscriptions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Subscription records by state.",
		}, []string{"exchange", "state"}),
		DiscoveryRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_runs_total",
			Help:      "Symbol discovery runs by source (cached, cache, fallback, failed).",
		}, []string{"exchange", "source"}),
	}
}

func (m *Metrics) SetStatus(exchange string, code int, live bool) {
	if m == nil {
		return
	}
	m.ExchangeStatus.WithLabelValues(exchange).Set(float64(code))
	connected := 0.0
	if live {
		connected = 1
	}
	m.ExchangeConnected.WithLabelValues(exchange).Set(connected)
}

func (m *Metrics) ObserveRestart(exchange string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Restarts.WithLabelValues(exchange, result).Inc()
}

func (m *Metrics) ObserveHealth(exchange, status string) {
	if m == nil {
		return
	}
	m.HealthChecks.WithLabelValues(exchange, status).Inc()
}

func (m *Metrics) ObserveConnect(exchange string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectDuration.WithLabelValues(exchange).Observe(d.Seconds())
}

func (m *Metrics) SymbolFetchFailed(exchange string) {
	if m == nil {
		return
	}
	m.SymbolFetchErrors.WithLabelValues(exchange).Inc()
}

func (m *Metrics) SetOverlap(n int, candidates map[string]int) {
	if m == nil {
		return
	}
	m.OverlapSymbols.Set(float64(n))
	m.CandidateSymbols.Reset()
	for ex, c := range candidates {
		m.CandidateSymbols.WithLabelValues(ex).Set(float64(c))
	}
}

func (m *Metrics) SetSubscriptions(exchange string, active, failed, pending int) {
	if m == nil {
		return
	}
	m.Subscriptions.WithLabelValues(exchange, "active").Set(float64(active))
	m.Subscriptions.WithLabelValues(exchange, "failed").Set(float64(failed))
	m.Subscriptions.WithLabelValues(exchange, "pending").Set(float64(pending))
}

func (m *Metrics) ObserveDiscovery(exchange, source string) {
	if m == nil {
		return
	}
	m.DiscoveryRuns.WithLabelValues(exchange, source).Inc()
}
