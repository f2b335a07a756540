// Package monitoring exposes simulation and job metrics to Prometheus.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ladder-backtest/services/engine"
)

// Metrics holds every ladder collector on its own registry. It implements
// engine.Observer and is safe for concurrent runs.
type Metrics struct {
	registry *prometheus.Registry

	AccountsSpawned prometheus.Counter
	AccountsClosed  *prometheus.CounterVec
	Trades          *prometheus.CounterVec
	TradeFees       prometheus.Counter

	RunDuration *prometheus.HistogramVec
	Runs        *prometheus.CounterVec
	ActiveJobs  prometheus.Gauge
	QueuedJobs  prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		AccountsSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ladder_accounts_spawned_total",
			Help: "Accounts opened at a daily anchor",
		}),
		AccountsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladder_accounts_closed_total",
			Help: "Accounts closed by reason",
		}, []string{"reason"}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladder_trades_total",
			Help: "Resolved rungs by outcome, direction and rung number",
		}, []string{"outcome", "direction", "rung"}),
		TradeFees: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ladder_trade_fees_total",
			Help: "Fees charged across all resolved rungs",
		}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ladder_run_duration_seconds",
			Help:    "Wall time of one simulation run",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"status"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladder_runs_total",
			Help: "Simulation runs by status",
		}, []string{"status"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ladder_jobs_active",
			Help: "Backtest jobs currently running",
		}),
		QueuedJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ladder_jobs_queued",
			Help: "Backtest jobs waiting for a worker",
		}),
	}

	m.registry.MustRegister(
		m.AccountsSpawned, m.AccountsClosed, m.Trades, m.TradeFees,
		m.RunDuration, m.Runs, m.ActiveJobs, m.QueuedJobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) AccountSpawned(int, time.Time) {
	m.AccountsSpawned.Inc()
}

func (m *Metrics) TradeRecorded(rec engine.TradeRecord) {
	m.Trades.WithLabelValues(rec.Outcome.String(), rec.Direction.String(), strconv.Itoa(rec.Rung)).Inc()
	m.TradeFees.Add(rec.Fees.InexactFloat64())
}

func (m *Metrics) AccountClosed(summary engine.AccountSummary) {
	m.AccountsClosed.WithLabelValues(summary.CloseReason.String()).Inc()
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	m.Runs.WithLabelValues(status).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
