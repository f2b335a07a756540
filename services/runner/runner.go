// Package runner executes one backtest end to end: load bars, simulate,
// summarize and hand the trades to the configured sinks.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"ladder-backtest/services/engine"
	"ladder-backtest/services/marketdata"
	"ladder-backtest/services/monitoring"
	"ladder-backtest/services/report"
	"ladder-backtest/services/tracing"
)

// ErrNoBars is returned when the provider yields an empty window.
var ErrNoBars = errors.New("no bars in the requested window")

// TradeSink persists the trades of a finished run.
type TradeSink interface {
	InsertTrades(ctx context.Context, jobID, symbol string, trades []engine.TradeRecord) error
}

type Request struct {
	JobID    string
	Symbol   string
	Interval string
	From     time.Time
	To       time.Time
	Engine   engine.Config
}

type Output struct {
	Manifest *engine.RunManifest
	Result   *engine.Result
	Summary  report.Summary
	Quality  marketdata.QualityReport
	Elapsed  time.Duration
}

type Runner struct {
	provider marketdata.Provider
	sink     TradeSink
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

type Option func(*Runner)

func WithTradeSink(s TradeSink) Option { return func(r *Runner) { r.sink = s } }

func WithMetrics(m *monitoring.Metrics) Option { return func(r *Runner) { r.metrics = m } }

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New builds a runner. provider may be nil when callers only use Execute.
func New(provider marketdata.Provider, opts ...Option) *Runner {
	r := &Runner{provider: provider, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasProvider reports whether Run can load bars on its own.
func (r *Runner) HasProvider() bool { return r.provider != nil }

// Run loads bars from the provider and executes the request.
func (r *Runner) Run(ctx context.Context, req Request) (*Output, error) {
	if r.provider == nil {
		return nil, errors.New("runner has no bar provider")
	}
	ctx, span := tracing.StartSpan(ctx, "ladder.load_bars")
	bars, err := r.provider.Bars(ctx, req.Symbol, req.Interval, req.From, req.To)
	tracing.RecordError(span, err)
	span.SetAttributes(attribute.Int("bars", len(bars)))
	span.End()
	if err != nil {
		return nil, fmt.Errorf("load bars for %s: %w", req.Symbol, err)
	}
	return r.Execute(ctx, req, bars)
}

// Execute simulates req over bars. bars must be sorted by time.
func (r *Runner) Execute(ctx context.Context, req Request, bars []engine.Bar) (*Output, error) {
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	ctx, span := tracing.StartSpan(ctx, "ladder.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", req.JobID),
		attribute.String("symbol", req.Symbol),
	)

	logger := r.logger.With(zap.String("job_id", req.JobID), zap.String("symbol", req.Symbol))
	logger = logger.With(tracing.Fields(ctx)...)

	out, err := r.execute(ctx, logger, req, bars)
	tracing.RecordError(span, err)
	return out, err
}

func (r *Runner) execute(ctx context.Context, logger *zap.Logger, req Request, bars []engine.Bar) (*Output, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	quality := marketdata.Inspect(bars)
	quality.Log(logger)

	series, err := engine.NewSeries(bars)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{engine.WithLogger(logger)}
	if r.metrics != nil {
		opts = append(opts, engine.WithObserver(r.metrics))
	}
	sim, err := engine.NewSimulator(req.Engine, opts...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := sim.Run(ctx, series)
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.ObserveRun(elapsed, err)
	}
	if err != nil {
		return nil, fmt.Errorf("simulate: %w", err)
	}

	out := &Output{
		Manifest: engine.NewRunManifest(req.JobID, req.Symbol, req.Engine, series),
		Result:   res,
		Summary:  report.Summarize(res, req.Engine.InitialCapital),
		Quality:  quality,
		Elapsed:  elapsed,
	}

	if r.sink != nil {
		if err := r.sink.InsertTrades(ctx, req.JobID, req.Symbol, res.Trades); err != nil {
			return out, fmt.Errorf("store trades: %w", err)
		}
	}

	logger.Info("Backtest completed",
		zap.Duration("execution_time", elapsed),
		zap.Int("trades", out.Summary.TotalTrades),
		zap.String("net_pnl", out.Summary.NetPnL.StringFixed(4)),
		zap.String("config_hash", out.Manifest.ConfigSnapshot.ConfigHash),
	)
	return out, nil
}
