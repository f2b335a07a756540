// Package sweep runs ladder variants concurrently over one shared series.
package sweep

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ladder-backtest/services/engine"
	"ladder-backtest/services/report"
)

type Variant struct {
	Name   string
	Config engine.Config
}

type Outcome struct {
	Variant Variant
	Result  *engine.Result
	Summary report.Summary
	Elapsed time.Duration
}

// Grid crosses fee rates with anchor offsets on top of base. Empty inputs
// keep base's value.
func Grid(base engine.Config, fees []decimal.Decimal, anchors []time.Duration) []Variant {
	if len(fees) == 0 {
		fees = []decimal.Decimal{base.FeeRate}
	}
	if len(anchors) == 0 {
		anchors = []time.Duration{base.AnchorOffset}
	}
	variants := make([]Variant, 0, len(fees)*len(anchors))
	for _, fee := range fees {
		for _, anchor := range anchors {
			cfg := base
			cfg.FeeRate = fee
			cfg.AnchorOffset = anchor
			variants = append(variants, Variant{
				Name:   fmt.Sprintf("fee=%s anchor=%s", fee, formatAnchor(anchor)),
				Config: cfg,
			})
		}
	}
	return variants
}

func formatAnchor(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// Run simulates every variant with at most workers in flight. Outcomes keep
// the order of variants. The first failure cancels the rest.
func Run(ctx context.Context, series *engine.Series, variants []Variant, workers int, logger *zap.Logger) ([]Outcome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	logger.Info("Starting parallel sweep",
		zap.Int("workers", workers),
		zap.Int("variants", len(variants)),
	)

	outcomes := make([]Outcome, len(variants))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, v := range variants {
		g.Go(func() error {
			sim, err := engine.NewSimulator(v.Config)
			if err != nil {
				return fmt.Errorf("variant %q: %w", v.Name, err)
			}
			start := time.Now()
			res, err := sim.Run(ctx, series)
			if err != nil {
				return fmt.Errorf("variant %q: %w", v.Name, err)
			}
			outcomes[i] = Outcome{
				Variant: v,
				Result:  res,
				Summary: report.Summarize(res, v.Config.InitialCapital),
				Elapsed: time.Since(start),
			}
			logger.Debug("Variant finished", zap.String("variant", v.Name), zap.Int("trades", len(res.Trades)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
