package marketdata

import (
	"time"

	"go.uber.org/zap"

	"ladder-backtest/services/engine"
)

// QualityReport summarises problems found in a bar series. None of them
// stop a run; the engine tolerates gaps.
type QualityReport struct {
	Bars        int
	First       time.Time
	Last        time.Time
	Cadence     time.Duration
	Gaps        []time.Time
	Misaligned  int
	Unordered   int
	InvalidOHLC []time.Time
}

// Inspect checks ordering, cadence alignment, gaps and the OHLC envelope.
func Inspect(bars []engine.Bar) QualityReport {
	r := QualityReport{Bars: len(bars)}
	if len(bars) == 0 {
		return r
	}
	r.First = bars[0].Timestamp
	r.Last = bars[len(bars)-1].Timestamp
	r.Cadence = engine.DetectCadence(bars)
	r.Gaps = engine.DetectGaps(bars, r.Cadence)

	for i, b := range bars {
		if i > 0 && b.Timestamp.Before(bars[i-1].Timestamp) {
			r.Unordered++
		}
		if r.Cadence > 0 && b.Timestamp.UnixMilli()%r.Cadence.Milliseconds() != 0 {
			r.Misaligned++
		}
		if b.Low.GreaterThan(b.High) ||
			b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) ||
			b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
			r.InvalidOHLC = append(r.InvalidOHLC, b.Timestamp)
		}
	}
	return r
}

// Clean reports whether nothing was flagged besides gaps.
func (r QualityReport) Clean() bool {
	return r.Unordered == 0 && r.Misaligned == 0 && len(r.InvalidOHLC) == 0
}

func (r QualityReport) Log(logger *zap.Logger) {
	fields := []zap.Field{
		zap.Int("bars", r.Bars),
		zap.Time("first", r.First),
		zap.Time("last", r.Last),
		zap.Duration("cadence", r.Cadence),
		zap.Int("gaps", len(r.Gaps)),
		zap.Int("misaligned", r.Misaligned),
		zap.Int("unordered", r.Unordered),
		zap.Int("invalid_ohlc", len(r.InvalidOHLC)),
	}
	if r.Clean() {
		logger.Info("Data quality check passed", fields...)
		return
	}
	logger.Warn("Data quality issues found", fields...)
}
