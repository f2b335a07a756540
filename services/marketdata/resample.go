package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"ladder-backtest/services/engine"
)

// Resample aggregates time ordered bars into buckets of step. Steps of whole
// days start at local midnight of the bars' location; shorter steps align to
// the Unix epoch. Open is the first bar's open, close the last bar's close,
// high and low the extremes, volume the sum. Output bars keep the input
// location.
func Resample(bars []engine.Bar, step time.Duration) ([]engine.Bar, error) {
	if step < time.Minute || step%time.Minute != 0 {
		return nil, fmt.Errorf("resample step %s must be a whole number of minutes", step)
	}
	if len(bars) == 0 {
		return nil, nil
	}
	if src := engine.DetectCadence(bars); src > 0 && step%src != 0 {
		return nil, fmt.Errorf("resample step %s is not a multiple of the source cadence %s", step, src)
	}

	loc := bars[0].Timestamp.Location()
	out := make([]engine.Bar, 0, len(bars))
	bucket := int64(-1)
	for i, b := range bars {
		if i > 0 && b.Timestamp.Before(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: bar %d at %s", engine.ErrUnorderedSeries, i, b.Timestamp)
		}
		startAt := bucketStart(b.Timestamp.In(loc), step)
		start := startAt.UnixMilli()
		if start != bucket {
			bucket = start
			agg := b
			agg.Timestamp = startAt
			out = append(out, agg)
			continue
		}
		agg := &out[len(out)-1]
		if b.High.GreaterThan(agg.High) {
			agg.High = b.High
		}
		if b.Low.LessThan(agg.Low) {
			agg.Low = b.Low
		}
		agg.Close = b.Close
		agg.Volume = agg.Volume.Add(b.Volume)
	}
	return out, nil
}

func bucketStart(t time.Time, step time.Duration) time.Time {
	const day = 24 * time.Hour
	if step%day != 0 {
		ms := t.UnixMilli()
		return time.UnixMilli(ms - ms%step.Milliseconds()).In(t.Location())
	}
	// count local calendar days so DST shifts do not move the boundary
	n := int64(step / day)
	days := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
	days -= days % n
	return time.Date(1970, 1, 1+int(days), 0, 0, 0, 0, t.Location())
}

// WriteBarsCSV writes bars as timestamp_ms,open,high,low,close,volume, the
// layout the CSV loader reads back.
func WriteBarsCSV(w io.Writer, bars []engine.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		if err := cw.Write([]string{
			strconv.FormatInt(b.Timestamp.UnixMilli(), 10),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
