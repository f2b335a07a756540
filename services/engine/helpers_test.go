package engine

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var kst = LoadLocation(DefaultTimezone)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bar(t time.Time, o, h, l, c string) Bar {
	return Bar{Timestamp: t, Open: d(o), High: d(h), Low: d(l), Close: d(c), Volume: d("1")}
}

func day0() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, kst) }

// flatBars returns hourly bars that never move from price.
func flatBars(start time.Time, hours int, price string) []Bar {
	bars := make([]Bar, 0, hours)
	for i := 0; i < hours; i++ {
		bars = append(bars, bar(start.Add(time.Duration(i)*time.Hour), price, price, price, price))
	}
	return bars
}

// wavyBars returns hourly bars following a deterministic oscillation wide
// enough to hit both thresholds over time.
func wavyBars(start time.Time, hours int) []Bar {
	bars := make([]Bar, 0, hours)
	prev := 100.0
	for i := 0; i < hours; i++ {
		mid := 100 + 25*math.Sin(float64(i)/9) + 6*math.Sin(float64(i)/2.3)
		open := prev
		closeP := mid
		high := math.Max(open, closeP) * 1.01
		low := math.Min(open, closeP) * 0.99
		bars = append(bars, Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromFloat(open).Round(4),
			High:      decimal.NewFromFloat(high).Round(4),
			Low:       decimal.NewFromFloat(low).Round(4),
			Close:     decimal.NewFromFloat(closeP).Round(4),
			Volume:    decimal.NewFromInt(int64(1000 + i)),
		})
		prev = closeP
	}
	return bars
}

func mustSeries(t *testing.T, bars []Bar) *Series {
	t.Helper()
	s, err := NewSeries(bars)
	require.NoError(t, err)
	return s
}
