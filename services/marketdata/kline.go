// Package marketdata loads and acquires hourly price bars for the ladder engine.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ladder-backtest/services/engine"
)

// Kline is one exchange candle as published by Binance, kept as strings so it
// round-trips to CSV and ClickHouse without loss.
type Kline struct {
	OpenTimeMs               int64
	Open                     string
	High                     string
	Low                      string
	Close                    string
	Volume                   string
	CloseTimeMs              int64
	QuoteAssetVolume         string
	NumberOfTrades           int64
	TakerBuyBaseAssetVolume  string
	TakerBuyQuoteAssetVolume string
}

// Bar converts the kline into an engine bar in loc.
func (k Kline) Bar(loc *time.Location) (engine.Bar, error) {
	var (
		b   engine.Bar
		err error
	)
	b.Timestamp = time.UnixMilli(k.OpenTimeMs).In(loc)
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&b.Open, k.Open}, {&b.High, k.High}, {&b.Low, k.Low}, {&b.Close, k.Close}, {&b.Volume, k.Volume},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return engine.Bar{}, fmt.Errorf("kline %d: %w", k.OpenTimeMs, err)
		}
	}
	return b, nil
}

// KlinesToBars converts klines in order.
func KlinesToBars(klines []Kline, loc *time.Location) ([]engine.Bar, error) {
	bars := make([]engine.Bar, 0, len(klines))
	for _, k := range klines {
		b, err := k.Bar(loc)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// Provider supplies time ordered bars for [from, to).
type Provider interface {
	Bars(ctx context.Context, symbol, interval string, from, to time.Time) ([]engine.Bar, error)
}

// MonthRange returns the UTC bounds of a YYYYMM or YYYY-MM month.
func MonthRange(month string) (time.Time, time.Time, error) {
	layouts := []string{"200601", "2006-01"}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, month, time.UTC); err == nil {
			return t, t.AddDate(0, 1, 0), nil
		}
	}
	return time.Time{}, time.Time{}, fmt.Errorf("invalid month %q, want YYYYMM", month)
}
