package marketdata

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engineDec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func hourlyKlines(startMs int64, n int) []Kline {
	out := make([]Kline, n)
	for i := range out {
		open := startMs + int64(i)*time.Hour.Milliseconds()
		price := fmt.Sprintf("0.0000%d", 100+i)
		out[i] = Kline{
			OpenTimeMs:               open,
			Open:                     price,
			High:                     price,
			Low:                      price,
			Close:                    price,
			Volume:                   "1000",
			CloseTimeMs:              open + time.Hour.Milliseconds() - 1,
			QuoteAssetVolume:         "0.1",
			NumberOfTrades:           int64(i),
			TakerBuyBaseAssetVolume:  "500",
			TakerBuyQuoteAssetVolume: "0.05",
		}
	}
	return out
}

// klineServer mimics /api/v3/klines over a fixed candle set.
func klineServer(t *testing.T, klines []Kline, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("symbol") != "PEPEUSDT" || q.Get("interval") != "1h" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))

		rows := [][]any{}
		for _, k := range klines {
			if k.OpenTimeMs < start || k.OpenTimeMs > end || len(rows) >= limit {
				continue
			}
			rows = append(rows, []any{
				k.OpenTimeMs, k.Open, k.High, k.Low, k.Close, k.Volume,
				k.CloseTimeMs, k.QuoteAssetVolume, k.NumberOfTrades,
				k.TakerBuyBaseAssetVolume, k.TakerBuyQuoteAssetVolume, "0",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	}))
}

func TestFetchRangePaginates(t *testing.T) {
	source := hourlyKlines(may1KSTms, 25)
	var calls int32
	srv := klineServer(t, source, &calls)
	defer srv.Close()

	f := NewBinanceFetcher(BinanceConfig{BaseURL: srv.URL, RequestsPerSecond: 1000, PageLimit: 10}, seoul, nil)
	from := time.UnixMilli(may1KSTms)
	got, err := f.FetchRange(t.Context(), "PEPEUSDT", "1h", from, from.Add(48*time.Hour))
	require.NoError(t, err)

	require.Len(t, got, 25)
	assert.Equal(t, source[0], got[0])
	assert.Equal(t, source[24], got[24])
	// three full or partial pages and one empty page
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestFetchRangeStopsAtEnd(t *testing.T) {
	source := hourlyKlines(may1KSTms, 48)
	var calls int32
	srv := klineServer(t, source, &calls)
	defer srv.Close()

	f := NewBinanceFetcher(BinanceConfig{BaseURL: srv.URL, RequestsPerSecond: 1000}, seoul, nil)
	from := time.UnixMilli(may1KSTms)
	bars, err := f.Bars(t.Context(), "PEPEUSDT", "1h", from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, bars, 24)
	assert.Equal(t, time.Date(2024, 5, 1, 23, 0, 0, 0, seoul), bars[23].Timestamp)
	assert.True(t, bars[0].Open.Equal(engineDec("0.0000100")))
}

func TestFetchRangeSurfacesAPIError(t *testing.T) {
	var calls int32
	srv := klineServer(t, nil, &calls)
	defer srv.Close()

	f := NewBinanceFetcher(BinanceConfig{BaseURL: srv.URL, RequestsPerSecond: 1000}, seoul, nil)
	from := time.UnixMilli(may1KSTms)
	_, err := f.FetchRange(t.Context(), "NOPE", "1h", from, from.Add(time.Hour))
	assert.Error(t, err)
}

func TestFetchRangeRejectsOpenBounds(t *testing.T) {
	var calls int32
	srv := klineServer(t, hourlyKlines(may1KSTms, 4), &calls)
	defer srv.Close()

	f := NewBinanceFetcher(BinanceConfig{BaseURL: srv.URL, RequestsPerSecond: 1000}, seoul, nil)
	from := time.UnixMilli(may1KSTms)

	_, err := f.Bars(t.Context(), "PEPEUSDT", "1h", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrOpenRange)
	_, err = f.FetchRange(t.Context(), "PEPEUSDT", "1h", from, time.Time{})
	assert.ErrorIs(t, err, ErrOpenRange)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestMonthRange(t *testing.T) {
	from, to, err := MonthRange("202402")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), to)

	_, _, err = MonthRange("2024-13")
	assert.Error(t, err)
}

func TestInspectFlagsProblems(t *testing.T) {
	bars, err := KlinesToBars(hourlyKlines(may1KSTms, 6), time.UTC)
	require.NoError(t, err)
	bars = append(bars[:2], bars[3:]...)
	bars[0].High = engineDec("0")

	r := Inspect(bars)
	assert.Equal(t, time.Hour, r.Cadence)
	assert.Len(t, r.Gaps, 1)
	assert.Len(t, r.InvalidOHLC, 1)
	assert.False(t, r.Clean())
}
