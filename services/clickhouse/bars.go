package clickhouse

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ladder-backtest/services/engine"
	"ladder-backtest/services/marketdata"
)

// klineRow is one bars table row in column order.
type klineRow struct {
	Symbol      string
	Interval    string
	OpenTimeMs  uint64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	QuoteVolume float64
	Trades      uint64
	TakerBase   float64
	TakerQuote  float64
	CloseTimeMs uint64
}

func toKlineRow(symbol, interval string, k marketdata.Kline) (klineRow, error) {
	row := klineRow{
		Symbol:      symbol,
		Interval:    interval,
		OpenTimeMs:  uint64(k.OpenTimeMs),
		Trades:      uint64(k.NumberOfTrades),
		CloseTimeMs: uint64(k.CloseTimeMs),
	}
	for _, f := range []struct {
		dst *float64
		src string
	}{
		{&row.Open, k.Open}, {&row.High, k.High}, {&row.Low, k.Low}, {&row.Close, k.Close},
		{&row.Volume, k.Volume}, {&row.QuoteVolume, k.QuoteAssetVolume},
		{&row.TakerBase, k.TakerBuyBaseAssetVolume}, {&row.TakerQuote, k.TakerBuyQuoteAssetVolume},
	} {
		if f.src == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(f.src), 64)
		if err != nil {
			return klineRow{}, fmt.Errorf("kline %d: %w", k.OpenTimeMs, err)
		}
		*f.dst = v
	}
	return row, nil
}

// InsertKlines writes klines in one batch. Re-inserting a candle replaces the
// older version once ClickHouse merges.
func (s *Store) InsertKlines(ctx context.Context, symbol, interval string, klines []marketdata.Kline) (int, error) {
	if len(klines) == 0 {
		return 0, nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s.%s SETTINGS insert_deduplicate=1`, s.cfg.Database, s.cfg.BarsTable))
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}
	now := time.Now().UTC()
	ver := uint64(now.UnixNano())
	for _, k := range klines {
		row, err := toKlineRow(symbol, interval, k)
		if err != nil {
			_ = batch.Abort()
			return 0, err
		}
		if err := batch.Append(
			row.Symbol, row.Interval,
			row.OpenTimeMs,
			row.Open, row.High, row.Low, row.Close,
			row.Volume,
			row.QuoteVolume,
			row.Trades,
			row.TakerBase,
			row.TakerQuote,
			row.CloseTimeMs,
			now,
			ver,
		); err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("batch send: %w", err)
	}
	s.logger.Info("Inserted klines",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("rows", len(klines)),
	)
	return len(klines), nil
}

func barsQuery(c Config) string {
	return fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume
		FROM %s.%s FINAL
		WHERE symbol = ? AND interval = ? AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms`, c.Database, c.BarsTable)
}

// boundsMs converts a query window to open_time_ms bounds. A zero from or
// to leaves that side open.
func boundsMs(from, to time.Time) (uint64, uint64) {
	lo, hi := uint64(0), uint64(math.MaxInt64)
	if !from.IsZero() && from.UnixMilli() > 0 {
		lo = uint64(from.UnixMilli())
	}
	if !to.IsZero() {
		hi = uint64(max(to.UnixMilli(), 0))
	}
	return lo, hi
}

// Bars implements marketdata.Provider.
func (s *Store) Bars(ctx context.Context, symbol, interval string, from, to time.Time) ([]engine.Bar, error) {
	lo, hi := boundsMs(from, to)
	rows, err := s.conn.Query(ctx, barsQuery(s.cfg), symbol, interval, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []engine.Bar
	for rows.Next() {
		var openMs uint64
		var open, high, low, closep, volume float64
		if err := rows.Scan(&openMs, &open, &high, &low, &closep, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, engine.Bar{
			Timestamp: time.UnixMilli(int64(openMs)).In(s.loc),
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(high),
			Low:       decimal.NewFromFloat(low),
			Close:     decimal.NewFromFloat(closep),
			Volume:    decimal.NewFromFloat(volume),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}
	s.logger.Debug("Loaded bars from ClickHouse", zap.String("symbol", symbol), zap.Int("bars", len(bars)))
	return bars, nil
}
