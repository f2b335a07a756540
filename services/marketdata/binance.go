package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ladder-backtest/services/engine"
)

// MaxKlinesPerPage is the largest page /api/v3/klines serves.
const MaxKlinesPerPage = 1000

// ErrOpenRange is returned when a fetch is missing its start or end bound.
var ErrOpenRange = errors.New("binance fetch needs both a from and a to bound")

type BinanceConfig struct {
	BaseURL           string        `yaml:"base_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	PageLimit         int           `yaml:"page_limit"`
	Timeout           time.Duration `yaml:"timeout"`
}

// BinanceFetcher pages spot klines from the public REST API.
type BinanceFetcher struct {
	client    *binance.Client
	limiter   *rate.Limiter
	pageLimit int
	loc       *time.Location
	logger    *zap.Logger
}

func NewBinanceFetcher(cfg BinanceConfig, loc *time.Location, logger *zap.Logger) *BinanceFetcher {
	client := binance.NewClient("", "")
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	limit := cfg.PageLimit
	if limit <= 0 || limit > MaxKlinesPerPage {
		limit = MaxKlinesPerPage
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BinanceFetcher{
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		pageLimit: limit,
		loc:       loc,
		logger:    logger,
	}
}

// FetchRange returns every kline opening in [from, to). Each page starts one
// millisecond after the previous page's last open time.
func (f *BinanceFetcher) FetchRange(ctx context.Context, symbol, interval string, from, to time.Time) ([]Kline, error) {
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("%w: %s %s", ErrOpenRange, symbol, interval)
	}
	start := from.UnixMilli()
	end := to.UnixMilli() - 1
	var out []Kline
	for start <= end {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := f.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(start).
			EndTime(end).
			Limit(f.pageLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch klines %s %s from %d: %w", symbol, interval, start, err)
		}
		if len(page) == 0 {
			break
		}
		for _, k := range page {
			out = append(out, Kline{
				OpenTimeMs:               k.OpenTime,
				Open:                     k.Open,
				High:                     k.High,
				Low:                      k.Low,
				Close:                    k.Close,
				Volume:                   k.Volume,
				CloseTimeMs:              k.CloseTime,
				QuoteAssetVolume:         k.QuoteAssetVolume,
				NumberOfTrades:           k.TradeNum,
				TakerBuyBaseAssetVolume:  k.TakerBuyBaseAssetVolume,
				TakerBuyQuoteAssetVolume: k.TakerBuyQuoteAssetVolume,
			})
		}
		last := page[len(page)-1].OpenTime
		f.logger.Debug("Fetched kline page",
			zap.String("symbol", symbol),
			zap.Int("rows", len(page)),
			zap.Time("last_open", time.UnixMilli(last).In(f.loc)),
		)
		start = last + 1
	}
	f.logger.Info("Fetched klines",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("rows", len(out)),
	)
	return out, nil
}

// Bars implements Provider.
func (f *BinanceFetcher) Bars(ctx context.Context, symbol, interval string, from, to time.Time) ([]engine.Bar, error) {
	klines, err := f.FetchRange(ctx, symbol, interval, from, to)
	if err != nil {
		return nil, err
	}
	return KlinesToBars(klines, f.loc)
}
