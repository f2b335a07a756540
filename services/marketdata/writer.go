package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// KlineHeader is the column layout written by WriteKlinesCSV.
var KlineHeader = []string{
	"open_time", "open", "high", "low", "close", "volume",
	"close_time", "quote_asset_volume", "number_of_trades",
	"taker_buy_base_asset_volume", "taker_buy_quote_asset_volume", "ignore",
	"readable_time",
}

// WriteKlinesCSV writes raw kline columns plus the open time rendered in loc.
func WriteKlinesCSV(w io.Writer, klines []Kline, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(KlineHeader); err != nil {
		return err
	}
	for _, k := range klines {
		rec := []string{
			strconv.FormatInt(k.OpenTimeMs, 10),
			k.Open, k.High, k.Low, k.Close, k.Volume,
			strconv.FormatInt(k.CloseTimeMs, 10),
			k.QuoteAssetVolume,
			strconv.FormatInt(k.NumberOfTrades, 10),
			k.TakerBuyBaseAssetVolume,
			k.TakerBuyQuoteAssetVolume,
			"0",
			time.UnixMilli(k.OpenTimeMs).In(loc).Format("2006-01-02 15:04:05"),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveKlinesCSV writes klines to path.
func SaveKlinesCSV(path string, klines []Kline, loc *time.Location) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := WriteKlinesCSV(f, klines, loc); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
