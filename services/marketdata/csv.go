package marketdata

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"ladder-backtest/services/engine"
)

// LoadStats counts what happened to the input rows.
type LoadStats struct {
	Rows       int
	Parsed     int
	Skipped    int
	Duplicates int
}

// CSVLoader reads Binance kline CSV exports.
type CSVLoader struct {
	loc    *time.Location
	logger *zap.Logger
}

func NewCSVLoader(loc *time.Location, logger *zap.Logger) *CSVLoader {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVLoader{loc: loc, logger: logger}
}

// Load reads the file at path.
func (l *CSVLoader) Load(path string) ([]engine.Bar, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	bars, stats, err := l.Read(f)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", path, err)
	}
	l.logger.Info("Loaded bars from CSV",
		zap.String("path", path),
		zap.Int("bars", len(bars)),
		zap.Int("skipped", stats.Skipped),
		zap.Int("duplicates", stats.Duplicates),
	)
	return bars, stats, nil
}

type columns struct{ ts, open, high, low, close, volume int }

var positional = columns{0, 1, 2, 3, 4, 5}

// Read parses kline rows. A header row is optional; when present, columns
// are located by name. UTF-16 input is accepted when it carries a BOM.
// Output is sorted by time and keeps the last row of a repeated timestamp.
func (l *CSVLoader) Read(r io.Reader) ([]engine.Bar, LoadStats, error) {
	var stats LoadStats
	br := bufio.NewReader(r)
	var src io.Reader = br
	if b, _ := br.Peek(2); len(b) == 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		src = transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	}

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	cols := positional
	bars := make([]engine.Bar, 0, 1_000)
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.Rows++
			stats.Skipped++
			continue
		}
		if len(rec) > 0 {
			rec[0] = strings.TrimPrefix(strings.TrimSpace(rec[0]), "\ufeff")
		}
		if first {
			first = false
			if h, ok := headerColumns(rec); ok {
				cols = h
				continue
			}
		}
		stats.Rows++

		bar, ok := l.parseRow(rec, cols)
		if !ok {
			stats.Skipped++
			continue
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	uniq := bars[:0]
	for _, b := range bars {
		if n := len(uniq); n > 0 && uniq[n-1].Timestamp.Equal(b.Timestamp) {
			uniq[n-1] = b
			stats.Duplicates++
			continue
		}
		uniq = append(uniq, b)
	}
	stats.Parsed = len(uniq)
	if len(uniq) == 0 {
		return nil, stats, fmt.Errorf("no bars parsed from %d rows", stats.Rows)
	}
	return uniq, stats, nil
}

func headerColumns(rec []string) (columns, bool) {
	if len(rec) == 0 {
		return columns{}, false
	}
	if _, err := strconv.ParseInt(rec[0], 10, 64); err == nil {
		return columns{}, false
	}
	cols := columns{-1, -1, -1, -1, -1, -1}
	for i, name := range rec {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "open_time", "timestamp", "timestamp_ms", "open_time_ms":
			cols.ts = i
		case "open":
			cols.open = i
		case "high":
			cols.high = i
		case "low":
			cols.low = i
		case "close":
			cols.close = i
		case "volume":
			cols.volume = i
		}
	}
	if cols.ts < 0 || cols.open < 0 || cols.high < 0 || cols.low < 0 || cols.close < 0 {
		// unknown header names, fall back to Binance column order
		return positional, true
	}
	return cols, true
}

func (l *CSVLoader) parseRow(rec []string, c columns) (engine.Bar, bool) {
	need := max(c.ts, c.open, c.high, c.low, c.close)
	if len(rec) <= need {
		return engine.Bar{}, false
	}
	raw, err := strconv.ParseInt(strings.TrimSpace(rec[c.ts]), 10, 64)
	if err != nil {
		return engine.Bar{}, false
	}
	var bar engine.Bar
	bar.Timestamp = epochToTime(raw).In(l.loc)
	for _, f := range []struct {
		dst *decimal.Decimal
		idx int
	}{{&bar.Open, c.open}, {&bar.High, c.high}, {&bar.Low, c.low}, {&bar.Close, c.close}} {
		v, err := decimal.NewFromString(strings.TrimSpace(rec[f.idx]))
		if err != nil {
			return engine.Bar{}, false
		}
		*f.dst = v
	}
	if c.volume >= 0 && c.volume < len(rec) {
		if v, err := decimal.NewFromString(strings.TrimSpace(rec[c.volume])); err == nil {
			bar.Volume = v
		}
	}
	return bar, true
}

// epochToTime accepts seconds, milliseconds or microseconds since the epoch.
func epochToTime(v int64) time.Time {
	switch {
	case v >= 1e14:
		return time.UnixMicro(v)
	case v < 1e11:
		return time.Unix(v, 0)
	default:
		return time.UnixMilli(v)
	}
}

// FileProvider serves bars from a CSV file, ignoring symbol and interval.
type FileProvider struct {
	Path   string
	Loader *CSVLoader
}

func (p FileProvider) Bars(_ context.Context, _, _ string, from, to time.Time) ([]engine.Bar, error) {
	bars, _, err := p.Loader.Load(p.Path)
	if err != nil {
		return nil, err
	}
	if from.IsZero() && to.IsZero() {
		return bars, nil
	}
	out := bars[:0]
	for _, b := range bars {
		if (!from.IsZero() && b.Timestamp.Before(from)) || (!to.IsZero() && !b.Timestamp.Before(to)) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
