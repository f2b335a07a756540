package marketdata

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"ladder-backtest/services/engine"
)

var seoul = engine.LoadLocation(engine.DefaultTimezone)

// 2024-05-01 00:00 KST
const may1KSTms = 1714489200000

func TestReadBinanceRowsWithoutHeader(t *testing.T) {
	in := strings.Join([]string{
		"1714492800000,1.2,1.4,1.1,1.3,500,1714496399999,600,10,1,1,0",
		"1714489200000,1.0,1.3,0.9,1.2,400,1714492799999,500,12,1,1,0",
	}, "\n")
	bars, stats, err := NewCSVLoader(seoul, nil).Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 2, stats.Parsed)

	first := bars[0]
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, seoul), first.Timestamp)
	assert.Equal(t, "Asia/Seoul", first.Timestamp.Location().String())
	assert.True(t, first.Open.Equal(engineDec("1.0")))
	assert.True(t, first.Volume.Equal(engineDec("400")))
}

func TestReadHeaderByName(t *testing.T) {
	in := "close,open_time,high,low,open,volume\n10.5,1714489200000,11,9,10,77\n"
	bars, _, err := NewCSVLoader(time.UTC, nil).Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].Close.Equal(engineDec("10.5")))
	assert.True(t, bars[0].Open.Equal(engineDec("10")))
}

func TestReadSkipsMalformedAndDeduplicates(t *testing.T) {
	in := strings.Join([]string{
		"\ufefftimestamp,open,high,low,close,volume",
		"1714489200000,1,1,1,1,1",
		"not-a-time,1,1,1,1,1",
		"1714489200000,2,2,2,2,2",
		"1714492800000,3,3,3",
		"1714492800000,x,3,3,3,3",
	}, "\n")
	bars, stats, err := NewCSVLoader(time.UTC, nil).Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].Open.Equal(engineDec("2")), "last duplicate wins")
	assert.Equal(t, 5, stats.Rows)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestReadUTF16WithBOM(t *testing.T) {
	plain := "open_time,open,high,low,close,volume\r\n1714489200000,5,6,4,5.5,9\r\n"
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(plain)
	require.NoError(t, err)

	bars, _, err := NewCSVLoader(time.UTC, nil).Read(bytes.NewReader([]byte(encoded)))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].Close.Equal(engineDec("5.5")))
}

func TestReadEpochUnits(t *testing.T) {
	want := time.UnixMilli(may1KSTms).UTC()
	for _, raw := range []string{"1714489200", "1714489200000", "1714489200000000"} {
		bars, _, err := NewCSVLoader(time.UTC, nil).Read(strings.NewReader(raw + ",1,1,1,1,1\n"))
		require.NoError(t, err)
		assert.Equal(t, want, bars[0].Timestamp, raw)
	}
}

func TestReadEmptyInput(t *testing.T) {
	_, _, err := NewCSVLoader(time.UTC, nil).Read(strings.NewReader("open_time,open,high,low,close\n"))
	assert.Error(t, err)
}

func TestFileProviderFiltersRange(t *testing.T) {
	klines := hourlyKlines(may1KSTms, 48)
	path := filepath.Join(t.TempDir(), "klines.csv")
	require.NoError(t, SaveKlinesCSV(path, klines, seoul))

	p := FileProvider{Path: path, Loader: NewCSVLoader(seoul, nil)}
	from := time.Date(2024, 5, 2, 0, 0, 0, 0, seoul)
	bars, err := p.Bars(t.Context(), "PEPEUSDT", "1h", from, from.Add(6*time.Hour))
	require.NoError(t, err)
	require.Len(t, bars, 6)
	assert.Equal(t, from, bars[0].Timestamp)

	all, err := p.Bars(t.Context(), "", "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 48)
}

func TestWriteKlinesCSVReadableTime(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteKlinesCSV(&buf, hourlyKlines(may1KSTms, 1), seoul))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(KlineHeader, ","), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",2024-05-01 00:00:00"), lines[1])
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := NewCSVLoader(time.UTC, nil).Load(filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
