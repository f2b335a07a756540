package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ladder-backtest/services/engine"
)

func TestDefaultMatchesEngine(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	got, err := cfg.EngineConfig()
	require.NoError(t, err)
	want := engine.DefaultConfig()

	assert.Equal(t, want.Snapshot().ConfigHash, got.Snapshot().ConfigHash)
	assert.Equal(t, "Asia/Seoul", got.Location.String())
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ladder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
engine:
  fee_rate: "0.001"
  max_accounts: 5
  horizon_days: 0
  anchor_time: "09:30"
  timezone: UTC
data:
  source: binance
  symbol: BTCUSDT
  month: "202405"
binance:
  timeout: 5s
report:
  formats: [csv, parquet]
server:
  workers: 4
`)
	t.Setenv("CLICKHOUSE_PASSWORD", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.001", cfg.Engine.FeeRate)
	assert.Equal(t, 5, cfg.Engine.MaxAccounts)
	assert.Equal(t, 0, cfg.Engine.HorizonDays)
	assert.Len(t, cfg.Engine.Ladder, engine.LadderLength)
	assert.Equal(t, "1h", cfg.Data.Interval)
	assert.Equal(t, 5*time.Second, cfg.Binance.Timeout)
	assert.Equal(t, []string{"csv", "parquet"}, cfg.Report.Formats)
	assert.Equal(t, 4, cfg.Server.Workers)
	assert.Equal(t, "secret", cfg.ClickHouse.Password)

	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, ec.AnchorOffset)
	assert.Equal(t, time.UTC, ec.Location)

	from, to, err := cfg.Data.Range()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), to)
}

func TestLoadCustomLadder(t *testing.T) {
	path := writeFile(t, `
engine:
  ladder:
    - {direction: long,  notional: 100, take_profit: "0.1", stop_loss: "0.05"}
    - {direction: short, notional: 200, take_profit: "0.1", stop_loss: "0.05"}
    - {direction: long,  notional: 300, take_profit: "0.1", stop_loss: "0.05"}
    - {direction: short, notional: 400, take_profit: "0.1", stop_loss: "0.05"}
    - {direction: long,  notional: 500, take_profit: "0.1", stop_loss: "0.05"}
    - {direction: s,     notional: 600, take_profit: "0.1", stop_loss: "0.05"}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	ec, err := cfg.EngineConfig()
	require.NoError(t, err)
	require.Len(t, ec.Ladder, 6)
	assert.Equal(t, engine.Short, ec.Ladder[5].Direction)
	assert.Equal(t, "600", ec.Ladder[5].NotionalSize.String())
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Data.Source = "ftp"
	cfg.Server.Workers = 0
	cfg.Engine.FeeRate = "cheap"
	cfg.Engine.Timezone = "Mars/Olympus"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.source")
	assert.Contains(t, err.Error(), "server.workers")
	assert.Contains(t, err.Error(), "engine.fee_rate")
	assert.Contains(t, err.Error(), "engine.timezone")
}

func TestValidateBinanceNeedsWindow(t *testing.T) {
	cfg := Default()
	cfg.Data.Source = SourceBinance
	cfg.Data.Symbol = "PEPEUSDT"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.month")

	cfg.Data.From = "2024-05-01"
	assert.Error(t, cfg.Validate())

	cfg.Data.To = "2024-05-31"
	assert.NoError(t, cfg.Validate())

	cfg.Data = DataConfig{Source: SourceClickHouse, Symbol: "PEPEUSDT", Interval: "1h"}
	assert.NoError(t, cfg.Validate(), "clickhouse reads an open window")
}

func TestEngineConfigInvalidWrapsSentinel(t *testing.T) {
	cfg := Default()
	cfg.Engine.Ladder = cfg.Engine.Ladder[:3]
	_, err := cfg.EngineConfig()
	assert.True(t, errors.Is(err, engine.ErrConfigInvalid))
}

func TestDataRange(t *testing.T) {
	tests := []struct {
		name    string
		data    DataConfig
		wantErr bool
	}{
		{"unbounded", DataConfig{}, false},
		{"dates", DataConfig{From: "2024-05-01", To: "2024-05-31"}, false},
		{"rfc3339", DataConfig{From: "2024-05-01T00:00:00+09:00"}, false},
		{"reversed", DataConfig{From: "2024-05-31", To: "2024-05-01"}, true},
		{"garbage", DataConfig{To: "yesterday"}, true},
		{"bad month", DataConfig{Month: "2024"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.data.Range()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CLICKHOUSE_DSN":      "clickhouse://ch:9000/prod",
		"BINANCE_BASE_URL":    "http://localhost:1234",
		"LOG_LEVEL":           "debug",
		"LOG_TRACING_ENABLED": "true",
		"CLICKHOUSE_USER":     "",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "clickhouse://ch:9000/prod", cfg.ClickHouse.DSN)
	assert.Equal(t, "http://localhost:1234", cfg.Binance.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Empty(t, cfg.ClickHouse.Username)
}
