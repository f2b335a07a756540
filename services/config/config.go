// Package config loads the YAML run configuration and applies environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"ladder-backtest/services/clickhouse"
	"ladder-backtest/services/engine"
	"ladder-backtest/services/marketdata"
	"ladder-backtest/services/tracing"
)

// Data sources.
const (
	SourceCSV        = "csv"
	SourceClickHouse = "clickhouse"
	SourceBinance    = "binance"
)

type RungConfig struct {
	Direction  string `yaml:"direction"`
	Notional   string `yaml:"notional"`
	TakeProfit string `yaml:"take_profit"`
	StopLoss   string `yaml:"stop_loss"`
}

type EngineConfig struct {
	Ladder         []RungConfig `yaml:"ladder"`
	InitialCapital string       `yaml:"initial_capital"`
	FeeRate        string       `yaml:"fee_rate"`
	MaxAccounts    int          `yaml:"max_accounts"`
	HorizonDays    int          `yaml:"horizon_days"`
	// AnchorTime is HH:MM local time.
	AnchorTime string `yaml:"anchor_time"`
	Timezone   string `yaml:"timezone"`
}

type DataConfig struct {
	Source   string `yaml:"source"`
	Path     string `yaml:"path"`
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval"`
	// Month (YYYYMM) wins over From/To.
	Month string `yaml:"month"`
	From  string `yaml:"from"`
	To    string `yaml:"to"`
}

type ReportConfig struct {
	OutputDir string   `yaml:"output_dir"`
	Formats   []string `yaml:"formats"`
	// Tail is how many trades the console summary prints.
	Tail int `yaml:"tail"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Workers int    `yaml:"workers"`
	// MaxJobs bounds queued plus running jobs.
	MaxJobs int `yaml:"max_jobs"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Environment string                   `yaml:"environment"`
	Engine      EngineConfig             `yaml:"engine"`
	Data        DataConfig               `yaml:"data"`
	ClickHouse  clickhouse.Config        `yaml:"clickhouse"`
	Binance     marketdata.BinanceConfig `yaml:"binance"`
	Report      ReportConfig             `yaml:"report"`
	Server      ServerConfig             `yaml:"server"`
	Logging     LoggingConfig            `yaml:"logging"`
	Tracing     tracing.Config           `yaml:"tracing"`
}

// Default mirrors engine.DefaultConfig.
func Default() *Config {
	def := engine.DefaultConfig()
	ladder := make([]RungConfig, len(def.Ladder))
	for i, r := range def.Ladder {
		ladder[i] = RungConfig{
			Direction:  r.Direction.String(),
			Notional:   r.NotionalSize.String(),
			TakeProfit: r.TakeProfitPct.String(),
			StopLoss:   r.StopLossPct.String(),
		}
	}
	return &Config{
		Environment: "dev",
		Engine: EngineConfig{
			Ladder:         ladder,
			InitialCapital: def.InitialCapital.String(),
			FeeRate:        def.FeeRate.String(),
			MaxAccounts:    def.MaxAccounts,
			HorizonDays:    def.HorizonDays,
			AnchorTime:     "00:00",
			Timezone:       engine.DefaultTimezone,
		},
		Data: DataConfig{
			Source:   SourceCSV,
			Symbol:   "PEPEUSDT",
			Interval: "1h",
		},
		Binance: marketdata.BinanceConfig{
			BaseURL:           "https://api.binance.com",
			RequestsPerSecond: 5,
			PageLimit:         marketdata.MaxKlinesPerPage,
			Timeout:           30 * time.Second,
		},
		Report: ReportConfig{
			OutputDir: "reports",
			Formats:   []string{"csv"},
			Tail:      20,
		},
		Server: ServerConfig{
			Addr:    ":8080",
			Workers: 2,
			MaxJobs: 64,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads an optional .env file and an optional YAML file on top of the
// defaults, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("CLICKHOUSE_DSN", &c.ClickHouse.DSN)
	set("CLICKHOUSE_ADDR", &c.ClickHouse.Addr)
	set("CLICKHOUSE_USER", &c.ClickHouse.Username)
	set("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	set("BINANCE_BASE_URL", &c.Binance.BaseURL)
	set("LOG_LEVEL", &c.Logging.Level)
	set("LADDER_ENV", &c.Environment)
	if v, ok := lookup("LOG_TRACING_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = b
		}
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Data.Source {
	case SourceCSV:
	case SourceClickHouse, SourceBinance:
		if c.Data.Symbol == "" {
			errs = append(errs, errors.New("data.symbol is required"))
		}
		if c.Data.Interval == "" {
			errs = append(errs, errors.New("data.interval is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("data.source must be csv, clickhouse or binance, got %q", c.Data.Source))
	}
	if c.Server.Workers <= 0 {
		errs = append(errs, fmt.Errorf("server.workers must be positive, got %d", c.Server.Workers))
	}
	if c.Report.Tail < 0 {
		errs = append(errs, fmt.Errorf("report.tail must not be negative, got %d", c.Report.Tail))
	}
	from, to, err := c.Data.Range()
	switch {
	case err != nil:
		errs = append(errs, err)
	case c.Data.Source == SourceBinance && (from.IsZero() || to.IsZero()):
		errs = append(errs, errors.New("data.month or both data.from and data.to are required for the binance source"))
	}
	if _, err := c.EngineConfig(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EngineConfig converts the engine section and validates it.
func (c *Config) EngineConfig() (engine.Config, error) {
	e := c.Engine
	var errs []error
	dec := func(field, v string) decimal.Decimal {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("engine.%s: invalid decimal %q", field, v))
		}
		return d
	}

	out := engine.Config{
		InitialCapital: dec("initial_capital", e.InitialCapital),
		FeeRate:        dec("fee_rate", e.FeeRate),
		MaxAccounts:    e.MaxAccounts,
		HorizonDays:    e.HorizonDays,
	}
	for i, r := range e.Ladder {
		dir, err := engine.ParseDirection(r.Direction)
		if err != nil {
			errs = append(errs, fmt.Errorf("engine.ladder[%d]: %w", i, err))
		}
		out.Ladder = append(out.Ladder, engine.RungSpec{
			Direction:     dir,
			NotionalSize:  dec(fmt.Sprintf("ladder[%d].notional", i), r.Notional),
			TakeProfitPct: dec(fmt.Sprintf("ladder[%d].take_profit", i), r.TakeProfit),
			StopLossPct:   dec(fmt.Sprintf("ladder[%d].stop_loss", i), r.StopLoss),
		})
	}

	anchor, err := engine.ParseAnchor(e.AnchorTime)
	if err != nil {
		errs = append(errs, fmt.Errorf("engine.anchor_time: %w", err))
	}
	out.AnchorOffset = anchor

	loc, err := time.LoadLocation(e.Timezone)
	switch {
	case err == nil:
		out.Location = loc
	case e.Timezone == engine.DefaultTimezone:
		out.Location = engine.LoadLocation(e.Timezone)
	default:
		errs = append(errs, fmt.Errorf("engine.timezone: %w", err))
	}

	if len(errs) > 0 {
		return engine.Config{}, errors.Join(errs...)
	}
	if err := out.Validate(); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// Range resolves the data window. Zero times mean unbounded.
func (d DataConfig) Range() (time.Time, time.Time, error) {
	if d.Month != "" {
		return marketdata.MonthRange(d.Month)
	}
	from, err := parseDate(d.From)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("data.from: %w", err)
	}
	to, err := parseDate(d.To)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("data.to: %w", err)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("data.from %s is not before data.to %s", d.From, d.To)
	}
	return from, to, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD or RFC3339", s)
}
