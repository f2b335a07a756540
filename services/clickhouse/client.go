// Package clickhouse stores bars and ladder trades in ClickHouse.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	chproto "github.com/ClickHouse/clickhouse-go/v2/lib/proto"
	"go.uber.org/zap"
)

type Config struct {
	DSN         string        `yaml:"dsn"`
	Addr        string        `yaml:"addr"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	BarsTable   string        `yaml:"bars_table"`
	TradesTable string        `yaml:"trades_table"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "localhost:9000"
	}
	if c.Database == "" {
		c.Database = "backtest"
	}
	if c.Username == "" {
		c.Username = "default"
	}
	if c.BarsTable == "" {
		c.BarsTable = "bars"
	}
	if c.TradesTable == "" {
		c.TradesTable = "ladder_trades"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c Config) validate() error {
	for _, name := range []string{c.Database, c.BarsTable, c.TradesTable} {
		if !identRe.MatchString(name) {
			return fmt.Errorf("invalid clickhouse identifier %q", name)
		}
	}
	return nil
}

// Options builds driver options, preferring the DSN when one is set.
func (c Config) Options() (*clickhouse.Options, error) {
	c = c.withDefaults()
	if c.DSN != "" {
		opts, err := clickhouse.ParseDSN(c.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
		}
		if opts.Auth.Database == "" {
			opts.Auth.Database = c.Database
		}
		return opts, nil
	}
	return &clickhouse.Options{
		Addr: []string{c.Addr},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
		DialTimeout: c.DialTimeout,
	}, nil
}

// Store wraps a native ClickHouse connection.
type Store struct {
	conn   driver.Conn
	cfg    Config
	loc    *time.Location
	logger *zap.Logger
}

// Open connects and pings. Bars read back are converted to loc.
func Open(ctx context.Context, cfg Config, loc *time.Location, logger *zap.Logger) (*Store, error) {
	cfg = cfg.withDefaults()
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	cfg.Database = opts.Auth.Database
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{conn: conn, cfg: cfg, loc: loc, logger: logger}, nil
}

func (s *Store) Close() error { return s.conn.Close() }

// EnsureSchema creates the database, bars and trades tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL(s.cfg) {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func schemaDDL(c Config) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", c.Database),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			symbol String,
			interval LowCardinality(String),
			open_time_ms UInt64,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			quote_volume Float64,
			trades UInt64,
			taker_base Float64,
			taker_quote Float64,
			close_time_ms UInt64,
			ingested_at DateTime64(3),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, interval, open_time_ms)
		SETTINGS index_granularity = 8192
	`, c.Database, c.BarsTable),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			job_id String,
			symbol LowCardinality(String),
			account_id UInt32,
			cohort_date Date,
			rung UInt8,
			direction LowCardinality(String),
			entry_time DateTime64(3),
			entry_price Decimal(38, 18),
			exit_time DateTime64(3),
			exit_price Decimal(38, 18),
			outcome LowCardinality(String),
			notional Decimal(38, 18),
			fees Decimal(38, 18),
			pnl Decimal(38, 18),
			capital_after Decimal(38, 18),
			inserted_at DateTime64(3)
		)
		ENGINE = MergeTree
		ORDER BY (job_id, account_id, rung)
	`, c.Database, c.TradesTable),
	}
}

// ExplainError renders server exceptions with their code and name.
func ExplainError(err error) string {
	var ex *chproto.Exception
	if errors.As(err, &ex) {
		return fmt.Sprintf("ClickHouse [%d] %s (%s)", ex.Code, ex.Message, ex.Name)
	}
	return err.Error()
}
