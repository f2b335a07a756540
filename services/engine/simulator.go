package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Observer receives simulation events as they happen.
type Observer interface {
	AccountSpawned(id int, at time.Time)
	TradeRecorded(rec TradeRecord)
	AccountClosed(summary AccountSummary)
}

type nopObserver struct{}

func (nopObserver) AccountSpawned(int, time.Time) {}
func (nopObserver) TradeRecorded(TradeRecord)     {}
func (nopObserver) AccountClosed(AccountSummary)  {}

type Option func(*Simulator)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Simulator) {
		if o != nil {
			s.observer = o
		}
	}
}

// Simulator runs the day-stepped ladder simulation. A Simulator holds no
// per-run state and may be reused, but one Run must not be shared between
// goroutines.
type Simulator struct {
	cfg      Config
	logger   *zap.Logger
	observer Observer
}

// NewSimulator validates cfg and fails fast with ErrConfigInvalid.
func NewSimulator(cfg Config, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{cfg: cfg, logger: zap.NewNop(), observer: nopObserver{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Simulator) Config() Config { return s.cfg }

type run struct {
	*Simulator
	series   *Series
	sched    *Scheduler
	accounts []*Account
	result   *Result
}

// Run simulates every day from the first bar's calendar day through
// HorizonDays later. Events still queued at the end are returned in
// Result.Pending and their accounts stay active.
func (s *Simulator) Run(ctx context.Context, series *Series) (*Result, error) {
	r := &run{
		Simulator: s,
		series:    series,
		sched:     NewScheduler(),
		result:    &Result{},
	}
	if series.Len() == 0 {
		s.logger.Warn("Empty series, nothing to simulate")
		return r.result, nil
	}

	loc := s.cfg.Location
	first := series.At(0).Timestamp.In(loc)
	start := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)

	s.logger.Info("Starting ladder simulation",
		zap.Time("first_day", start),
		zap.Int("horizon_days", s.cfg.HorizonDays),
		zap.Int("max_accounts", s.cfg.MaxAccounts),
		zap.Int("bars", series.Len()),
	)

	for day := 0; day <= s.cfg.HorizonDays; day++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dayStart := start.AddDate(0, 0, day)
		anchor := dayStart.Add(s.cfg.AnchorOffset)
		boundary := dayStart.AddDate(0, 0, 1).Add(s.cfg.AnchorOffset)

		if len(r.accounts) < s.cfg.MaxAccounts {
			if err := r.spawn(dayStart, anchor); err != nil {
				if !errors.Is(err, ErrNoAnchorBar) {
					return nil, err
				}
				r.result.SkippedDays = append(r.result.SkippedDays, dayStart)
				s.logger.Debug("Skipping spawn", zap.Time("day", dayStart), zap.Error(err))
			}
		}
		if err := r.drain(boundary); err != nil {
			return nil, err
		}
		r.result.Days++
	}

	r.result.Pending = r.sched.Snapshot()
	for _, acct := range r.accounts {
		r.result.Accounts = append(r.result.Accounts, acct.Summary())
	}

	s.logger.Info("Ladder simulation finished",
		zap.Int("accounts", len(r.accounts)),
		zap.Int("trades", len(r.result.Trades)),
		zap.Int("pending", len(r.result.Pending)),
	)
	return r.result, nil
}

func (r *run) spawn(day, anchor time.Time) error {
	idx, ok := r.series.IndexAt(anchor)
	if !ok {
		return fmt.Errorf("%w at %s", ErrNoAnchorBar, anchor.Format(time.RFC3339))
	}
	bar := r.series.At(idx)
	acct := NewAccount(len(r.accounts)+1, day, r.cfg.InitialCapital, bar.Open, bar.Timestamp)
	r.accounts = append(r.accounts, acct)
	r.observer.AccountSpawned(acct.ID, bar.Timestamp)
	r.logger.Debug("Spawned account",
		zap.Int("account_id", acct.ID),
		zap.Time("anchor", bar.Timestamp),
		zap.String("entry_price", bar.Open.String()),
	)
	return r.schedule(acct)
}

func (r *run) drain(boundary time.Time) error {
	for {
		ev, ok := r.sched.PopDue(boundary)
		if !ok {
			return nil
		}
		acct := r.accounts[ev.AccountID-1]
		rec := acct.Settle(r.cfg.Ladder[ev.Rung-1], ev.Exit, r.cfg.FeeRate, len(r.cfg.Ladder))
		r.result.Trades = append(r.result.Trades, rec)
		r.observer.TradeRecorded(rec)

		if acct.Status == StatusClosed {
			r.observer.AccountClosed(acct.Summary())
			continue
		}
		if err := r.schedule(acct); err != nil {
			return err
		}
	}
}

// schedule resolves the account's current rung and queues it under its exit
// time. An account with no bar left after its entry is abandoned instead.
func (r *run) schedule(acct *Account) error {
	rung := r.cfg.Ladder[acct.Rung-1]
	exit, err := ResolveExit(r.series, acct.EntryPrice, acct.EntryTime, rung)
	if errors.Is(err, ErrDataExhausted) {
		acct.Abandon()
		r.logger.Debug("Abandoned account",
			zap.Int("account_id", acct.ID),
			zap.Int("rung", acct.Rung),
			zap.Time("entry_time", acct.EntryTime),
		)
		r.observer.AccountClosed(acct.Summary())
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve account %d rung %d: %w", acct.ID, acct.Rung, err)
	}
	return r.sched.Schedule(PendingEvent{
		DueAfter:   exit.Time,
		AccountID:  acct.ID,
		Rung:       acct.Rung,
		Capital:    acct.Capital,
		EntryPrice: acct.EntryPrice,
		EntryTime:  acct.EntryTime,
		Exit:       exit,
	})
}
