package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSim(t *testing.T, cfg Config) *Simulator {
	t.Helper()
	sim, err := NewSimulator(cfg)
	require.NoError(t, err)
	return sim
}

func TestRunStopLossThenNextRung(t *testing.T) {
	t0 := day0()
	bars := []Bar{
		bar(t0, "100", "100", "100", "100"),
		bar(t0.Add(time.Hour), "100", "100", "95", "97"),
		bar(t0.Add(2*time.Hour), "96", "96", "96", "96"),
	}
	cfg := DefaultConfig()
	cfg.HorizonDays = 0

	res, err := newSim(t, cfg).Run(context.Background(), mustSeries(t, bars))
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	first := res.Trades[0]
	assert.Equal(t, OutcomeStopLoss, first.Outcome)
	assert.True(t, first.ExitPrice.Equal(d("96")))
	assert.True(t, first.PnL.Equal(d("-27.0276")), first.PnL.String())

	second := res.Trades[1]
	assert.Equal(t, 2, second.Rung)
	assert.Equal(t, Short, second.Direction)
	assert.True(t, second.EntryPrice.Equal(d("96")))
	assert.Equal(t, t0.Add(time.Hour), second.EntryTime)
	assert.Equal(t, OutcomeNoTrigger, second.Outcome)

	// rung 3 finds no bar after 02:00
	require.Len(t, res.Accounts, 1)
	acct := res.Accounts[0]
	assert.Equal(t, CloseDataExhausted, acct.CloseReason)
	assert.Equal(t, 3, acct.LastRung)
	assert.True(t, acct.FinalCapital.Equal(cfg.InitialCapital.Add(first.PnL).Add(second.PnL)))
	assert.Empty(t, res.Pending)
}

func TestRunStopsSpawningAtCap(t *testing.T) {
	bars := flatBars(day0(), 32*24, "100")
	cfg := DefaultConfig()

	res, err := newSim(t, cfg).Run(context.Background(), mustSeries(t, bars))
	require.NoError(t, err)

	assert.Equal(t, 31, res.Days)
	require.Len(t, res.Accounts, 30)
	assert.Len(t, res.Trades, 30*LadderLength)

	// six fee-only rungs per account
	want := d("99994.3108")
	for _, acct := range res.Accounts {
		assert.Equal(t, CloseLadderExhausted, acct.CloseReason)
		assert.True(t, acct.FinalCapital.Equal(want), "account %d: %s", acct.AccountID, acct.FinalCapital)
	}
	last := res.Accounts[29]
	assert.Equal(t, day0().AddDate(0, 0, 29), last.CohortDate)

	cfg.MaxAccounts = 31
	res, err = newSim(t, cfg).Run(context.Background(), mustSeries(t, bars))
	require.NoError(t, err)
	assert.Len(t, res.Accounts, 31)
}

func TestRunSkipsDayWithoutAnchorBar(t *testing.T) {
	bars := flatBars(day0(), 5*24, "100")
	// drop day 2's midnight bar
	missing := day0().AddDate(0, 0, 2)
	kept := bars[:0]
	for _, b := range bars {
		if !b.Timestamp.Equal(missing) {
			kept = append(kept, b)
		}
	}
	cfg := DefaultConfig()
	cfg.HorizonDays = 3

	res, err := newSim(t, cfg).Run(context.Background(), mustSeries(t, kept))
	require.NoError(t, err)
	require.Len(t, res.Accounts, 3)
	assert.Equal(t, []time.Time{missing}, res.SkippedDays)
	assert.Equal(t, 3, res.Accounts[2].AccountID)
	assert.Equal(t, day0().AddDate(0, 0, 3), res.Accounts[2].CohortDate)
}

func TestRunLeavesFutureEventsPending(t *testing.T) {
	t0 := day0()
	bars := []Bar{
		bar(t0, "100", "100", "100", "100"),
		bar(t0.Add(time.Hour), "100", "100", "100", "100"),
		bar(t0.AddDate(0, 0, 2), "100", "100", "100", "100"),
	}
	cfg := DefaultConfig()
	cfg.HorizonDays = 0

	res, err := newSim(t, cfg).Run(context.Background(), mustSeries(t, bars))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.Len(t, res.Pending, 1)

	ev := res.Pending[0]
	assert.Equal(t, 2, ev.Rung)
	assert.Equal(t, t0.Add(time.Hour), ev.EntryTime)
	assert.Equal(t, t0.AddDate(0, 0, 2), ev.DueAfter)
	assert.Equal(t, OutcomeNoTrigger, ev.Exit.Outcome)
	assert.True(t, ev.Capital.Equal(res.Trades[0].CapitalAfter))
	assert.Equal(t, StatusActive, res.Accounts[0].Status)
}

func TestRunCarriedOverRungMergesWithLaterCohort(t *testing.T) {
	t0 := day0()
	var bars []Bar
	for i := 0; i < 24; i++ {
		bars = append(bars, bar(t0.Add(time.Duration(i)*time.Hour), "100", "100", "100", "100"))
	}
	for i := 24; i < 5*24; i++ {
		bars = append(bars, bar(t0.Add(time.Duration(i)*time.Hour), "110", "110", "110", "110"))
	}
	// account 2 (entry 110) stops out on its own day, account 1 (entry 100)
	// only reaches its target two days later
	bars[24+3] = bar(t0.Add(27*time.Hour), "110", "110", "105", "106")
	tpAt := t0.AddDate(0, 0, 3).Add(5 * time.Hour)
	bars[3*24+5] = bar(tpAt, "110", "117", "110", "112")

	cfg := DefaultConfig()
	cfg.MaxAccounts = 2
	cfg.HorizonDays = 3

	res, err := newSim(t, cfg).Run(context.Background(), mustSeries(t, bars))
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)

	first := res.Trades[0]
	assert.Equal(t, 2, first.AccountID)
	assert.Equal(t, OutcomeStopLoss, first.Outcome)
	assert.Equal(t, t0.Add(27*time.Hour), first.ExitTime)

	var acct1 []TradeRecord
	for _, rec := range res.Trades {
		if rec.AccountID == 1 {
			acct1 = append(acct1, rec)
		}
	}
	require.Len(t, acct1, 1)
	assert.Equal(t, OutcomeTakeProfit, acct1[0].Outcome)
	assert.Equal(t, tpAt, acct1[0].ExitTime)
	assert.True(t, acct1[0].ExitPrice.Equal(d("116")))
	assert.Equal(t, CloseProfit, res.Accounts[0].CloseReason)

	assertExitOrder(t, res.Trades)
}

// assertExitOrder checks that trades were booked in (exit time, account) order.
func assertExitOrder(t *testing.T, trades []TradeRecord) {
	t.Helper()
	for i := 1; i < len(trades); i++ {
		prev, rec := trades[i-1], trades[i]
		inOrder := prev.ExitTime.Before(rec.ExitTime) ||
			(prev.ExitTime.Equal(rec.ExitTime) && prev.AccountID < rec.AccountID)
		assert.True(t, inOrder, "trade %d (account %d, exit %s) booked after account %d exit %s",
			i, rec.AccountID, rec.ExitTime, prev.AccountID, prev.ExitTime)
	}
}

func TestRunInvariantsOnWavySeries(t *testing.T) {
	bars := wavyBars(day0(), 40*24)
	cfg := DefaultConfig()

	res, err := newSim(t, cfg).Run(context.Background(), mustSeries(t, bars))
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)

	assertExitOrder(t, res.Trades)

	byAccount := make(map[int][]TradeRecord)
	for _, rec := range res.Trades {
		byAccount[rec.AccountID] = append(byAccount[rec.AccountID], rec)
	}

	for _, acct := range res.Accounts {
		recs := byAccount[acct.AccountID]
		require.LessOrEqual(t, len(recs), LadderLength)

		capital := cfg.InitialCapital
		for k, rec := range recs {
			assert.Equal(t, k+1, rec.Rung)
			assert.Equal(t, cfg.Ladder[k].Direction, rec.Direction)
			assert.True(t, rec.ExitTime.After(rec.EntryTime))
			if k > 0 {
				assert.Equal(t, recs[k-1].ExitTime, rec.EntryTime)
				assert.True(t, recs[k-1].ExitPrice.Equal(rec.EntryPrice))
				assert.False(t, recs[k-1].PnL.IsPositive(), "account continued after a profit")
			}
			capital = capital.Add(rec.PnL)
			assert.True(t, rec.CapitalAfter.Equal(capital))
		}
		assert.True(t, acct.FinalCapital.Equal(capital), "account %d capital", acct.AccountID)

		if acct.Status == StatusClosed && acct.CloseReason != CloseDataExhausted {
			last := recs[len(recs)-1]
			assert.True(t, last.PnL.IsPositive() || last.Rung == LadderLength)
		}
	}
}

func TestResultJSONRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HorizonDays = 5
	res, err := newSim(t, cfg).Run(context.Background(), mustSeries(t, wavyBars(day0(), 5*24)))
	require.NoError(t, err)
	require.NotEmpty(t, res.Accounts)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded Result
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Len(t, decoded.Accounts, len(res.Accounts))
	for i, acct := range res.Accounts {
		assert.Equal(t, acct.Status, decoded.Accounts[i].Status)
		assert.Equal(t, acct.CloseReason, decoded.Accounts[i].CloseReason)
	}
	for i, rec := range res.Trades {
		assert.Equal(t, rec.Outcome, decoded.Trades[i].Outcome)
		assert.Equal(t, rec.Direction, decoded.Trades[i].Direction)
	}
	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
}

func TestEnumsRejectUnknownText(t *testing.T) {
	var o Outcome
	assert.Error(t, o.UnmarshalText([]byte("MAYBE")))
	var s AccountStatus
	assert.Error(t, s.UnmarshalText([]byte("paused")))
	var r CloseReason
	assert.Error(t, r.UnmarshalText([]byte("bored")))
	require.NoError(t, r.UnmarshalText(nil))
	assert.Equal(t, CloseNone, r)
}

func TestRunZeroAccounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAccounts = 0
	res, err := newSim(t, cfg).Run(context.Background(), mustSeries(t, flatBars(day0(), 48, "1")))
	require.NoError(t, err)
	assert.Empty(t, res.Accounts)
	assert.Empty(t, res.Trades)
}

func TestRunHonoursAnchorOffset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HorizonDays = 1
	cfg.AnchorOffset = 9 * time.Hour

	res, err := newSim(t, cfg).Run(context.Background(), mustSeries(t, flatBars(day0(), 3*24, "10")))
	require.NoError(t, err)
	require.Len(t, res.Trades, 2*LadderLength)
	assert.Equal(t, day0().Add(9*time.Hour), res.Trades[0].EntryTime)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSim(t, DefaultConfig()).Run(ctx, mustSeries(t, flatBars(day0(), 48, "1")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSimulatorRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short ladder", func(c *Config) { c.Ladder = c.Ladder[:5] }},
		{"zero notional", func(c *Config) { c.Ladder[2].NotionalSize = decimal.Zero }},
		{"negative take profit", func(c *Config) { c.Ladder[0].TakeProfitPct = d("-0.1") }},
		{"zero stop loss", func(c *Config) { c.Ladder[3].StopLossPct = decimal.Zero }},
		{"negative cap", func(c *Config) { c.MaxAccounts = -1 }},
		{"anchor past midnight", func(c *Config) { c.AnchorOffset = 25 * time.Hour }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewSimulator(cfg)
			assert.ErrorIs(t, err, ErrConfigInvalid)
		})
	}
}

type recordingObserver struct {
	spawned []int
	trades  int
	closed  []int
}

func (o *recordingObserver) AccountSpawned(id int, _ time.Time) { o.spawned = append(o.spawned, id) }
func (o *recordingObserver) TradeRecorded(TradeRecord)          { o.trades++ }
func (o *recordingObserver) AccountClosed(s AccountSummary)     { o.closed = append(o.closed, s.AccountID) }

func TestRunNotifiesObserver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HorizonDays = 2
	obs := &recordingObserver{}
	sim, err := NewSimulator(cfg, WithObserver(obs))
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), mustSeries(t, flatBars(day0(), 4*24, "5")))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, obs.spawned)
	assert.Equal(t, len(res.Trades), obs.trades)
	assert.Equal(t, []int{1, 2, 3}, obs.closed)
}
