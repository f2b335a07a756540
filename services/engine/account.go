package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus int

const (
	StatusActive AccountStatus = iota
	StatusClosed
)

func (s AccountStatus) String() string {
	if s == StatusClosed {
		return "closed"
	}
	return "active"
}

func (s AccountStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *AccountStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = StatusActive
	case "closed":
		*s = StatusClosed
	default:
		return fmt.Errorf("unknown account status %q", b)
	}
	return nil
}

type CloseReason int

const (
	CloseNone CloseReason = iota
	// CloseProfit: a rung resolved with positive pnl.
	CloseProfit
	// CloseLadderExhausted: the last rung resolved without profit.
	CloseLadderExhausted
	// CloseDataExhausted: no bars were left to resolve the pending rung.
	CloseDataExhausted
)

func (r CloseReason) String() string {
	switch r {
	case CloseProfit:
		return "profit"
	case CloseLadderExhausted:
		return "ladder_exhausted"
	case CloseDataExhausted:
		return "data_exhausted"
	default:
		return ""
	}
}

func (r CloseReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *CloseReason) UnmarshalText(b []byte) error {
	switch string(b) {
	case "":
		*r = CloseNone
	case "profit":
		*r = CloseProfit
	case "ladder_exhausted":
		*r = CloseLadderExhausted
	case "data_exhausted":
		*r = CloseDataExhausted
	default:
		return fmt.Errorf("unknown close reason %q", b)
	}
	return nil
}

// Account tracks one ladder run from its spawn day until it closes.
type Account struct {
	ID         int
	CohortDate time.Time
	Capital    decimal.Decimal
	Rung       int
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	Status     AccountStatus
	Reason     CloseReason
	Trades     int
}

func NewAccount(id int, cohort time.Time, capital, entryPrice decimal.Decimal, entryTime time.Time) *Account {
	return &Account{
		ID:         id,
		CohortDate: cohort,
		Capital:    capital,
		Rung:       1,
		EntryPrice: entryPrice,
		EntryTime:  entryTime,
		Status:     StatusActive,
	}
}

var two = decimal.NewFromInt(2)

// RungPnL returns the realized pnl of one rung and the round-trip fee that
// was charged against it.
func RungPnL(dir Direction, notional, entry, exit, feeRate decimal.Decimal) (pnl, fees decimal.Decimal) {
	qty := notional.Div(entry)
	move := exit.Sub(entry)
	if dir == Short {
		move = entry.Sub(exit)
	}
	fees = notional.Mul(feeRate).Mul(two)
	return move.Mul(qty).Sub(fees), fees
}

// Settle books the exit of the current rung, advances or closes the account
// and returns the trade record. ladderLen is the number of rungs.
func (a *Account) Settle(spec RungSpec, exit Exit, feeRate decimal.Decimal, ladderLen int) TradeRecord {
	pnl, fees := RungPnL(spec.Direction, spec.NotionalSize, a.EntryPrice, exit.Price, feeRate)
	a.Capital = a.Capital.Add(pnl)
	a.Trades++

	rec := TradeRecord{
		AccountID:    a.ID,
		CohortDate:   a.CohortDate,
		Rung:         a.Rung,
		Direction:    spec.Direction,
		EntryTime:    a.EntryTime,
		EntryPrice:   a.EntryPrice,
		ExitTime:     exit.Time,
		ExitPrice:    exit.Price,
		Outcome:      exit.Outcome,
		Notional:     spec.NotionalSize,
		Fees:         fees,
		PnL:          pnl,
		CapitalAfter: a.Capital,
	}

	switch {
	case pnl.IsPositive():
		a.close(CloseProfit)
	case a.Rung >= ladderLen:
		a.close(CloseLadderExhausted)
	default:
		a.Rung++
		a.EntryPrice = exit.Price
		a.EntryTime = exit.Time
	}
	return rec
}

// Abandon closes the account without booking the pending rung.
func (a *Account) Abandon() { a.close(CloseDataExhausted) }

func (a *Account) close(reason CloseReason) {
	a.Status = StatusClosed
	a.Reason = reason
}

func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		AccountID:    a.ID,
		CohortDate:   a.CohortDate,
		FinalCapital: a.Capital,
		Trades:       a.Trades,
		LastRung:     a.Rung,
		Status:       a.Status,
		CloseReason:  a.Reason,
	}
}
