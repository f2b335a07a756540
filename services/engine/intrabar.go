package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// FirstTouchResult indicates which level a bar crossed
type FirstTouchResult int

const (
	TouchNone FirstTouchResult = iota
	TouchTP
	TouchSL
)

var one = decimal.NewFromInt(1)

// Thresholds returns the take-profit and stop-loss prices for a rung entered at entry.
func Thresholds(entry decimal.Decimal, rung RungSpec) (tp, sl decimal.Decimal) {
	if rung.Direction == Short {
		return entry.Mul(one.Sub(rung.TakeProfitPct)), entry.Mul(one.Add(rung.StopLossPct))
	}
	return entry.Mul(one.Add(rung.TakeProfitPct)), entry.Mul(one.Sub(rung.StopLossPct))
}

// ResolveFirstTouchLong checks the stop before the target, so a bar that
// crosses both counts as a stop-loss.
func ResolveFirstTouchLong(bar Bar, tp, sl decimal.Decimal) FirstTouchResult {
	if bar.Low.LessThanOrEqual(sl) {
		return TouchSL
	}
	if bar.High.GreaterThanOrEqual(tp) {
		return TouchTP
	}
	return TouchNone
}

// ResolveFirstTouchShort mirrors the long logic for shorts
func ResolveFirstTouchShort(bar Bar, tp, sl decimal.Decimal) FirstTouchResult {
	if bar.High.GreaterThanOrEqual(sl) {
		return TouchSL
	}
	if bar.Low.LessThanOrEqual(tp) {
		return TouchTP
	}
	return TouchNone
}

// Exit is where and why a rung left the market.
type Exit struct {
	Price   decimal.Decimal `json:"price"`
	Time    time.Time       `json:"time"`
	Outcome Outcome         `json:"outcome"`
}

// ResolveExit scans bars strictly after entryTime for the first one that
// crosses a threshold. Triggered exits fill at the threshold price. When no
// bar triggers, the rung exits at the close of the first bar after entry.
// ErrDataExhausted is returned when nothing follows entryTime.
func ResolveExit(series *Series, entryPrice decimal.Decimal, entryTime time.Time, rung RungSpec) (Exit, error) {
	start := series.FirstAfter(entryTime)
	if start >= series.Len() {
		return Exit{}, ErrDataExhausted
	}

	tp, sl := Thresholds(entryPrice, rung)
	touch := ResolveFirstTouchLong
	if rung.Direction == Short {
		touch = ResolveFirstTouchShort
	}

	for i := start; i < series.Len(); i++ {
		bar := series.At(i)
		switch touch(bar, tp, sl) {
		case TouchSL:
			return Exit{Price: sl, Time: bar.Timestamp, Outcome: OutcomeStopLoss}, nil
		case TouchTP:
			return Exit{Price: tp, Time: bar.Timestamp, Outcome: OutcomeTakeProfit}, nil
		}
	}

	next := series.At(start)
	return Exit{Price: next.Close, Time: next.Timestamp, Outcome: OutcomeNoTrigger}, nil
}
