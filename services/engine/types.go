package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents a single OHLCV bar
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Direction is the side a rung trades.
type Direction int

const (
	Long Direction = iota + 1
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts long/short and their one-letter forms.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "l", "buy":
		return Long, nil
	case "short", "s", "sell":
		return Short, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Outcome is how a rung left the market.
type Outcome int

const (
	OutcomeStopLoss Outcome = iota + 1
	OutcomeTakeProfit
	OutcomeNoTrigger
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStopLoss:
		return "SL"
	case OutcomeTakeProfit:
		return "TP"
	case OutcomeNoTrigger:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "SL":
		*o = OutcomeStopLoss
	case "TP":
		*o = OutcomeTakeProfit
	case "NONE":
		*o = OutcomeNoTrigger
	default:
		return fmt.Errorf("unknown outcome %q", b)
	}
	return nil
}

// RungSpec is one attempt of the ladder.
type RungSpec struct {
	Direction     Direction       `json:"direction" yaml:"direction"`
	NotionalSize  decimal.Decimal `json:"notional_size" yaml:"notional_size"`
	TakeProfitPct decimal.Decimal `json:"take_profit_pct" yaml:"take_profit_pct"`
	StopLossPct   decimal.Decimal `json:"stop_loss_pct" yaml:"stop_loss_pct"`
}

// TradeRecord is one resolved rung.
type TradeRecord struct {
	AccountID    int             `json:"account_id"`
	CohortDate   time.Time       `json:"cohort_date"`
	Rung         int             `json:"rung"`
	Direction    Direction       `json:"direction"`
	EntryTime    time.Time       `json:"entry_time"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitTime     time.Time       `json:"exit_time"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	Outcome      Outcome         `json:"outcome"`
	Notional     decimal.Decimal `json:"notional"`
	Fees         decimal.Decimal `json:"fees"`
	PnL          decimal.Decimal `json:"pnl"`
	CapitalAfter decimal.Decimal `json:"capital_after"`
}

// AccountSummary is the final state of one account.
type AccountSummary struct {
	AccountID    int             `json:"account_id"`
	CohortDate   time.Time       `json:"cohort_date"`
	FinalCapital decimal.Decimal `json:"final_capital"`
	Trades       int             `json:"trades"`
	LastRung     int             `json:"last_rung"`
	Status       AccountStatus   `json:"status"`
	CloseReason  CloseReason     `json:"close_reason"`
}

// Result is everything a simulation run produced.
type Result struct {
	Trades   []TradeRecord    `json:"trades"`
	Accounts []AccountSummary `json:"accounts"`
	// Pending holds events still queued when the horizon ended.
	Pending     []PendingEvent `json:"pending"`
	Days        int            `json:"days"`
	SkippedDays []time.Time    `json:"skipped_days"`
}
