// Package report turns simulation results into summaries and files.
package report

import (
	"github.com/shopspring/decimal"

	"ladder-backtest/services/engine"
)

// Summary aggregates one run.
type Summary struct {
	TotalTrades     int             `json:"total_trades"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	WinRate         decimal.Decimal `json:"win_rate"`
	NetPnL          decimal.Decimal `json:"net_pnl"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	AvgWin          decimal.Decimal `json:"avg_win"`
	AvgLoss         decimal.Decimal `json:"avg_loss"`
	Expectancy      decimal.Decimal `json:"expectancy"`
	ProfitFactor    decimal.Decimal `json:"profit_factor"`
	AvgHoldingHours decimal.Decimal `json:"avg_holding_hours"`
	Outcomes        map[string]int  `json:"outcomes"`
	RungReached     []int           `json:"rung_reached"`

	Accounts        int             `json:"accounts"`
	Profitable      int             `json:"profitable"`
	LadderExhausted int             `json:"ladder_exhausted"`
	Abandoned       int             `json:"abandoned"`
	Open            int             `json:"open"`
	StartCapital    decimal.Decimal `json:"start_capital"`
	EndCapital      decimal.Decimal `json:"end_capital"`
}

var hundred = decimal.NewFromInt(100)

// Summarize computes trade and account statistics. initialCapital is the
// per-account starting balance.
func Summarize(res *engine.Result, initialCapital decimal.Decimal) Summary {
	s := Summary{Outcomes: map[string]int{}, RungReached: make([]int, engine.LadderLength+1)}

	var grossProfit, grossLoss, holdingHours decimal.Decimal
	for _, t := range res.Trades {
		s.TotalTrades++
		s.NetPnL = s.NetPnL.Add(t.PnL)
		s.TotalFees = s.TotalFees.Add(t.Fees)
		s.Outcomes[t.Outcome.String()]++
		if t.PnL.IsPositive() {
			s.Wins++
			grossProfit = grossProfit.Add(t.PnL)
		} else {
			s.Losses++
			grossLoss = grossLoss.Add(t.PnL.Abs())
		}
		holdingHours = holdingHours.Add(decimal.NewFromFloat(t.ExitTime.Sub(t.EntryTime).Hours()))
	}

	if s.TotalTrades > 0 {
		n := decimal.NewFromInt(int64(s.TotalTrades))
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).Div(n).Mul(hundred).Round(2)
		s.Expectancy = s.NetPnL.Div(n).Round(4)
		s.AvgHoldingHours = holdingHours.Div(n).Round(2)
	}
	if s.Wins > 0 {
		s.AvgWin = grossProfit.Div(decimal.NewFromInt(int64(s.Wins))).Round(4)
	}
	if s.Losses > 0 {
		s.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(s.Losses))).Round(4)
	}
	if grossLoss.IsPositive() {
		s.ProfitFactor = grossProfit.Div(grossLoss).Round(4)
	}

	for _, a := range res.Accounts {
		s.Accounts++
		s.StartCapital = s.StartCapital.Add(initialCapital)
		s.EndCapital = s.EndCapital.Add(a.FinalCapital)
		if a.LastRung >= 1 && a.LastRung <= engine.LadderLength {
			s.RungReached[a.LastRung]++
		}
		switch {
		case a.Status == engine.StatusActive:
			s.Open++
		case a.CloseReason == engine.CloseProfit:
			s.Profitable++
		case a.CloseReason == engine.CloseLadderExhausted:
			s.LadderExhausted++
		case a.CloseReason == engine.CloseDataExhausted:
			s.Abandoned++
		}
	}
	return s
}
