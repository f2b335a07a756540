package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"ladder-backtest/services/engine"
)

const timeLayout = "2006-01-02 15:04:05"

var tradeHeader = []string{
	"account_id", "cohort_date", "rung", "direction",
	"entry_time", "entry_price", "exit_time", "exit_price",
	"outcome", "notional", "fees", "pnl", "capital_after",
}

func tradeRecord(t engine.TradeRecord) []string {
	return []string{
		strconv.Itoa(t.AccountID),
		t.CohortDate.Format("2006-01-02"),
		strconv.Itoa(t.Rung),
		t.Direction.String(),
		t.EntryTime.Format(timeLayout),
		t.EntryPrice.String(),
		t.ExitTime.Format(timeLayout),
		t.ExitPrice.String(),
		t.Outcome.String(),
		t.Notional.String(),
		t.Fees.String(),
		t.PnL.String(),
		t.CapitalAfter.String(),
	}
}

// WriteCSV writes the trades, a per-account block and a summary block.
func WriteCSV(w io.Writer, res *engine.Result, sum Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range res.Trades {
		if err := cw.Write(tradeRecord(t)); err != nil {
			return err
		}
	}

	cw.Write([]string{""})
	cw.Write([]string{"# Accounts"})
	cw.Write([]string{"account_id", "cohort_date", "final_capital", "trades", "last_rung", "status", "close_reason"})
	for _, a := range res.Accounts {
		cw.Write([]string{
			strconv.Itoa(a.AccountID),
			a.CohortDate.Format("2006-01-02"),
			a.FinalCapital.String(),
			strconv.Itoa(a.Trades),
			strconv.Itoa(a.LastRung),
			a.Status.String(),
			a.CloseReason.String(),
		})
	}

	cw.Write([]string{""})
	cw.Write([]string{"# Summary"})
	for _, kv := range summaryRows(sum) {
		cw.Write(kv[:])
	}
	cw.Flush()
	return cw.Error()
}

func summaryRows(s Summary) [][2]string {
	return [][2]string{
		{"total_trades", strconv.Itoa(s.TotalTrades)},
		{"wins", strconv.Itoa(s.Wins)},
		{"losses", strconv.Itoa(s.Losses)},
		{"win_rate", s.WinRate.String()},
		{"net_pnl", s.NetPnL.String()},
		{"total_fees", s.TotalFees.String()},
		{"avg_win", s.AvgWin.String()},
		{"avg_loss", s.AvgLoss.String()},
		{"expectancy", s.Expectancy.String()},
		{"profit_factor", s.ProfitFactor.String()},
		{"avg_holding_hours", s.AvgHoldingHours.String()},
		{"outcome_sl", strconv.Itoa(s.Outcomes[engine.OutcomeStopLoss.String()])},
		{"outcome_tp", strconv.Itoa(s.Outcomes[engine.OutcomeTakeProfit.String()])},
		{"outcome_none", strconv.Itoa(s.Outcomes[engine.OutcomeNoTrigger.String()])},
		{"accounts", strconv.Itoa(s.Accounts)},
		{"profitable", strconv.Itoa(s.Profitable)},
		{"ladder_exhausted", strconv.Itoa(s.LadderExhausted)},
		{"abandoned", strconv.Itoa(s.Abandoned)},
		{"open", strconv.Itoa(s.Open)},
		{"start_capital", s.StartCapital.String()},
		{"end_capital", s.EndCapital.String()},
	}
}

// formatTime renders zero times as a dash.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

type csvExporter struct{}

func (csvExporter) Extension() string { return "csv" }

func (csvExporter) Export(w io.Writer, res *engine.Result, sum Summary) error {
	if err := WriteCSV(w, res, sum); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
