package report

import (
	"fmt"
	"io"
	"strings"

	"ladder-backtest/services/engine"
)

var tableColumns = []struct {
	title string
	width int
}{
	{"Acct", 4}, {"Rung", 4}, {"Dir", 5}, {"Entry Time", 19}, {"Entry", 14},
	{"Exit Time", 19}, {"Exit", 14}, {"Out", 4}, {"PnL", 12}, {"Capital", 14},
}

func tableRule(left, mid, right string) string {
	parts := make([]string, len(tableColumns))
	for i, c := range tableColumns {
		parts[i] = strings.Repeat("─", c.width+2)
	}
	return left + strings.Join(parts, mid) + right + "\n"
}

func tableRow(cells []string) string {
	var b strings.Builder
	b.WriteString("│")
	for i, c := range tableColumns {
		fmt.Fprintf(&b, " %-*s │", c.width, cells[i])
	}
	b.WriteString("\n")
	return b.String()
}

// WriteTable renders trades as a boxed text table followed by the summary.
func WriteTable(w io.Writer, res *engine.Result, sum Summary) error {
	var b strings.Builder
	b.WriteString(tableRule("┌", "┬", "┐"))
	titles := make([]string, len(tableColumns))
	for i, c := range tableColumns {
		titles[i] = c.title
	}
	b.WriteString(tableRow(titles))
	b.WriteString(tableRule("├", "┼", "┤"))
	for _, t := range res.Trades {
		b.WriteString(tableRow([]string{
			fmt.Sprint(t.AccountID),
			fmt.Sprint(t.Rung),
			t.Direction.String(),
			formatTime(t.EntryTime),
			t.EntryPrice.StringFixed(8),
			formatTime(t.ExitTime),
			t.ExitPrice.StringFixed(8),
			t.Outcome.String(),
			t.PnL.StringFixed(4),
			t.CapitalAfter.StringFixed(4),
		}))
	}
	b.WriteString(tableRule("└", "┴", "┘"))

	b.WriteString("\n=== SUMMARY ===\n")
	for _, kv := range summaryRows(sum) {
		fmt.Fprintf(&b, "%-18s %s\n", kv[0]+":", kv[1])
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// PrintSummary writes the console report: the last trades, the summary and
// every account's final capital.
func PrintSummary(w io.Writer, res *engine.Result, sum Summary, tail int) {
	fmt.Fprintln(w, "\n=== LADDER BACKTEST ===")
	start := 0
	if tail > 0 && len(res.Trades) > tail {
		start = len(res.Trades) - tail
	}
	if len(res.Trades) > 0 {
		fmt.Fprintf(w, "Last %d of %d trades:\n", len(res.Trades)-start, len(res.Trades))
		for _, t := range res.Trades[start:] {
			fmt.Fprintf(w, "  #%-3d rung %d %-5s %s -> %s  %-4s pnl %12s  capital %s\n",
				t.AccountID, t.Rung, t.Direction,
				t.EntryTime.Format(timeLayout), t.ExitTime.Format(timeLayout),
				t.Outcome, t.PnL.StringFixed(4), t.CapitalAfter.StringFixed(4))
		}
	}
	fmt.Fprintf(w, "Total Trades: %d (wins %d, losses %d, win rate %s%%)\n", sum.TotalTrades, sum.Wins, sum.Losses, sum.WinRate)
	fmt.Fprintf(w, "Net PnL: %s  Fees: %s  Profit Factor: %s\n", sum.NetPnL.StringFixed(4), sum.TotalFees.StringFixed(4), sum.ProfitFactor)
	fmt.Fprintf(w, "Accounts: %d (profit %d, exhausted %d, abandoned %d, open %d)\n",
		sum.Accounts, sum.Profitable, sum.LadderExhausted, sum.Abandoned, sum.Open)
	for _, a := range res.Accounts {
		fmt.Fprintf(w, "  account %-3d %s  final capital %s  (%s)\n",
			a.AccountID, a.CohortDate.Format("2006-01-02"), a.FinalCapital.StringFixed(4), accountState(a))
	}
	fmt.Fprintln(w, "=======================")
}

func accountState(a engine.AccountSummary) string {
	if a.Status == engine.StatusActive {
		return fmt.Sprintf("open at rung %d", a.LastRung)
	}
	return a.CloseReason.String()
}

type tableExporter struct{}

func (tableExporter) Extension() string { return "txt" }

func (tableExporter) Export(w io.Writer, res *engine.Result, sum Summary) error {
	return WriteTable(w, res, sum)
}
