package report

import (
	"io"

	"github.com/parquet-go/parquet-go"

	"ladder-backtest/services/engine"
)

// TradeRow is the flat parquet layout of a trade. Prices stay decimal
// strings so no precision is lost.
type TradeRow struct {
	AccountID    int32  `parquet:"account_id"`
	CohortDate   string `parquet:"cohort_date"`
	Rung         int32  `parquet:"rung"`
	Direction    string `parquet:"direction"`
	EntryTimeMs  int64  `parquet:"entry_time_ms"`
	EntryPrice   string `parquet:"entry_price"`
	ExitTimeMs   int64  `parquet:"exit_time_ms"`
	ExitPrice    string `parquet:"exit_price"`
	Outcome      string `parquet:"outcome"`
	Notional     string `parquet:"notional"`
	Fees         string `parquet:"fees"`
	PnL          string `parquet:"pnl"`
	CapitalAfter string `parquet:"capital_after"`
}

func TradeRows(trades []engine.TradeRecord) []TradeRow {
	rows := make([]TradeRow, len(trades))
	for i, t := range trades {
		rows[i] = TradeRow{
			AccountID:    int32(t.AccountID),
			CohortDate:   t.CohortDate.Format("2006-01-02"),
			Rung:         int32(t.Rung),
			Direction:    t.Direction.String(),
			EntryTimeMs:  t.EntryTime.UnixMilli(),
			EntryPrice:   t.EntryPrice.String(),
			ExitTimeMs:   t.ExitTime.UnixMilli(),
			ExitPrice:    t.ExitPrice.String(),
			Outcome:      t.Outcome.String(),
			Notional:     t.Notional.String(),
			Fees:         t.Fees.String(),
			PnL:          t.PnL.String(),
			CapitalAfter: t.CapitalAfter.String(),
		}
	}
	return rows
}

type parquetExporter struct{}

func (parquetExporter) Extension() string { return "parquet" }

func (parquetExporter) Export(w io.Writer, res *engine.Result, _ Summary) error {
	return parquet.Write(w, TradeRows(res.Trades))
}
