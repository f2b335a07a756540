package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ladder-backtest/services/engine"
)

// InsertTrades stores the trade records of one run under jobID.
func (s *Store) InsertTrades(ctx context.Context, jobID, symbol string, trades []engine.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", s.cfg.Database, s.cfg.TradesTable))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	now := time.Now().UTC()
	for _, t := range trades {
		if err := batch.Append(tradeColumns(jobID, symbol, t, now)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}
	s.logger.Info("Stored ladder trades", zap.String("job_id", jobID), zap.Int("rows", len(trades)))
	return nil
}

func tradeColumns(jobID, symbol string, t engine.TradeRecord, insertedAt time.Time) []any {
	return []any{
		jobID,
		symbol,
		uint32(t.AccountID),
		t.CohortDate,
		uint8(t.Rung),
		t.Direction.String(),
		t.EntryTime,
		t.EntryPrice,
		t.ExitTime,
		t.ExitPrice,
		t.Outcome.String(),
		t.Notional,
		t.Fees,
		t.PnL,
		t.CapitalAfter,
		insertedAt,
	}
}
