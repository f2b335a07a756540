// Package arrowpipeline writes bars and ladder trades as Apache Arrow IPC streams
package arrowpipeline

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"ladder-backtest/services/engine"
)

var timestampMs = &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}

// TradeSchema is the column layout of exported trades.
var TradeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "account_id", Type: arrow.PrimitiveTypes.Int32},
	{Name: "cohort_date", Type: timestampMs},
	{Name: "rung", Type: arrow.PrimitiveTypes.Int32},
	{Name: "direction", Type: arrow.BinaryTypes.String},
	{Name: "entry_time", Type: timestampMs},
	{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_time", Type: timestampMs},
	{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "outcome", Type: arrow.BinaryTypes.String},
	{Name: "pnl", Type: arrow.PrimitiveTypes.Float64},
	{Name: "capital_after", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// BarSchema is the column layout of exported bars.
var BarSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "timestamp", Type: timestampMs},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// Pipeline converts engine data into Arrow records
type Pipeline struct {
	memoryPool memory.Allocator
	logger     *zap.Logger
}

// NewPipeline creates a new Arrow pipeline
func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{memoryPool: memory.NewGoAllocator(), logger: logger}
}

func ts(t interface{ UnixMilli() int64 }) arrow.Timestamp { return arrow.Timestamp(t.UnixMilli()) }

// TradesRecord builds one record batch. The caller must Release it.
func (p *Pipeline) TradesRecord(trades []engine.TradeRecord) arrow.Record {
	b := array.NewRecordBuilder(p.memoryPool, TradeSchema)
	defer b.Release()

	for _, t := range trades {
		b.Field(0).(*array.Int32Builder).Append(int32(t.AccountID))
		b.Field(1).(*array.TimestampBuilder).Append(ts(t.CohortDate))
		b.Field(2).(*array.Int32Builder).Append(int32(t.Rung))
		b.Field(3).(*array.StringBuilder).Append(t.Direction.String())
		b.Field(4).(*array.TimestampBuilder).Append(ts(t.EntryTime))
		b.Field(5).(*array.Float64Builder).Append(t.EntryPrice.InexactFloat64())
		b.Field(6).(*array.TimestampBuilder).Append(ts(t.ExitTime))
		b.Field(7).(*array.Float64Builder).Append(t.ExitPrice.InexactFloat64())
		b.Field(8).(*array.StringBuilder).Append(t.Outcome.String())
		b.Field(9).(*array.Float64Builder).Append(t.PnL.InexactFloat64())
		b.Field(10).(*array.Float64Builder).Append(t.CapitalAfter.InexactFloat64())
	}
	return b.NewRecord()
}

// BarsRecord builds one record batch. The caller must Release it.
func (p *Pipeline) BarsRecord(symbol string, bars []engine.Bar) arrow.Record {
	b := array.NewRecordBuilder(p.memoryPool, BarSchema)
	defer b.Release()

	for _, bar := range bars {
		b.Field(0).(*array.StringBuilder).Append(symbol)
		b.Field(1).(*array.TimestampBuilder).Append(ts(bar.Timestamp))
		b.Field(2).(*array.Float64Builder).Append(bar.Open.InexactFloat64())
		b.Field(3).(*array.Float64Builder).Append(bar.High.InexactFloat64())
		b.Field(4).(*array.Float64Builder).Append(bar.Low.InexactFloat64())
		b.Field(5).(*array.Float64Builder).Append(bar.Close.InexactFloat64())
		b.Field(6).(*array.Float64Builder).Append(bar.Volume.InexactFloat64())
	}
	return b.NewRecord()
}

// WriteTrades serializes trades to an Arrow IPC stream
func (p *Pipeline) WriteTrades(w io.Writer, trades []engine.TradeRecord) error {
	rec := p.TradesRecord(trades)
	defer rec.Release()
	return p.writeStream(w, TradeSchema, rec)
}

// WriteBars serializes bars to an Arrow IPC stream
func (p *Pipeline) WriteBars(w io.Writer, symbol string, bars []engine.Bar) error {
	rec := p.BarsRecord(symbol, bars)
	defer rec.Release()
	return p.writeStream(w, BarSchema, rec)
}

func (p *Pipeline) writeStream(w io.Writer, schema *arrow.Schema, rec arrow.Record) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(p.memoryPool))
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write Arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow stream: %w", err)
	}
	p.logger.Debug("Wrote Arrow stream", zap.Int64("rows", rec.NumRows()), zap.Int("columns", int(rec.NumCols())))
	return nil
}

// CountRows reads an IPC stream and returns its schema and total rows.
func (p *Pipeline) CountRows(r io.Reader) (*arrow.Schema, int64, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return nil, 0, fmt.Errorf("open Arrow stream: %w", err)
	}
	defer rdr.Release()

	var n int64
	for rdr.Next() {
		n += rdr.Record().NumRows()
	}
	if err := rdr.Err(); err != nil {
		return nil, 0, fmt.Errorf("read Arrow stream: %w", err)
	}
	return rdr.Schema(), n, nil
}
