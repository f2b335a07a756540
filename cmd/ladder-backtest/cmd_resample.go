package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ladder-backtest/services/marketdata"
)

// resampleCmd aggregates a fine-grained CSV into a coarser cadence
var resampleCmd = &cobra.Command{
	Use:   "resample",
	Short: "Aggregate a kline CSV into a coarser cadence",
	Long: `Read a kline CSV (UTF-8 or UTF-16 with BOM), aggregate it into buckets
(whole-day steps start at local midnight, shorter ones align to the epoch) and write timestamp,open,high,low,close,volume rows.

Examples:
  ladder-backtest resample --in PEPEUSDT_5m.csv --out PEPEUSDT_1h.csv --to 1h`,
	RunE: runResample,
}

var (
	resampleIn  string
	resampleOut string
	resampleTo  time.Duration
)

func init() {
	rootCmd.AddCommand(resampleCmd)

	resampleCmd.Flags().StringVar(&resampleIn, "in", "", "Input CSV")
	resampleCmd.Flags().StringVar(&resampleOut, "out", "", "Output CSV")
	resampleCmd.Flags().DurationVar(&resampleTo, "to", time.Hour, "Target cadence")
	_ = resampleCmd.MarkFlagRequired("in")
	_ = resampleCmd.MarkFlagRequired("out")
}

func runResample(cmd *cobra.Command, args []string) error {
	engCfg, err := appCfg.EngineConfig()
	if err != nil {
		return err
	}
	bars, stats, err := marketdata.NewCSVLoader(engCfg.Location, logger).Load(resampleIn)
	if err != nil {
		return err
	}
	out, err := marketdata.Resample(bars, resampleTo)
	if err != nil {
		return err
	}

	f, err := os.Create(resampleOut)
	if err != nil {
		return err
	}
	if err := marketdata.WriteBarsCSV(f, out); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", resampleOut, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("Resampled bars",
		zap.String("in", resampleIn),
		zap.Int("rows_in", stats.Parsed),
		zap.String("out", resampleOut),
		zap.Int("rows_out", len(out)),
		zap.Duration("cadence", resampleTo),
	)
	return nil
}
