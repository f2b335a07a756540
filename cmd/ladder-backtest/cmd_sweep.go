package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ladder-backtest/services/engine"
	"ladder-backtest/services/sweep"
)

// sweepCmd compares ladder variants on the same bars
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run fee and anchor variants in parallel",
	Long: `Load one bar series and simulate every combination of the given fee rates
and anchor times, printing one summary row per variant.

Examples:
  ladder-backtest sweep --csv PEPEUSDT_1h_202505.csv --fees 0,0.0002,0.001
  ladder-backtest sweep --csv data.csv --anchors 00:00,09:00,21:00 --workers 4`,
	RunE: runSweep,
}

var (
	sweepCSV     string
	sweepSymbol  string
	sweepMonth   string
	sweepFees    string
	sweepAnchors string
	sweepWorkers int
)

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVar(&sweepCSV, "csv", "", "Kline CSV file; switches data.source to csv")
	sweepCmd.Flags().StringVar(&sweepSymbol, "symbol", "", "Override data.symbol")
	sweepCmd.Flags().StringVar(&sweepMonth, "month", "", "Restrict bars to a month (YYYYMM)")
	sweepCmd.Flags().StringVar(&sweepFees, "fees", "", "Comma separated fee rates")
	sweepCmd.Flags().StringVar(&sweepAnchors, "anchors", "", "Comma separated HH:MM anchor times")
	sweepCmd.Flags().IntVar(&sweepWorkers, "workers", 0, "Parallel simulations (default NumCPU)")
}

func parseList[T any](csv string, parse func(string) (T, error)) ([]T, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	var out []T
	for _, part := range strings.Split(csv, ",") {
		v, err := parse(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appCfg
	applyDataFlags(cfg, sweepCSV, sweepSymbol, sweepMonth)
	if err := cfg.Validate(); err != nil {
		return err
	}
	base, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	fees, err := parseList(sweepFees, decimal.NewFromString)
	if err != nil {
		return fmt.Errorf("--fees: %w", err)
	}
	anchors, err := parseList(sweepAnchors, engine.ParseAnchor)
	if err != nil {
		return fmt.Errorf("--anchors: %w", err)
	}

	from, to, err := cfg.Data.Range()
	if err != nil {
		return err
	}
	provider, closeProvider, err := openProvider(ctx, cfg, base.Location)
	if err != nil {
		return err
	}
	defer closeProvider()

	bars, err := provider.Bars(ctx, cfg.Data.Symbol, cfg.Data.Interval, from, to)
	if err != nil {
		return err
	}
	series, err := engine.NewSeries(bars)
	if err != nil {
		return err
	}

	outcomes, err := sweep.Run(ctx, series, sweep.Grid(base, fees, anchors), sweepWorkers, logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tACCOUNTS\tTRADES\tWIN RATE\tNET PNL\tFEES\tPROFIT\tEXHAUSTED\tOPEN\tTIME")
	for _, o := range outcomes {
		s := o.Summary
		fmt.Fprintf(w, "%s\t%d\t%d\t%s%%\t%s\t%s\t%d\t%d\t%d\t%s\n",
			o.Variant.Name, s.Accounts, s.TotalTrades, s.WinRate, s.NetPnL.StringFixed(4),
			s.TotalFees.StringFixed(4), s.Profitable, s.LadderExhausted, s.Open, o.Elapsed.Round(time.Microsecond))
	}
	return w.Flush()
}
