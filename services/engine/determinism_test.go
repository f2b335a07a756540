package engine

import (
	"context"
	"testing"
	"time"
)

func TestRunIsDeterministic(t *testing.T) {
	bars := wavyBars(day0(), 35*24)
	sim, err := NewSimulator(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	a, err := sim.Run(context.Background(), mustSeries(t, bars))
	if err != nil {
		t.Fatal(err)
	}
	b, err := sim.Run(context.Background(), mustSeries(t, bars))
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Trades) != len(b.Trades) {
		t.Fatalf("trade count differs: %d vs %d", len(a.Trades), len(b.Trades))
	}
	for i := range a.Trades {
		x, y := a.Trades[i], b.Trades[i]
		if x.AccountID != y.AccountID || !x.ExitTime.Equal(y.ExitTime) || !x.PnL.Equal(y.PnL) {
			t.Fatalf("trade %d differs", i)
		}
	}
}

func TestChecksumStable(t *testing.T) {
	bars := flatBars(day0(), 10, "3.5")
	if Checksum(bars) != Checksum(flatBars(day0(), 10, "3.5")) {
		t.Fatal("expected equal checksums")
	}
	bars[4].Close = d("3.6")
	if Checksum(bars) == Checksum(flatBars(day0(), 10, "3.5")) {
		t.Fatal("expected checksum to change with data")
	}
}

func TestSnapshotHash(t *testing.T) {
	a := DefaultConfig().Snapshot()
	b := DefaultConfig().Snapshot()
	if a.ConfigHash != b.ConfigHash {
		t.Fatal("expected equal hashes for equal configs")
	}
	cfg := DefaultConfig()
	cfg.FeeRate = d("0.0004")
	if cfg.Snapshot().ConfigHash == a.ConfigHash {
		t.Fatal("expected fee change to alter hash")
	}
}

func TestDetectCadenceAndGaps(t *testing.T) {
	bars := flatBars(day0(), 6, "1")
	bars = append(bars[:3], bars[4:]...)
	if got := DetectCadence(bars); got != time.Hour {
		t.Fatalf("cadence = %s", got)
	}
	gaps := DetectGaps(bars, time.Hour)
	if len(gaps) != 1 || !gaps[0].Equal(day0().Add(2*time.Hour)) {
		t.Fatalf("unexpected gaps %v", gaps)
	}
}

func TestNewSeriesRejectsUnordered(t *testing.T) {
	bars := flatBars(day0(), 3, "1")
	bars[0], bars[2] = bars[2], bars[0]
	if _, err := NewSeries(bars); err == nil {
		t.Fatal("expected ordering error")
	}
}
