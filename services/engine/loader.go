package engine

// Series checksum and gap detection

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Checksum is a SHA-256 over every bar's timestamp and OHLCV values.
func Checksum(bars []Bar) string {
	h := sha256.New()
	var ts [8]byte
	for _, b := range bars {
		binary.BigEndian.PutUint64(ts[:], uint64(b.Timestamp.UnixMilli()))
		h.Write(ts[:])
		for _, v := range [...]string{b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String()} {
			h.Write([]byte(v))
			h.Write([]byte{0})
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// DetectCadence returns the most common positive spacing between bars.
// Ties resolve to the smaller spacing.
func DetectCadence(bars []Bar) time.Duration {
	counts := make(map[time.Duration]int)
	for i := 1; i < len(bars); i++ {
		if d := bars[i].Timestamp.Sub(bars[i-1].Timestamp); d > 0 {
			counts[d]++
		}
	}
	var best time.Duration
	bestCount := 0
	for d, c := range counts {
		if c > bestCount || (c == bestCount && d < best) {
			best, bestCount = d, c
		}
	}
	return best
}

// DetectGaps returns the timestamps of bars followed by a gap wider than step.
func DetectGaps(bars []Bar, step time.Duration) (gaps []time.Time) {
	if step <= 0 {
		return nil
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Sub(bars[i-1].Timestamp) > step {
			gaps = append(gaps, bars[i-1].Timestamp)
		}
	}
	return gaps
}
