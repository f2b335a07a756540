package engine

import (
	"fmt"
	"sort"
	"time"
)

// Series is a read-only, time ordered view over bars. It is safe to share
// between concurrent runs.
type Series struct {
	bars []Bar
}

// NewSeries wraps bars without copying or sorting them. Equal timestamps are
// allowed and keep their input order.
func NewSeries(bars []Bar) (*Series, error) {
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Before(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: bar %d at %s precedes bar %d at %s", ErrUnorderedSeries,
				i, bars[i].Timestamp.Format(time.RFC3339), i-1, bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return &Series{bars: bars}, nil
}

func (s *Series) Len() int { return len(s.bars) }

func (s *Series) At(i int) Bar { return s.bars[i] }

// Bars returns the underlying slice. Callers must not modify it.
func (s *Series) Bars() []Bar { return s.bars }

// FirstAfter returns the index of the first bar strictly after t, or Len()
// when there is none.
func (s *Series) FirstAfter(t time.Time) int {
	return sort.Search(len(s.bars), func(i int) bool { return s.bars[i].Timestamp.After(t) })
}

// IndexAt returns the first bar whose timestamp equals t.
func (s *Series) IndexAt(t time.Time) (int, bool) {
	i := sort.Search(len(s.bars), func(i int) bool { return !s.bars[i].Timestamp.Before(t) })
	if i < len(s.bars) && s.bars[i].Timestamp.Equal(t) {
		return i, true
	}
	return 0, false
}

// Window returns the sub-series with from <= timestamp < to.
func (s *Series) Window(from, to time.Time) *Series {
	lo := sort.Search(len(s.bars), func(i int) bool { return !s.bars[i].Timestamp.Before(from) })
	hi := sort.Search(len(s.bars), func(i int) bool { return !s.bars[i].Timestamp.Before(to) })
	if hi < lo {
		hi = lo
	}
	return &Series{bars: s.bars[lo:hi]}
}
