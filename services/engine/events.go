package engine

import (
	"container/heap"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PendingEvent is one rung of one account whose exit is resolved but not yet
// booked. DueAfter is the exit time, so draining in queue order books trades
// in (exit time, account) order.
type PendingEvent struct {
	DueAfter   time.Time       `json:"due_after"`
	AccountID  int             `json:"account_id"`
	Rung       int             `json:"rung"`
	Capital    decimal.Decimal `json:"capital"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryTime  time.Time       `json:"entry_time"`
	Exit       Exit            `json:"exit"`
}

func eventLess(a, b PendingEvent) bool {
	if !a.DueAfter.Equal(b.DueAfter) {
		return a.DueAfter.Before(b.DueAfter)
	}
	return a.AccountID < b.AccountID
}

type eventHeap []PendingEvent

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return eventLess(h[i], h[j]) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(PendingEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}

// Scheduler is a priority queue of pending events ordered by
// (DueAfter, AccountID). It holds at most one event per account.
type Scheduler struct {
	events eventHeap
	queued map[int]struct{}
}

func NewScheduler() *Scheduler {
	return &Scheduler{queued: make(map[int]struct{})}
}

func (s *Scheduler) Schedule(ev PendingEvent) error {
	if _, ok := s.queued[ev.AccountID]; ok {
		return fmt.Errorf("%w: account %d", ErrDuplicateEvent, ev.AccountID)
	}
	s.queued[ev.AccountID] = struct{}{}
	heap.Push(&s.events, ev)
	return nil
}

// PopDue removes and returns the smallest event if its DueAfter is strictly
// before the given boundary.
func (s *Scheduler) PopDue(before time.Time) (PendingEvent, bool) {
	if len(s.events) == 0 || !s.events[0].DueAfter.Before(before) {
		return PendingEvent{}, false
	}
	ev := heap.Pop(&s.events).(PendingEvent)
	delete(s.queued, ev.AccountID)
	return ev, true
}

func (s *Scheduler) Len() int { return len(s.events) }

// Snapshot returns the queued events in pop order without removing them.
func (s *Scheduler) Snapshot() []PendingEvent {
	out := make([]PendingEvent, len(s.events))
	copy(out, s.events)
	sort.Slice(out, func(i, j int) bool { return eventLess(out[i], out[j]) })
	return out
}
