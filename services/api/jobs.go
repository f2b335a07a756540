package api

import (
	"sort"
	"sync"
	"time"

	"ladder-backtest/services/engine"
	"ladder-backtest/services/report"
	"ladder-backtest/services/runner"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

type job struct {
	id         string
	status     JobStatus
	symbol     string
	err        string
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	request runner.Request
	bars    []engine.Bar
	output  *runner.Output
}

// JobView is the JSON shape of a job.
type JobView struct {
	ID          string                  `json:"job_id"`
	Status      JobStatus               `json:"status"`
	Symbol      string                  `json:"symbol,omitempty"`
	Error       string                  `json:"error,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	FinishedAt  *time.Time              `json:"finished_at,omitempty"`
	Summary     *report.Summary         `json:"summary,omitempty"`
	Manifest    *engine.RunManifest     `json:"manifest,omitempty"`
	Accounts    []engine.AccountSummary `json:"accounts,omitempty"`
	Pending     int                     `json:"pending"`
	SkippedDays int                     `json:"skipped_days"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (j *job) view() JobView {
	v := JobView{
		ID:         j.id,
		Status:     j.status,
		Symbol:     j.symbol,
		Error:      j.err,
		CreatedAt:  j.createdAt,
		StartedAt:  timePtr(j.startedAt),
		FinishedAt: timePtr(j.finishedAt),
	}
	if j.output != nil {
		sum := j.output.Summary
		v.Summary = &sum
		v.Manifest = j.output.Manifest
		v.Accounts = j.output.Result.Accounts
		v.Pending = len(j.output.Result.Pending)
		v.SkippedDays = len(j.output.Result.SkippedDays)
	}
	return v
}

// jobStore keeps every job of the process in memory.
type jobStore struct {
	mu   sync.RWMutex
	jobs map[string]*job
}

func newJobStore() *jobStore {
	return &jobStore{jobs: make(map[string]*job)}
}

func (s *jobStore) add(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.id] = j
}

func (s *jobStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// update applies fn under the write lock.
func (s *jobStore) update(id string, fn func(*job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
	}
}

func (s *jobStore) get(id string) (JobView, *runner.Output, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobView{}, nil, false
	}
	return j.view(), j.output, true
}

// request returns what a worker needs to run the job.
func (s *jobStore) request(id string) (runner.Request, []engine.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return runner.Request{}, nil, false
	}
	return j.request, j.bars, true
}

func (s *jobStore) list() []JobView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobView, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.view())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}
