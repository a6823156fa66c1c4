package models

import (
	"sync"
	"time"
)

// Outcome is what happened to a single crawl node.
type Outcome int

const (
	OutcomeFetched Outcome = iota
	OutcomeWritten
	OutcomeFailed
	OutcomeSkipped
)

// StageReport counts what happened to the nodes of one stage.
type StageReport struct {
	Fetched int
	Written int
	Failed  int
	Skipped int
}

// RunReport summarises one crawl run. It is safe for concurrent use.
type RunReport struct {
	RunID      string
	StartStage Stage
	Reference  ReferencePeriod
	StartedAt  time.Time
	FinishedAt time.Time

	mu     sync.Mutex
	stages map[Stage]*StageReport
}

// NewRunReport returns a report with an entry for every stage.
func NewRunReport(runID string, start Stage) *RunReport {
	r := &RunReport{
		RunID:      runID,
		StartStage: start,
		StartedAt:  time.Now(),
		stages:     make(map[Stage]*StageReport, 4),
	}
	for s := FromReference; s <= FromPrices; s++ {
		r.stages[s] = &StageReport{}
	}
	return r
}

// Record adds n occurrences of outcome o to stage s.
func (r *RunReport) Record(s Stage, o Outcome, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sr, ok := r.stages[s]
	if !ok {
		sr = &StageReport{}
		r.stages[s] = sr
	}
	switch o {
	case OutcomeFetched:
		sr.Fetched += n
	case OutcomeWritten:
		sr.Written += n
	case OutcomeFailed:
		sr.Failed += n
	case OutcomeSkipped:
		sr.Skipped += n
	}
}

// Stage returns a copy of the counters of s.
func (r *RunReport) Stage(s Stage) StageReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sr, ok := r.stages[s]; ok {
		return *sr
	}
	return StageReport{}
}

// Failures returns the number of failed nodes across all stages.
func (r *RunReport) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.stages {
		n += s.Failed
	}
	return n
}

// Duration is the wall time of the run, or the time elapsed so far.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
