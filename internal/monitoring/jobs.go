package monitoring

import (
	"sort"
	"sync"
	"time"
)

// JobSummary reports the run history of a background job.
type JobSummary struct {
	Job                 string        `json:"job"`
	TotalRuns           int64         `json:"total_runs"`
	Failures            int64         `json:"failures"`
	ConsecutiveFailures int64         `json:"consecutive_failures"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
}

type jobStore struct {
	mu   sync.RWMutex
	jobs map[string]*JobSummary
}

var jobs = &jobStore{jobs: make(map[string]*JobSummary)}

// RegisterJob makes a job visible before its first run.
func RegisterJob(name string) {
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	jobs.entry(name)
}

// RecordJobRun stores the outcome of one job execution.
func RecordJobRun(name string, startedAt time.Time, err error) {
	jobs.mu.Lock()
	defer jobs.mu.Unlock()

	entry := jobs.entry(name)
	entry.TotalRuns++
	entry.LastRunAt = startedAt
	entry.LastDuration = time.Since(startedAt)
	if err != nil {
		entry.Failures++
		entry.ConsecutiveFailures++
		entry.LastError = err.Error()
		return
	}
	entry.ConsecutiveFailures = 0
	entry.LastError = ""
}

// Jobs returns a snapshot of every known job ordered by name.
func Jobs() []JobSummary {
	jobs.mu.RLock()
	defer jobs.mu.RUnlock()

	out := make([]JobSummary, 0, len(jobs.jobs))
	for _, entry := range jobs.jobs {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// ResetJobs clears recorded job state.
func ResetJobs() {
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	jobs.jobs = make(map[string]*JobSummary)
}

func (s *jobStore) entry(name string) *JobSummary {
	entry, ok := s.jobs[name]
	if !ok {
		entry = &JobSummary{Job: name}
		s.jobs[name] = entry
	}
	return entry
}
