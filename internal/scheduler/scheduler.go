// Package scheduler drives the cooperative periodic jobs of a device: one
// goroutine and ticker per job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Scheduler struct {
	jobs      map[int]*Job
	nextJobID int64
	mu        sync.RWMutex

	ctx     context.Context
	started bool
}

func New() *Scheduler {
	return &Scheduler{
		jobs: make(map[int]*Job),
	}
}

// AddJob registers fn to run every interval. Jobs added after Start begin
// immediately.
func (s *Scheduler) AddJob(name string, interval time.Duration, fn func()) (int, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("scheduler: job %q: interval must be positive, got %s", name, interval)
	}
	jobID := int(atomic.AddInt64(&s.nextJobID, 1))
	job := NewJob(jobID, name, interval, fn)

	s.mu.Lock()
	s.jobs[job.ID] = job
	started, ctx := s.started, s.ctx
	s.mu.Unlock()

	if started {
		job.Start(ctx)
	}
	slog.Debug("job registered", "job", name, "id", jobID, "interval", interval)
	return jobID, nil
}

func (s *Scheduler) RemoveJob(jobID int) bool {
	s.mu.Lock()
	job, exists := s.jobs[jobID]
	delete(s.jobs, jobID)
	s.mu.Unlock()

	if exists {
		job.Stop()
	}
	return exists
}

func (s *Scheduler) GetJob(jobID int) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	return job, exists
}

// Jobs returns the registered jobs ordered by ID.
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	return jobs
}

// Start launches every registered job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.started = ctx, true
	s.mu.Unlock()

	for _, j := range s.Jobs() {
		j.Start(ctx)
	}
}

// Stop halts every job and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	for _, j := range s.Jobs() {
		j.Stop()
	}
}
