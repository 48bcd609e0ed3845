package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/lightmesh/internal/metrics"
)

// Job statuses.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Job runs fn on a fixed interval. A run always completes before the next one
// starts; ticks that fall due while a run is in progress are skipped.
type Job struct {
	ID        int
	Name      string
	Interval  time.Duration
	CreatedAt int64

	fn     func()
	runs   atomic.Uint64
	status atomic.Value

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewJob(id int, name string, interval time.Duration, fn func()) *Job {
	j := &Job{
		ID:        id,
		Name:      name,
		Interval:  interval,
		CreatedAt: time.Now().UnixMilli(),
		fn:        fn,
	}
	j.status.Store(StatusIdle)
	return j
}

func (j *Job) String() string {
	return j.Name
}

// Start launches the job goroutine. Starting a running job is a no-op.
func (j *Job) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}
	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	j.status.Store(StatusRunning)
	go j.loop(ctx, j.done)
}

func (j *Job) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce()
		}
	}
}

func (j *Job) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled job panicked", "job", j.Name, "panic", r)
		}
	}()
	start := time.Now()
	j.fn()
	j.runs.Add(1)
	metrics.JobRunsTotal.WithLabelValues(j.Name).Inc()
	metrics.JobDurationSeconds.WithLabelValues(j.Name).Observe(time.Since(start).Seconds())
}

// Stop cancels the job and waits up to five seconds for an in-flight run.
func (j *Job) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel = nil
	j.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("scheduled job did not stop in time", "job", j.Name)
	}
	j.status.Store(StatusStopped)
}

func (j *Job) Status() string {
	return j.status.Load().(string)
}

// Runs returns how many times the job has completed.
func (j *Job) Runs() uint64 {
	return j.runs.Load()
}
