package jobs

import (
	"context"
	"time"

	"harvestd/internal/config"
	"harvestd/internal/model"
	"harvestd/internal/retention"
	"harvestd/internal/store"
)

// Runner polls the jobs table for queued work, dispatches claimed jobs
// to their type-specific Executor under a bounded worker pool, and
// periodically reaps jobs whose worker died mid-run. Grounded on the
// teacher's Runner.Start poll loop, generalized from a single crawl
// executor to a type-keyed dispatch table with CAS claiming instead of
// in-process state.
type Runner struct {
	cfg       *config.Config
	store     *store.Store
	executors Executors

	reclaimed map[string]int
}

// NewRunner constructs a Runner with the given configuration, store,
// and per-job-type executors.
func NewRunner(cfg *config.Config, st *store.Store, execs Executors) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     st,
		executors: execs,
		reclaimed: make(map[string]int),
	}
}

// Start runs the poll loop until ctx is cancelled. Callers typically
// launch this in its own goroutine.
func (r *Runner) Start(ctx context.Context) {
	pollInterval := time.Duration(r.cfg.Worker.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	maxJobs := r.cfg.Worker.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 4
	}

	leaseSeconds := r.cfg.Worker.LeaseSeconds
	if leaseSeconds <= 0 {
		leaseSeconds = 120
	}
	leaseDuration := time.Duration(leaseSeconds) * time.Second

	cleanupInterval := time.Duration(r.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	sem := make(chan struct{}, maxJobs)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	reapTicker := time.NewTicker(leaseDuration / 2)
	defer reapTicker.Stop()

	var lastCleanup time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-reapTicker.C:
			r.reap(ctx, leaseDuration)
		case <-ticker.C:
			if r.cfg.Retention.Enabled {
				now := time.Now().UTC()
				if lastCleanup.IsZero() || now.Sub(lastCleanup) >= cleanupInterval {
					retention.CleanupExpiredData(ctx, r.cfg, r.store)
					lastCleanup = now
				}
			}

			capacity := maxJobs - len(sem)
			if capacity <= 0 {
				continue
			}

			claimed, err := r.store.ClaimQueuedJobs(ctx, capacity)
			if err != nil {
				continue
			}

			for _, job := range claimed {
				job := job
				sem <- struct{}{}
				go func() {
					defer func() { <-sem }()
					r.dispatch(ctx, job)
				}()
			}
		}
	}
}

// reap transitions jobs whose lease has expired back to queued. A job
// that has already been reclaimed once is instead failed with
// WORKER_STALLED, so a repeatedly-crashing executor cannot loop a job
// forever.
func (r *Runner) reap(ctx context.Context, leaseDuration time.Duration) {
	stalled, err := r.store.ReapStalledJobs(ctx, leaseDuration)
	if err != nil {
		return
	}
	for _, id := range stalled {
		key := id.String()
		r.reclaimed[key]++
		if r.reclaimed[key] > 1 {
			_ = r.store.FailJob(ctx, id, model.ErrWorkerStalled, "job exceeded its lease twice and was abandoned")
			delete(r.reclaimed, key)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, job model.Job) {
	exec, ok := r.executors[job.Type]
	if !ok {
		_ = r.store.FailJob(ctx, job.ID, model.ErrInternal, "no executor registered for job type "+string(job.Type))
		return
	}
	exec.Execute(ctx, job)
}
