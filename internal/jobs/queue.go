// Package jobs implements the persistent job queue (C9): submission
// with idempotency-key dedup, a polling worker pool that claims queued
// jobs with compare-and-swap semantics, lease-based stall recovery, and
// cooperative cancellation. Grounded on the teacher's internal/jobs
// Runner/dispatchJob polling loop, generalized from an in-process
// crawl.Manager into a database-backed queue.
package jobs

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"harvestd/internal/model"
	"harvestd/internal/store"
)

// Queue is the submission/inspection half of the job engine; the
// worker pool that actually executes jobs lives in Runner.
type Queue struct {
	store     *store.Store
	watermark int
}

// NewQueue constructs a Queue. watermark is the maximum number of
// queued (not yet running) jobs the engine will accept before
// returning QUEUE_FULL; zero disables the check.
func NewQueue(st *store.Store, watermark int) *Queue {
	return &Queue{store: st, watermark: watermark}
}

// Submit enqueues a new job for apiKeyID. If idempotencyKey is set and
// a job already exists for this (apiKeyID, idempotencyKey) pair, that
// existing job is returned instead of creating a duplicate, per the
// job engine's idempotent-submission guarantee.
func (q *Queue) Submit(ctx context.Context, apiKeyID uuid.UUID, jobType model.JobType, params any, idempotencyKey *string) (model.Job, *model.APIError) {
	if q.watermark > 0 {
		queued, err := q.store.CountQueuedJobs(ctx)
		if err != nil {
			return model.Job{}, model.NewAPIError(model.ErrInternal, err.Error())
		}
		if queued >= q.watermark {
			return model.Job{}, model.NewAPIError(model.ErrQueueFull, "job queue is at capacity, try again shortly")
		}
	}

	job, err := q.store.CreateJob(ctx, apiKeyID, jobType, params, idempotencyKey)
	if err != nil {
		return model.Job{}, model.NewAPIError(model.ErrInternal, err.Error())
	}
	return job, nil
}

// Status returns the current state of a job, scoped to the owning
// API key so callers cannot probe other tenants' jobs by guessing IDs.
func (q *Queue) Status(ctx context.Context, apiKeyID, jobID uuid.UUID) (model.Job, *model.APIError) {
	job, err := q.store.GetJobByID(ctx, jobID)
	if err != nil {
		return model.Job{}, model.NewAPIError(model.ErrValidation, "job not found")
	}
	if job.APIKeyID != apiKeyID {
		return model.Job{}, model.NewAPIError(model.ErrForbidden, "job belongs to a different api key")
	}
	return job, nil
}

// Results returns the stored result payload for a completed job,
// unmarshaled into a generic map for the HTTP layer to re-encode.
func (q *Queue) Results(ctx context.Context, apiKeyID, jobID uuid.UUID) (model.Job, map[string]any, *model.APIError) {
	job, apiErr := q.Status(ctx, apiKeyID, jobID)
	if apiErr != nil {
		return model.Job{}, nil, apiErr
	}
	if job.Status != model.JobStatusCompleted {
		return job, nil, nil
	}
	var result map[string]any
	if len(job.Result) > 0 {
		if err := json.Unmarshal(job.Result, &result); err != nil {
			return job, nil, model.NewAPIError(model.ErrInternal, "stored job result is not valid JSON")
		}
	}
	return job, result, nil
}

// Cancel requests cooperative cancellation of a running or queued job.
// A queued job is cancelled immediately; a running job's cancel_requested
// flag is set and the executor is expected to observe it between work
// units.
func (q *Queue) Cancel(ctx context.Context, apiKeyID, jobID uuid.UUID) *model.APIError {
	job, apiErr := q.Status(ctx, apiKeyID, jobID)
	if apiErr != nil {
		return apiErr
	}
	if job.Status.IsTerminal() {
		return model.NewAPIError(model.ErrValidation, "job is already in a terminal state")
	}
	if job.Status == model.JobStatusQueued {
		if err := q.store.CancelJob(ctx, jobID); err != nil {
			return model.NewAPIError(model.ErrInternal, err.Error())
		}
		return nil
	}
	if err := q.store.RequestJobCancel(ctx, jobID); err != nil {
		return model.NewAPIError(model.ErrInternal, err.Error())
	}
	return nil
}
