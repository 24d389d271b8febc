package jobs

import (
	"context"

	"harvestd/internal/model"
)

// Executor runs a single job's work to completion or failure, writing
// terminal state back to the store itself (CompleteJob/FailJob). The
// Runner only owns claiming, dispatch, and stall recovery; it never
// inspects job-type-specific payloads.
type Executor interface {
	Execute(ctx context.Context, job model.Job)
}

// Executors maps each job type to the executor responsible for it. A
// job whose type has no registered executor is failed immediately with
// an internal error rather than left to spin forever as queued.
type Executors map[model.JobType]Executor
