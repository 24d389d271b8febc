// Package retention deletes data past its configured TTL: pages, events
// and jobs age out independently, with per-job-type overrides falling back
// to a default. Run periodically from the job runner's poll loop.
package retention

import (
	"context"
	"time"

	"harvestd/internal/config"
	"harvestd/internal/metrics"
	"harvestd/internal/model"
	"harvestd/internal/store"
)

// RetentionStats captures the number of records deleted by TTL cleanup.
type RetentionStats struct {
	PagesDeleted  int64            `json:"pagesDeleted"`
	EventsDeleted int64            `json:"eventsDeleted"`
	JobsDeleted   map[string]int64 `json:"jobsDeleted"`
}

// CleanupExpiredData deletes old pages, events and jobs based on retention
// settings so that the database does not grow without bound. Grounded
// on the teacher's CleanupExpiredData, retargeted at the pages/jobs
// schema in place of crawl documents.
func CleanupExpiredData(ctx context.Context, cfg *config.Config, st *store.Store) RetentionStats {
	now := time.Now().UTC()
	stats := RetentionStats{JobsDeleted: make(map[string]int64)}

	if cfg.Retention.Pages.DefaultDays > 0 {
		cutoff := now.AddDate(0, 0, -cfg.Retention.Pages.DefaultDays)
		if n, err := st.DeleteExpiredPages(ctx, cutoff); err == nil && n > 0 {
			stats.PagesDeleted += n
			metrics.RecordRetentionPages(n)
		}
	}

	if cfg.Retention.Events.DefaultDays > 0 {
		cutoff := now.AddDate(0, 0, -cfg.Retention.Events.DefaultDays)
		if n, err := st.DeleteExpiredEvents(ctx, cutoff); err == nil && n > 0 {
			stats.EventsDeleted += n
			metrics.RecordRetentionEvents(n)
		}
	}

	jobTTL := cfg.Retention.Jobs
	effectiveDays := func(specific int) int {
		if specific > 0 {
			return specific
		}
		return jobTTL.DefaultDays
	}

	applyJobTTL := func(jobType model.JobType, days int) {
		if days <= 0 {
			return
		}
		cutoff := now.AddDate(0, 0, -days)
		if n, err := st.DeleteJobsOlderThan(ctx, jobType, cutoff); err == nil && n > 0 {
			stats.JobsDeleted[string(jobType)] += n
			metrics.RecordRetentionJobs(string(jobType), n)
		}
	}

	applyJobTTL(model.JobTypeMap, effectiveDays(jobTTL.MapDays))
	applyJobTTL(model.JobTypeAgentExtract, effectiveDays(jobTTL.AgentExtractDays))

	return stats
}
