package jobs

import (
	"context"
	"encoding/json"

	"harvestd/internal/crawler"
	"harvestd/internal/model"
	"harvestd/internal/store"
)

// MapParams is the unmarshalled form of a JobTypeMap job's InputParams,
// mirroring the /v1/map request body (spec §4.10/§6).
type MapParams struct {
	URL             string             `json:"url"`
	MaxDepth        int                `json:"maxDepth"`
	MaxPages        int                `json:"maxPages"`
	IncludePatterns []string           `json:"includePatterns"`
	ExcludePatterns []string           `json:"excludePatterns"`
	RespectRobots   bool               `json:"respectRobots"`
	RenderPolicy    model.RenderPolicy `json:"renderPolicy"`
	Concurrency     int                `json:"concurrency"`
	ForceRefresh    bool               `json:"forceRefresh"`
}

// MapExecutor drives a BFS crawl (C10) to completion for a single
// JobTypeMap job, writing its terminal state back to the store.
type MapExecutor struct {
	Crawler *crawler.Crawler
	Store   *store.Store
}

func NewMapExecutor(c *crawler.Crawler, st *store.Store) *MapExecutor {
	return &MapExecutor{Crawler: c, Store: st}
}

func (e *MapExecutor) Execute(ctx context.Context, job model.Job) {
	var params MapParams
	if err := json.Unmarshal(job.InputParams, &params); err != nil {
		_ = e.Store.FailJob(ctx, job.ID, model.ErrValidation, "stored job params are not valid JSON")
		return
	}

	runErr := e.Crawler.Run(ctx, job.ID, job.APIKeyID, crawler.Options{
		Seed:            params.URL,
		MaxDepth:        params.MaxDepth,
		MaxPages:        params.MaxPages,
		IncludePatterns: params.IncludePatterns,
		ExcludePatterns: params.ExcludePatterns,
		RespectRobots:   params.RespectRobots,
		RenderPolicy:    params.RenderPolicy,
		Concurrency:     params.Concurrency,
		ForceRefresh:    params.ForceRefresh,
	})
	if cur, err := e.Store.GetJobByID(ctx, job.ID); err == nil && cur.CancelRequested {
		_ = e.Store.CancelJob(ctx, job.ID)
		return
	}
	if runErr != nil {
		if apiErr, ok := runErr.(*model.APIError); ok {
			_ = e.Store.FailJob(ctx, job.ID, apiErr.Code, apiErr.Message)
			return
		}
		_ = e.Store.FailJob(ctx, job.ID, model.ErrInternal, runErr.Error())
		return
	}

	urls, err := e.Store.ListJobPageURLs(ctx, job.ID)
	if err != nil {
		_ = e.Store.FailJob(ctx, job.ID, model.ErrInternal, "failed to list crawled pages")
		return
	}
	if urls == nil {
		urls = []string{}
	}
	result := map[string]any{"urls": urls, "pageCount": len(urls)}
	_ = e.Store.CompleteJob(ctx, job.ID, result)
}
