package httpapi

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"harvestd/internal/agent"
	"harvestd/internal/coordinator"
	"harvestd/internal/jobs"
	"harvestd/internal/llm"
	"harvestd/internal/model"
	"harvestd/internal/scraper"
	"harvestd/internal/scrapeutil"
	"harvestd/internal/search"
)

// defaultTimeoutMs caps request-scoped work when the caller doesn't
// specify timeout_ms; maxTimeoutMs is the spec §5 hard cap of 60s.
const (
	defaultTimeoutMs = 30000
	maxTimeoutMs     = 60000
)

func clampTimeoutMs(requested *int) time.Duration {
	ms := defaultTimeoutMs
	if requested != nil && *requested > 0 {
		ms = *requested
	}
	if ms > maxTimeoutMs {
		ms = maxTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// handleScrape implements POST /v1/scrape (C1-C8 synchronous path).
func (s *Server) handleScrape(c *fiber.Ctx) error {
	var req ScrapeRequest
	if err := c.BodyParser(&req); err != nil || req.URL == "" {
		return writeError(c, model.NewAPIError(model.ErrValidation, "body must include a non-empty 'url'"))
	}

	timeout := clampTimeoutMs(req.TimeoutMs)
	ctx, cancel := context.WithTimeout(c.Context(), timeout)
	defer cancel()

	render := model.RenderAuto
	if boolOr(req.UsePlaywright, false) {
		render = model.RenderAlways
	}

	outcome, apiErr := s.Coordinator.Scrape(ctx, req.URL, coordinator.Options{
		RenderPolicy:    render,
		RespectRobots:   boolOr(req.RespectRobots, true),
		CacheTTLSeconds: req.CacheTTLSeconds,
		ForceRefresh:    boolOr(req.ForceRefresh, false),
	})
	if apiErr != nil {
		return writeError(c, apiErr)
	}

	formats := scrapeutil.StringsToFormats(req.Formats)
	includeLinks := boolOr(req.IncludeLinks, false) || scrapeutil.WantsFormat(formats, "links")
	includeRawHTML := boolOr(req.IncludeRawHTML, false) || scrapeutil.WantsFormat(formats, "html") || scrapeutil.WantsFormat(formats, "rawHtml")

	env := pageToEnvelope(outcome.Page, includeLinks, includeRawHTML, outcome.Cached)

	if scrapeutil.WantsFormat(formats, "images") && outcome.Page.Metadata.OgImage != "" {
		env.Images = []string{outcome.Page.Metadata.OgImage}
	}

	if scrapeutil.WantsFormat(formats, "summary") {
		summary, apiErr := s.summarize(ctx, outcome.Page.Markdown)
		if apiErr != nil {
			return writeError(c, apiErr)
		}
		env.Summary = summary
	}

	wantsJSON, jsonPrompt, jsonSchema := scrapeutil.GetJSONFormatConfig(formats)
	if req.JSONSchema != nil {
		wantsJSON = true
	}
	if wantsJSON {
		if jsonPrompt == "" {
			jsonPrompt = req.JSONPrompt
		}
		schema := req.JSONSchema
		if schema == nil && jsonSchema != nil {
			schema = map[string]any(jsonSchema)
		}
		data, apiErr := s.extractJSON(ctx, outcome.Page.Markdown, outcome.Page.CanonicalURL, jsonPrompt, schema)
		if apiErr != nil {
			return writeError(c, apiErr)
		}
		env.JSON = data
	}

	if scrapeutil.WantsFormat(formats, "screenshot") {
		shot, err := scraper.CaptureScreenshot(ctx, outcome.Page.CanonicalURL, timeout, boolOr(req.ScreenshotFullPage, false))
		if err != nil {
			return writeError(c, model.NewAPIError(model.ErrRenderError, err.Error()))
		}
		env.Screenshot = base64.StdEncoding.EncodeToString(shot)
	}

	return c.Status(fiber.StatusOK).JSON(env)
}

// summarize asks the configured default LLM provider for a short prose
// summary of markdown, for formats: ["summary"].
func (s *Server) summarize(ctx context.Context, markdown string) (string, *model.APIError) {
	if s.NewLLMClient == nil {
		return "", model.NewAPIError(model.ErrLLMProviderError, "no llm provider is configured")
	}
	client, err := s.NewLLMClient("", "")
	if err != nil {
		return "", model.NewAPIError(model.ErrLLMProviderError, err.Error())
	}
	resp, err := client.Complete(ctx, llm.CompleteRequest{
		System: "You write a two-to-three sentence plain-text summary of the page content you are given. Respond with prose only, no JSON and no markdown formatting.",
		User:   markdown,
	})
	if err != nil {
		return "", model.NewAPIError(model.ErrLLMProviderError, err.Error())
	}
	return resp.Content, nil
}

// extractJSON runs a schema-less or schema-constrained extraction over
// already-fetched markdown for formats: ["json"], through
// agent.ExtractJSON and its parse/validate retry loop.
func (s *Server) extractJSON(ctx context.Context, markdown, sourceURL, prompt string, schema map[string]any) (map[string]any, *model.APIError) {
	if s.NewLLMClient == nil {
		return nil, model.NewAPIError(model.ErrLLMProviderError, "no llm provider is configured")
	}
	client, err := s.NewLLMClient("", "")
	if err != nil {
		return nil, model.NewAPIError(model.ErrLLMProviderError, err.Error())
	}
	if prompt == "" {
		prompt = "Extract the key structured facts from this page as a JSON object."
	}
	return agent.ExtractJSON(ctx, client, sourceURL, prompt, markdown, schema, 0)
}

// handleMap implements POST /v1/map (C9 enqueue, C10 async worker).
func (s *Server) handleMap(c *fiber.Ctx) error {
	key, _ := apiKeyFromLocals(c)
	if !key.HasScope(model.ScopeMap) {
		return writeError(c, model.NewAPIError(model.ErrForbidden, "API key lacks the map scope"))
	}

	var req MapRequest
	if err := c.BodyParser(&req); err != nil || req.URL == "" {
		return writeError(c, model.NewAPIError(model.ErrValidation, "body must include a non-empty 'url'"))
	}

	render := model.RenderAuto
	if boolOr(req.UsePlaywright, false) {
		render = model.RenderAlways
	}

	params := jobs.MapParams{
		URL:             req.URL,
		MaxDepth:        intOr(req.MaxDepth, 0),
		MaxPages:        intOr(req.MaxPages, 0),
		IncludePatterns: req.IncludePatterns,
		ExcludePatterns: req.ExcludePatterns,
		RespectRobots:   boolOr(req.RespectRobots, true),
		RenderPolicy:    render,
		Concurrency:     intOr(req.Concurrency, 0),
		ForceRefresh:    boolOr(req.Force, false),
	}

	idempotencyKey := idempotencyKeyFromHeader(c)
	job, apiErr := s.Queue.Submit(c.Context(), key.ID, model.JobTypeMap, params, idempotencyKey)
	if apiErr != nil {
		return writeError(c, apiErr)
	}

	return c.Status(fiber.StatusAccepted).JSON(JobAcceptedResponse{JobID: job.ID.String(), Status: job.Status})
}

// handleSearch implements POST /v1/search, optionally scraping the
// top N ranked results via the coordinator (C8).
func (s *Server) handleSearch(c *fiber.Ctx) error {
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil || req.Query == "" {
		return writeError(c, model.NewAPIError(model.ErrValidation, "body must include a non-empty 'query'"))
	}
	if s.Search == nil {
		return writeError(c, model.NewAPIError(model.ErrInternal, "search provider is not configured"))
	}

	ctx, cancel := context.WithTimeout(c.Context(), 15*time.Second)
	defer cancel()

	results, err := s.Search.Search(ctx, &search.Request{Query: req.Query, Limit: intOr(req.NumResults, 0)})
	if err != nil {
		return writeError(c, model.NewAPIError(model.ErrUpstreamHTTP, err.Error()))
	}

	scrapeTopN := intOr(req.ScrapeTopN, 0)
	items := make([]SearchResultItem, 0, len(results.Web))
	for i, r := range results.Web {
		item := SearchResultItem{URL: r.URL, Title: r.Title, Snippet: r.Description}
		if i < scrapeTopN {
			outcome, apiErr := s.Coordinator.Scrape(ctx, r.URL, coordinator.Options{RenderPolicy: model.RenderAuto})
			if apiErr == nil {
				item.Markdown = outcome.Page.Markdown
			}
		}
		items = append(items, item)
	}

	return c.Status(fiber.StatusOK).JSON(SearchResponse{Results: items})
}

// handleAgentExtract implements POST /v1/agent/extract (C9 enqueue,
// C11 async worker).
func (s *Server) handleAgentExtract(c *fiber.Ctx) error {
	key, _ := apiKeyFromLocals(c)
	if !key.HasScope(model.ScopeAgent) {
		return writeError(c, model.NewAPIError(model.ErrForbidden, "API key lacks the agent scope"))
	}

	var req AgentExtractRequest
	if err := c.BodyParser(&req); err != nil || req.URL == "" || req.Prompt == "" {
		return writeError(c, model.NewAPIError(model.ErrValidation, "body must include a non-empty 'url' and 'prompt'"))
	}

	render := model.RenderAuto
	if boolOr(req.UsePlaywright, false) {
		render = model.RenderAlways
	}

	params := jobs.AgentExtractParams{
		URL:              req.URL,
		Prompt:           req.Prompt,
		SchemaDefinition: req.SchemaDefinition,
		RenderPolicy:     render,
		TimeoutMs:        intOr(req.TimeoutMs, 0),
	}

	idempotencyKey := idempotencyKeyFromHeader(c)
	job, apiErr := s.Queue.Submit(c.Context(), key.ID, model.JobTypeAgentExtract, params, idempotencyKey)
	if apiErr != nil {
		return writeError(c, apiErr)
	}

	return c.Status(fiber.StatusAccepted).JSON(JobAcceptedResponse{JobID: job.ID.String(), Status: job.Status})
}

// handleJobStatus implements GET /v1/jobs/{id}.
func (s *Server) handleJobStatus(c *fiber.Ctx) error {
	key, _ := apiKeyFromLocals(c)
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return writeError(c, model.NewAPIError(model.ErrValidation, "invalid job id"))
	}

	job, apiErr := s.Queue.Status(c.Context(), key.ID, jobID)
	if apiErr != nil {
		return writeError(c, apiErr)
	}

	return c.Status(fiber.StatusOK).JSON(jobToStatusResponse(job))
}

// handleJobResults implements GET /v1/jobs/{id}/results (409 if not terminal).
func (s *Server) handleJobResults(c *fiber.Ctx) error {
	key, _ := apiKeyFromLocals(c)
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return writeError(c, model.NewAPIError(model.ErrValidation, "invalid job id"))
	}

	job, result, apiErr := s.Queue.Results(c.Context(), key.ID, jobID)
	if apiErr != nil {
		return writeError(c, apiErr)
	}
	if !job.Status.IsTerminal() {
		return writeError(c, model.NewAPIError(model.ErrJobNotTerminal, "job has not reached a terminal state"))
	}

	return c.Status(fiber.StatusOK).JSON(JobResultsResponse{JobID: job.ID.String(), Status: job.Status, Result: result})
}

// handleJobCancel implements a cooperative job cancel, used by the
// admin/job management surface alongside the spec's core routes.
func (s *Server) handleJobCancel(c *fiber.Ctx) error {
	key, _ := apiKeyFromLocals(c)
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return writeError(c, model.NewAPIError(model.ErrValidation, "invalid job id"))
	}
	if apiErr := s.Queue.Cancel(c.Context(), key.ID, jobID); apiErr != nil {
		return writeError(c, apiErr)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func idempotencyKeyFromHeader(c *fiber.Ctx) *string {
	v := c.Get("X-Idempotency-Key")
	if v == "" {
		return nil
	}
	return &v
}

func jobToStatusResponse(job model.Job) JobStatusResponse {
	resp := JobStatusResponse{
		JobID:           job.ID.String(),
		Type:            job.Type,
		Status:          job.Status,
		PagesDiscovered: job.PagesDiscovered,
		PagesTotal:      job.PagesTotal,
		ErrorCode:       job.ErrorCode,
		ErrorMessage:    job.ErrorMessage,
		CreatedAt:       job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		v := job.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &v
	}
	if job.CompletedAt != nil {
		v := job.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &v
	}
	return resp
}
