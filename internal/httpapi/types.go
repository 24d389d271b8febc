package httpapi

import "harvestd/internal/model"

// ErrorEnvelope is the error shape every non-2xx response uses (spec §6).
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Details   any    `json:"details,omitempty"`
}

func newErrorEnvelope(apiErr *model.APIError, requestID string) ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorBody{
		Code:      string(apiErr.Code),
		Message:   apiErr.Message,
		RequestID: requestID,
	}}
}

// ScrapeRequest is POST /v1/scrape's body. Formats is the richer,
// additive superset of include_links/include_raw_html: a
// Firecrawl-style array of "markdown"/"html"/"rawHtml"/"links"/
// "images"/"summary"/"json"/"screenshot" entries. The two booleans
// remain as shorthand for formats: ["links"] / ["rawHtml"].
type ScrapeRequest struct {
	URL                string         `json:"url"`
	UsePlaywright      *bool          `json:"use_playwright,omitempty"`
	IncludeLinks       *bool          `json:"include_links,omitempty"`
	IncludeRawHTML     *bool          `json:"include_raw_html,omitempty"`
	RespectRobots      *bool          `json:"respect_robots,omitempty"`
	TimeoutMs          *int           `json:"timeout_ms,omitempty"`
	CacheTTLSeconds    *int           `json:"cache_ttl_seconds,omitempty"`
	ForceRefresh       *bool          `json:"force_refresh,omitempty"`
	Formats            []string       `json:"formats,omitempty"`
	JSONPrompt         string         `json:"json_prompt,omitempty"`
	JSONSchema         map[string]any `json:"json_schema,omitempty"`
	ScreenshotFullPage *bool          `json:"screenshot_full_page,omitempty"`
}

// PageEnvelope is the 200 response body for a scrape.
type PageEnvelope struct {
	URL             string         `json:"url"`
	CanonicalURL    string         `json:"canonicalUrl"`
	StatusCode      int            `json:"statusCode"`
	Title           string         `json:"title,omitempty"`
	Description     string         `json:"description,omitempty"`
	Markdown        string         `json:"markdown"`
	RawHTML         string         `json:"rawHtml,omitempty"`
	Renderer        model.Renderer `json:"renderer"`
	LinksInternal   []string       `json:"linksInternal,omitempty"`
	LinksExternal   []string       `json:"linksExternal,omitempty"`
	Images          []string       `json:"images,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	JSON            map[string]any `json:"json,omitempty"`
	Screenshot      string         `json:"screenshot,omitempty"`
	Metadata        model.Metadata `json:"metadata"`
	WordCount       int            `json:"wordCount"`
	ReadTimeMinutes int            `json:"readTimeMinutes"`
	FetchDurationMs int64          `json:"fetchDurationMs"`
	Cached          bool           `json:"cached"`
}

func pageToEnvelope(p model.Page, includeLinks, includeRawHTML, cached bool) PageEnvelope {
	env := PageEnvelope{
		URL:             p.URL,
		CanonicalURL:    p.CanonicalURL,
		StatusCode:      p.StatusCode,
		Title:           p.Title,
		Description:     p.Description,
		Markdown:        p.Markdown,
		Renderer:        p.Renderer,
		Metadata:        p.Metadata,
		WordCount:       p.WordCount,
		ReadTimeMinutes: p.ReadTimeMinutes,
		FetchDurationMs: p.FetchDurationMs,
		Cached:          cached,
	}
	if includeLinks {
		env.LinksInternal = p.LinksInternal
		env.LinksExternal = p.LinksExternal
	}
	if includeRawHTML {
		env.RawHTML = p.RawHTML
	}
	return env
}

// MapRequest is POST /v1/map's body.
type MapRequest struct {
	URL             string   `json:"url"`
	MaxDepth        *int     `json:"max_depth,omitempty"`
	MaxPages        *int     `json:"max_pages,omitempty"`
	IncludePatterns []string `json:"include_patterns,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	RespectRobots   *bool    `json:"respect_robots,omitempty"`
	UsePlaywright   *bool    `json:"use_playwright,omitempty"`
	TimeoutMs       *int     `json:"timeout_ms,omitempty"`
	Concurrency     *int     `json:"concurrency,omitempty"`
	Force           *bool    `json:"force,omitempty"`
}

// SearchRequest is POST /v1/search's body.
type SearchRequest struct {
	Query       string `json:"query"`
	NumResults  *int   `json:"num_results,omitempty"`
	ScrapeTopN  *int   `json:"scrape_top_n,omitempty"`
	SearchType  string `json:"search_type,omitempty"`
}

// SearchResultItem is one ranked search hit, optionally enriched with
// scraped Markdown for the top N results.
type SearchResultItem struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

type SearchResponse struct {
	Results []SearchResultItem `json:"results"`
}

// AgentExtractRequest is POST /v1/agent/extract's body.
type AgentExtractRequest struct {
	URL              string         `json:"url"`
	Prompt           string         `json:"prompt"`
	SchemaDefinition map[string]any `json:"schema_definition,omitempty"`
	UsePlaywright    *bool          `json:"use_playwright,omitempty"`
	TimeoutMs        *int           `json:"timeout_ms,omitempty"`
}

// JobAcceptedResponse is the 202 body for map/agent-extract submission.
type JobAcceptedResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

// JobStatusResponse is GET /v1/jobs/{id}'s body.
type JobStatusResponse struct {
	JobID           string          `json:"job_id"`
	Type            model.JobType   `json:"type"`
	Status          model.JobStatus `json:"status"`
	PagesDiscovered int             `json:"pages_discovered"`
	PagesTotal      int             `json:"pages_total"`
	ErrorCode       string          `json:"error_code,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       string          `json:"created_at"`
	StartedAt       *string         `json:"started_at,omitempty"`
	CompletedAt     *string         `json:"completed_at,omitempty"`
}

// JobResultsResponse is GET /v1/jobs/{id}/results's body.
type JobResultsResponse struct {
	JobID  string         `json:"job_id"`
	Status model.JobStatus `json:"status"`
	Result map[string]any `json:"result,omitempty"`
}

// CreateAPIKeyRequest is POST /v1/admin/keys's body.
type CreateAPIKeyRequest struct {
	Name      string         `json:"name"`
	Scopes    []model.Scope  `json:"scopes"`
	RateLimit int            `json:"rate_limit,omitempty"`
}

// APIKeyResponse describes a key. Key is only populated on creation.
type APIKeyResponse struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Scopes    []model.Scope `json:"scopes"`
	RateLimit int           `json:"rate_limit"`
	IsActive  bool          `json:"is_active"`
	CreatedAt string        `json:"created_at"`
	Key       string        `json:"key,omitempty"`
}

func apiKeyToResponse(k model.ApiKey, rawKey string) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID.String(),
		Name:      k.Name,
		Scopes:    k.Scopes,
		RateLimit: k.RateLimit,
		IsActive:  k.IsActive,
		CreatedAt: k.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Key:       rawKey,
	}
}
