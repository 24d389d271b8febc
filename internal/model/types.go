// Package model holds the data types shared across Raito's packages:
// the persisted entities (ApiKey, Page, Job, JobPage, Event) and the
// typed error codes used to carry failures from the extraction pipeline
// up to the HTTP layer.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Scope is a capability an ApiKey may hold.
type Scope string

const (
	ScopeScrape Scope = "scrape"
	ScopeMap    Scope = "map"
	ScopeSearch Scope = "search"
	ScopeAgent  Scope = "agent"
	ScopeAdmin  Scope = "admin"
)

// ApiKey is an opaque credential presented by a client. The raw secret is
// never stored; only its unsalted SHA-256 hex digest is.
type ApiKey struct {
	ID         uuid.UUID
	KeyHash    string
	Name       string
	Scopes     []Scope
	RateLimit  int
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// HasScope reports whether the key carries the given scope, or admin
// (which implies all scopes).
func (k ApiKey) HasScope(s Scope) bool {
	for _, have := range k.Scopes {
		if have == s || have == ScopeAdmin {
			return true
		}
	}
	return false
}

// RenderPolicy controls whether the adaptive fetcher renders a page with
// a headless browser.
type RenderPolicy string

const (
	RenderAuto   RenderPolicy = "auto"
	RenderAlways RenderPolicy = "always"
	RenderNever  RenderPolicy = "never"
)

// Renderer tags which engine actually produced a Page.
type Renderer string

const (
	RendererStatic   Renderer = "static"
	RendererHeadless Renderer = "headless"
)

// LinkMetadata captures an outbound link discovered during extraction.
type LinkMetadata struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
	Rel  string `json:"rel,omitempty"`
}

// Metadata is the OpenGraph/document metadata block produced by the
// extractor for a Page.
type Metadata struct {
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	Language      string `json:"language,omitempty"`
	Favicon       string `json:"favicon,omitempty"`
	CanonicalURL  string `json:"canonicalUrl,omitempty"`
	OgTitle       string `json:"ogTitle,omitempty"`
	OgDescription string `json:"ogDescription,omitempty"`
	OgImage       string `json:"ogImage,omitempty"`
	OgSiteName    string `json:"ogSiteName,omitempty"`
	OgPublishedAt string `json:"ogPublishedTime,omitempty"`
	SourceURL     string `json:"sourceURL,omitempty"`
	StatusCode    int    `json:"statusCode"`
}

// Page is a cached extraction result, content-addressed by URLHash.
type Page struct {
	ID              uuid.UUID
	URL             string
	CanonicalURL    string
	URLHash         string
	ContentHash     *string
	StatusCode      int
	Title           string
	Description     string
	Markdown        string
	RawHTML         string
	Renderer        Renderer
	LinksInternal   []string
	LinksExternal   []string
	LinkMetadata    []LinkMetadata
	Metadata        Metadata
	WordCount       int
	ReadTimeMinutes int
	FetchDurationMs int64
	FetchedAt       time.Time
	ErrorCode       string
	ErrorMessage    string
}

// JobType enumerates the kinds of background work the job engine runs.
type JobType string

const (
	JobTypeMap          JobType = "map"
	JobTypeAgentExtract JobType = "agent_extract"
)

// JobStatus is the job lifecycle state. Transitions:
// queued -> running -> {completed | failed | cancelled}. Terminal states
// are sticky.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is one a job cannot leave.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is a unit of background work owned by exactly one ApiKey.
type Job struct {
	ID              uuid.UUID
	APIKeyID        uuid.UUID
	Type            JobType
	Status          JobStatus
	InputParams     []byte // opaque JSON blob
	IdempotencyKey  *string
	ErrorCode       string
	ErrorMessage    string
	PagesDiscovered int
	PagesTotal      int
	Result          []byte // opaque JSON blob, populated on completion
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CancelRequested bool
}

// JobPage links a Job to a Page it discovered or visited, at a given
// crawl depth.
type JobPage struct {
	JobID  uuid.UUID
	PageID uuid.UUID
	Depth  int
}

// EventLevel is the severity of an audit Event.
type EventLevel string

const (
	EventInfo  EventLevel = "info"
	EventWarn  EventLevel = "warn"
	EventError EventLevel = "error"
)

// Event is an append-only audit/log record for correlation.
type Event struct {
	ID        uuid.UUID
	APIKeyID  *uuid.UUID
	JobID     *uuid.UUID
	EventType string
	Level     EventLevel
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// ErrorCode is a typed enumeration of the error conditions defined in
// spec §6/§7. Never construct error codes from free-form strings.
type ErrorCode string

const (
	ErrInvalidURL        ErrorCode = "INVALID_URL"
	ErrUnsupportedScheme ErrorCode = "UNSUPPORTED_SCHEME"
	ErrSSRFBlocked       ErrorCode = "SSRF_BLOCKED"
	ErrUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrForbidden         ErrorCode = "FORBIDDEN"
	ErrRobotsBlocked     ErrorCode = "ROBOTS_BLOCKED"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
	ErrValidation        ErrorCode = "VALIDATION_ERROR"
	ErrFetchTimeout      ErrorCode = "FETCH_TIMEOUT"
	ErrFetchError        ErrorCode = "FETCH_ERROR"
	ErrUpstreamHTTP      ErrorCode = "UPSTREAM_HTTP_ERROR"
	ErrRenderError       ErrorCode = "RENDER_ERROR"
	ErrLLMTimeout        ErrorCode = "LLM_TIMEOUT"
	ErrLLMProviderError  ErrorCode = "LLM_PROVIDER_ERROR"
	ErrLLMOutputInvalid  ErrorCode = "LLM_OUTPUT_INVALID"
	ErrQueueFull         ErrorCode = "QUEUE_FULL"
	ErrWorkerStalled     ErrorCode = "WORKER_STALLED"
	ErrJobNotTerminal    ErrorCode = "JOB_NOT_TERMINAL"
	ErrInternal          ErrorCode = "INTERNAL_ERROR"
)

// HTTPStatus maps a typed error code to the HTTP status spec §6 assigns it.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrUnauthorized:
		return 401
	case ErrForbidden, ErrSSRFBlocked, ErrRobotsBlocked:
		return 403
	case ErrRateLimited:
		return 429
	case ErrValidation, ErrInvalidURL, ErrUnsupportedScheme:
		return 422
	case ErrFetchTimeout, ErrLLMTimeout:
		return 504
	case ErrFetchError, ErrUpstreamHTTP, ErrRenderError, ErrLLMProviderError, ErrLLMOutputInvalid:
		return 502
	case ErrQueueFull:
		return 503
	case ErrJobNotTerminal:
		return 409
	case ErrWorkerStalled, ErrInternal:
		return 500
	default:
		return 500
	}
}

// APIError is the typed error carried through the extraction pipeline.
// It always knows its code, a human-readable message, and whether the
// fetch layer should retry it internally.
type APIError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Status    int // upstream HTTP status, when ErrUpstreamHTTP
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// NewAPIError constructs an APIError with the given code and message.
func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message}
}
