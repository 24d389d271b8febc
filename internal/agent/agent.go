// Package agent implements the agent extractor (C11): scrape a page
// via the coordinator, assemble a prompt from a user instruction plus
// the page's Markdown and an optional JSON Schema, invoke an LLM
// provider, and validate the parsed response against the schema —
// retrying with a corrective follow-up up to twice on failure.
// Grounded on the teacher's internal/llm client shapes, generalized
// from a fixed field-list extraction into schema-constrained
// structured output.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"harvestd/internal/coordinator"
	"harvestd/internal/llm"
	"harvestd/internal/model"
)

// maxRetries is the number of corrective follow-up attempts after an
// initial validation failure (spec: "retry up to twice").
const maxRetries = 2

// headChars/tailChars bound how much Markdown is kept when truncating
// for the LLM's token budget: the first headChars characters (most
// pages put the substantive content up top) plus the last tailChars
// (footers, trailing tables) with an elision marker in between.
const (
	headChars = 12000
	tailChars = 2000
)

// Request describes one agent-extract job's input.
type Request struct {
	URL      string
	Prompt   string
	Schema   map[string]any // optional JSON Schema the result must satisfy
	Render   model.RenderPolicy
	Timeout  time.Duration
	Provider string
	Model    string
}

// Result is the terminal output of a successful extraction.
type Result struct {
	Data              map[string]any `json:"data"`
	SourceURL         string         `json:"sourceUrl"`
	MarkdownSHA256    string         `json:"markdownSha256"`
	Attempts          int            `json:"attempts"`
	ValidationFailure string         `json:"validationFailure,omitempty"`
}

// Agent runs extraction requests against a scrape coordinator and an
// LLM client.
type Agent struct {
	Coordinator *coordinator.Coordinator
	NewClient   func(providerOverride, modelOverride string) (llm.Client, error)
}

func New(coord *coordinator.Coordinator, newClient func(providerOverride, modelOverride string) (llm.Client, error)) *Agent {
	return &Agent{Coordinator: coord, NewClient: newClient}
}

// Run executes req to completion, returning a populated Result or a
// typed APIError (LLM_TIMEOUT, LLM_PROVIDER_ERROR, LLM_OUTPUT_INVALID,
// or a fetch-layer error surfaced unchanged from the coordinator).
func (a *Agent) Run(ctx context.Context, req Request) (Result, *model.APIError) {
	outcome, apiErr := a.Coordinator.Scrape(ctx, req.URL, coordinator.Options{RenderPolicy: req.Render})
	if apiErr != nil {
		return Result{}, apiErr
	}

	client, err := a.NewClient(req.Provider, req.Model)
	if err != nil {
		return Result{}, model.NewAPIError(model.ErrLLMProviderError, err.Error())
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	markdown := truncateHeadHeavy(outcome.Page.Markdown, headChars, tailChars)
	fingerprint := sha256.Sum256([]byte(outcome.Page.Markdown))

	parsed, attempts, apiErr := extractWithRetry(ctx, client, req.URL, req.Prompt, markdown, req.Schema, timeout)
	if apiErr != nil {
		return Result{}, apiErr
	}

	return Result{
		Data:           parsed,
		SourceURL:      outcome.Page.CanonicalURL,
		MarkdownSHA256: hex.EncodeToString(fingerprint[:]),
		Attempts:       attempts,
	}, nil
}

// ExtractJSON runs the same schema-constrained extraction loop as Run,
// but against already-fetched markdown rather than re-scraping a URL.
// Used by the scrape endpoint's formats: ["json"] support, where the
// page has already been fetched through the coordinator.
func ExtractJSON(ctx context.Context, client llm.Client, sourceURL, prompt, markdown string, schema map[string]any, timeout time.Duration) (map[string]any, *model.APIError) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	truncated := truncateHeadHeavy(markdown, headChars, tailChars)
	parsed, _, apiErr := extractWithRetry(ctx, client, sourceURL, prompt, truncated, schema, timeout)
	return parsed, apiErr
}

func extractWithRetry(ctx context.Context, client llm.Client, sourceURL, prompt, markdown string, schema map[string]any, timeout time.Duration) (map[string]any, int, *model.APIError) {
	schemaJSON := ""
	if schema != nil {
		if b, merr := json.Marshal(schema); merr == nil {
			schemaJSON = string(b)
		}
	}

	system := "You are a precise JSON extraction engine. Respond with a single JSON object and no other text."
	user := buildUserPrompt(sourceURL, prompt, markdown, schemaJSON, "")

	var lastValidationErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		completeCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, cerr := client.Complete(completeCtx, llm.CompleteRequest{System: system, User: user, Timeout: timeout})
		cancel()

		if cerr != nil {
			if errors.Is(completeCtx.Err(), context.DeadlineExceeded) {
				return nil, 0, model.NewAPIError(model.ErrLLMTimeout, "llm call exceeded its timeout")
			}
			return nil, 0, model.NewAPIError(model.ErrLLMProviderError, cerr.Error())
		}

		parsed, perr := extractJSONObject(resp.Content)
		if perr != nil {
			lastValidationErr = perr
			user = buildUserPrompt(sourceURL, prompt, markdown, schemaJSON, "Your previous response was not valid JSON: "+perr.Error()+". Respond with ONLY a single JSON object.")
			continue
		}

		if schema != nil {
			if verr := validateSchema(schema, parsed); verr != nil {
				lastValidationErr = verr
				user = buildUserPrompt(sourceURL, prompt, markdown, schemaJSON, "Your previous response failed schema validation: "+verr.Error()+". Correct it and respond with ONLY a single JSON object matching the schema.")
				continue
			}
		}

		return parsed, attempt, nil
	}

	return nil, 0, model.NewAPIError(model.ErrLLMOutputInvalid, fmt.Sprintf("response did not satisfy the schema after %d attempts: %v", maxRetries+1, lastValidationErr))
}

func buildUserPrompt(url, prompt, markdown, schemaJSON, correction string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Source URL: %s\n\n", url)
	if prompt != "" {
		sb.WriteString("Instruction: ")
		sb.WriteString(prompt)
		sb.WriteString("\n\n")
	}
	if schemaJSON != "" {
		sb.WriteString("Your response MUST be a single JSON object validating against this JSON Schema:\n")
		sb.WriteString(schemaJSON)
		sb.WriteString("\n\n")
	}
	if correction != "" {
		sb.WriteString("Correction needed: ")
		sb.WriteString(correction)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Page Markdown:\n")
	sb.WriteString(markdown)
	return sb.String()
}

// truncateHeadHeavy keeps the first head characters and the last tail
// characters of s, joined by an elision marker, when s exceeds their
// combined length.
func truncateHeadHeavy(s string, head, tail int) string {
	if len(s) <= head+tail {
		return s
	}
	return s[:head] + "\n\n...[elided " + fmt.Sprint(len(s)-head-tail) + " characters]...\n\n" + s[len(s)-tail:]
}

// extractJSONObject parses a JSON object out of content, tolerating a
// model that wraps it in prose or a fenced code block.
func extractJSONObject(content string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		return obj, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, errors.New("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
