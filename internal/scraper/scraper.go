package scraper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"harvestd/internal/model"
	"harvestd/internal/urlnorm"
)

// maxRedirects caps the HTTP client's redirect chain per §4.5(a).
const maxRedirects = 5

// retryBackoffs are the fixed delays between retries on connection
// errors and 5xx responses, per §4.5(a): 2s, 4s, 8s, so at most 3
// retries after the first attempt.
var retryBackoffs = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// ssrfSafeRedirectPolicy re-validates every redirect hop against the
// SSRF guard, failing the fetch rather than transparently following a
// redirect into a blocked range, per spec §4.1/§4.5.
func ssrfSafeRedirectPolicy(ctx context.Context) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return http.ErrUseLastResponse
		}
		if _, err := urlnorm.Normalize(ctx, req.URL.String(), ""); err != nil {
			return err
		}
		return nil
	}
}

// isRetryableStatus reports whether a response status should be retried
// per §4.5(a): 5xx, or 408/429.
func isRetryableStatus(status int) bool {
	if status >= 500 {
		return true
	}
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

// doOnce executes a single attempt of httpReq, classifying the outcome
// into a typed, retry-annotated APIError on failure.
func doOnce(client *http.Client, httpReq *http.Request) (*http.Response, []byte, *model.APIError) {
	resp, err := client.Do(httpReq)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, nil, apiErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, model.NewAPIError(model.ErrFetchTimeout, err.Error())
		}
		fetchErr := model.NewAPIError(model.ErrFetchError, err.Error())
		fetchErr.Retryable = true
		return nil, nil, fetchErr
	}

	if resp.StatusCode >= 400 {
		if isRetryableStatus(resp.StatusCode) {
			resp.Body.Close()
			fetchErr := model.NewAPIError(model.ErrUpstreamHTTP, "upstream returned retryable status")
			fetchErr.Retryable = true
			fetchErr.Status = resp.StatusCode
			return nil, nil, fetchErr
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		apiErr := model.NewAPIError(model.ErrUpstreamHTTP, "upstream returned non-retriable status")
		apiErr.Status = resp.StatusCode
		_ = body
		return nil, nil, apiErr
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		fetchErr := model.NewAPIError(model.ErrFetchError, err.Error())
		fetchErr.Retryable = true
		return nil, nil, fetchErr
	}
	return resp, body, nil
}

// Request represents a simplified scrape request used by the scraper package.
type Request struct {
	URL       string
	Headers   map[string]string
	Timeout   time.Duration
	UserAgent string
}

// Result represents the core scrape output independent of the HTTP layer.
// Markdown extraction, link discovery, and metadata parsing happen once,
// downstream, in internal/extract (C6) against the raw HTML here — the
// fetcher itself only needs to report what it fetched and from where.
type Result struct {
	URL     string
	RawHTML string
	Status  int
	Engine  string
}

// Scraper defines the interface for URL scrapers.
type Scraper interface {
	Scrape(ctx context.Context, req Request) (*Result, error)
}

// HTTPScraper is a basic implementation using net/http.
type HTTPScraper struct {
	client *http.Client
}

func NewHTTPScraper(timeout time.Duration) *HTTPScraper {
	return &HTTPScraper{
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPScraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, model.NewAPIError(model.ErrInvalidURL, err.Error())
	}

	if u.Scheme == "" {
		u.Scheme = "http"
	}

	var resp *http.Response
	var bodyBytes []byte

	client := &http.Client{Timeout: s.client.Timeout, CheckRedirect: ssrfSafeRedirectPolicy(ctx)}

	for attempt := 0; ; attempt++ {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if reqErr != nil {
			return nil, model.NewAPIError(model.ErrFetchError, reqErr.Error())
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}
		if req.UserAgent != "" {
			httpReq.Header.Set("User-Agent", req.UserAgent)
		}

		var apiErr *model.APIError
		resp, bodyBytes, apiErr = doOnce(client, httpReq)
		if apiErr == nil {
			break
		}
		if attempt >= len(retryBackoffs) || !apiErr.Retryable {
			return nil, apiErr
		}
		select {
		case <-ctx.Done():
			return nil, model.NewAPIError(model.ErrFetchTimeout, ctx.Err().Error())
		case <-time.After(retryBackoffs[attempt]):
		}
	}

	htmlStr := string(bodyBytes)

	return &Result{
		URL:     u.String(),
		RawHTML: htmlStr,
		Status:  resp.StatusCode,
		Engine:  "http",
	}, nil
}
