package scraper

import (
	"context"
	"regexp"
	"strings"
	"time"

	"harvestd/internal/model"
)

// FetchResult is the C5 adaptive fetcher's contract output.
type FetchResult struct {
	Status      int
	FinalURL    string
	Body        string
	Renderer    model.Renderer
	DurationMs  int64
}

// AdaptiveFetcher implements C5: static fetch with headless-render
// fallback governed by a RenderPolicy.
type AdaptiveFetcher struct {
	Static *HTTPScraper
	Rod    *RodScraper
}

// NewAdaptiveFetcher constructs a fetcher with the given static timeout
// and a shared render timeout for the headless engine.
func NewAdaptiveFetcher(staticTimeout, renderTimeout time.Duration) *AdaptiveFetcher {
	return &AdaptiveFetcher{
		Static: NewHTTPScraper(staticTimeout),
		Rod:    NewRodScraper(renderTimeout),
	}
}

const hardRenderCap = 30 * time.Second

var spaShellMarkers = regexp.MustCompile(`(?i)id=["'](app|root|__next_data__)["']`)
var metaRefreshPattern = regexp.MustCompile(`(?i)<meta[^>]+http-equiv=["']refresh["']`)
var tagStripper = regexp.MustCompile(`(?is)<script.*?</script>|<style.*?</style>|<[^>]+>`)

// Fetch runs the C5 algorithm: static fetch, then the render-trigger
// heuristic under RenderAuto, or an unconditional render under
// RenderAlways.
func (f *AdaptiveFetcher) Fetch(ctx context.Context, targetURL string, policy model.RenderPolicy) (*FetchResult, *model.APIError) {
	start := time.Now()

	if policy == model.RenderAlways {
		return f.render(ctx, targetURL, start)
	}

	staticResult, err := f.Static.Scrape(ctx, Request{URL: targetURL})
	if err != nil {
		if apiErr, ok := err.(*model.APIError); ok {
			return nil, apiErr
		}
		return nil, model.NewAPIError(model.ErrFetchError, err.Error())
	}

	if policy == model.RenderNever {
		return &FetchResult{
			Status:     staticResult.Status,
			FinalURL:   staticResult.URL,
			Body:       staticResult.RawHTML,
			Renderer:   model.RendererStatic,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	// policy == auto
	if shouldRender(staticResult.RawHTML) {
		return f.render(ctx, targetURL, start)
	}

	return &FetchResult{
		Status:     staticResult.Status,
		FinalURL:   staticResult.URL,
		Body:       staticResult.RawHTML,
		Renderer:   model.RendererStatic,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// shouldRender implements the §4.5(b) render-trigger heuristic.
func shouldRender(body string) bool {
	if len(body) < 500 {
		return true
	}
	if spaShellMarkers.MatchString(body) {
		return true
	}
	if metaRefreshPattern.MatchString(body) {
		return true
	}
	effectiveText := strings.TrimSpace(tagStripper.ReplaceAllString(body, ""))
	if len(effectiveText) < 200 {
		return true
	}
	return false
}

func (f *AdaptiveFetcher) render(ctx context.Context, targetURL string, start time.Time) (*FetchResult, *model.APIError) {
	renderCtx, cancel := context.WithTimeout(ctx, hardRenderCap)
	defer cancel()

	result, err := f.Rod.Scrape(renderCtx, Request{URL: targetURL})
	if err != nil {
		return nil, model.NewAPIError(model.ErrRenderError, err.Error())
	}

	return &FetchResult{
		Status:     result.Status,
		FinalURL:   result.URL,
		Body:       result.RawHTML,
		Renderer:   model.RendererHeadless,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}
