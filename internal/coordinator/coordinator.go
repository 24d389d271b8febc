// Package coordinator implements the scrape coordinator (C8): it
// sequences normalization, cache probe, robots check,
// domain-governed fetch, extraction, and persistence for a single URL,
// single-flighting concurrent requests for the same url_hash. Grounded
// on spec §4.8 and the teacher's internal/crawl.Manager bookkeeping
// pattern, generalized from per-job to per-URL.
package coordinator

import (
	"context"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"harvestd/internal/extract"
	"harvestd/internal/governor"
	"harvestd/internal/model"
	"harvestd/internal/pagecache"
	"harvestd/internal/robots"
	"harvestd/internal/scraper"
	"harvestd/internal/urlnorm"
)

// Options configures a single Scrape call.
type Options struct {
	RenderPolicy    model.RenderPolicy
	RespectRobots   bool
	CacheTTLSeconds *int
	ForceRefresh    bool
}

// Outcome is the coordinator's result envelope.
type Outcome struct {
	Page   model.Page
	Cached bool
}

// Coordinator sequences C1-C7 for a single scrape, single-flighted by
// url_hash.
type Coordinator struct {
	Robots   *robots.Cache
	Governor *governor.Governor
	Fetcher  *scraper.AdaptiveFetcher
	Cache    *pagecache.Cache

	flight singleflight.Group
}

// New constructs a Coordinator from its component dependencies.
func New(robotsCache *robots.Cache, gov *governor.Governor, fetcher *scraper.AdaptiveFetcher, cache *pagecache.Cache) *Coordinator {
	return &Coordinator{Robots: robotsCache, Governor: gov, Fetcher: fetcher, Cache: cache}
}

// Scrape runs the §4.8 pipeline for rawURL. Normalization and the SSRF
// guard happen before the single-flight key is known, so two requests
// for equivalent-but-differently-written URLs still share one fetch.
func (c *Coordinator) Scrape(ctx context.Context, rawURL string, opts Options) (Outcome, *model.APIError) {
	norm, err := urlnorm.Normalize(ctx, rawURL, "")
	if err != nil {
		return Outcome{}, err
	}

	if !opts.ForceRefresh {
		ttl := pagecache.DefaultTTL
		ttlPtr := &ttl
		if opts.CacheTTLSeconds != nil {
			d := time.Duration(*opts.CacheTTLSeconds) * time.Second
			ttlPtr = &d
		}
		probe, perr := c.Cache.Probe(ctx, norm.URLHash, ttlPtr, opts.ForceRefresh)
		if perr != nil {
			return Outcome{}, model.NewAPIError(model.ErrInternal, perr.Error())
		}
		if probe.Hit {
			return Outcome{Page: probe.Page, Cached: true}, nil
		}
	}

	result, flightErr, _ := c.flight.Do(norm.URLHash, func() (interface{}, error) {
		page, apiErr := c.fetchAndExtract(ctx, norm, opts)
		if apiErr != nil {
			return nil, apiErr
		}
		return page, nil
	})
	if flightErr != nil {
		if apiErr, ok := flightErr.(*model.APIError); ok {
			return Outcome{}, apiErr
		}
		return Outcome{}, model.NewAPIError(model.ErrInternal, flightErr.Error())
	}

	return Outcome{Page: result.(model.Page), Cached: false}, nil
}

func (c *Coordinator) fetchAndExtract(ctx context.Context, norm *urlnorm.Result, opts Options) (model.Page, *model.APIError) {
	host := hostFromCanonical(norm.Canonical)
	scheme := schemeFromCanonical(norm.Canonical)

	if opts.RespectRobots {
		allowed := c.Robots.Allowed(ctx, scheme, host, pathFromCanonical(norm.Canonical))
		if !allowed {
			return model.Page{}, model.NewAPIError(model.ErrRobotsBlocked, "robots.txt disallows this path")
		}
	}

	release, gerr := c.Governor.Acquire(ctx, host)
	if gerr != nil {
		return model.Page{}, gerr
	}
	defer release()

	fetchResult, ferr := c.Fetcher.Fetch(ctx, norm.Canonical, renderPolicyOrDefault(opts.RenderPolicy))
	if ferr != nil {
		failed := model.Page{
			URL:          norm.Canonical,
			CanonicalURL: norm.Canonical,
			URLHash:      norm.URLHash,
			Renderer:     model.RendererStatic,
			ErrorCode:    string(ferr.Code),
			ErrorMessage: ferr.Message,
			FetchedAt:    time.Now(),
		}
		_, _ = c.Cache.Store(ctx, failed)
		return model.Page{}, ferr
	}

	extracted, eerr := extract.Extract(fetchResult.Body, fetchResult.FinalURL)
	if eerr != nil {
		return model.Page{}, model.NewAPIError(model.ErrFetchError, eerr.Error())
	}

	page := model.Page{
		URL:             norm.Canonical,
		CanonicalURL:    fetchResult.FinalURL,
		URLHash:         norm.URLHash,
		StatusCode:      fetchResult.Status,
		Title:           extracted.Title,
		Description:     extracted.Description,
		Markdown:        extracted.Markdown,
		RawHTML:         fetchResult.Body,
		Renderer:        fetchResult.Renderer,
		LinksInternal:   extracted.LinksInternal,
		LinksExternal:   extracted.LinksExternal,
		Metadata:        extracted.Metadata,
		WordCount:       extracted.WordCount,
		ReadTimeMinutes: extracted.ReadTimeMin,
		FetchDurationMs: fetchResult.DurationMs,
		FetchedAt:       time.Now(),
	}

	stored, serr := c.Cache.Store(ctx, page)
	if serr != nil {
		return model.Page{}, model.NewAPIError(model.ErrInternal, serr.Error())
	}
	return stored, nil
}

func renderPolicyOrDefault(p model.RenderPolicy) model.RenderPolicy {
	if p == "" {
		return model.RenderAuto
	}
	return p
}

func hostFromCanonical(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	return u.Host
}

func schemeFromCanonical(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return "https"
	}
	return u.Scheme
}

func pathFromCanonical(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return "/"
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
