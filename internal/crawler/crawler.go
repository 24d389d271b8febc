// Package crawler implements the BFS site-map crawl (C10): a bounded
// worker pool drains a frontier of (url, depth) pairs, never leaving
// the seed's registrable domain, driving the scrape coordinator (C8)
// for every page and recording job_pages rows as it goes. Grounded on
// the teacher's internal/crawler/map.go link-discovery helpers and
// internal/http/crawl_worker.go's runCrawlJob bounded worker pattern,
// generalized from a single discovery pass into a depth-bounded BFS
// over C8/C9 instead of a bespoke scraper call.
package crawler

import (
	"context"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"harvestd/internal/coordinator"
	"harvestd/internal/model"
	"harvestd/internal/store"
	"harvestd/internal/urlnorm"
)

// Options configures a single crawl job, mirroring the /v1/map request
// body (spec §4.10/§6).
type Options struct {
	Seed            string
	MaxDepth        int
	MaxPages        int
	IncludePatterns []string
	ExcludePatterns []string
	RespectRobots   bool
	RenderPolicy    model.RenderPolicy
	Concurrency     int
	ForceRefresh    bool
}

// frontierItem is one pending unit of crawl work.
type frontierItem struct {
	url   string
	depth int
}

// Crawler runs BFS crawls on top of the scrape coordinator.
type Crawler struct {
	Coordinator *coordinator.Coordinator
	Store       *store.Store
}

func New(coord *coordinator.Coordinator, st *store.Store) *Crawler {
	return &Crawler{Coordinator: coord, Store: st}
}

// frontier is the mutable BFS bookkeeping shared across workers: a
// visited url_hash set bounding each URL to at most one admission, a
// bounded channel of pending work, and a WaitGroup tracking
// outstanding (admitted-but-not-yet-processed) items so the feeder
// goroutine knows when to close the channel.
type frontier struct {
	mu         sync.Mutex
	visited    map[string]struct{}
	discovered int
	maxPages   int
	ch         chan frontierItem
	pending    sync.WaitGroup
}

func newFrontier(maxPages int) *frontier {
	return &frontier{
		visited:  make(map[string]struct{}),
		maxPages: maxPages,
		ch:       make(chan frontierItem, maxPages),
	}
}

// admit registers urlHash as visited and enqueues item if budget and
// dedup allow it. Every successful admit has a matching pending.Add(1);
// the worker that eventually receives the item calls pending.Done().
func (f *frontier) admit(urlHash string, item frontierItem) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.visited[urlHash]; seen {
		return false
	}
	if f.discovered >= f.maxPages {
		return false
	}
	f.visited[urlHash] = struct{}{}
	f.discovered++
	f.pending.Add(1)
	f.ch <- item
	return true
}

func (f *frontier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discovered
}

// Run executes opts to completion against jobID, updating progress
// counters as it goes. Individual page failures are recorded as events
// and skipped. The whole job fails on an engine fault, or when no page
// at all was recorded for it; a failed seed fetch therefore fails the
// job only when no sitemap URL was recorded either.
func (c *Crawler) Run(ctx context.Context, jobID, apiKeyID uuid.UUID, opts Options) error {
	concurrency := clamp(opts.Concurrency, 1, 10, 5)
	maxPages := clamp(opts.MaxPages, 1, 1000, 1000)
	maxDepth := clamp(opts.MaxDepth, 0, 5, 2)

	includeRe, err := compilePatterns(opts.IncludePatterns)
	if err != nil {
		return err
	}
	excludeRe, err := compilePatterns(opts.ExcludePatterns)
	if err != nil {
		return err
	}

	seedNorm, apiErr := urlnorm.Normalize(ctx, opts.Seed, "")
	if apiErr != nil {
		return apiErr
	}
	registrableDomain := urlnorm.RegistrableDomain(hostOf(seedNorm.Canonical))

	f := newFrontier(maxPages)
	f.admit(seedNorm.URLHash, frontierItem{url: seedNorm.Canonical, depth: 0})

	for _, seed := range sitemapSeeds(ctx, seedNorm.Canonical, maxPages) {
		seedLinkNorm, serr := urlnorm.Normalize(ctx, seed, "")
		if serr != nil {
			continue
		}
		if !urlnorm.SameRegistrableDomain(hostOf(seedLinkNorm.Canonical), registrableDomain) {
			continue
		}
		if !matchesFilters(seedLinkNorm.Canonical, includeRe, excludeRe) {
			continue
		}
		f.admit(seedLinkNorm.URLHash, frontierItem{url: seedLinkNorm.Canonical, depth: 0})
	}

	var lastProgress time.Time
	var progressMu sync.Mutex
	reportProgress := func(force bool) {
		progressMu.Lock()
		defer progressMu.Unlock()
		if !force && time.Since(lastProgress) < 2*time.Second {
			return
		}
		written, _ := c.Store.CountJobPages(ctx, jobID)
		_ = c.Store.UpdateJobProgress(ctx, jobID, f.count(), written)
		lastProgress = time.Now()
	}

	var workers sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for item := range f.ch {
				c.visitOne(ctx, jobID, apiKeyID, item, opts, registrableDomain, includeRe, excludeRe, maxDepth, f)
				reportProgress(false)
				f.pending.Done()
			}
		}()
	}

	f.pending.Wait()
	close(f.ch)
	workers.Wait()

	reportProgress(true)

	written, _ := c.Store.CountJobPages(ctx, jobID)
	if written == 0 {
		_ = c.Store.RecordEvent(ctx, &apiKeyID, &jobID, "crawl.seed_failed", model.EventError, "seed page could not be fetched", nil)
		return model.NewAPIError(model.ErrFetchError, "seed page could not be fetched")
	}
	return nil
}

// visitOne scrapes one frontier item via the coordinator, records it
// as a job_pages row, and — if within depth — admits its unseen
// internal links to f.
func (c *Crawler) visitOne(
	ctx context.Context,
	jobID, apiKeyID uuid.UUID,
	item frontierItem,
	opts Options,
	registrableDomain string,
	includeRe, excludeRe []*regexp.Regexp,
	maxDepth int,
	f *frontier,
) {
	if cancelled, _ := c.jobCancelled(ctx, jobID); cancelled {
		return
	}

	outcome, apiErr := c.Coordinator.Scrape(ctx, item.url, coordinator.Options{
		RenderPolicy:  opts.RenderPolicy,
		RespectRobots: opts.RespectRobots,
		ForceRefresh:  opts.ForceRefresh,
	})
	if apiErr != nil {
		_ = c.Store.RecordEvent(ctx, &apiKeyID, &jobID, "crawl.page_failed", model.EventWarn, apiErr.Error(), map[string]any{"url": item.url})
		return
	}

	_ = c.Store.AddJobPage(ctx, jobID, outcome.Page.ID, item.depth)

	if item.depth >= maxDepth {
		return
	}

	for _, link := range outcome.Page.LinksInternal {
		linkNorm, lerr := urlnorm.Normalize(ctx, link, item.url)
		if lerr != nil {
			continue
		}
		if !urlnorm.SameRegistrableDomain(hostOf(linkNorm.Canonical), registrableDomain) {
			continue
		}
		if !matchesFilters(linkNorm.Canonical, includeRe, excludeRe) {
			continue
		}
		f.admit(linkNorm.URLHash, frontierItem{url: linkNorm.Canonical, depth: item.depth + 1})
	}
}

func (c *Crawler) jobCancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := c.Store.GetJobByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, model.NewAPIError(model.ErrValidation, "invalid path pattern: "+p)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchesFilters(canonicalURL string, include, exclude []*regexp.Regexp) bool {
	for _, re := range exclude {
		if re.MatchString(canonicalURL) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, re := range include {
		if re.MatchString(canonicalURL) {
			return true
		}
	}
	return false
}

func hostOf(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func clamp(v, min, max, def int) int {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
