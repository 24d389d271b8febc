// Package robots caches per-host robots.txt policy, grounded on the
// teacher's fetchRobots helper in its crawler package but generalized
// into a standalone TTL cache with single-flight coalescing.
package robots

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"

	"harvestd/internal/urlnorm"
)

const (
	allowTTL           = time.Hour
	denyTTL            = 15 * time.Minute
	fetchTimeout       = 5 * time.Second
	robotsMaxRedirects = 5
)

// ssrfSafeRedirectPolicy re-validates every redirect hop against the
// SSRF guard, mirroring internal/scraper's policy, so a robots.txt
// fetch can't be redirected into a blocked address range.
func ssrfSafeRedirectPolicy(ctx context.Context) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= robotsMaxRedirects {
			return http.ErrUseLastResponse
		}
		if _, err := urlnorm.Normalize(ctx, req.URL.String(), ""); err != nil {
			return err
		}
		return nil
	}
}

type entry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
	ttl       time.Duration
}

// Cache is a process-wide robots.txt policy cache, one entry per host.
type Cache struct {
	httpClient *http.Client
	userAgent  string

	mu      sync.RWMutex
	entries map[string]*entry

	flight singleflight.Group
}

// New constructs a robots Cache using the given HTTP client (or a
// default 5s-timeout client when nil) and user agent string.
func New(httpClient *http.Client, userAgent string) *Cache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: fetchTimeout}
	}
	if userAgent == "" {
		userAgent = "harvestd-bot"
	}
	return &Cache{
		httpClient: httpClient,
		userAgent:  userAgent,
		entries:    make(map[string]*entry),
	}
}

// Allowed reports whether path is permitted for host under the cached
// robots.txt policy, fetching and caching it first if necessary. Fails
// open (allowed=true) on any fetch or parse error.
func (c *Cache) Allowed(ctx context.Context, scheme, host, path string) bool {
	g := c.groupFor(ctx, scheme, host)
	if g == nil {
		return true
	}
	return g.Test(path)
}

func (c *Cache) groupFor(ctx context.Context, scheme, host string) *robotstxt.Group {
	c.mu.RLock()
	e, ok := c.entries[host]
	c.mu.RUnlock()
	if ok && time.Since(e.fetchedAt) < e.ttl {
		return e.group
	}

	result, _, _ := c.flight.Do(host, func() (interface{}, error) {
		g, ttl := c.fetch(ctx, scheme, host)
		c.mu.Lock()
		c.entries[host] = &entry{group: g, fetchedAt: time.Now(), ttl: ttl}
		c.mu.Unlock()
		return g, nil
	})

	g, _ := result.(*robotstxt.Group)
	return g
}

func (c *Cache) fetch(ctx context.Context, scheme, host string) (*robotstxt.Group, time.Duration) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, scheme+"://"+host+"/robots.txt", nil)
	if err != nil {
		return allowAllGroup(), denyTTL
	}
	req.Header.Set("User-Agent", c.userAgent)

	client := *c.httpClient
	client.CheckRedirect = ssrfSafeRedirectPolicy(fetchCtx)

	resp, err := client.Do(req)
	if err != nil {
		return allowAllGroup(), denyTTL
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return allowAllGroup(), denyTTL
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return allowAllGroup(), denyTTL
	}

	robotsData, err := robotstxt.FromBytes(body)
	if err != nil {
		return allowAllGroup(), denyTTL
	}
	return robotsData.FindGroup(c.userAgent), allowTTL
}

func allowAllGroup() *robotstxt.Group {
	data, err := robotstxt.FromString("User-agent: *\nAllow: /\n")
	if err != nil {
		return nil
	}
	return data.FindGroup("*")
}

// HostFromAuthority extracts the bare host (without port) from an
// authority string, matching the normalizer's canonical host form.
func HostFromAuthority(authority string) string {
	host := authority
	if idx := strings.LastIndex(authority, ":"); idx > strings.LastIndex(authority, "]") {
		host = authority[:idx]
	}
	return strings.Trim(host, "[]")
}
