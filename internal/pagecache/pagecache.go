// Package pagecache implements the content-addressed page cache (C7),
// wrapping internal/store's pages table. Grounded on the teacher's
// AddDocument/GetCrawlJobAndDocuments methods, generalized from
// job-scoped documents into a single content-addressed table.
package pagecache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"harvestd/internal/model"
	"harvestd/internal/store"
)

// DefaultTTL is applied when the caller does not specify a cache TTL.
const DefaultTTL = time.Hour

// Probe is the outcome of a cache lookup.
type Probe struct {
	Hit  bool
	Page model.Page
}

// Cache wraps the store's pages table with TTL-aware probe semantics.
type Cache struct {
	store *store.Store
}

func New(s *store.Store) *Cache {
	return &Cache{store: s}
}

// Probe looks up the cached page for urlHash. Hit iff a row exists, its
// FetchedAt is within ttl (a nil ttl disables the cap), and forceRefresh
// is false.
func (c *Cache) Probe(ctx context.Context, urlHash string, ttl *time.Duration, forceRefresh bool) (Probe, error) {
	if forceRefresh {
		return Probe{}, nil
	}

	page, err := c.store.GetPageByURLHash(ctx, urlHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Probe{}, nil
		}
		return Probe{}, err
	}

	if ttl == nil {
		return Probe{Hit: true, Page: page}, nil
	}
	if time.Since(page.FetchedAt) > *ttl {
		return Probe{}, nil
	}

	return Probe{Hit: true, Page: page}, nil
}

// Store upserts p, computing ContentHash from the normalized markdown.
func (c *Cache) Store(ctx context.Context, p model.Page) (model.Page, error) {
	if p.Markdown != "" {
		sum := sha256.Sum256([]byte(p.Markdown))
		hash := hex.EncodeToString(sum[:])
		p.ContentHash = &hash
	}
	return c.store.UpsertPage(ctx, p)
}

// LookupByContent returns a previously cached page with identical
// post-normalization content, if any — used to reuse an artifact when a
// redirect lands on content already cached under a different URL.
func (c *Cache) LookupByContent(ctx context.Context, contentHash string) (model.Page, bool, error) {
	page, err := c.store.GetPageByContentHash(ctx, contentHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Page{}, false, nil
		}
		return model.Page{}, false, err
	}
	return page, true, nil
}
