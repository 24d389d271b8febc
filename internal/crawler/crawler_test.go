package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, clamp(0, 1, 10, 5))
	assert.Equal(t, 1, clamp(-3, 1, 10, 5))
	assert.Equal(t, 10, clamp(99, 1, 10, 5))
	assert.Equal(t, 7, clamp(7, 1, 10, 5))
}

func TestCompilePatternsInvalid(t *testing.T) {
	_, err := compilePatterns([]string{"("})
	require.Error(t, err)
}

func TestMatchesFiltersExcludeWins(t *testing.T) {
	include, err := compilePatterns([]string{`^https://example\.com/blog/`})
	require.NoError(t, err)
	exclude, err := compilePatterns([]string{`/blog/drafts/`})
	require.NoError(t, err)

	assert.True(t, matchesFilters("https://example.com/blog/post-1", include, exclude))
	assert.False(t, matchesFilters("https://example.com/blog/drafts/post-2", include, exclude))
	assert.False(t, matchesFilters("https://example.com/about", include, exclude))
}

func TestMatchesFiltersNoIncludeAllowsAll(t *testing.T) {
	assert.True(t, matchesFilters("https://example.com/anything", nil, nil))
}

// TestFrontierAdmitRespectsMaxPagesBound exercises the property from
// spec §8: a crawl never admits more than max_pages distinct URLs, and
// re-presenting an already-visited url_hash is a no-op.
func TestFrontierAdmitRespectsMaxPagesBound(t *testing.T) {
	f := newFrontier(3)

	assert.True(t, f.admit("hash-a", frontierItem{url: "https://example.com/a"}))
	assert.True(t, f.admit("hash-b", frontierItem{url: "https://example.com/b"}))
	assert.True(t, f.admit("hash-c", frontierItem{url: "https://example.com/c"}))
	assert.False(t, f.admit("hash-d", frontierItem{url: "https://example.com/d"}))

	// Re-admitting a seen hash is a no-op and does not change the count.
	assert.False(t, f.admit("hash-a", frontierItem{url: "https://example.com/a"}))

	assert.Equal(t, 3, f.count())
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "example.com", hostOf("https://example.com/a/b"))
	assert.Equal(t, "", hostOf("://not a url"))
}
