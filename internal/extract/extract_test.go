package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHTML = `<html lang="en"><head>
<title>Example Article</title>
<meta name="description" content="A short description.">
<meta property="og:site_name" content="Example Site">
<link rel="canonical" href="https://example.com/article">
</head>
<body>
<nav><a href="/home">Home</a></nav>
<article>
<h1>Heading One</h1>
<p>This is a reasonably long paragraph of article body text, with punctuation, that should score well against the scoring heuristic because it has plenty of prose and few links.</p>
<a href="/related?utm_source=newsletter">Related</a>
<a href="https://other.com/page">External</a>
</article>
<footer>Copyright notice</footer>
</body></html>`

func TestExtractIsDeterministic(t *testing.T) {
	r1, err := Extract(sampleHTML, "https://example.com/article")
	require.NoError(t, err)
	r2, err := Extract(sampleHTML, "https://example.com/article")
	require.NoError(t, err)

	assert.Equal(t, r1.Markdown, r2.Markdown)
	assert.Equal(t, r1.Metadata, r2.Metadata)
	assert.Equal(t, r1.LinksInternal, r2.LinksInternal)
	assert.Equal(t, r1.LinksExternal, r2.LinksExternal)
}

func TestExtractMetadataAndLinks(t *testing.T) {
	res, err := Extract(sampleHTML, "https://example.com/article")
	require.NoError(t, err)

	assert.Equal(t, "Example Article", res.Metadata.Title)
	assert.Equal(t, "A short description.", res.Metadata.Description)
	assert.Equal(t, "https://example.com/article", res.Metadata.CanonicalURL)
	assert.Contains(t, res.Markdown, "Heading One")
	assert.NotEmpty(t, res.LinksExternal)
	assert.Contains(t, res.LinksExternal[0], "other.com")
}

func TestExtractStripsTrackingParamsFromLinks(t *testing.T) {
	res, err := Extract(sampleHTML, "https://example.com/article")
	require.NoError(t, err)
	for _, l := range res.LinksInternal {
		assert.NotContains(t, l, "utm_source")
	}
}
