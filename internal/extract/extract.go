// Package extract implements the HTML extraction pipeline (C6): turning
// raw HTML into clean Markdown, metadata, and a deduplicated link graph.
// Grounded on the teacher's goquery/html-to-markdown pipeline embedded in
// internal/scraper, generalized into its own package with a
// readability-style main-content scoring pass added ahead of conversion.
package extract

import (
	"bytes"
	"math"
	"net/url"
	"sort"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"harvestd/internal/model"
	"harvestd/internal/urlnorm"
)

// droppedSelectors are subtrees removed before scoring/conversion.
var droppedSelectors = []string{
	"script", "style", "noscript", "nav", "footer", "header", "aside", "form", "iframe",
	"[class*=advert]", "[id*=advert]", "[class*=tracking]", "[id*=tracking]",
	"[class*=cookie-banner]", "[class*=ad-]", "[id*=ad-]",
}

// blockTags are candidates for the main-content scoring pass.
var blockTags = map[string]struct{}{
	"div": {}, "article": {}, "section": {}, "main": {}, "td": {},
}

// Result is the output of Extract.
type Result struct {
	Title         string
	Description   string
	Markdown      string
	Metadata      model.Metadata
	LinksInternal []string
	LinksExternal []string
	WordCount     int
	ReadTimeMin   int
}

// Extract runs the C6 pipeline against rawHTML fetched from finalURL.
// Given byte-identical (rawHTML, finalURL), the output is byte-identical.
func Extract(rawHTML, finalURL string) (*Result, error) {
	base, err := url.Parse(finalURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	meta := extractMetadata(doc, base)

	for _, sel := range droppedSelectors {
		doc.Find(sel).Remove()
	}

	linksInternal, linksExternal := collectLinks(doc, base)

	mainNode := selectMainContent(doc)

	html, err := goquery.OuterHtml(mainNode)
	if err != nil || strings.TrimSpace(html) == "" {
		html, _ = doc.Find("body").Html()
	}

	converter := htmlmd.NewConverter(base.Hostname(), true, nil)
	markdown, err := converter.ConvertString(rewriteRelativeLinks(html, base))
	if err != nil {
		markdown = mainNode.Text()
	}
	markdown = strings.TrimSpace(markdown)

	wordCount := countWords(markdown)
	readTime := int(math.Ceil(float64(wordCount) / 200.0))
	if readTime < 1 && wordCount > 0 {
		readTime = 1
	}

	return &Result{
		Title:         meta.Title,
		Description:   meta.Description,
		Markdown:      markdown,
		Metadata:      meta,
		LinksInternal: linksInternal,
		LinksExternal: linksExternal,
		WordCount:     wordCount,
		ReadTimeMin:   readTime,
	}, nil
}

func extractMetadata(doc *goquery.Document, base *url.URL) model.Metadata {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	desc := doc.Find(`meta[name="description"]`).AttrOr("content", "")
	lang, _ := doc.Find("html").First().Attr("lang")
	favicon := doc.Find(`link[rel="icon"], link[rel="shortcut icon"]`).AttrOr("href", "")
	if favicon != "" {
		favicon = resolveAbsolute(favicon, base)
	}

	canonical := doc.Find(`link[rel="canonical"]`).AttrOr("href", "")
	sourceURL := base.String()
	if canonical != "" {
		sourceURL = resolveAbsolute(canonical, base)
	}

	return model.Metadata{
		Title:         title,
		Description:   desc,
		Language:      lang,
		Favicon:       favicon,
		CanonicalURL:  sourceURL,
		OgTitle:       doc.Find(`meta[property="og:title"]`).AttrOr("content", ""),
		OgDescription: doc.Find(`meta[property="og:description"]`).AttrOr("content", ""),
		OgImage:       resolveAbsolute(doc.Find(`meta[property="og:image"]`).AttrOr("content", ""), base),
		OgSiteName:    doc.Find(`meta[property="og:site_name"]`).AttrOr("content", ""),
		OgPublishedAt: doc.Find(`meta[property="article:published_time"]`).AttrOr("content", ""),
		SourceURL:     sourceURL,
	}
}

// selectMainContent ranks candidate block elements by text density,
// inverse link density, and punctuation frequency, returning the
// highest-scoring node (or <body> if nothing scores positively).
func selectMainContent(doc *goquery.Document) *goquery.Selection {
	best := doc.Find("body")
	bestScore := -math.MaxFloat64

	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		tag := goquery.NodeName(sel)
		if _, ok := blockTags[tag]; !ok {
			return
		}
		text := strings.TrimSpace(sel.Text())
		textLen := len(text)
		if textLen < 40 {
			return
		}

		linkText := 0
		sel.Find("a").Each(func(_ int, a *goquery.Selection) {
			linkText += len(strings.TrimSpace(a.Text()))
		})
		linkDensity := float64(linkText) / float64(textLen+1)

		punctCount := strings.Count(text, ".") + strings.Count(text, ",") + strings.Count(text, ";")
		punctDensity := float64(punctCount) / float64(textLen+1)

		score := float64(textLen)*(1-linkDensity) + punctDensity*100
		if score > bestScore {
			bestScore = score
			best = sel
		}
	})

	return best
}

func collectLinks(doc *goquery.Document, base *url.URL) (internal, external []string) {
	seenInternal := make(map[string]struct{})
	seenExternal := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		linkURL, err := url.Parse(href)
		if err != nil {
			return
		}
		if !linkURL.IsAbs() {
			linkURL = base.ResolveReference(linkURL)
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return
		}
		linkURL.Fragment = ""
		stripTrackingParams(linkURL)
		final := linkURL.String()

		if urlnorm.SameRegistrableDomain(linkURL.Hostname(), base.Hostname()) {
			if _, ok := seenInternal[final]; !ok {
				seenInternal[final] = struct{}{}
				internal = append(internal, final)
			}
		} else {
			if _, ok := seenExternal[final]; !ok {
				seenExternal[final] = struct{}{}
				external = append(external, final)
			}
		}
	})

	return internal, external
}

func stripTrackingParams(u *url.URL) {
	q := u.Query()
	changed := false
	for key := range q {
		lower := strings.ToLower(key)
		if lower == "fbclid" || lower == "gclid" || lower == "ref" || lower == "ref_src" || strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			changed = true
		}
	}
	if changed {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		u.RawQuery = q.Encode()
	}
}

func resolveAbsolute(href string, base *url.URL) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !u.IsAbs() {
		u = base.ResolveReference(u)
	}
	return u.String()
}

func rewriteRelativeLinks(htmlFragment string, base *url.URL) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(htmlFragment)))
	if err != nil {
		return htmlFragment
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if abs := resolveAbsolute(href, base); abs != "" {
			sel.SetAttr("href", abs)
		}
	})
	out, err := doc.Html()
	if err != nil {
		return htmlFragment
	}
	return out
}

func countWords(markdown string) int {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '#', '*', '_', '`', '>', '-', '|':
			return ' '
		default:
			return r
		}
	}, markdown)
	return len(strings.Fields(cleaned))
}
