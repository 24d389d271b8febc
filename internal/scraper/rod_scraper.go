package scraper

import (
	"context"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodScraper uses a real browser (via rod) to render JS-heavy pages and
// return the resulting HTML. It always manages a local headless
// Chromium instance in-process; external browser pool support has been
// removed for now to simplify deployment.
type RodScraper struct {
	Timeout time.Duration
}

// NewRodScraper creates a RodScraper that launches a local headless
// Chromium instance for each scrape.
func NewRodScraper(timeout time.Duration) *RodScraper {
	return &RodScraper{Timeout: timeout}
}

func (r *RodScraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}

	browser, err := newLocalRodBrowser(ctx, r.Timeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = browser.Close() }()

	page, err := browser.Page(proto.TargetCreateTarget{URL: u.String()})
	if err != nil {
		return nil, err
	}
	defer func() { _ = page.Close() }()

	if err := page.WaitLoad(); err != nil {
		return nil, err
	}

	htmlStr, err := page.HTML()
	if err != nil {
		return nil, err
	}

	// Markdown/links/metadata are derived once, downstream, by
	// internal/extract (C6) against this raw HTML.
	return &Result{
		URL:     u.String(),
		RawHTML: htmlStr,
		Status:  200,
		Engine:  "browser",
	}, nil
}

// CaptureScreenshot opens a browser page with rod and returns a screenshot
// of the given URL as raw image bytes. It always uses a local headless
// browser instance and is intended for use by the HTTP layer when the
// `screenshot` format is requested.
func CaptureScreenshot(ctx context.Context, targetURL string, timeout time.Duration, fullPage bool) ([]byte, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}

	browser, err := newLocalRodBrowser(ctx, timeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = browser.Close() }()

	page, err := browser.Page(proto.TargetCreateTarget{URL: u.String()})
	if err != nil {
		return nil, err
	}
	defer func() { _ = page.Close() }()

	if err := page.WaitLoad(); err != nil {
		return nil, err
	}

	data, err := page.Screenshot(fullPage, nil)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// newLocalRodBrowser launches a local Chromium instance inside this container
// using Rod's launcher and connects to it.
func newLocalRodBrowser(ctx context.Context, timeout time.Duration) (*rod.Browser, error) {
	var l *launcher.Launcher

	if path, has := launcher.LookPath(); has {
		l = launcher.New().Bin(path)
	} else {
		l = launcher.New()
	}

	l = l.Headless(true).NoSandbox(true)

	u, err := l.Launch()
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(u).Context(ctx).Timeout(timeout)
	if err := browser.Connect(); err != nil {
		// Ensure the launched browser is killed if we failed to connect.
		l.Kill()
		return nil, err
	}

	return browser, nil
}
