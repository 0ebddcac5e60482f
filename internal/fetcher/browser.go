package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/yairfalse/rankwatch/pkg/types"
)

// BrowserFetcher renders pages in headless Chrome before extracting the
// table. Needed for rankings that are filled in by JavaScript or hosted in an
// iframe.
type BrowserFetcher struct {
	userAgent  string
	headless   bool
	chromePath string
}

// NewBrowserFetcher creates a chromedp-backed fetcher
func NewBrowserFetcher(opts Options) *BrowserFetcher {
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &BrowserFetcher{
		userAgent:  ua,
		headless:   opts.Headless,
		chromePath: opts.ChromePath,
	}
}

// Fetch implements SnapshotFetcher. The caller's context bounds the whole
// browser session.
func (f *BrowserFetcher) Fetch(ctx context.Context, src *types.Source) (*types.RawTable, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(f.userAgent),
	)
	if f.chromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(f.chromePath))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	target := src.Fetch.URL
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("browser navigation failed: %w", err)
	}

	if src.Fetch.Iframe != "" {
		var page string
		if err := chromedp.Run(browserCtx,
			chromedp.WaitReady("iframe", chromedp.ByQuery),
			chromedp.OuterHTML("html", &page, chromedp.ByQuery),
		); err != nil {
			return nil, fmt.Errorf("waiting for iframe: %w", err)
		}
		frameURL, err := FindIframe(page, src.Fetch.Iframe, target)
		if err != nil {
			return nil, err
		}
		target = frameURL
		if err := chromedp.Run(browserCtx,
			chromedp.Navigate(target),
			chromedp.WaitReady("body", chromedp.ByQuery),
		); err != nil {
			return nil, fmt.Errorf("browser navigation to iframe failed: %w", err)
		}
	}

	selector := src.Fetch.Table
	if selector == "" {
		selector = DefaultTableSelector
	}

	var html string
	if err := chromedp.Run(browserCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("waiting for table at %s: %w", target, err)
	}

	return ParseHTMLTable(strings.NewReader(html), selector, src.Fetch.Index)
}

// FindIframe returns the absolute src of the first iframe whose src contains
// match, resolved against base.
func FindIframe(page, match, base string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}

	needle := strings.ToLower(match)
	var src string
	doc.Find("iframe[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("src")
		if strings.Contains(strings.ToLower(v), needle) {
			src = v
			return false
		}
		return true
	})
	if src == "" {
		return "", fmt.Errorf("no iframe with src containing %q", match)
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return src, nil
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("bad iframe src %q: %w", src, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}
