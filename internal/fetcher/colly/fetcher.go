// Package collyfetcher implements the crawl engine's page fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/truesight/crawld/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// InsecureSkipVerify disables TLS verification for sites with broken
	// certificates. Off by default.
	InsecureSkipVerify bool
	// RenderEnabled lets the fetcher fall back to a headless browser when
	// the detector flags a page as script-rendered.
	RenderEnabled bool
}

// Renderer executes a page in a real browser and returns the settled DOM.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// Detector decides whether static HTML needs browser rendering.
type Detector interface {
	NeedsRender(body []byte) bool
}

// Fetcher implements crawler.PageFetcher using the Colly collector. Each
// fetch clones the base collector so callbacks never accumulate; URL revisit
// dedupe belongs to the engine, not the collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	renderer      Renderer
	detector      Detector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Renderer and detector may be nil; they are only
// consulted when RenderEnabled is set.
func New(cfg Config, renderer Renderer, detector Detector) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport(cfg.InsecureSkipVerify))

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		renderer:      renderer,
		detector:      detector,
	}
}

// FetchPage executes a single HTTP GET and extracts title, markdown text and
// outbound links. Non-HTML responses produce a Page with empty text and no
// links.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (crawler.Page, error) {
	var (
		raw         []byte
		contentType string
		statusCode  int
		fetchErr    error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	f.configureCollectorHooks(collector, &raw, &contentType, &statusCode, &fetchErr)

	page := crawler.Page{URL: pageURL}
	err := runCollector(ctx, collector, pageURL, &fetchErr)
	page.StatusCode = statusCode
	page.Bytes = int64(len(raw))
	page.Duration = time.Since(start)
	if err != nil {
		return page, err
	}

	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "html") {
		return page, nil
	}

	html := raw
	if f.cfg.RenderEnabled && f.renderer != nil && f.detector != nil && f.detector.NeedsRender(raw) {
		if rendered, rerr := f.renderer.Render(ctx, pageURL); rerr == nil && rendered != "" {
			html = []byte(rendered)
		}
	}
	page.RawHTML = html

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return page, fmt.Errorf("parse html: %w", err)
	}
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	page.Links = extractLinks(doc, pageURL)
	page.Text = convertToMarkdown(html, doc, pageURL)
	page.Duration = time.Since(start)
	return page, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	raw *[]byte,
	contentType *string,
	statusCode *int,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*statusCode = r.StatusCode
		*contentType = r.Headers.Get("Content-Type")
		*raw = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*statusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, pageURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// extractLinks collects absolute anchor targets. Fragments are stripped so
// in-page anchors never look like distinct pages.
func extractLinks(doc *goquery.Document, baseURL string) []string {
	parsedBase, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}
		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := parsedBase.ResolveReference(parsed)
		abs.Fragment = ""
		link := abs.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// convertToMarkdown turns the page body into markdown text. When the
// converter rejects the document it falls back to plain text extraction.
func convertToMarkdown(html []byte, doc *goquery.Document, pageURL string) string {
	conv := md.NewConverter(pageURL, true, nil)
	conv.Use(plugin.Table())
	conv.Remove("img", "script", "style", "noscript")

	markdown, err := conv.ConvertString(string(html))
	if err == nil {
		return strings.TrimSpace(markdown)
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		return ""
	}
	body.Find("script, style, noscript").Remove()
	return strings.TrimSpace(strings.Join(strings.Fields(body.Text()), " "))
}

func newHTTPTransport(insecureSkipVerify bool) *http.Transport {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if insecureSkipVerify {
		// #nosec G402 -- operator-controlled escape hatch for crawl targets
		// with broken certificate chains.
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}
