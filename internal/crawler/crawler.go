// Package crawler implements a breadth-first website crawl: robots.txt gate,
// to-visit queue, visited set, and a fixed delay between requests. Fetched
// HTML pages are stored through the ingestion processor.
package crawler

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/kalambet/datamill/internal/ingest"
	"github.com/kalambet/datamill/internal/retry"
)

const maxPageSize = 5 << 20 // 5MB

const defaultUserAgent = "datamill-bot/1.0 (+https://github.com/kalambet/datamill)"

// Ingestor stores a fetched page as a File + Document pair.
type Ingestor interface {
	Process(ctx context.Context, filename string, data []byte, sourceType string) (*ingest.Result, error)
}

// Config holds crawl politeness settings.
type Config struct {
	Delay     time.Duration // wait between requests; 1s if zero
	Timeout   time.Duration // per-request timeout; 10s if zero
	UserAgent string
}

// Crawler fetches pages breadth-first within a set of allowed domains.
type Crawler struct {
	ingestor  Ingestor
	client    *http.Client
	delay     time.Duration
	userAgent string
	logger    *slog.Logger
}

func New(ingestor Ingestor, cfg Config) *Crawler {
	if cfg.Delay == 0 {
		cfg.Delay = time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Crawler{
		ingestor:  ingestor,
		client:    &http.Client{Timeout: cfg.Timeout},
		delay:     cfg.Delay,
		userAgent: cfg.UserAgent,
		logger:    slog.Default(),
	}
}

// Crawl walks the site starting at baseURL and stores up to maxPages HTML
// pages. When allowedDomains is empty, only the base URL's host is crawled.
// Returns the number of pages stored.
func (c *Crawler) Crawl(ctx context.Context, baseURL string, maxPages int, allowedDomains []string) (int, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return 0, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return 0, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}

	if len(allowedDomains) == 0 {
		allowedDomains = []string{base.Host}
	}
	allowed := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		allowed[d] = struct{}{}
	}

	if !c.robotsAllowed(ctx, base) {
		c.logger.Warn("robots.txt disallows crawling", "url", baseURL)
		return 0, nil
	}

	visited := make(map[string]struct{})
	toVisit := []string{base.String()}
	crawled := 0

	for len(toVisit) > 0 && crawled < maxPages {
		pageURL := toVisit[0]
		toVisit = toVisit[1:]

		if _, ok := visited[pageURL]; ok {
			continue
		}
		visited[pageURL] = struct{}{}

		// Politeness delay before every fetch.
		select {
		case <-ctx.Done():
			return crawled, ctx.Err()
		case <-time.After(c.delay):
		}

		body, contentType, err := c.fetch(ctx, pageURL)
		if err != nil {
			c.logger.Warn("fetching page failed", "url", pageURL, "error", err)
			continue
		}
		if !strings.Contains(contentType, "text/html") {
			continue
		}

		filename := pageFilename(pageURL)
		if _, err := c.ingestor.Process(ctx, filename, body, ingest.SourceCrawl); err != nil {
			c.logger.Warn("storing page failed", "url", pageURL, "error", err)
			continue
		}
		crawled++
		c.logger.Info("crawled page", "url", pageURL, "total", crawled)

		for _, link := range extractLinks(body, pageURL, allowed) {
			if _, ok := visited[link]; !ok {
				toVisit = append(toVisit, link)
			}
		}
	}

	return crawled, nil
}

// robotsAllowed checks whether robots.txt permits fetching the base URL.
// An unreadable robots.txt allows the crawl.
func (c *Crawler) robotsAllowed(ctx context.Context, base *url.URL) bool {
	robotsURL := base.Scheme + "://" + base.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return true
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()

	robots, err := robotstxt.FromResponse(resp)
	if err != nil {
		return true
	}

	path := base.Path
	if path == "" {
		path = "/"
	}
	return robots.TestAgent(path, c.userAgent)
}

func (c *Crawler) fetch(ctx context.Context, pageURL string) (body []byte, contentType string, err error) {
	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, doErr := c.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}

		contentType = resp.Header.Get("Content-Type")
		body, doErr = io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
		return doErr
	})
	return body, contentType, err
}

func pageFilename(pageURL string) string {
	h := fnv.New64a()
	h.Write([]byte(pageURL))
	return fmt.Sprintf("webpage_%x.html", h.Sum64())
}
