package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	sitemap "github.com/oxffaa/gopher-parse-sitemap"
)

const maxSitemapDepth = 3

// SitemapFetcher turns a sitemap or sitemap index into a list of page URLs,
// which the CLI feeds to the pipeline as URL records.
type SitemapFetcher struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewSitemapFetcher initializes a new SitemapFetcher.
func NewSitemapFetcher(fetcher *Fetcher, logger *slog.Logger) *SitemapFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapFetcher{fetcher: fetcher, logger: logger}
}

// FetchSitemap fetches sitemapURL and follows nested index entries. Page
// URLs are returned once each, in document order.
func (s *SitemapFetcher) FetchSitemap(ctx context.Context, sitemapURL string) ([]string, error) {
	seen := make(map[string]bool)
	var urls []string
	err := s.walk(ctx, sitemapURL, 0, func(loc string) {
		if !seen[loc] {
			seen[loc] = true
			urls = append(urls, loc)
		}
	})
	return urls, err
}

func (s *SitemapFetcher) walk(ctx context.Context, sitemapURL string, depth int, emit func(string)) error {
	s.logger.Debug("fetching sitemap", "url", sitemapURL, "depth", depth)

	res, err := s.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return fmt.Errorf("sitemap: %w", err)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("sitemap: %s: bad status code: %d", sitemapURL, res.StatusCode)
	}

	var pages []string
	parseErr := sitemap.Parse(bytes.NewReader(res.Body), func(e sitemap.Entry) error {
		pages = append(pages, e.GetLocation())
		return nil
	})
	if parseErr == nil && len(pages) > 0 {
		for _, p := range pages {
			emit(p)
		}
		return nil
	}

	var nested []string
	indexErr := sitemap.ParseIndex(bytes.NewReader(res.Body), func(e sitemap.IndexEntry) error {
		nested = append(nested, e.GetLocation())
		return nil
	})
	if indexErr != nil || len(nested) == 0 {
		return fmt.Errorf("sitemap: failed to parse as sitemap or index: %s", sitemapURL)
	}
	if depth >= maxSitemapDepth {
		return fmt.Errorf("sitemap: index nesting deeper than %d at %s", maxSitemapDepth, sitemapURL)
	}

	for _, n := range nested {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.walk(ctx, n, depth+1, emit); err != nil {
			s.logger.Warn("failed to fetch nested sitemap", "url", n, "err", err)
		}
	}
	return nil
}
