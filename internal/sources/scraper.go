package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kozaktomas/pixpursuit/internal/config"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/ingest"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/rs/zerolog"
)

// ErrURLNotAllowed is returned for a page outside the configured prefix.
var ErrURLNotAllowed = errors.New("url is not allowed for scraping")

// Scraper downloads the images linked from a gallery page.
type Scraper struct {
	client        *http.Client
	allowedPrefix string
	log           zerolog.Logger
}

func NewScraper(cfg config.ScraperConfig) *Scraper {
	return &Scraper{
		client:        &http.Client{Timeout: 60 * time.Second},
		allowedPrefix: cfg.AllowedPrefix,
		log:           logging.Component("scraper"),
	}
}

// Allowed reports whether pageURL may be scraped.
func (s *Scraper) Allowed(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return s.allowedPrefix == "" || strings.HasPrefix(pageURL, s.allowedPrefix)
}

// Scrape fetches pageURL and downloads up to MaxScrapedImages images found in
// img src and a href attributes. Images that fail to download are skipped.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) ([]ingest.Source, error) {
	if !s.Allowed(pageURL) {
		return nil, fmt.Errorf("%s: %w", pageURL, ErrURLNotAllowed)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	body, err := s.fetch(ctx, pageURL, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	links := imageLinks(doc, base)
	out := make([]ingest.Source, 0, len(links))
	for _, link := range links {
		data, err := s.fetch(ctx, link, constants.MaxRemoteImageSize)
		if err != nil {
			s.log.Warn().Err(err).Str("url", link).Msg("skipping image")
			continue
		}
		out = append(out, ingest.Source{Name: link, Data: data})
	}
	s.log.Info().Str("page", pageURL).Int("found", len(links)).Int("downloaded", len(out)).Msg("page scraped")
	return out, nil
}

// imageLinks returns the distinct absolute image URLs on the page in
// document order, capped at MaxScrapedImages.
func imageLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string
	doc.Find("img[src], a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		attr := "src"
		if goquery.NodeName(sel) == "a" {
			attr = "href"
		}
		raw, _ := sel.Attr(attr)
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if (abs.Scheme != "http" && abs.Scheme != "https") || !isImageName(abs.Path) {
			return true
		}
		link := abs.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
		return len(links) < constants.MaxScrapedImages
	})
	return links
}

// fetch GETs rawURL. A positive limit rejects bodies larger than limit bytes.
func (s *Scraper) fetch(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if limit <= 0 {
		return io.ReadAll(resp.Body)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("image larger than %d bytes", limit)
	}
	return data, nil
}
