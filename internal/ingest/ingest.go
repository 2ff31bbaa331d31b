// Package ingest collects Sharia-compliance articles from the public web and
// feeds them into the rulings corpus. Pages from known analysis sites are
// extracted with targeted selectors; everything else goes through readability
// extraction.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"

	"github.com/amanahlabs/fiqhbridge/internal/knowledge"
	"github.com/amanahlabs/fiqhbridge/internal/log"
)

const (
	// maxBodyBytes caps fetched pages.
	maxBodyBytes = 1 << 20

	// politeDelay spaces requests to the same domain.
	politeDelay = 100 * time.Millisecond

	userAgent = "fiqhbridge/1.0 (+https://github.com/amanahlabs/fiqhbridge)"
)

// ErrNoContent indicates no source yielded usable content.
var ErrNoContent = errors.New("no content found")

// Article is one extracted page.
type Article struct {
	URL       string
	Title     string
	Content   string
	Relevance float64 // fraction of keywords present in the content
	FetchedAt time.Time
}

// Scraper fetches and extracts compliance articles. Safe for concurrent use.
type Scraper struct {
	c      *colly.Collector
	logger log.Logger
}

// NewScraper builds a Scraper with polite crawling limits.
func NewScraper(logger log.Logger) (*Scraper, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	c := colly.NewCollector(
		colly.MaxBodySize(maxBodyBytes),
		colly.UserAgent(userAgent),
	)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		Delay:       politeDelay,
	}); err != nil {
		return nil, fmt.Errorf("configuring crawl limits: %w", err)
	}

	return &Scraper{c: c, logger: logger}, nil
}

// Fetch retrieves one page and extracts its relevant content.
func (s *Scraper) Fetch(ctx context.Context, pageURL string, keywords []string) (*Article, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", pageURL)
	}

	var (
		body     []byte
		fetchErr error
	)

	col := s.c.Clone()
	col.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	col.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	col.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := col.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	col.Wait()

	if fetchErr != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, fetchErr)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, pageURL)
	}

	title, content := extract(body, parsed)
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, pageURL)
	}

	return &Article{
		URL:       pageURL,
		Title:     title,
		Content:   content,
		Relevance: relevance(content, keywords),
		FetchedAt: time.Now(),
	}, nil
}

// TokenSources fetches the compliance analysis pages for a token symbol.
// Partial failures are skipped; only a fully empty harvest is an error.
func (s *Scraper) TokenSources(ctx context.Context, symbol string) ([]Article, error) {
	symbol = strings.TrimSpace(symbol)
	lower := strings.ToLower(symbol)
	urls := []string{
		"https://cryptohalal.cc/search?q=" + url.QueryEscape(symbol),
		"https://cryptohalal.cc/token/" + url.PathEscape(lower),
		"https://cryptohalal.cc/analysis/" + url.PathEscape(lower),
	}
	keywords := []string{symbol, "halal", "haram", "islamic", "syariah", "fatwa"}

	var out []Article
	for _, u := range urls {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		art, err := s.Fetch(ctx, u, keywords)
		if err != nil {
			s.logger.Debug("source skipped", "url", u, "error", err)
			continue
		}
		out = append(out, *art)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w for token %s", ErrNoContent, symbol)
	}
	return out, nil
}

// IngestToken harvests token sources into the rulings store and reports how
// many articles were stored.
func (s *Scraper) IngestToken(ctx context.Context, store *knowledge.Store, symbol string) (int, error) {
	articles, err := s.TokenSources(ctx, symbol)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, art := range articles {
		err := store.Add(ctx, knowledge.Ruling{
			Topic:   strings.ToUpper(symbol),
			Content: art.Content,
			Source:  art.URL,
		})
		if err != nil {
			s.logger.Warn("storing article failed", "url", art.URL, "error", err)
			continue
		}
		stored++
	}
	if stored == 0 {
		return 0, fmt.Errorf("storing articles for %s: nothing persisted", symbol)
	}
	return stored, nil
}

// complianceSelectors are the content areas of known analysis sites.
const complianceSelectors = ".analysis-result, .token-analysis, .fatwa, article, main"

// extract pulls the page title and main text. Known compliance sites get
// targeted selectors; other pages go through readability with a plain-text
// fallback.
func extract(body []byte, pageURL *url.URL) (title, content string) {
	if strings.Contains(pageURL.Host, "cryptohalal") {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err == nil {
			title = strings.TrimSpace(doc.Find("title").First().Text())
			var parts []string
			doc.Find(complianceSelectors).Each(func(_ int, sel *goquery.Selection) {
				if text := strings.TrimSpace(sel.Text()); text != "" {
					parts = append(parts, text)
				}
			})
			if len(parts) > 0 {
				return title, strings.Join(parts, "\n\n")
			}
		}
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.Title, strings.TrimSpace(article.TextContent)
	}

	// Last resort: whole-document text.
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text()),
		strings.TrimSpace(doc.Find("body").Text())
}

// relevance scores content by the fraction of keywords it mentions.
func relevance(content string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}
