package specialist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// ContentFetcher extracts the readable body of a URL, Specialist.Execute's
// scrape step.
type ContentFetcher interface {
	Fetch(ctx context.Context, target string) (ScrapedContent, error)
}

// minReadableContent is the floor below which go-readability's extraction is
// treated as a miss, falling back to a plain goquery scrape.
const minReadableContent = 200

// readabilityFetcher extracts article text by fetching the URL and running
// go-shiori/go-readability over the body, falling back to a goquery text
// scrape for pages readability can't parse into an article (landing pages,
// forum threads, anything without clear article markup), minus a PDF branch
// that depended on a dropped dependency (see DESIGN.md).
type readabilityFetcher struct {
	client    *http.Client
	userAgent string
}

// NewContentFetcher builds the default HTTP+readability fetcher.
func NewContentFetcher() ContentFetcher {
	return &readabilityFetcher{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "go-research-crew/1.0 (+autonomous research specialist)",
	}
}

func (f *readabilityFetcher) Fetch(ctx context.Context, target string) (ScrapedContent, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return ScrapedContent{}, fmt.Errorf("invalid url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ScrapedContent{}, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return ScrapedContent{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ScrapedContent{}, fmt.Errorf("fetch %s: HTTP %d", target, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") && !strings.Contains(ct, "xml") {
		return ScrapedContent{}, fmt.Errorf("fetch %s: unsupported content-type %s", target, ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ScrapedContent{}, fmt.Errorf("read %s: %w", target, err)
	}

	article, artErr := readability.FromReader(bytes.NewReader(body), parsed)
	if artErr == nil && len(strings.TrimSpace(article.TextContent)) >= minReadableContent {
		return ScrapedContent{URL: target, Title: article.Title, Content: article.TextContent}, nil
	}

	title, content, err := scrapeWithGoquery(body)
	if err != nil {
		if artErr != nil {
			return ScrapedContent{}, fmt.Errorf("extract %s: %w", target, artErr)
		}
		return ScrapedContent{URL: target, Title: article.Title, Content: article.TextContent}, nil
	}
	if title == "" {
		title = article.Title
	}
	return ScrapedContent{URL: target, Title: title, Content: content}, nil
}

// scrapeWithGoquery is the fallback path for pages go-readability can't
// reduce to an article: it strips script/style/nav chrome and returns the
// remaining body text verbatim.
func scrapeWithGoquery(body []byte) (title, content string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, nav, header, footer, noscript").Remove()
	title = strings.TrimSpace(doc.Find("title").First().Text())
	content = strings.TrimSpace(doc.Find("body").Text())
	content = strings.Join(strings.Fields(content), " ")
	if content == "" {
		return title, "", fmt.Errorf("no text content found")
	}
	return title, content, nil
}
