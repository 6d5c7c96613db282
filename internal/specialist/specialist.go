package specialist

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"go-research-crew/internal/store"
)

// URLCache is the subset of store.Store a specialist needs for scrape
// caching, kept narrow so tests can fake it without a real sqlite file.
type URLCache interface {
	GetCachedURL(url string) (*store.CachedURL, bool)
	CacheURL(url, content, title string) error
}

// Specialist groups an ordered, credential-gated tool list behind one
// domain label (web|code|docs).
type Specialist struct {
	name        string
	domain      string
	tools       []Tool
	credentials map[string]string
	fetcher     ContentFetcher
	cache       URLCache
}

// New builds a specialist. credentials maps credential name -> opaque
// secret; a tool whose RequiredCredential() is absent or empty is always
// runnable.
func New(name, domain string, tools []Tool, credentials map[string]string, fetcher ContentFetcher, cache URLCache) *Specialist {
	return &Specialist{
		name:        name,
		domain:      domain,
		tools:       tools,
		credentials: credentials,
		fetcher:     fetcher,
		cache:       cache,
	}
}

func (s *Specialist) Name() string   { return s.name }
func (s *Specialist) Domain() string { return s.domain }

func (s *Specialist) credentialed(t Tool) bool {
	need := t.RequiredCredential()
	if need == "" {
		return true
	}
	return s.credentials[need] != ""
}

// Execute runs the five-step search/filter/dedup/scrape/fragment pipeline.
func (s *Specialist) Execute(ctx context.Context, req Request) (*Fragment, error) {
	frag := &Fragment{Specialist: s.name, Timestamp: time.Now()}

	var available []Tool
	for _, t := range s.tools {
		if s.credentialed(t) {
			available = append(available, t)
		}
	}
	if len(available) == 0 {
		return frag, nil
	}

	var collected []Result
	for _, t := range available {
		if len(collected) >= req.MaxResults {
			break
		}
		remaining := req.MaxResults - len(collected)
		results, err := t.Search(ctx, req.Query, remaining)
		if err != nil {
			log.Printf("[Specialist:%s] tool %s failed, skipping: %v", s.name, t.Name(), err)
			continue
		}
		collected = append(collected, results...)
	}

	frag.Results = dedupeByURL(collected)
	if req.ScrapeTop > 0 && len(frag.Results) > 0 {
		frag.Scraped = s.scrapeTop(ctx, frag.Results, req)
	}
	return frag, nil
}

// dedupeByURL implements the dedup step's URL normalization:
// lowercase, trailing slash stripped, earliest-seen wins.
func dedupeByURL(results []Result) []Result {
	seen := make(map[string]struct{}, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		key := normalizeURL(r.URL)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func normalizeURL(u string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(u)), "/")
}

func (s *Specialist) scrapeTop(ctx context.Context, results []Result, req Request) []ScrapedContent {
	top := req.ScrapeTop
	if top > len(results) {
		top = len(results)
	}
	perURLTimeout := req.Timeout
	if top > 0 && req.Timeout > 0 {
		perURLTimeout = req.Timeout / time.Duration(top)
	}

	var wg sync.WaitGroup
	scraped := make([]ScrapedContent, top)
	ok := make([]bool, top)

	for i := 0; i < top; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := results[i].URL
			if cached, hit := s.cache.GetCachedURL(url); hit {
				scraped[i] = ScrapedContent{URL: url, Title: cached.Title, Content: cached.Content}
				ok[i] = true
				return
			}

			fetchCtx := ctx
			var cancel context.CancelFunc
			if perURLTimeout > 0 {
				fetchCtx, cancel = context.WithTimeout(ctx, perURLTimeout)
				defer cancel()
			}
			sc, err := s.fetcher.Fetch(fetchCtx, url)
			if err != nil {
				log.Printf("[Specialist:%s] scrape %s failed, skipping: %v", s.name, url, err)
				return
			}
			if err := s.cache.CacheURL(url, sc.Content, sc.Title); err != nil {
				log.Printf("[Specialist:%s] cache write for %s failed: %v", s.name, url, err)
			}
			scraped[i] = sc
			ok[i] = true
		}(i)
	}
	wg.Wait()

	out := make([]ScrapedContent, 0, top)
	for i, v := range ok {
		if v {
			out = append(out, scraped[i])
		}
	}
	return out
}
