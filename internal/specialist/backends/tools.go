package backends

import (
	"context"
	"fmt"
	"strings"

	"go-research-crew/internal/specialist"
)

// genericTool is a named, credential-gated wrapper over a searchClient —
// every concrete backend below is one of these with a different name,
// base URL, and credential.
type genericTool struct {
	name        string
	description string
	credential  string
	siteFilter  string // when set, appended as "site:X" to every query (fallback mode)
	client      *searchClient
}

func (t *genericTool) Name() string              { return t.name }
func (t *genericTool) Description() string       { return t.description }
func (t *genericTool) RequiredCredential() string { return t.credential }

func (t *genericTool) Search(ctx context.Context, query string, maxResults int) ([]specialist.Result, error) {
	q := query
	if t.siteFilter != "" {
		q = fmt.Sprintf("%s site:%s", query, t.siteFilter)
	}
	hits, err := t.client.search(ctx, q, maxResults)
	if err != nil {
		return nil, err
	}
	out := make([]specialist.Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, specialist.Result{
			Title:     h.Title,
			URL:       h.URL,
			Snippet:   h.Content,
			Source:    t.name,
			Relevance: relevanceFromRank(len(out)),
		})
	}
	return out, nil
}

// relevanceFromRank gives earlier results a higher default relevance when
// the backend itself reports no score, decaying toward a floor of 0.3.
func relevanceFromRank(rank int) float64 {
	v := 1.0 - float64(rank)*0.07
	if v < 0.3 {
		return 0.3
	}
	return v
}

// NewGeneralSearch builds the primary web-search tool.
func NewGeneralSearch(baseURL, apiKey string) specialist.Tool {
	return &genericTool{
		name:        "general_search",
		description: "general purpose web search, first configured provider",
		credential:  "generalSearchKey",
		client:      newSearchClient(baseURL, apiKey),
	}
}

// NewGeneralSearchBackup is the automatic fallback on non-2xx from the
// primary general-search provider.
func NewGeneralSearchBackup(baseURL, apiKey string) specialist.Tool {
	return &genericTool{
		name:        "general_search_backup",
		description: "backup web search provider",
		credential:  "generalSearchBackupKey",
		client:      newSearchClient(baseURL, apiKey),
	}
}

// NewCodeSearch builds the repositories+code search tool.
func NewCodeSearch(baseURL, apiKey string) specialist.Tool {
	return &genericTool{
		name:        "code_search",
		description: "repository and source code search",
		credential:  "codeSearchKey",
		client:      newSearchClient(baseURL, apiKey),
	}
}

// NewQAForum builds the programming Q&A search tool.
func NewQAForum(baseURL, apiKey string) specialist.Tool {
	return &genericTool{
		name:        "qa_forum",
		description: "programming question-and-answer forum search",
		credential:  "qaForumKey",
		client:      newSearchClient(baseURL, apiKey),
	}
}

// NewPackageRegistry builds a package-index search tool.
func NewPackageRegistry(baseURL, apiKey string) specialist.Tool {
	return &genericTool{
		name:        "package_registry",
		description: "package registry search",
		credential:  "packageRegistryKey",
		client:      newSearchClient(baseURL, apiKey),
	}
}

// NewEncyclopedia builds the encyclopedia search tool.
func NewEncyclopedia(baseURL, apiKey string) specialist.Tool {
	return &genericTool{
		name:        "encyclopedia",
		description: "encyclopedia search",
		credential:  "encyclopediaKey",
		client:      newSearchClient(baseURL, apiKey),
	}
}

// NewPaperIndex builds the academic paper index search tool.
func NewPaperIndex(baseURL, apiKey string) specialist.Tool {
	return &genericTool{
		name:        "paper_index",
		description: "academic paper index search",
		credential:  "paperIndexKey",
		client:      newSearchClient(baseURL, apiKey),
	}
}

// NewDiscussionForum builds a general discussion-forum search tool.
func NewDiscussionForum(baseURL, apiKey string) specialist.Tool {
	return &genericTool{
		name:        "discussion_forum",
		description: "discussion forum search",
		credential:  "discussionForumKey",
		client:      newSearchClient(baseURL, apiKey),
	}
}

// NewVendorDocs builds a vendor-documentation-site search tool.
func NewVendorDocs(baseURL, apiKey string) specialist.Tool {
	return &genericTool{
		name:        "vendor_docs",
		description: "vendor documentation site search",
		credential:  "vendorDocsKey",
		client:      newSearchClient(baseURL, apiKey),
	}
}

// NewRestrictedFallback wraps the general-search backend with a site:
// filter, the "native API unavailable" fallback used for the
// code and docs specialists. It shares the general-search credential, since
// it is the same provider restricted to relevant sites.
func NewRestrictedFallback(baseURL, apiKey string, sites []string) specialist.Tool {
	return &genericTool{
		name:        "restricted_fallback",
		description: "general search restricted to: " + strings.Join(sites, ", "),
		credential:  "generalSearchKey",
		siteFilter:  strings.Join(sites, " OR site:"),
		client:      newSearchClient(baseURL, apiKey),
	}
}
