package tavily

import (
	"encoding/json"
	"fmt"

	"github.com/telhawk-systems/finops/internal/canonical"
	"github.com/telhawk-systems/finops/internal/providers"
)

// ToNewsItem maps one search result.
func ToNewsItem(r SearchResult) canonical.NewsItem {
	return canonical.NewNewsItem(string(providers.Tavily), r.URL, r.Title, r.Content, "",
		canonical.OptionalTimestamp(r.PublishedDate))
}

// NormalizeNews decodes a Tavily response body and maps every result that
// carries a URL.
func NormalizeNews(body json.RawMessage) ([]canonical.NewsItem, error) {
	items, _, err := normalizeNews(body)
	return items, err
}

// normalizeNews also reports how many results were dropped for lacking a URL.
func normalizeNews(body json.RawMessage) ([]canonical.NewsItem, int, error) {
	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode tavily response: %w", err)
	}
	items := make([]canonical.NewsItem, 0, len(resp.Results))
	skipped := 0
	for _, r := range resp.Results {
		if canonical.Trim(r.URL) == "" {
			skipped++
			continue
		}
		items = append(items, ToNewsItem(r))
	}
	return items, skipped, nil
}
