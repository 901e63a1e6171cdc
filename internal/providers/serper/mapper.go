package serper

import (
	"encoding/json"
	"fmt"

	"github.com/telhawk-systems/finops/internal/canonical"
	"github.com/telhawk-systems/finops/internal/providers"
)

// ToNewsItem maps one news result. Serper dates are frequently relative
// ("3 hours ago") and are dropped when they cannot be parsed.
func ToNewsItem(r NewsResult) canonical.NewsItem {
	return canonical.NewNewsItem(string(providers.Serper), r.Link, r.Title, r.Snippet, r.Source,
		canonical.OptionalTimestamp(r.Date))
}

func NormalizeNews(body json.RawMessage) ([]canonical.NewsItem, error) {
	items, _, err := normalizeNews(body)
	return items, err
}

// normalizeNews also reports how many results were dropped for lacking a URL.
func normalizeNews(body json.RawMessage) ([]canonical.NewsItem, int, error) {
	var resp NewsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode serper response: %w", err)
	}
	items := make([]canonical.NewsItem, 0, len(resp.News))
	skipped := 0
	for _, r := range resp.News {
		if canonical.Trim(r.Link) == "" {
			skipped++
			continue
		}
		items = append(items, ToNewsItem(r))
	}
	return items, skipped, nil
}
