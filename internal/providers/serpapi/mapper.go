package serpapi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/telhawk-systems/finops/internal/canonical"
	"github.com/telhawk-systems/finops/internal/providers"
)

// Google News dates look like "01/15/2024, 10:00 AM, +0000 UTC".
const googleNewsDateLayout = "01/02/2006, 03:04 PM, -0700"

func parseDate(raw string) *time.Time {
	if t := canonical.OptionalTimestamp(raw); t != nil {
		return t
	}
	cleaned := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "UTC"))
	if t, err := time.Parse(googleNewsDateLayout, cleaned); err == nil {
		utc := t.UTC()
		return &utc
	}
	return nil
}

func ToNewsItem(r NewsResult) canonical.NewsItem {
	return canonical.NewNewsItem(string(providers.SerpApi), r.Link, r.Title, r.Snippet, string(r.Source), parseDate(r.Date))
}

func NormalizeNews(body json.RawMessage) ([]canonical.NewsItem, error) {
	items, _, err := normalizeNews(body)
	return items, err
}

// normalizeNews also reports how many results were dropped for lacking a URL.
func normalizeNews(body json.RawMessage) ([]canonical.NewsItem, int, error) {
	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode serpapi response: %w", err)
	}
	items := make([]canonical.NewsItem, 0, len(resp.NewsResults))
	skipped := 0
	for _, r := range resp.NewsResults {
		if canonical.Trim(r.Link) == "" {
			skipped++
			continue
		}
		items = append(items, ToNewsItem(r))
	}
	return items, skipped, nil
}
