// Package canonical defines the provider-agnostic records produced by
// ingestion and the parsing helpers every provider mapper shares.
package canonical

import (
	"time"
)

// NormalizationVersion tags canonical rows with the mapping rules that produced them.
const NormalizationVersion = "v1"

// NewsItem is one normalized news search result.
type NewsItem struct {
	SourceProvider string     `json:"source_provider"`
	SourceURL      string     `json:"source_url"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	Author         string     `json:"author,omitempty"`
	Language       string     `json:"language,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	DocumentHash   string     `json:"document_hash"`
}

// Quote is a point-in-time price for a symbol.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	ChangePercent *float64  `json:"change_percent,omitempty"`
	AsOf          time.Time `json:"as_of"`
}

// TimeseriesPoint is one OHLCV bar.
type TimeseriesPoint struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	TS        time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// NewNewsItem trims the textual fields, normalizes the URL and publication
// time and derives the document hash.
func NewNewsItem(provider, url, title, snippet, author string, publishedAt *time.Time) NewsItem {
	item := NewsItem{
		SourceProvider: provider,
		SourceURL:      NormalizeURL(url),
		Title:          Trim(title),
		Snippet:        Trim(snippet),
		Author:         Trim(author),
	}
	if publishedAt != nil {
		utc := publishedAt.UTC()
		item.PublishedAt = &utc
	}
	item.DocumentHash = DocumentHash(item.SourceURL, item.Title, item.Snippet, item.PublishedAt)
	return item
}
