// Package providers holds the machinery shared by every upstream data
// provider adapter: names and resources, the error taxonomy, request
// validation, the retrying HTTP transport and the capability interfaces the
// ingestion pipeline dispatches on.
package providers

import (
	"context"
	"encoding/json"

	"github.com/telhawk-systems/finops/internal/canonical"
)

// Name identifies an upstream provider.
type Name string

const (
	Tavily       Name = "tavily"
	Serper       Name = "serper"
	SerpApi      Name = "serpapi"
	TwelveData   Name = "twelvedata"
	AlphaVantage Name = "alphavantage"
)

// Names lists every provider with an adapter.
var Names = []Name{Tavily, Serper, SerpApi, TwelveData, AlphaVantage}

// Known reports whether n has an adapter.
func Known(n Name) bool {
	for _, known := range Names {
		if known == n {
			return true
		}
	}
	return false
}

// Resource identifies the kind of data an ingestion job fetches.
type Resource string

const (
	ResourceNewsSearch               Resource = "news_search"
	ResourceMarketQuoteRefresh       Resource = "market_quote_refresh"
	ResourceMarketTimeseriesBackfill Resource = "market_timeseries_backfill"
)

// Response is one successful provider call. Body is the provider's JSON
// response exactly as received.
type Response struct {
	HTTPStatus int
	Body       json.RawMessage
}

// NewsSearcher is implemented by news search providers.
type NewsSearcher interface {
	SearchNews(ctx context.Context, payload json.RawMessage, idempotencyKey string) (*Response, error)
	NormalizeNews(body, payload json.RawMessage) ([]canonical.NewsItem, error)
}

// QuoteFetcher is implemented by market data providers that serve quotes.
type QuoteFetcher interface {
	GetQuote(ctx context.Context, payload json.RawMessage, idempotencyKey string) (*Response, error)
	NormalizeQuote(body, payload json.RawMessage) (canonical.Quote, error)
}

// TimeseriesFetcher is implemented by market data providers that serve
// historical OHLCV bars.
type TimeseriesFetcher interface {
	GetTimeseries(ctx context.Context, payload json.RawMessage, idempotencyKey string) (*Response, error)
	NormalizeTimeseries(body, payload json.RawMessage) ([]canonical.TimeseriesPoint, error)
}
