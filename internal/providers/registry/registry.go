// Package registry maps (provider, resource) pairs to the adapter capability
// that serves them. The set of supported pairs is a fixed table.
package registry

import (
	"context"
	"encoding/json"

	"github.com/telhawk-systems/finops/internal/canonical"
	"github.com/telhawk-systems/finops/internal/config"
	"github.com/telhawk-systems/finops/internal/providers"
	"github.com/telhawk-systems/finops/internal/providers/alphavantage"
	"github.com/telhawk-systems/finops/internal/providers/serpapi"
	"github.com/telhawk-systems/finops/internal/providers/serper"
	"github.com/telhawk-systems/finops/internal/providers/tavily"
	"github.com/telhawk-systems/finops/internal/providers/twelvedata"
)

// Records is the canonical output of one provider response. Exactly one
// field is populated, according to the resource.
type Records struct {
	News       []canonical.NewsItem
	Quote      *canonical.Quote
	Timeseries []canonical.TimeseriesPoint
}

// Count returns the number of canonical records.
func (r Records) Count() int {
	n := len(r.News) + len(r.Timeseries)
	if r.Quote != nil {
		n++
	}
	return n
}

// Fetcher is one provider capability bound to a resource.
type Fetcher interface {
	Fetch(ctx context.Context, payload json.RawMessage, idempotencyKey string) (*providers.Response, error)
	Normalize(body, payload json.RawMessage) (Records, error)
}

type route struct {
	provider providers.Name
	resource providers.Resource
}

// Registry resolves fetchers and per-provider rate limits.
type Registry struct {
	fetchers   map[route]Fetcher
	configErrs map[providers.Name]error
	limits     map[providers.Name]int
}

// New returns an empty registry. Use Register to add fetchers.
func New() *Registry {
	return &Registry{
		fetchers:   make(map[route]Fetcher),
		configErrs: make(map[providers.Name]error),
		limits:     make(map[providers.Name]int),
	}
}

// FromConfig builds the registry for every provider adapter. A provider
// whose adapter cannot be constructed, for example because its API key is
// missing, still occupies its routes: Lookup returns the construction error
// so the job fails with a configuration error rather than as unsupported.
func FromConfig(cfg config.ProvidersConfig, opts providers.Options) *Registry {
	r := New()

	endpoints := map[providers.Name]config.EndpointConfig{
		providers.Tavily:       cfg.Tavily,
		providers.Serper:       cfg.Serper,
		providers.SerpApi:      cfg.SerpApi,
		providers.TwelveData:   cfg.TwelveData,
		providers.AlphaVantage: cfg.AlphaVantage,
	}
	for name, ep := range endpoints {
		r.limits[name] = ep.RateLimitPerMinute
	}

	if c, err := tavily.New(cfg.Tavily.BaseURL, cfg.Tavily.APIKey, opts); err != nil {
		r.configErrs[providers.Tavily] = err
	} else {
		r.RegisterNews(providers.Tavily, c)
	}
	if c, err := serper.New(cfg.Serper.BaseURL, cfg.Serper.APIKey, opts); err != nil {
		r.configErrs[providers.Serper] = err
	} else {
		r.RegisterNews(providers.Serper, c)
	}
	if c, err := serpapi.New(cfg.SerpApi.BaseURL, cfg.SerpApi.APIKey, opts); err != nil {
		r.configErrs[providers.SerpApi] = err
	} else {
		r.RegisterNews(providers.SerpApi, c)
	}
	if c, err := twelvedata.New(cfg.TwelveData.BaseURL, cfg.TwelveData.APIKey, opts); err != nil {
		r.configErrs[providers.TwelveData] = err
	} else {
		r.RegisterMarket(providers.TwelveData, c, c)
	}
	if c, err := alphavantage.New(cfg.AlphaVantage.BaseURL, cfg.AlphaVantage.APIKey, opts); err != nil {
		r.configErrs[providers.AlphaVantage] = err
	} else {
		r.RegisterMarket(providers.AlphaVantage, c, c)
	}

	return r
}

// supported is the closed set of (provider, resource) routes.
var supported = map[route]bool{
	{providers.Tavily, providers.ResourceNewsSearch}:                     true,
	{providers.Serper, providers.ResourceNewsSearch}:                     true,
	{providers.SerpApi, providers.ResourceNewsSearch}:                    true,
	{providers.TwelveData, providers.ResourceMarketQuoteRefresh}:         true,
	{providers.TwelveData, providers.ResourceMarketTimeseriesBackfill}:   true,
	{providers.AlphaVantage, providers.ResourceMarketQuoteRefresh}:       true,
	{providers.AlphaVantage, providers.ResourceMarketTimeseriesBackfill}: true,
}

// Supported reports whether the pair has an adapter.
func Supported(provider providers.Name, resource providers.Resource) bool {
	return supported[route{provider, resource}]
}

// Register binds f to the pair, replacing any previous binding.
func (r *Registry) Register(provider providers.Name, resource providers.Resource, f Fetcher) {
	r.fetchers[route{provider, resource}] = f
	delete(r.configErrs, provider)
}

func (r *Registry) RegisterNews(provider providers.Name, s providers.NewsSearcher) {
	r.Register(provider, providers.ResourceNewsSearch, newsFetcher{s})
}

func (r *Registry) RegisterMarket(provider providers.Name, q providers.QuoteFetcher, ts providers.TimeseriesFetcher) {
	r.Register(provider, providers.ResourceMarketQuoteRefresh, quoteFetcher{q})
	r.Register(provider, providers.ResourceMarketTimeseriesBackfill, timeseriesFetcher{ts})
}

// SetRateLimit overrides the per-minute limit for provider.
func (r *Registry) SetRateLimit(provider providers.Name, perMinute int) {
	r.limits[provider] = perMinute
}

// RateLimit returns the configured requests per minute for provider.
func (r *Registry) RateLimit(provider providers.Name) int {
	return r.limits[provider]
}

// Lookup returns the fetcher for the pair.
func (r *Registry) Lookup(provider providers.Name, resource providers.Resource) (Fetcher, error) {
	key := route{provider, resource}
	if f, ok := r.fetchers[key]; ok {
		return f, nil
	}
	if supported[key] {
		if err, ok := r.configErrs[provider]; ok {
			return nil, err
		}
		return nil, providers.ConfigError(provider, "adapter is not configured")
	}
	return nil, providers.Unsupported(provider, resource)
}

type newsFetcher struct{ s providers.NewsSearcher }

func (f newsFetcher) Fetch(ctx context.Context, payload json.RawMessage, key string) (*providers.Response, error) {
	return f.s.SearchNews(ctx, payload, key)
}

func (f newsFetcher) Normalize(body, payload json.RawMessage) (Records, error) {
	items, err := f.s.NormalizeNews(body, payload)
	if err != nil {
		return Records{}, err
	}
	return Records{News: items}, nil
}

type quoteFetcher struct{ q providers.QuoteFetcher }

func (f quoteFetcher) Fetch(ctx context.Context, payload json.RawMessage, key string) (*providers.Response, error) {
	return f.q.GetQuote(ctx, payload, key)
}

func (f quoteFetcher) Normalize(body, payload json.RawMessage) (Records, error) {
	q, err := f.q.NormalizeQuote(body, payload)
	if err != nil {
		return Records{}, err
	}
	return Records{Quote: &q}, nil
}

type timeseriesFetcher struct{ ts providers.TimeseriesFetcher }

func (f timeseriesFetcher) Fetch(ctx context.Context, payload json.RawMessage, key string) (*providers.Response, error) {
	return f.ts.GetTimeseries(ctx, payload, key)
}

func (f timeseriesFetcher) Normalize(body, payload json.RawMessage) (Records, error) {
	points, err := f.ts.NormalizeTimeseries(body, payload)
	if err != nil {
		return Records{}, err
	}
	return Records{Timeseries: points}, nil
}
