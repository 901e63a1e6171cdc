// Package alphavantage adapts the AlphaVantage market data API.
package alphavantage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/telhawk-systems/finops/internal/canonical"
	"github.com/telhawk-systems/finops/internal/providers"
)

const (
	DefaultBaseURL = "https://www.alphavantage.co"

	dailyInterval = "1day"
)

type Client struct {
	transport *providers.Client
	apiKey    string
}

var (
	_ providers.QuoteFetcher      = (*Client)(nil)
	_ providers.TimeseriesFetcher = (*Client)(nil)
)

func New(baseURL, apiKey string, opts providers.Options) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	transport, err := providers.NewClient(providers.AlphaVantage, baseURL, apiKey, opts)
	if err != nil {
		return nil, err
	}
	return &Client{transport: transport, apiKey: apiKey}, nil
}

func (c *Client) Quote(ctx context.Context, req QuoteRequest, idempotencyKey string) (*providers.Response, error) {
	if err := providers.Validate(providers.AlphaVantage, &req); err != nil {
		return nil, err
	}
	return c.query(ctx, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {req.Symbol},
	}, idempotencyKey)
}

// Timeseries fetches daily bars. Any interval other than 1day is rejected
// before a request is made.
func (c *Client) Timeseries(ctx context.Context, req TimeseriesRequest, idempotencyKey string) (*providers.Response, error) {
	if err := providers.Validate(providers.AlphaVantage, &req); err != nil {
		return nil, err
	}
	if req.Interval != dailyInterval {
		return nil, providers.RequestFailed(providers.AlphaVantage, "interval %q is not supported, only %s", req.Interval, dailyInterval)
	}
	return c.query(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {req.Symbol},
		"outputsize": {req.OutputSize},
	}, idempotencyKey)
}

func (c *Client) GetQuote(ctx context.Context, payload json.RawMessage, idempotencyKey string) (*providers.Response, error) {
	var req QuoteRequest
	if err := providers.DecodeRequest(providers.AlphaVantage, payload, &req); err != nil {
		return nil, err
	}
	return c.Quote(ctx, req, idempotencyKey)
}

func (c *Client) GetTimeseries(ctx context.Context, payload json.RawMessage, idempotencyKey string) (*providers.Response, error) {
	req := defaultTimeseriesRequest()
	if err := providers.DecodeRequest(providers.AlphaVantage, payload, &req); err != nil {
		return nil, err
	}
	return c.Timeseries(ctx, req, idempotencyKey)
}

func (c *Client) NormalizeQuote(body, _ json.RawMessage) (canonical.Quote, error) {
	return NormalizeQuote(body)
}

// NormalizeTimeseries takes symbol and timeframe from the job payload since
// the daily response does not echo the interval.
func (c *Client) NormalizeTimeseries(body, payload json.RawMessage) ([]canonical.TimeseriesPoint, error) {
	req := defaultTimeseriesRequest()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, providers.RequestFailed(providers.AlphaVantage, "invalid request payload: %v", err)
		}
	}
	return NormalizeTimeseries(body, req.Symbol, req.Interval)
}

func (c *Client) query(ctx context.Context, query url.Values, idempotencyKey string) (*providers.Response, error) {
	query.Set("apikey", c.apiKey)
	return c.transport.Do(ctx, providers.Request{
		Method:         http.MethodGet,
		Path:           "/query",
		Query:          query,
		IdempotencyKey: idempotencyKey,
		Inspect:        inspect,
	})
}

func inspect(body json.RawMessage) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	for _, msg := range []string{env.ErrorMessage, env.Note, env.Information} {
		if msg != "" {
			return providers.RequestFailed(providers.AlphaVantage, "vendor error: %s", msg)
		}
	}
	return nil
}
