// Package twelvedata adapts the TwelveData market data API.
package twelvedata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/telhawk-systems/finops/internal/canonical"
	"github.com/telhawk-systems/finops/internal/providers"
)

const DefaultBaseURL = "https://api.twelvedata.com"

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
	transport, err := providers.NewClient(providers.TwelveData, baseURL, apiKey, opts)
	if err != nil {
		return nil, err
	}
	return &Client{transport: transport, apiKey: apiKey}, nil
}

func (c *Client) Quote(ctx context.Context, req QuoteRequest, idempotencyKey string) (*providers.Response, error) {
	if err := providers.Validate(providers.TwelveData, &req); err != nil {
		return nil, err
	}
	return c.get(ctx, "/quote", url.Values{"symbol": {req.Symbol}}, idempotencyKey)
}

func (c *Client) Timeseries(ctx context.Context, req TimeseriesRequest, idempotencyKey string) (*providers.Response, error) {
	if err := providers.Validate(providers.TwelveData, &req); err != nil {
		return nil, err
	}
	query := url.Values{
		"symbol":     {req.Symbol},
		"interval":   {req.Interval},
		"outputsize": {strconv.Itoa(req.OutputSize)},
	}
	if req.StartDate != "" {
		query.Set("start_date", req.StartDate)
	}
	if req.EndDate != "" {
		query.Set("end_date", req.EndDate)
	}
	return c.get(ctx, "/time_series", query, idempotencyKey)
}

func (c *Client) GetQuote(ctx context.Context, payload json.RawMessage, idempotencyKey string) (*providers.Response, error) {
	var req QuoteRequest
	if err := providers.DecodeRequest(providers.TwelveData, payload, &req); err != nil {
		return nil, err
	}
	return c.Quote(ctx, req, idempotencyKey)
}

func (c *Client) GetTimeseries(ctx context.Context, payload json.RawMessage, idempotencyKey string) (*providers.Response, error) {
	req := defaultTimeseriesRequest()
	if err := providers.DecodeRequest(providers.TwelveData, payload, &req); err != nil {
		return nil, err
	}
	return c.Timeseries(ctx, req, idempotencyKey)
}

func (c *Client) NormalizeQuote(body, _ json.RawMessage) (canonical.Quote, error) {
	return NormalizeQuote(body)
}

func (c *Client) NormalizeTimeseries(body, _ json.RawMessage) ([]canonical.TimeseriesPoint, error) {
	return NormalizeTimeseries(body)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, idempotencyKey string) (*providers.Response, error) {
	query.Set("apikey", c.apiKey)
	return c.transport.Do(ctx, providers.Request{
		Method:         http.MethodGet,
		Path:           path,
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
	if strings.EqualFold(env.Status, "error") {
		msg := env.Message
		if msg == "" {
			msg = "unknown error"
		}
		return providers.RequestFailed(providers.TwelveData, "vendor error: %s", msg)
	}
	return nil
}
