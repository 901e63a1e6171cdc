// Package serpapi adapts the SerpApi Google News engine.
package serpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/telhawk-systems/finops/internal/canonical"
	"github.com/telhawk-systems/finops/internal/providers"
)

const DefaultBaseURL = "https://serpapi.com"

type Client struct {
	transport *providers.Client
	apiKey    string
}

var _ providers.NewsSearcher = (*Client)(nil)

func New(baseURL, apiKey string, opts providers.Options) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	transport, err := providers.NewClient(providers.SerpApi, baseURL, apiKey, opts)
	if err != nil {
		return nil, err
	}
	return &Client{transport: transport, apiKey: apiKey}, nil
}

func (c *Client) Search(ctx context.Context, req SearchRequest, idempotencyKey string) (*providers.Response, error) {
	if err := providers.Validate(providers.SerpApi, &req); err != nil {
		return nil, err
	}
	return c.transport.Do(ctx, providers.Request{
		Method: http.MethodGet,
		Path:   "/search.json",
		Query: url.Values{
			"engine":  {req.Engine},
			"q":       {req.Q},
			"num":     {strconv.Itoa(req.Num)},
			"api_key": {c.apiKey},
		},
		IdempotencyKey: idempotencyKey,
		Inspect:        inspect,
	})
}

func (c *Client) SearchNews(ctx context.Context, payload json.RawMessage, idempotencyKey string) (*providers.Response, error) {
	req := defaultSearchRequest()
	if err := providers.DecodeRequest(providers.SerpApi, payload, &req); err != nil {
		return nil, err
	}
	return c.Search(ctx, req, idempotencyKey)
}

func (c *Client) NormalizeNews(body, _ json.RawMessage) ([]canonical.NewsItem, error) {
	items, skipped, err := normalizeNews(body)
	if err != nil {
		return nil, err
	}
	c.transport.ReportSkipped(skipped, skipped+len(items))
	return items, nil
}

func inspect(body json.RawMessage) error {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	if probe.Error != "" {
		return providers.RequestFailed(providers.SerpApi, "vendor error: %s", probe.Error)
	}
	return nil
}
