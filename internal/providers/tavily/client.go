// Package tavily adapts the Tavily search API.
package tavily

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/telhawk-systems/finops/internal/canonical"
	"github.com/telhawk-systems/finops/internal/providers"
)

const DefaultBaseURL = "https://api.tavily.com"

type Client struct {
	transport *providers.Client
	apiKey    string
}

var _ providers.NewsSearcher = (*Client)(nil)

func New(baseURL, apiKey string, opts providers.Options) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	transport, err := providers.NewClient(providers.Tavily, baseURL, apiKey, opts)
	if err != nil {
		return nil, err
	}
	return &Client{transport: transport, apiKey: apiKey}, nil
}

// Search runs a validated search request.
func (c *Client) Search(ctx context.Context, req SearchRequest, idempotencyKey string) (*providers.Response, error) {
	if err := providers.Validate(providers.Tavily, &req); err != nil {
		return nil, err
	}
	return c.transport.Do(ctx, providers.Request{
		Method:         http.MethodPost,
		Path:           "/search",
		Body:           searchBody{APIKey: c.apiKey, SearchRequest: req},
		IdempotencyKey: idempotencyKey,
	})
}

// SearchNews decodes a job payload and runs the search.
func (c *Client) SearchNews(ctx context.Context, payload json.RawMessage, idempotencyKey string) (*providers.Response, error) {
	req := defaultSearchRequest()
	if err := providers.DecodeRequest(providers.Tavily, payload, &req); err != nil {
		return nil, err
	}
	return c.Search(ctx, req, idempotencyKey)
}

// NormalizeNews maps a stored or fresh response body to canonical news items.
func (c *Client) NormalizeNews(body, _ json.RawMessage) ([]canonical.NewsItem, error) {
	items, skipped, err := normalizeNews(body)
	if err != nil {
		return nil, err
	}
	c.transport.ReportSkipped(skipped, skipped+len(items))
	return items, nil
}
