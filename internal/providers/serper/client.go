// Package serper adapts the Serper Google News API.
package serper

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/telhawk-systems/finops/internal/canonical"
	"github.com/telhawk-systems/finops/internal/providers"
)

const DefaultBaseURL = "https://google.serper.dev"

type Client struct {
	transport *providers.Client
	apiKey    string
}

var _ providers.NewsSearcher = (*Client)(nil)

func New(baseURL, apiKey string, opts providers.Options) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	transport, err := providers.NewClient(providers.Serper, baseURL, apiKey, opts)
	if err != nil {
		return nil, err
	}
	return &Client{transport: transport, apiKey: apiKey}, nil
}

func (c *Client) Search(ctx context.Context, req SearchRequest, idempotencyKey string) (*providers.Response, error) {
	if err := providers.Validate(providers.Serper, &req); err != nil {
		return nil, err
	}
	return c.transport.Do(ctx, providers.Request{
		Method:         http.MethodPost,
		Path:           "/news",
		Header:         http.Header{"X-API-KEY": {c.apiKey}},
		Body:           req,
		IdempotencyKey: idempotencyKey,
	})
}

func (c *Client) SearchNews(ctx context.Context, payload json.RawMessage, idempotencyKey string) (*providers.Response, error) {
	req := defaultSearchRequest()
	if err := providers.DecodeRequest(providers.Serper, payload, &req); err != nil {
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
