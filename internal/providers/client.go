package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/telhawk-systems/finops/common/logging"
	"github.com/telhawk-systems/finops/internal/metrics"
)

const (
	// IdempotencyHeader carries the ingestion job's idempotency key so
	// provider-side request logs can be correlated.
	IdempotencyHeader = "Idempotency-Key"

	maxResponseBytes = 16 << 20
	maxErrorSnippet  = 512
)

// Options configures the retry policy shared by all adapters.
type Options struct {
	// Timeout bounds a single HTTP attempt. Defaults to 10s.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// Backoff is the base delay; attempt n waits Backoff * 2^n.
	Backoff time.Duration
	// HTTPClient overrides the client used for requests. Its Timeout is
	// replaced by Options.Timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultOptions returns the default provider call policy.
func DefaultOptions() Options {
	return Options{
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

// Request describes one logical provider call.
type Request struct {
	Method         string
	Path           string
	Query          url.Values
	Header         http.Header
	Body           any
	IdempotencyKey string

	// Inspect examines a 2xx body for vendor-embedded business errors.
	// A non-nil return fails the call without retrying.
	Inspect func(body json.RawMessage) error
}

// Client executes provider requests with timeout classification and
// exponential backoff. It holds only configuration and is safe for
// concurrent use.
type Client struct {
	provider   Name
	baseURL    string
	http       *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewClient creates a transport for provider rooted at baseURL.
func NewClient(provider Name, baseURL, apiKey string, opts Options) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ConfigError(provider, "api key is not configured")
	}
	if opts.MaxRetries < 0 {
		return nil, ConfigError(provider, "max retries must be non-negative, got %d", opts.MaxRetries)
	}
	if opts.Backoff < 0 {
		return nil, ConfigError(provider, "backoff must be non-negative, got %s", opts.Backoff)
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ConfigError(provider, "invalid base url %q", baseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	if opts.HTTPClient != nil {
		clone := *opts.HTTPClient
		clone.Timeout = timeout
		httpClient = &clone
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		provider:   provider,
		baseURL:    u.String(),
		http:       httpClient,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		logger:     logger.With(logging.Provider(string(provider))),
	}, nil
}

// Provider returns the provider this client talks to.
func (c *Client) Provider() Name { return c.provider }

// ReportSkipped records search results that were dropped during
// normalization because they had no URL to deduplicate or cite.
func (c *Client) ReportSkipped(skipped, total int) {
	if skipped <= 0 {
		return
	}
	metrics.SkippedResults.WithLabelValues(string(c.provider)).Add(float64(skipped))
	c.logger.Warn("dropped search results without a URL",
		slog.Int("skipped", skipped), slog.Int("total", total))
}

// Do executes req, retrying transient failures up to MaxRetries times.
// Fatal failures are returned after the attempt that produced them; when
// retries run out the result is a CodeRetriesExhausted error wrapping the
// last classified failure.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.backoff
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxInterval = 24 * time.Hour
	expo.MaxElapsedTime = 0
	expo.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.maxRetries)), ctx)
	logger := logging.FromContext(ctx, c.logger)

	attempts := 0
	var last *Error
	operation := func() (*Response, error) {
		attempts++
		resp, perr := c.attempt(ctx, req)
		if perr == nil {
			metrics.ProviderRequests.WithLabelValues(string(c.provider), "success").Inc()
			return resp, nil
		}
		metrics.ProviderRequests.WithLabelValues(string(c.provider), string(perr.Code)).Inc()
		last = perr
		if !perr.Retryable {
			return nil, backoff.Permanent(perr)
		}
		return nil, perr
	}
	notify := func(err error, wait time.Duration) {
		metrics.ProviderRetries.WithLabelValues(string(c.provider)).Inc()
		logger.Warn("provider call failed, retrying",
			logging.Attempt(attempts),
			slog.Duration("backoff", wait),
			logging.Error(err))
	}

	resp, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err == nil {
		return resp, nil
	}

	if last != nil && !last.Retryable {
		return nil, last
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &Error{
			Code:      CodeNetwork,
			Provider:  c.provider,
			Retryable: false,
			Message:   fmt.Sprintf("request abandoned after %d attempts", attempts),
			Err:       ctxErr,
		}
	}

	exhausted := &Error{
		Code:      CodeRetriesExhausted,
		Provider:  c.provider,
		Retryable: false,
		Message:   fmt.Sprintf("gave up after %d attempts", attempts),
		Err:       err,
	}
	if last != nil {
		exhausted.HTTPStatus = last.HTTPStatus
		exhausted.Err = last
	}
	return nil, exhausted
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, *Error) {
	httpReq, err := c.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, RequestFailed(c.provider, "build request: %v", err)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	metrics.ProviderLatency.WithLabelValues(string(c.provider)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.classifyTransportError(ctx, err)
	}

	switch {
	case isRetryableStatus(resp.StatusCode):
		return nil, &Error{
			Code:       CodeTransient,
			Provider:   c.provider,
			HTTPStatus: resp.StatusCode,
			Retryable:  true,
			Message:    fmt.Sprintf("transient upstream status %d", resp.StatusCode),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &Error{
			Code:       CodeRequestFailed,
			Provider:   c.provider,
			HTTPStatus: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(body)),
		}
	}

	if !json.Valid(body) {
		return nil, &Error{
			Code:       CodeRequestFailed,
			Provider:   c.provider,
			HTTPStatus: resp.StatusCode,
			Message:    fmt.Sprintf("response is not valid JSON: %s", snippet(body)),
		}
	}

	if req.Inspect != nil {
		if err := req.Inspect(body); err != nil {
			var pe *Error
			if errors.As(err, &pe) {
				pe.Provider = c.provider
				pe.HTTPStatus = resp.StatusCode
				pe.Retryable = false
				return nil, pe
			}
			return nil, &Error{
				Code:       CodeRequestFailed,
				Provider:   c.provider,
				HTTPStatus: resp.StatusCode,
				Message:    err.Error(),
			}
		}
	}

	return &Response{HTTPStatus: resp.StatusCode, Body: json.RawMessage(body)}, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyHeader, req.IdempotencyKey)
	}
	return httpReq, nil
}

func (c *Client) classifyTransportError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		// The caller gave up; retrying would only fail again.
		return &Error{Code: CodeNetwork, Provider: c.provider, Retryable: false, Message: "request cancelled", Err: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Code: CodeTimeout, Provider: c.provider, Retryable: true, Message: "request timed out", Err: err}
	}
	return &Error{Code: CodeNetwork, Provider: c.provider, Retryable: true, Message: "network failure", Err: err}
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		return s[:maxErrorSnippet] + "..."
	}
	return s
}
