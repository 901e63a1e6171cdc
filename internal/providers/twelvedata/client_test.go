package twelvedata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/finops/internal/providers"
)

const quoteBody = `{"symbol":"aapl","name":"Apple Inc","close":"189.25","percent_change":"1.15","datetime":"2024-02-01"}`

const seriesBody = `{
	"meta": {"symbol": "AAPL", "interval": "1h", "currency": "USD"},
	"values": [
		{"datetime": "2024-02-01 15:30:00", "open": "188.1", "high": "189.9", "low": "187.5", "close": "189.25", "volume": "1200345"},
		{"datetime": "2024-02-01 14:30:00", "open": "187.0", "high": "188.4", "low": "186.9", "close": "188.1", "volume": "980000"}
	],
	"status": "ok"
}`

func testOptions() providers.Options {
	return providers.Options{Timeout: time.Second, MaxRetries: 2, Backoff: time.Millisecond}
}

func TestClient_GetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "td-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "idem-q", r.Header.Get(providers.IdempotencyHeader))
		_, _ = w.Write([]byte(quoteBody))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "td-key", testOptions())
	require.NoError(t, err)

	resp, err := c.GetQuote(context.Background(), json.RawMessage(`{"symbol":"AAPL"}`), "idem-q")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)

	q, err := c.NormalizeQuote(resp.Body, nil)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.InDelta(t, 189.25, q.Price, 1e-9)
	require.NotNil(t, q.ChangePercent)
	assert.InDelta(t, 1.15, *q.ChangePercent, 1e-9)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), q.AsOf)
}

func TestClient_GetTimeseries_Defaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/time_series", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "MSFT", q.Get("symbol"))
		assert.Equal(t, "1day", q.Get("interval"))
		assert.Equal(t, "100", q.Get("outputsize"))
		assert.False(t, q.Has("start_date"))
		_, _ = w.Write([]byte(seriesBody))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "td-key", testOptions())
	require.NoError(t, err)

	_, err = c.GetTimeseries(context.Background(), json.RawMessage(`{"symbol":"MSFT"}`), "k")
	require.NoError(t, err)
}

func TestClient_RejectsInvalidRequest(t *testing.T) {
	c, err := New("http://127.0.0.1:1", "td-key", testOptions())
	require.NoError(t, err)

	_, err = c.GetQuote(context.Background(), json.RawMessage(`{"symbol":""}`), "k")
	assert.ErrorIs(t, err, providers.ErrRequestFailed)

	_, err = c.GetTimeseries(context.Background(), json.RawMessage(`{"symbol":"AAPL","outputsize":9000}`), "k")
	assert.ErrorIs(t, err, providers.ErrRequestFailed)
}

func TestClient_StatusErrorIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"code":400,"message":"**symbol** not found: ZZZZ","status":"error"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "td-key", testOptions())
	require.NoError(t, err)

	_, err = c.GetQuote(context.Background(), json.RawMessage(`{"symbol":"ZZZZ"}`), "k")
	assert.ErrorIs(t, err, providers.ErrRequestFailed)
	assert.Contains(t, err.Error(), "symbol** not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNormalizeTimeseries(t *testing.T) {
	points, err := NormalizeTimeseries(json.RawMessage(seriesBody))
	require.NoError(t, err)
	require.Len(t, points, 2)

	first := points[0]
	assert.Equal(t, "AAPL", first.Symbol)
	assert.Equal(t, "1h", first.Timeframe)
	assert.Equal(t, time.Date(2024, 2, 1, 15, 30, 0, 0, time.UTC), first.TS)
	assert.InDelta(t, 188.1, first.Open, 1e-9)
	assert.InDelta(t, 189.9, first.High, 1e-9)
	assert.InDelta(t, 187.5, first.Low, 1e-9)
	assert.InDelta(t, 189.25, first.Close, 1e-9)
	assert.InDelta(t, 1200345, first.Volume, 1e-9)
}

func TestNormalizeQuote_NumericFieldsAndMissingChange(t *testing.T) {
	q, err := NormalizeQuote(json.RawMessage(`{"symbol":"ibm","close":151.5,"datetime":"2024-02-01T20:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "IBM", q.Symbol)
	assert.Nil(t, q.ChangePercent)
	assert.Equal(t, time.Date(2024, 2, 1, 20, 0, 0, 0, time.UTC), q.AsOf)
}

func TestNormalizeQuote_Malformed(t *testing.T) {
	_, err := NormalizeQuote(json.RawMessage(`{"close":"1"}`))
	assert.Error(t, err)

	_, err = NormalizeQuote(json.RawMessage(`{"symbol":"X","close":"abc","datetime":"2024-02-01"}`))
	assert.Error(t, err)
}

func TestNormalize_MissingRequiredFields(t *testing.T) {
	quotes := map[string]string{
		"absent close": `{"symbol":"aapl","datetime":"2024-02-01"}`,
		"null close":   `{"symbol":"aapl","close":null,"datetime":"2024-02-01"}`,
	}
	for name, body := range quotes {
		t.Run("quote "+name, func(t *testing.T) {
			_, err := NormalizeQuote(json.RawMessage(body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), `"close"`)
		})
	}

	bars := map[string]string{
		"only datetime": `{"meta":{"symbol":"AAPL","interval":"1day"},"values":[{"datetime":"2024-02-01"}]}`,
		"null volume":   `{"meta":{"symbol":"AAPL","interval":"1day"},"values":[{"datetime":"2024-02-01","open":"1","high":"2","low":"0.5","close":"1.5","volume":null}]}`,
	}
	for name, body := range bars {
		t.Run("bar "+name, func(t *testing.T) {
			points, err := NormalizeTimeseries(json.RawMessage(body))
			assert.Error(t, err)
			assert.Nil(t, points)
		})
	}
}
