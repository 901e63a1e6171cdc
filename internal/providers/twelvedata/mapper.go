package twelvedata

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/telhawk-systems/finops/internal/canonical"
)

// parseDatetime reads TwelveData datetimes. A bare date is midnight UTC.
func parseDatetime(s string) (time.Time, error) {
	cleaned := strings.TrimSpace(s)
	if len(cleaned) == len("2006-01-02") {
		return time.Parse("2006-01-02", cleaned)
	}
	return canonical.Timestamp(cleaned)
}

func ToQuote(r QuoteResponse) (canonical.Quote, error) {
	price, err := canonical.RequiredDecimal("close", r.Close)
	if err != nil {
		return canonical.Quote{}, err
	}
	asOf, err := parseDatetime(r.Datetime)
	if err != nil {
		return canonical.Quote{}, err
	}
	q := canonical.Quote{
		Symbol: canonical.Symbol(r.Symbol),
		Price:  price,
		AsOf:   asOf,
	}
	if r.PercentChange.Valid {
		pct := r.PercentChange.Decimal.InexactFloat64()
		q.ChangePercent = &pct
	}
	return q, nil
}

func NormalizeQuote(body json.RawMessage) (canonical.Quote, error) {
	var resp QuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return canonical.Quote{}, fmt.Errorf("decode twelvedata quote: %w", err)
	}
	if strings.TrimSpace(resp.Symbol) == "" {
		return canonical.Quote{}, fmt.Errorf("decode twelvedata quote: missing symbol")
	}
	q, err := ToQuote(resp)
	if err != nil {
		return canonical.Quote{}, fmt.Errorf("decode twelvedata quote: %w", err)
	}
	return q, nil
}

// NormalizeTimeseries keeps the vendor's bar order. Symbol and timeframe
// come from the response meta block.
func NormalizeTimeseries(body json.RawMessage) ([]canonical.TimeseriesPoint, error) {
	var resp TimeseriesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode twelvedata time series: %w", err)
	}
	symbol := canonical.Symbol(resp.Meta.Symbol)
	points := make([]canonical.TimeseriesPoint, 0, len(resp.Values))
	for _, v := range resp.Values {
		p, err := toPoint(symbol, resp.Meta.Interval, v)
		if err != nil {
			return nil, fmt.Errorf("decode twelvedata time series: %w", err)
		}
		points = append(points, p)
	}
	return points, nil
}

func toPoint(symbol, timeframe string, v Value) (canonical.TimeseriesPoint, error) {
	ts, err := parseDatetime(v.Datetime)
	if err != nil {
		return canonical.TimeseriesPoint{}, err
	}
	p := canonical.TimeseriesPoint{Symbol: symbol, Timeframe: timeframe, TS: ts}
	fields := []struct {
		name string
		src  decimal.NullDecimal
		dst  *float64
	}{
		{"open", v.Open, &p.Open},
		{"high", v.High, &p.High},
		{"low", v.Low, &p.Low},
		{"close", v.Close, &p.Close},
		{"volume", v.Volume, &p.Volume},
	}
	for _, f := range fields {
		if *f.dst, err = canonical.RequiredDecimal(f.name, f.src); err != nil {
			return canonical.TimeseriesPoint{}, fmt.Errorf("bar %s: %w", v.Datetime, err)
		}
	}
	return p, nil
}
