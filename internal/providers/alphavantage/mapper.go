package alphavantage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/telhawk-systems/finops/internal/canonical"
)

func ToQuote(q GlobalQuote) (canonical.Quote, error) {
	price, err := canonical.RequiredDecimal("05. price", q.Price)
	if err != nil {
		return canonical.Quote{}, err
	}
	asOf, err := canonical.Timestamp(q.LatestTradingDay)
	if err != nil {
		return canonical.Quote{}, err
	}
	pct, err := canonical.Percent(q.ChangePercent)
	if err != nil {
		return canonical.Quote{}, err
	}
	return canonical.Quote{
		Symbol:        canonical.Symbol(q.Symbol),
		Price:         price,
		ChangePercent: pct,
		AsOf:          asOf,
	}, nil
}

func NormalizeQuote(body json.RawMessage) (canonical.Quote, error) {
	var resp QuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return canonical.Quote{}, fmt.Errorf("decode alphavantage quote: %w", err)
	}
	if resp.GlobalQuote == nil || resp.GlobalQuote.Symbol == "" {
		return canonical.Quote{}, errors.New("decode alphavantage quote: missing Global Quote")
	}
	q, err := ToQuote(*resp.GlobalQuote)
	if err != nil {
		return canonical.Quote{}, fmt.Errorf("decode alphavantage quote: %w", err)
	}
	return q, nil
}

// NormalizeTimeseries returns bars in ascending date order.
func NormalizeTimeseries(body json.RawMessage, symbol, timeframe string) ([]canonical.TimeseriesPoint, error) {
	var resp TimeseriesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode alphavantage time series: %w", err)
	}
	if resp.Daily == nil {
		return nil, errors.New("decode alphavantage time series: missing Time Series (Daily)")
	}

	dates := make([]string, 0, len(resp.Daily))
	for d := range resp.Daily {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	sym := canonical.Symbol(symbol)
	points := make([]canonical.TimeseriesPoint, 0, len(dates))
	for _, d := range dates {
		ts, err := canonical.Timestamp(d)
		if err != nil {
			return nil, fmt.Errorf("decode alphavantage time series: %w", err)
		}
		v := resp.Daily[d]
		p := canonical.TimeseriesPoint{Symbol: sym, Timeframe: timeframe, TS: ts}
		fields := []struct {
			name string
			src  decimal.NullDecimal
			dst  *float64
		}{
			{"1. open", v.Open, &p.Open},
			{"2. high", v.High, &p.High},
			{"3. low", v.Low, &p.Low},
			{"4. close", v.Close, &p.Close},
			{"5. volume", v.Volume, &p.Volume},
		}
		for _, f := range fields {
			if *f.dst, err = canonical.RequiredDecimal(f.name, f.src); err != nil {
				return nil, fmt.Errorf("decode alphavantage time series: bar %s: %w", d, err)
			}
		}
		points = append(points, p)
	}
	return points, nil
}
