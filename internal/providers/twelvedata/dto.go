package twelvedata

import (
	"github.com/shopspring/decimal"
)

// QuoteRequest is the market_quote_refresh job payload.
type QuoteRequest struct {
	Symbol string `json:"symbol" validate:"required,min=1,max=32"`
}

// TimeseriesRequest is the market_timeseries_backfill job payload.
type TimeseriesRequest struct {
	Symbol     string `json:"symbol" validate:"required,min=1,max=32"`
	Interval   string `json:"interval" validate:"min=2,max=16"`
	OutputSize int    `json:"outputsize" validate:"min=1,max=5000"`
	StartDate  string `json:"start_date,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
}

func defaultTimeseriesRequest() TimeseriesRequest {
	return TimeseriesRequest{Interval: "1day", OutputSize: 100}
}

// QuoteResponse is the /quote response. Numeric fields arrive as strings.
type QuoteResponse struct {
	Symbol        string              `json:"symbol"`
	Close         decimal.NullDecimal `json:"close"`
	PercentChange decimal.NullDecimal `json:"percent_change"`
	Datetime      string              `json:"datetime"`
}

type Meta struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// Value is one bar. Prices are nullable so that an absent field is
// rejected instead of decoding to zero.
type Value struct {
	Datetime string              `json:"datetime"`
	Open     decimal.NullDecimal `json:"open"`
	High     decimal.NullDecimal `json:"high"`
	Low      decimal.NullDecimal `json:"low"`
	Close    decimal.NullDecimal `json:"close"`
	Volume   decimal.NullDecimal `json:"volume"`
}

// TimeseriesResponse is the /time_series response.
type TimeseriesResponse struct {
	Meta   Meta    `json:"meta"`
	Values []Value `json:"values"`
}

// errorEnvelope is how TwelveData reports failures inside a 200 response.
type errorEnvelope struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
