package alphavantage

import (
	"github.com/shopspring/decimal"
)

// QuoteRequest is the market_quote_refresh job payload.
type QuoteRequest struct {
	Symbol string `json:"symbol" validate:"required,min=1,max=32"`
}

// TimeseriesRequest is the market_timeseries_backfill job payload. Only
// daily bars are supported.
type TimeseriesRequest struct {
	Symbol     string `json:"symbol" validate:"required,min=1,max=32"`
	Interval   string `json:"interval"`
	OutputSize string `json:"outputsize" validate:"oneof=compact full"`
}

func defaultTimeseriesRequest() TimeseriesRequest {
	return TimeseriesRequest{Interval: "1day", OutputSize: "compact"}
}

type GlobalQuote struct {
	Symbol           string              `json:"01. symbol"`
	Price            decimal.NullDecimal `json:"05. price"`
	LatestTradingDay string              `json:"07. latest trading day"`
	ChangePercent    string              `json:"10. change percent"`
}

// QuoteResponse is the GLOBAL_QUOTE response.
type QuoteResponse struct {
	GlobalQuote *GlobalQuote `json:"Global Quote"`
}

type DailyValue struct {
	Open   decimal.NullDecimal `json:"1. open"`
	High   decimal.NullDecimal `json:"2. high"`
	Low    decimal.NullDecimal `json:"3. low"`
	Close  decimal.NullDecimal `json:"4. close"`
	Volume decimal.NullDecimal `json:"5. volume"`
}

// TimeseriesResponse is the TIME_SERIES_DAILY response keyed by trading date.
type TimeseriesResponse struct {
	MetaData map[string]string     `json:"Meta Data"`
	Daily    map[string]DailyValue `json:"Time Series (Daily)"`
}

// errorEnvelope collects the fields AlphaVantage uses to report failures
// and throttling inside a 200 response.
type errorEnvelope struct {
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}
