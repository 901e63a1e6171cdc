package tavily

import "encoding/json"

// SearchRequest is the news search job payload accepted by Tavily.
type SearchRequest struct {
	Query             string `json:"query" validate:"required,min=2,max=512"`
	MaxResults        int    `json:"max_results" validate:"min=1,max=20"`
	SearchDepth       string `json:"search_depth" validate:"oneof=basic advanced"`
	Topic             string `json:"topic" validate:"oneof=general news"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

func defaultSearchRequest() SearchRequest {
	return SearchRequest{
		MaxResults:  10,
		SearchDepth: "advanced",
		Topic:       "news",
	}
}

// searchBody is the wire body; Tavily authenticates with a body field.
type searchBody struct {
	APIKey string `json:"api_key"`
	SearchRequest
}

// SearchResult is one hit in a Tavily response.
type SearchResult struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Content       string   `json:"content"`
	Score         *float64 `json:"score,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
}

// SearchResponse is the Tavily /search response.
type SearchResponse struct {
	Query        string         `json:"query"`
	ResponseTime json.Number    `json:"response_time,omitempty"`
	Results      []SearchResult `json:"results"`
}
