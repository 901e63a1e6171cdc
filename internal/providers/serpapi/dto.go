package serpapi

import (
	"bytes"
	"encoding/json"
)

// SearchRequest is the news search job payload accepted by SerpApi.
// "query" is accepted as an alias for "q".
type SearchRequest struct {
	Q      string `json:"q" validate:"required,min=2,max=512"`
	Num    int    `json:"num" validate:"min=1,max=100"`
	Engine string `json:"engine" validate:"oneof=google_news google"`
}

func defaultSearchRequest() SearchRequest {
	return SearchRequest{Num: 10, Engine: "google_news"}
}

func (r *SearchRequest) UnmarshalJSON(data []byte) error {
	type plain SearchRequest
	aux := struct {
		*plain
		Query *string `json:"query"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if r.Q == "" && aux.Query != nil {
		r.Q = *aux.Query
	}
	return nil
}

// Source is the publisher of a result. SerpApi sends either a plain string
// or an object with a name depending on the engine.
type Source string

func (s *Source) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Source(str)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = Source(obj.Name)
	return nil
}

// NewsResult is one item of a SerpApi news response.
type NewsResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
	Source  Source `json:"source,omitempty"`
}

// SearchResponse is the SerpApi /search.json response. Error is set when
// the vendor rejects the query inside a successful HTTP response.
type SearchResponse struct {
	NewsResults []NewsResult `json:"news_results"`
	Error       string       `json:"error,omitempty"`
}
