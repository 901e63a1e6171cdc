package serper

import "encoding/json"

// SearchRequest is the news search job payload accepted by Serper.
// "query" is accepted as an alias for "q".
type SearchRequest struct {
	Q   string `json:"q" validate:"required,min=2,max=512"`
	Num int    `json:"num" validate:"min=1,max=20"`
}

func defaultSearchRequest() SearchRequest {
	return SearchRequest{Num: 10}
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

// NewsResult is one item of a Serper news response.
type NewsResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
	Source  string `json:"source,omitempty"`
}

// NewsResponse is the Serper /news response.
type NewsResponse struct {
	News []NewsResult `json:"news"`
}
