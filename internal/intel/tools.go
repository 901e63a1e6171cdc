package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/telhawk-systems/finops/internal/models"
)

// ToolNewsDocumentSearch searches previously ingested news documents.
const ToolNewsDocumentSearch = "news_document_search"

// Tool is an allow-listed capability the runtime may invoke. Input and
// output payloads are parsed against the tool's current schema both when the
// tool runs live and when a stored call is replayed.
type Tool interface {
	Name() string
	ParseInput(payload json.RawMessage) (any, error)
	ParseOutput(payload json.RawMessage) (*ToolOutput, error)
	Execute(ctx context.Context, tenantID uuid.UUID, input any) (*ToolOutput, error)
}

// Evidence is one document returned by a tool.
type Evidence struct {
	Title       string     `json:"title"`
	SourceURL   string     `json:"source_url"`
	Snippet     string     `json:"snippet"`
	PublishedAt *time.Time `json:"published_at"`
	Citations   []string   `json:"citations"`
}

// ToolOutput is the response payload of every tool.
type ToolOutput struct {
	ToolName  string     `json:"tool_name"`
	Documents []Evidence `json:"documents"`
}

// NewsSearchInput is the request payload of news_document_search.
type NewsSearchInput struct {
	ToolName string     `json:"tool_name" validate:"required,eq=news_document_search"`
	Query    string     `json:"query" validate:"required,min=2,max=256"`
	Limit    int        `json:"limit" validate:"min=1,max=20"`
	JobID    *uuid.UUID `json:"job_id"`
}

// NewsSearcher is the storage lookup behind news_document_search.
type NewsSearcher interface {
	SearchNews(ctx context.Context, q models.NewsQuery) ([]models.NewsDocument, error)
}

type newsSearchTool struct {
	search   NewsSearcher
	validate *validator.Validate
}

func newNewsSearchTool(search NewsSearcher, validate *validator.Validate) *newsSearchTool {
	return &newsSearchTool{search: search, validate: validate}
}

func (t *newsSearchTool) Name() string { return ToolNewsDocumentSearch }

func (t *newsSearchTool) ParseInput(payload json.RawMessage) (any, error) {
	in := NewsSearchInput{ToolName: ToolNewsDocumentSearch, Limit: 5}
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("%w: invalid %s input: %v", ErrRuntime, t.Name(), err)
	}
	in.Query = strings.TrimSpace(in.Query)
	if err := t.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: invalid %s input: %v", ErrRuntime, t.Name(), err)
	}
	return &in, nil
}

func (t *newsSearchTool) ParseOutput(payload json.RawMessage) (*ToolOutput, error) {
	out := ToolOutput{ToolName: ToolNewsDocumentSearch}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: invalid %s output: %v", ErrRuntime, t.Name(), err)
	}
	if out.ToolName != ToolNewsDocumentSearch {
		return nil, fmt.Errorf("%w: invalid %s output: tool_name %q", ErrRuntime, t.Name(), out.ToolName)
	}
	for i := range out.Documents {
		if out.Documents[i].Citations == nil {
			out.Documents[i].Citations = []string{}
		}
	}
	return &out, nil
}

func (t *newsSearchTool) Execute(ctx context.Context, tenantID uuid.UUID, input any) (*ToolOutput, error) {
	in, ok := input.(*NewsSearchInput)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected %s input %T", ErrRuntime, t.Name(), input)
	}

	docs, err := t.search.SearchNews(ctx, models.NewsQuery{
		TenantID: tenantID,
		JobID:    in.JobID,
		Text:     in.Query,
		Limit:    in.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search news: %w", err)
	}

	out := &ToolOutput{ToolName: ToolNewsDocumentSearch, Documents: make([]Evidence, 0, len(docs))}
	for _, d := range docs {
		citations := []string{}
		if url := strings.TrimSpace(d.SourceURL); url != "" {
			citations = append(citations, url)
		}
		out.Documents = append(out.Documents, Evidence{
			Title:       d.Title,
			SourceURL:   d.SourceURL,
			Snippet:     d.Snippet,
			PublishedAt: d.PublishedAt,
			Citations:   citations,
		})
	}
	return out, nil
}
