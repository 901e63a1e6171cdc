package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion tags jobs, raw payloads and canonical rows with the request
// and response schema they were written under.
const SchemaVersion = "v1"

// JobStatus is the ingestion job state: queued -> running -> completed|failed.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one ingestion request, unique per (tenant, provider, resource,
// idempotency key).
type Job struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	Provider       string          `json:"provider"`
	Resource       string          `json:"resource"`
	Status         JobStatus       `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	SchemaVersion  string          `json:"schema_version"`
	AttemptCount   int             `json:"attempt_count"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CreateJobRequest is the inbound job submission.
type CreateJobRequest struct {
	TenantID       uuid.UUID       `json:"tenant_id" validate:"required"`
	Provider       string          `json:"provider" validate:"required,min=2,max=64"`
	Resource       string          `json:"resource" validate:"required,min=2,max=128"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required,min=4,max=128"`
	Payload        json.RawMessage `json:"payload"`
}

// JobSummary is the read model returned by job status queries.
type JobSummary struct {
	Job
	RawRecordCount        int `json:"raw_record_count"`
	NormalizedRecordCount int `json:"normalized_record_count"`
}

// ProcessResult reports the outcome of one processing attempt.
type ProcessResult struct {
	JobID           uuid.UUID `json:"job_id"`
	Status          JobStatus `json:"status"`
	NormalizedCount int       `json:"normalized_count"`
	CacheHit        bool      `json:"cache_hit"`
}

// RawPayload is the immutable snapshot of one provider response.
type RawPayload struct {
	ID                uuid.UUID       `json:"id"`
	TenantID          uuid.UUID       `json:"tenant_id"`
	JobID             uuid.UUID       `json:"job_id"`
	Provider          string          `json:"provider"`
	Resource          string          `json:"resource"`
	SchemaVersion     string          `json:"schema_version"`
	ContentHash       string          `json:"content_hash"`
	RequestPayload    json.RawMessage `json:"request_payload"`
	ResponsePayload   json.RawMessage `json:"response_payload"`
	HTTPStatus        int             `json:"http_status"`
	ProviderRequestID *string         `json:"provider_request_id,omitempty"`
	FetchedAt         time.Time       `json:"fetched_at"`
}

// NewsDocument is a persisted canonical news item.
type NewsDocument struct {
	ID                   uuid.UUID  `json:"id"`
	TenantID             uuid.UUID  `json:"tenant_id"`
	JobID                uuid.UUID  `json:"job_id"`
	RawPayloadID         uuid.UUID  `json:"raw_payload_id"`
	SourceProvider       string     `json:"source_provider"`
	NormalizationVersion string     `json:"normalization_version"`
	SourceURL            string     `json:"source_url"`
	Title                string     `json:"title"`
	Snippet              string     `json:"snippet"`
	Author               *string    `json:"author,omitempty"`
	Language             *string    `json:"language,omitempty"`
	PublishedAt          *time.Time `json:"published_at,omitempty"`
	DocumentHash         string     `json:"document_hash"`
	CreatedAt            time.Time  `json:"created_at"`
}

// MarketQuote is a persisted canonical quote, unique per
// (tenant, provider, symbol, as_of).
type MarketQuote struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	Provider      string     `json:"provider"`
	SchemaVersion string     `json:"schema_version"`
	RawPayloadID  *uuid.UUID `json:"raw_payload_id,omitempty"`
	Symbol        string     `json:"symbol"`
	Price         float64    `json:"price"`
	ChangePercent *float64   `json:"change_percent,omitempty"`
	AsOf          time.Time  `json:"as_of"`
	FetchedAt     time.Time  `json:"fetched_at"`
}

// MarketBar is a persisted OHLCV point, unique per
// (tenant, provider, symbol, timeframe, ts).
type MarketBar struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	Provider      string     `json:"provider"`
	SchemaVersion string     `json:"schema_version"`
	RawPayloadID  *uuid.UUID `json:"raw_payload_id,omitempty"`
	Symbol        string     `json:"symbol"`
	Timeframe     string     `json:"timeframe"`
	TS            time.Time  `json:"ts"`
	Open          float64    `json:"open"`
	High          float64    `json:"high"`
	Low           float64    `json:"low"`
	Close         float64    `json:"close"`
	Volume        float64    `json:"volume"`
	FetchedAt     time.Time  `json:"fetched_at"`
}

// NewsQuery filters news documents. An empty Text matches every document.
type NewsQuery struct {
	TenantID uuid.UUID
	JobID    *uuid.UUID
	Text     string
	Limit    int
	Offset   int
}

// TimeseriesQuery selects stored bars for one symbol. Timeframe, Start and
// End are optional filters; Start and End are inclusive.
type TimeseriesQuery struct {
	TenantID  uuid.UUID
	Symbol    string
	Timeframe string
	Start     *time.Time
	End       *time.Time
	Limit     int
}
