package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/finops/internal/models"
)

var (
	ErrJobNotFound   = errors.New("ingestion job not found")
	ErrRunNotFound   = errors.New("intel run not found")
	ErrQuoteNotFound = errors.New("quote not found")
)

// JobRepository persists ingestion jobs. Every method is scoped to a tenant.
type JobRepository interface {
	// CreateJob inserts job unless a job with the same tenant, provider,
	// resource and idempotency key exists, in which case the existing job is
	// returned unchanged and created is false.
	CreateJob(ctx context.Context, job *models.Job) (stored *models.Job, created bool, err error)
	GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.Job, error)
	MarkJobRunning(ctx context.Context, tenantID, jobID uuid.UUID, at time.Time) (*models.Job, error)
	MarkJobCompleted(ctx context.Context, tenantID, jobID uuid.UUID, at time.Time) error
	MarkJobFailed(ctx context.Context, tenantID, jobID uuid.UUID, message string, at time.Time) error

	CountRawPayloads(ctx context.Context, tenantID, jobID uuid.UUID) (int, error)
	CountNormalizedRecords(ctx context.Context, tenantID, jobID uuid.UUID) (int, error)
}

// PayloadRepository persists raw provider payloads and canonical records.
type PayloadRepository interface {
	// SaveRawPayload stores p unless a payload with the same tenant, provider
	// and content hash exists, in which case the existing row is returned.
	SaveRawPayload(ctx context.Context, p *models.RawPayload) (*models.RawPayload, error)
	// InsertNews inserts docs, ignoring rows that collide on the natural
	// key, and returns the number of new rows.
	InsertNews(ctx context.Context, tenantID uuid.UUID, docs []models.NewsDocument) (int, error)
	UpsertQuote(ctx context.Context, q *models.MarketQuote) error
	UpsertTimeseries(ctx context.Context, tenantID uuid.UUID, bars []models.MarketBar) (int, error)
	// SearchNews returns documents whose title or snippet contains the
	// query text, case-insensitively, newest first.
	SearchNews(ctx context.Context, q models.NewsQuery) ([]models.NewsDocument, error)
	// ListNews is SearchNews with q.Offset rows skipped.
	ListNews(ctx context.Context, q models.NewsQuery) ([]models.NewsDocument, error)

	// GetLatestQuote returns the quote with the newest as_of for symbol
	// across providers.
	GetLatestQuote(ctx context.Context, tenantID uuid.UUID, symbol string) (*models.MarketQuote, error)
	// ListTimeseries returns matching bars, newest first.
	ListTimeseries(ctx context.Context, q models.TimeseriesQuery) ([]models.MarketBar, error)
}

// IntelRepository persists intel runs and their append-only audit trail.
type IntelRepository interface {
	CreateRun(ctx context.Context, run *models.IntelRun) error
	GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*models.IntelRun, error)
	MarkRunRunning(ctx context.Context, tenantID, runID uuid.UUID, at time.Time) error
	CompleteRun(ctx context.Context, tenantID, runID uuid.UUID, output json.RawMessage, at time.Time) error
	FailRun(ctx context.Context, tenantID, runID uuid.UUID, message string, at time.Time) error

	AppendAudit(ctx context.Context, audit *models.ToolCallAudit) error
	// ListAudits returns a run's audits in insertion order.
	ListAudits(ctx context.Context, tenantID, runID uuid.UUID) ([]models.ToolCallAudit, error)
}

// Repository is the full storage surface.
type Repository interface {
	JobRepository
	PayloadRepository
	IntelRepository
	Close() error
}

// NewID returns a time-ordered identifier for a new row.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

func emptyObjectIfNil(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
