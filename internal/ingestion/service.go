// Package ingestion creates ingestion jobs and drives them through the
// provider pipeline: cache, rate limit, provider call, raw snapshot and
// canonical upserts.
package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/telhawk-systems/finops/common/logging"
	"github.com/telhawk-systems/finops/internal/models"
	"github.com/telhawk-systems/finops/internal/repository"
)

// ErrInvalidJob is returned when a job submission fails validation.
var ErrInvalidJob = errors.New("invalid ingestion job")

// Enqueuer hands a job to the asynchronous workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenantID, jobID uuid.UUID) error
}

// Service handles job submission and job status queries
type Service struct {
	jobs     repository.JobRepository
	queue    Enqueuer
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new ingestion service
func NewService(jobs repository.JobRepository, queue Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:     jobs,
		queue:    queue,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With(logging.Component("ingestion")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob registers a job and enqueues it for processing. Submitting the
// same tenant, provider, resource and idempotency key again returns the
// original job; the payload of the first submission wins. The job is
// enqueued on every submission so a lost message can be recovered by
// resubmitting; processing a completed job is a no-op.
func (s *Service) CreateJob(ctx context.Context, req *models.CreateJobRequest) (*models.JobSummary, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	payload, err := normalizePayload(req.Payload)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:             repository.NewID(),
		TenantID:       req.TenantID,
		Provider:       req.Provider,
		Resource:       req.Resource,
		Status:         models.JobQueued,
		IdempotencyKey: req.IdempotencyKey,
		Payload:        payload,
		SchemaVersion:  models.SchemaVersion,
		CreatedAt:      s.now(),
	}

	stored, created, err := s.jobs.CreateJob(ctx, job)
	if err != nil {
		return nil, err
	}

	ctx = logging.ContextWith(ctx,
		logging.TenantID(stored.TenantID.String()),
		logging.JobID(stored.ID.String()),
		logging.Provider(stored.Provider),
	)
	if err := s.queue.Enqueue(ctx, stored.TenantID, stored.ID); err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.logger).Info("ingestion job submitted",
		logging.Resource(stored.Resource), slog.Bool("created", created))

	return s.summarize(ctx, stored)
}

// GetJob returns the job with its raw and normalized record counts.
func (s *Service) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.JobSummary, error) {
	job, err := s.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, job)
}

func (s *Service) summarize(ctx context.Context, job *models.Job) (*models.JobSummary, error) {
	raw, err := s.jobs.CountRawPayloads(ctx, job.TenantID, job.ID)
	if err != nil {
		return nil, err
	}
	normalized, err := s.jobs.CountNormalizedRecords(ctx, job.TenantID, job.ID)
	if err != nil {
		return nil, err
	}
	return &models.JobSummary{Job: *job, RawRecordCount: raw, NormalizedRecordCount: normalized}, nil
}

// normalizePayload defaults an absent payload to an empty object and
// rejects anything that is not a JSON object.
func normalizePayload(payload json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrInvalidJob)
	}
	return json.RawMessage(trimmed), nil
}
