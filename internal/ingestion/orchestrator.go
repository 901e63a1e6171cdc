package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/finops/common/logging"
	"github.com/telhawk-systems/finops/internal/cache"
	"github.com/telhawk-systems/finops/internal/canonical"
	"github.com/telhawk-systems/finops/internal/hashing"
	"github.com/telhawk-systems/finops/internal/metrics"
	"github.com/telhawk-systems/finops/internal/models"
	"github.com/telhawk-systems/finops/internal/providers"
	"github.com/telhawk-systems/finops/internal/providers/registry"
	"github.com/telhawk-systems/finops/internal/ratelimit"
	"github.com/telhawk-systems/finops/internal/repository"
)

// ErrRateLimitExceeded fails a job whose provider call was denied a token.
// The job is not retried here; redelivery is the queue's decision.
var ErrRateLimitExceeded = errors.New("provider rate limit exceeded")

// Store is the persistence the orchestrator needs.
type Store interface {
	repository.JobRepository
	repository.PayloadRepository
}

// Orchestrator runs the ingestion state machine for one job at a time. It
// holds no per-job state, so any number of goroutines may share it.
type Orchestrator struct {
	store    Store
	registry *registry.Registry
	limiter  ratelimit.Limiter
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCacheTTL sets how long successful provider responses are cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.cacheTTL = ttl }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger.With(logging.Component("orchestrator"))
		}
	}
}

// WithClock replaces the wall clock used for job timestamps and the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the pipeline. A nil limiter admits every call and a
// nil cache never hits.
func NewOrchestrator(store Store, reg *registry.Registry, limiter ratelimit.Limiter, c cache.Cache, opts ...Option) *Orchestrator {
	if limiter == nil {
		limiter = ratelimit.NoOpLimiter{}
	}
	if c == nil {
		c = cache.NoOpCache{}
	}
	o := &Orchestrator{
		store:    store,
		registry: reg,
		limiter:  limiter,
		cache:    c,
		cacheTTL: 15 * time.Minute,
		logger:   slog.Default().With(logging.Component("orchestrator")),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessJob runs one attempt of the job. A completed job is returned
// untouched. Any failure after the job is marked running is recorded on the
// job before being returned.
func (o *Orchestrator) ProcessJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.ProcessResult, error) {
	ctx = logging.ContextWith(ctx,
		logging.TenantID(tenantID.String()),
		logging.JobID(jobID.String()),
	)

	job, err := o.store.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobCompleted {
		logging.FromContext(ctx, o.logger).Debug("ingestion job already completed")
		return &models.ProcessResult{JobID: job.ID, Status: models.JobCompleted}, nil
	}

	ctx = logging.ContextWith(ctx, logging.Provider(job.Provider), logging.Resource(job.Resource))
	logger := logging.FromContext(ctx, o.logger)

	job, err = o.store.MarkJobRunning(ctx, tenantID, jobID, o.now())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := o.run(ctx, job)
	metrics.JobDuration.WithLabelValues(job.Provider, job.Resource).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.JobsTotal.WithLabelValues(job.Provider, job.Resource, string(models.JobFailed)).Inc()
		// The failure is recorded even if the caller's context is already gone.
		if markErr := o.store.MarkJobFailed(context.WithoutCancel(ctx), tenantID, jobID, err.Error(), o.now()); markErr != nil {
			logger.Error("failed to record job failure", logging.Error(markErr))
		}
		logger.Warn("ingestion job failed", logging.Attempt(job.AttemptCount), logging.Error(err))
		return nil, err
	}

	if err := o.store.MarkJobCompleted(ctx, tenantID, jobID, o.now()); err != nil {
		return nil, err
	}
	metrics.JobsTotal.WithLabelValues(job.Provider, job.Resource, string(models.JobCompleted)).Inc()
	metrics.NormalizedRecords.WithLabelValues(job.Provider, job.Resource).Add(float64(result.NormalizedCount))
	logger.Info("ingestion job completed",
		logging.Attempt(job.AttemptCount),
		slog.Int("normalized_count", result.NormalizedCount),
		slog.Bool("cache_hit", result.CacheHit),
	)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, job *models.Job) (*models.ProcessResult, error) {
	logger := logging.FromContext(ctx, o.logger)
	provider := providers.Name(job.Provider)
	resource := providers.Resource(job.Resource)

	fetcher, err := o.registry.Lookup(provider, resource)
	if err != nil {
		return nil, err
	}

	payloadHash, err := hashing.Hash(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to hash job payload: %w", err)
	}
	key := cache.Key{
		TenantID:    job.TenantID.String(),
		Provider:    job.Provider,
		Resource:    job.Resource,
		PayloadHash: payloadHash,
	}

	body, cacheHit, err := o.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("response cache unavailable, fetching from provider",
			logging.CacheKey(key.String()), logging.Error(err))
		cacheHit = false
	}

	httpStatus := 200
	if !cacheHit {
		allowed, err := o.limiter.TryAcquire(ctx, job.Provider, key.TenantID, o.registry.RateLimit(provider), o.now())
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w for %s", ErrRateLimitExceeded, job.Provider)
		}

		resp, err := fetcher.Fetch(ctx, job.Payload, job.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		body, httpStatus = resp.Body, resp.HTTPStatus

		if err := o.cache.Put(ctx, key, body, o.cacheTTL); err != nil {
			logger.Warn("failed to cache provider response",
				logging.CacheKey(key.String()), logging.Error(err))
		}
	}

	contentHash, err := hashing.Hash(body)
	if err != nil {
		return nil, fmt.Errorf("failed to hash provider response: %w", err)
	}
	fetchedAt := o.now()
	raw, err := o.store.SaveRawPayload(ctx, &models.RawPayload{
		ID:              repository.NewID(),
		TenantID:        job.TenantID,
		JobID:           job.ID,
		Provider:        job.Provider,
		Resource:        job.Resource,
		SchemaVersion:   models.SchemaVersion,
		ContentHash:     contentHash,
		RequestPayload:  job.Payload,
		ResponsePayload: body,
		HTTPStatus:      httpStatus,
		FetchedAt:       fetchedAt,
	})
	if err != nil {
		return nil, err
	}

	records, err := fetcher.Normalize(body, job.Payload)
	if err != nil {
		return nil, err
	}

	count, err := o.persist(ctx, job, raw.ID, records, fetchedAt)
	if err != nil {
		return nil, err
	}

	return &models.ProcessResult{
		JobID:           job.ID,
		Status:          models.JobCompleted,
		NormalizedCount: count,
		CacheHit:        cacheHit,
	}, nil
}

// persist writes the canonical records for the job's resource and returns
// how many were produced.
func (o *Orchestrator) persist(ctx context.Context, job *models.Job, rawID uuid.UUID, records registry.Records, fetchedAt time.Time) (int, error) {
	switch providers.Resource(job.Resource) {
	case providers.ResourceNewsSearch:
		docs := newsDocuments(job, rawID, records.News, fetchedAt)
		if len(docs) > 0 {
			if _, err := o.store.InsertNews(ctx, job.TenantID, docs); err != nil {
				return 0, err
			}
		}
		// Duplicates already stored still count as produced by this job.
		return len(docs), nil

	case providers.ResourceMarketQuoteRefresh:
		if records.Quote == nil {
			return 0, providers.RequestFailed(providers.Name(job.Provider), "provider response contained no quote")
		}
		if err := o.store.UpsertQuote(ctx, quoteRow(job, rawID, *records.Quote, fetchedAt)); err != nil {
			return 0, err
		}
		return 1, nil

	case providers.ResourceMarketTimeseriesBackfill:
		return o.store.UpsertTimeseries(ctx, job.TenantID, barRows(job, rawID, records.Timeseries, fetchedAt))

	default:
		return 0, providers.Unsupported(providers.Name(job.Provider), providers.Resource(job.Resource))
	}
}

func newsDocuments(job *models.Job, rawID uuid.UUID, items []canonical.NewsItem, createdAt time.Time) []models.NewsDocument {
	docs := make([]models.NewsDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, models.NewsDocument{
			ID:                   repository.NewID(),
			TenantID:             job.TenantID,
			JobID:                job.ID,
			RawPayloadID:         rawID,
			SourceProvider:       item.SourceProvider,
			NormalizationVersion: canonical.NormalizationVersion,
			SourceURL:            item.SourceURL,
			Title:                item.Title,
			Snippet:              item.Snippet,
			Author:               optional(item.Author),
			Language:             optional(item.Language),
			PublishedAt:          item.PublishedAt,
			DocumentHash:         item.DocumentHash,
			CreatedAt:            createdAt,
		})
	}
	return docs
}

func quoteRow(job *models.Job, rawID uuid.UUID, q canonical.Quote, fetchedAt time.Time) *models.MarketQuote {
	return &models.MarketQuote{
		ID:            repository.NewID(),
		TenantID:      job.TenantID,
		Provider:      job.Provider,
		SchemaVersion: models.SchemaVersion,
		RawPayloadID:  &rawID,
		Symbol:        q.Symbol,
		Price:         q.Price,
		ChangePercent: q.ChangePercent,
		AsOf:          q.AsOf,
		FetchedAt:     fetchedAt,
	}
}

func barRows(job *models.Job, rawID uuid.UUID, points []canonical.TimeseriesPoint, fetchedAt time.Time) []models.MarketBar {
	bars := make([]models.MarketBar, 0, len(points))
	for _, p := range points {
		bars = append(bars, models.MarketBar{
			ID:            repository.NewID(),
			TenantID:      job.TenantID,
			Provider:      job.Provider,
			SchemaVersion: models.SchemaVersion,
			RawPayloadID:  &rawID,
			Symbol:        p.Symbol,
			Timeframe:     p.Timeframe,
			TS:            p.TS,
			Open:          p.Open,
			High:          p.High,
			Low:           p.Low,
			Close:         p.Close,
			Volume:        p.Volume,
			FetchedAt:     fetchedAt,
		})
	}
	return bars
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
