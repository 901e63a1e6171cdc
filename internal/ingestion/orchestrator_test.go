package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/finops/internal/cache"
	"github.com/telhawk-systems/finops/internal/hashing"
	"github.com/telhawk-systems/finops/internal/models"
	"github.com/telhawk-systems/finops/internal/providers"
	"github.com/telhawk-systems/finops/internal/providers/registry"
	"github.com/telhawk-systems/finops/internal/repository"
)

func TestProcessJob_NewsSearchEndToEnd(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()
	tenant := uuid.New()

	job := f.submit(t, tenant, "tavily", "news_search", "K1-news-001", `{"query":"nvidia earnings","max_results":5}`)
	assert.Equal(t, models.JobQueued, job.Status)

	result, err := f.orch.ProcessJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, result.Status)
	assert.Equal(t, 2, result.NormalizedCount)
	assert.False(t, result.CacheHit)
	assert.Equal(t, 1, f.providers.Calls("/search"))

	summary, err := f.svc.GetJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, summary.Status)
	assert.Equal(t, 1, summary.AttemptCount)
	assert.Equal(t, 1, summary.RawRecordCount)
	assert.Equal(t, 2, summary.NormalizedRecordCount)
	assert.Nil(t, summary.ErrorMessage)
	require.NotNil(t, summary.CompletedAt)

	docs, err := f.repo.SearchNews(ctx, models.NewsQuery{TenantID: tenant, Limit: 10})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, job.ID, d.JobID)
		assert.Equal(t, "tavily", d.SourceProvider)
		assert.Equal(t, "v1", d.NormalizationVersion)
		assert.Len(t, d.DocumentHash, 64)
	}

	again := f.submit(t, tenant, "tavily", "news_search", "K1-news-001", `{"query":"something else"}`)
	assert.Equal(t, job.ID, again.ID)
	assert.JSONEq(t, `{"query":"nvidia earnings","max_results":5}`, string(again.Payload))

	replayed, err := f.orch.ProcessJob(ctx, tenant, again.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, replayed.Status)
	assert.Equal(t, 0, replayed.NormalizedCount)
	assert.Equal(t, 1, f.providers.Calls("/search"), "a completed job must not call the provider again")
	assert.Len(t, f.queue.jobs, 2)
}

func TestProcessJob_CacheHitSkipsLimiterAndProvider(t *testing.T) {
	// One token per minute: a second provider call would be denied.
	f := newFixture(t, 1)
	ctx := context.Background()
	tenant := uuid.New()
	payload := `{"query":"nvidia earnings"}`

	first := f.submit(t, tenant, "tavily", "news_search", "cache-key-1", payload)
	_, err := f.orch.ProcessJob(ctx, tenant, first.ID)
	require.NoError(t, err)

	// Same payload with keys in a different order hashes identically.
	second := f.submit(t, tenant, "tavily", "news_search", "cache-key-2", `{ "query" : "nvidia earnings" }`)
	result, err := f.orch.ProcessJob(ctx, tenant, second.ID)
	require.NoError(t, err)
	assert.True(t, result.CacheHit)
	assert.Equal(t, 2, result.NormalizedCount)
	assert.Equal(t, 1, f.providers.Calls("/search"))

	// The identical response reuses the first job's raw payload and the
	// documents collide on their natural key.
	summary, err := f.svc.GetJob(ctx, tenant, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RawRecordCount)
	docs, err := f.repo.SearchNews(ctx, models.NewsQuery{TenantID: tenant, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestProcessJob_CacheIsTenantScoped(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()
	payload := `{"query":"nvidia earnings"}`

	for _, tenant := range []uuid.UUID{uuid.New(), uuid.New()} {
		job := f.submit(t, tenant, "tavily", "news_search", "tenant-key-1", payload)
		result, err := f.orch.ProcessJob(ctx, tenant, job.ID)
		require.NoError(t, err)
		assert.False(t, result.CacheHit)
	}
	assert.Equal(t, 2, f.providers.Calls("/search"))
}

func TestProcessJob_RateLimitExceeded(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	tenant := uuid.New()

	first := f.submit(t, tenant, "tavily", "news_search", "rate-key-1", `{"query":"first query"}`)
	_, err := f.orch.ProcessJob(ctx, tenant, first.ID)
	require.NoError(t, err)

	second := f.submit(t, tenant, "tavily", "news_search", "rate-key-2", `{"query":"second query"}`)
	_, err = f.orch.ProcessJob(ctx, tenant, second.ID)
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 1, f.providers.Calls("/search"))

	failed, err := f.repo.GetJob(ctx, tenant, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "rate limit exceeded")

	// Another tenant has its own bucket.
	other := uuid.New()
	job := f.submit(t, other, "tavily", "news_search", "rate-key-1", `{"query":"second query"}`)
	_, err = f.orch.ProcessJob(ctx, other, job.ID)
	require.NoError(t, err)
}

func TestProcessJob_MarketQuote(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()
	tenant := uuid.New()

	job := f.submit(t, tenant, "twelvedata", "market_quote_refresh", "quote-key-1", `{"symbol":"nvda"}`)
	result, err := f.orch.ProcessJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NormalizedCount)

	quotes := f.repo.Quotes(tenant)
	require.Len(t, quotes, 1)
	assert.Equal(t, "NVDA", quotes[0].Symbol)
	assert.InDelta(t, 615.27, quotes[0].Price, 1e-9)
	require.NotNil(t, quotes[0].ChangePercent)
	assert.InDelta(t, 2.5, *quotes[0].ChangePercent, 1e-9)
	require.NotNil(t, quotes[0].RawPayloadID)

	summary, err := f.svc.GetJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NormalizedRecordCount)
}

func TestProcessJob_MarketTimeseries(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()
	tenant := uuid.New()

	job := f.submit(t, tenant, "alphavantage", "market_timeseries_backfill", "series-key-1", `{"symbol":"nvda"}`)
	result, err := f.orch.ProcessJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NormalizedCount)

	bars := f.repo.Bars(tenant)
	require.Len(t, bars, 2)
	assert.Equal(t, "NVDA", bars[0].Symbol)
	assert.Equal(t, "1day", bars[0].Timeframe)
	assert.True(t, bars[0].TS.Equal(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)))
	assert.InDelta(t, 615.27, bars[1].Close, 1e-9)
}

func TestProcessJob_UnsupportedRoutes(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		resource string
		want     error
	}{
		{"unknown provider", "bloomberg", "news_search", providers.ErrProviderUnsupported},
		{"news provider asked for quotes", "tavily", "market_quote_refresh", providers.ErrResourceUnsupported},
		{"unknown resource", "twelvedata", "fundamentals", providers.ErrResourceUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 60)
			ctx := context.Background()
			tenant := uuid.New()

			job := f.submit(t, tenant, tt.provider, tt.resource, "unsupported-1", `{"query":"x"}`)
			_, err := f.orch.ProcessJob(ctx, tenant, job.ID)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, f.providers.Total())

			failed, err := f.repo.GetJob(ctx, tenant, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.JobFailed, failed.Status)
		})
	}
}

func TestProcessJob_MissingAPIKey(t *testing.T) {
	f := newFixture(t, 60)
	cfg := f.providers.config(60)
	cfg.Serper.APIKey = ""
	f.orch.registry = registry.FromConfig(cfg, providers.Options{Timeout: time.Second})

	tenant := uuid.New()
	job := f.submit(t, tenant, "serper", "news_search", "config-key-1", `{"q":"nvidia"}`)
	_, err := f.orch.ProcessJob(context.Background(), tenant, job.ID)
	require.ErrorIs(t, err, providers.ErrConfig)
	assert.Equal(t, 0, f.providers.Total())
}

func TestProcessJob_RetriesExhaustedThenRecovers(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()
	tenant := uuid.New()
	f.providers.status.Store(http.StatusServiceUnavailable)

	job := f.submit(t, tenant, "tavily", "news_search", "retry-key-1", `{"query":"nvidia earnings"}`)
	_, err := f.orch.ProcessJob(ctx, tenant, job.ID)
	require.ErrorIs(t, err, providers.ErrRetriesExhausted)
	assert.Equal(t, 2, f.providers.Calls("/search"), "MaxRetries=1 means two attempts")

	failed, err := f.repo.GetJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, failed.Status)
	assert.Equal(t, 1, failed.AttemptCount)

	f.providers.status.Store(http.StatusOK)
	result, err := f.orch.ProcessJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NormalizedCount)

	done, err := f.repo.GetJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, done.Status)
	assert.Equal(t, 2, done.AttemptCount)
	assert.Nil(t, done.ErrorMessage)
}

func TestProcessJob_JobNotFound(t *testing.T) {
	f := newFixture(t, 60)
	_, err := f.orch.ProcessJob(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

type brokenCache struct{ puts int }

func (c *brokenCache) Get(context.Context, cache.Key) (json.RawMessage, bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

func (c *brokenCache) Put(context.Context, cache.Key, json.RawMessage, time.Duration) error {
	c.puts++
	return errors.New("redis: connection refused")
}

func TestProcessJob_CacheUnavailableFallsBackToProvider(t *testing.T) {
	f := newFixture(t, 60)
	broken := &brokenCache{}
	f.orch.cache = broken

	tenant := uuid.New()
	job := f.submit(t, tenant, "tavily", "news_search", "broken-cache-1", `{"query":"nvidia earnings"}`)
	result, err := f.orch.ProcessJob(context.Background(), tenant, job.ID)
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, 1, f.providers.Calls("/search"))
	assert.Equal(t, 1, broken.puts)
}

func TestProcessJob_CachedResponseStoredInRedis(t *testing.T) {
	f := newFixture(t, 60)
	tenant := uuid.New()
	job := f.submit(t, tenant, "tavily", "news_search", "stored-cache-1", `{"query":"nvidia earnings"}`)
	_, err := f.orch.ProcessJob(context.Background(), tenant, job.ID)
	require.NoError(t, err)

	keys := f.mr.Keys()
	var cacheKeys []string
	for _, k := range keys {
		if strings.HasPrefix(k, "ingestion:tavily:news_search:"+tenant.String()+":") {
			cacheKeys = append(cacheKeys, k)
		}
	}
	require.Len(t, cacheKeys, 1)
	assert.Equal(t, 15*time.Minute, f.mr.TTL(cacheKeys[0]))
}

func TestProcessJob_ResumesInterruptedAttempt(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()
	tenant := uuid.New()
	job := f.submit(t, tenant, "tavily", "news_search", "resume-key-1", `{"query":"nvidia earnings"}`)

	// A previous attempt stored the raw response and one of two documents,
	// then died before marking the job.
	running, err := f.repo.MarkJobRunning(ctx, tenant, job.ID, fixedNow)
	require.NoError(t, err)
	contentHash, err := hashing.Hash(json.RawMessage(tavilyBody))
	require.NoError(t, err)
	raw, err := f.repo.SaveRawPayload(ctx, &models.RawPayload{
		ID:              repository.NewID(),
		TenantID:        tenant,
		JobID:           job.ID,
		Provider:        "tavily",
		Resource:        "news_search",
		SchemaVersion:   models.SchemaVersion,
		ContentHash:     contentHash,
		RequestPayload:  running.Payload,
		ResponsePayload: json.RawMessage(tavilyBody),
		HTTPStatus:      http.StatusOK,
		FetchedAt:       fixedNow,
	})
	require.NoError(t, err)

	fetcher, err := f.orch.registry.Lookup(providers.Tavily, providers.ResourceNewsSearch)
	require.NoError(t, err)
	records, err := fetcher.Normalize(json.RawMessage(tavilyBody), running.Payload)
	require.NoError(t, err)
	require.Len(t, records.News, 2)
	partial := newsDocuments(running, raw.ID, records.News[:1], fixedNow)
	inserted, err := f.repo.InsertNews(ctx, tenant, partial)
	require.NoError(t, err)
	require.Equal(t, 1, inserted)

	f.mr.FlushAll()

	result, err := f.orch.ProcessJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, result.Status)
	assert.False(t, result.CacheHit)
	assert.Equal(t, 2, result.NormalizedCount)
	assert.Equal(t, 1, f.providers.Calls("/search"))

	summary, err := f.svc.GetJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, summary.Status)
	assert.Equal(t, 2, summary.AttemptCount)
	assert.Equal(t, 1, summary.RawRecordCount, "the refetched response reuses the stored raw payload")
	assert.Equal(t, 2, summary.NormalizedRecordCount)
	assert.Nil(t, summary.ErrorMessage)

	docs, err := f.repo.ListNews(ctx, models.NewsQuery{TenantID: tenant, JobID: &job.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.NotEqual(t, docs[0].SourceURL, docs[1].SourceURL)
	for _, d := range docs {
		assert.Equal(t, raw.ID, d.RawPayloadID)
	}

	again, err := f.repo.InsertNews(ctx, tenant, newsDocuments(running, raw.ID, records.News, fixedNow))
	require.NoError(t, err)
	assert.Zero(t, again, "duplicates are ignored rather than rejected")
}
