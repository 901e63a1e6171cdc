package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/finops/internal/models"
)

// testRepository runs the behaviour every Repository implementation must
// share against repo.
func testRepository(t *testing.T, repo Repository) {
	t.Run("job idempotency", func(t *testing.T) { testJobIdempotency(t, repo) })
	t.Run("job lifecycle", func(t *testing.T) { testJobLifecycle(t, repo) })
	t.Run("tenant isolation", func(t *testing.T) { testTenantIsolation(t, repo) })
	t.Run("raw payload dedupe", func(t *testing.T) { testRawPayloadDedupe(t, repo) })
	t.Run("news dedupe and search", func(t *testing.T) { testNewsSearch(t, repo) })
	t.Run("news pagination", func(t *testing.T) { testNewsPagination(t, repo) })
	t.Run("market upserts", func(t *testing.T) { testMarketUpserts(t, repo) })
	t.Run("market reads", func(t *testing.T) { testMarketReads(t, repo) })
	t.Run("runs and audits", func(t *testing.T) { testRunsAndAudits(t, repo) })
}

var baseTime = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

func newJob(tenant uuid.UUID, key string, payload string) *models.Job {
	return &models.Job{
		ID:             NewID(),
		TenantID:       tenant,
		Provider:       "tavily",
		Resource:       "news_search",
		Status:         models.JobQueued,
		IdempotencyKey: key,
		Payload:        json.RawMessage(payload),
		SchemaVersion:  models.SchemaVersion,
		CreatedAt:      baseTime,
	}
}

func mustCreateJob(t *testing.T, repo Repository, job *models.Job) *models.Job {
	t.Helper()
	stored, _, err := repo.CreateJob(context.Background(), job)
	require.NoError(t, err)
	return stored
}

func newRaw(job *models.Job, hash string) *models.RawPayload {
	return &models.RawPayload{
		ID:              NewID(),
		TenantID:        job.TenantID,
		JobID:           job.ID,
		Provider:        job.Provider,
		Resource:        job.Resource,
		SchemaVersion:   models.SchemaVersion,
		ContentHash:     hash,
		RequestPayload:  job.Payload,
		ResponsePayload: json.RawMessage(`{"results":[]}`),
		HTTPStatus:      200,
		FetchedAt:       baseTime,
	}
}

func testJobIdempotency(t *testing.T, repo Repository) {
	ctx := context.Background()
	tenant := NewID()

	first, created, err := repo.CreateJob(ctx, newJob(tenant, "idem-key-001", `{"query":"first"}`))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.CreateJob(ctx, newJob(tenant, "idem-key-001", `{"query":"second"}`))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.JSONEq(t, `{"query":"first"}`, string(second.Payload))

	other, created, err := repo.CreateJob(ctx, newJob(NewID(), "idem-key-001", `{}`))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func testJobLifecycle(t *testing.T, repo Repository) {
	ctx := context.Background()
	tenant := NewID()
	job := mustCreateJob(t, repo, newJob(tenant, "idem-key-002", `{}`))
	assert.Equal(t, models.JobQueued, job.Status)
	assert.Equal(t, 0, job.AttemptCount)

	running, err := repo.MarkJobRunning(ctx, tenant, job.ID, baseTime.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, running.Status)
	assert.Equal(t, 1, running.AttemptCount)
	require.NotNil(t, running.StartedAt)

	require.NoError(t, repo.MarkJobFailed(ctx, tenant, job.ID, "rate limit exceeded", baseTime.Add(2*time.Second)))
	failed, err := repo.GetJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "rate limit exceeded", *failed.ErrorMessage)

	running, err = repo.MarkJobRunning(ctx, tenant, job.ID, baseTime.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, running.AttemptCount)
	assert.Nil(t, running.ErrorMessage)

	require.NoError(t, repo.MarkJobCompleted(ctx, tenant, job.ID, baseTime.Add(4*time.Second)))
	done, err := repo.GetJob(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(baseTime.Add(4*time.Second)))

	_, err = repo.GetJob(ctx, tenant, NewID())
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, repo.MarkJobCompleted(ctx, tenant, NewID(), baseTime), ErrJobNotFound)
}

func testTenantIsolation(t *testing.T, repo Repository) {
	ctx := context.Background()
	owner, intruder := NewID(), NewID()
	job := mustCreateJob(t, repo, newJob(owner, "idem-key-003", `{}`))

	_, err := repo.GetJob(ctx, intruder, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = repo.MarkJobRunning(ctx, intruder, job.ID, baseTime)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func testRawPayloadDedupe(t *testing.T, repo Repository) {
	ctx := context.Background()
	tenant := NewID()
	jobA := mustCreateJob(t, repo, newJob(tenant, "idem-key-004", `{"query":"a"}`))
	jobB := mustCreateJob(t, repo, newJob(tenant, "idem-key-005", `{"query":"b"}`))

	first, err := repo.SaveRawPayload(ctx, newRaw(jobA, "hash-1"))
	require.NoError(t, err)

	second, err := repo.SaveRawPayload(ctx, newRaw(jobB, "hash-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, jobA.ID, second.JobID)

	n, err := repo.CountRawPayloads(ctx, tenant, jobA.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.CountRawPayloads(ctx, tenant, jobB.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func newsDoc(job *models.Job, raw *models.RawPayload, url, title, snippet string, created time.Time) models.NewsDocument {
	return models.NewsDocument{
		ID:                   NewID(),
		TenantID:             job.TenantID,
		JobID:                job.ID,
		RawPayloadID:         raw.ID,
		SourceProvider:       "tavily",
		NormalizationVersion: "v1",
		SourceURL:            url,
		Title:                title,
		Snippet:              snippet,
		DocumentHash:         "h-" + url,
		CreatedAt:            created,
	}
}

func testNewsSearch(t *testing.T, repo Repository) {
	ctx := context.Background()
	tenant := NewID()
	job := mustCreateJob(t, repo, newJob(tenant, "idem-key-006", `{}`))
	raw, err := repo.SaveRawPayload(ctx, newRaw(job, "hash-news"))
	require.NoError(t, err)

	docs := []models.NewsDocument{
		newsDoc(job, raw, "https://n.test/1", "Fed holds rates", "Policy unchanged", baseTime),
		newsDoc(job, raw, "https://n.test/2", "Oil slips", "Brent lower as FED speaks", baseTime.Add(time.Minute)),
		newsDoc(job, raw, "https://n.test/3", "Chip stocks rally", "Semis up 100%", baseTime.Add(2*time.Minute)),
	}
	inserted, err := repo.InsertNews(ctx, tenant, docs)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	dup := newsDoc(job, raw, "https://n.test/1", "Fed holds rates", "Policy unchanged", baseTime)
	inserted, err = repo.InsertNews(ctx, tenant, []models.NewsDocument{dup})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	found, err := repo.SearchNews(ctx, models.NewsQuery{TenantID: tenant, Text: "fed", Limit: 10})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Oil slips", found[0].Title)
	assert.Equal(t, "Fed holds rates", found[1].Title)

	found, err = repo.SearchNews(ctx, models.NewsQuery{TenantID: tenant, Text: "100%", Limit: 10})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Chip stocks rally", found[0].Title)

	found, err = repo.SearchNews(ctx, models.NewsQuery{TenantID: tenant, Text: "", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	otherJob := NewID()
	found, err = repo.SearchNews(ctx, models.NewsQuery{TenantID: tenant, JobID: &otherJob, Text: "fed", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = repo.SearchNews(ctx, models.NewsQuery{TenantID: NewID(), Text: "fed", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, found)

	n, err := repo.CountNormalizedRecords(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testNewsPagination(t *testing.T, repo Repository) {
	ctx := context.Background()
	tenant := NewID()
	job := mustCreateJob(t, repo, newJob(tenant, "idem-key-009", `{}`))
	raw, err := repo.SaveRawPayload(ctx, newRaw(job, "hash-pages"))
	require.NoError(t, err)

	var docs []models.NewsDocument
	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("https://p.test/%d", i)
		docs = append(docs, newsDoc(job, raw, url, fmt.Sprintf("Story %d", i), "markets", baseTime.Add(time.Duration(i)*time.Minute)))
	}
	_, err = repo.InsertNews(ctx, tenant, docs)
	require.NoError(t, err)

	var titles []string
	for offset := 0; offset < 6; offset += 2 {
		page, err := repo.ListNews(ctx, models.NewsQuery{TenantID: tenant, JobID: &job.ID, Limit: 2, Offset: offset})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page), 2)
		for _, d := range page {
			titles = append(titles, d.Title)
		}
	}
	assert.Equal(t, []string{"Story 4", "Story 3", "Story 2", "Story 1", "Story 0"}, titles)

	page, err := repo.ListNews(ctx, models.NewsQuery{TenantID: tenant, Text: "story 1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Story 1", page[0].Title)

	page, err = repo.ListNews(ctx, models.NewsQuery{TenantID: tenant, Limit: 10, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = repo.ListNews(ctx, models.NewsQuery{TenantID: NewID(), Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testMarketUpserts(t *testing.T, repo Repository) {
	ctx := context.Background()
	tenant := NewID()
	job := mustCreateJob(t, repo, newJob(tenant, "idem-key-007", `{}`))
	raw, err := repo.SaveRawPayload(ctx, newRaw(job, "hash-market"))
	require.NoError(t, err)

	quote := &models.MarketQuote{
		ID: NewID(), TenantID: tenant, Provider: "twelvedata", SchemaVersion: "v1",
		RawPayloadID: &raw.ID, Symbol: "AAPL", Price: 100, AsOf: baseTime, FetchedAt: baseTime,
	}
	require.NoError(t, repo.UpsertQuote(ctx, quote))
	quote.ID = NewID()
	quote.Price = 101
	require.NoError(t, repo.UpsertQuote(ctx, quote))

	bar := models.MarketBar{
		ID: NewID(), Provider: "twelvedata", SchemaVersion: "v1", RawPayloadID: &raw.ID,
		Symbol: "AAPL", Timeframe: "1day", TS: baseTime, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10,
		FetchedAt: baseTime,
	}
	n, err := repo.UpsertTimeseries(ctx, tenant, []models.MarketBar{bar})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	bar.ID = NewID()
	bar.Close = 1.75
	next := bar
	next.ID = NewID()
	next.TS = baseTime.Add(24 * time.Hour)
	n, err = repo.UpsertTimeseries(ctx, tenant, []models.MarketBar{bar, next})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := repo.CountNormalizedRecords(ctx, tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count, "one quote and two bars")
}

func testMarketReads(t *testing.T, repo Repository) {
	ctx := context.Background()
	tenant := NewID()

	for i, p := range []string{"twelvedata", "alphavantage"} {
		require.NoError(t, repo.UpsertQuote(ctx, &models.MarketQuote{
			ID: NewID(), TenantID: tenant, Provider: p, SchemaVersion: "v1", Symbol: "MSFT",
			Price: float64(400 + i), AsOf: baseTime.Add(time.Duration(i) * time.Hour), FetchedAt: baseTime,
		}))
	}
	require.NoError(t, repo.UpsertQuote(ctx, &models.MarketQuote{
		ID: NewID(), TenantID: tenant, Provider: "twelvedata", SchemaVersion: "v1", Symbol: "AAPL",
		Price: 190, AsOf: baseTime.Add(48 * time.Hour), FetchedAt: baseTime,
	}))

	latest, err := repo.GetLatestQuote(ctx, tenant, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "alphavantage", latest.Provider)
	assert.Equal(t, 401.0, latest.Price)
	assert.True(t, latest.AsOf.Equal(baseTime.Add(time.Hour)))

	_, err = repo.GetLatestQuote(ctx, tenant, "NVDA")
	assert.ErrorIs(t, err, ErrQuoteNotFound)
	_, err = repo.GetLatestQuote(ctx, NewID(), "MSFT")
	assert.ErrorIs(t, err, ErrQuoteNotFound)

	var bars []models.MarketBar
	for day := 0; day < 4; day++ {
		bars = append(bars, models.MarketBar{
			ID: NewID(), Provider: "twelvedata", SchemaVersion: "v1", Symbol: "MSFT", Timeframe: "1day",
			TS: baseTime.Add(time.Duration(day) * 24 * time.Hour), Open: 1, High: 2, Low: 0.5, Close: float64(day), Volume: 10,
			FetchedAt: baseTime,
		})
	}
	bars = append(bars, models.MarketBar{
		ID: NewID(), Provider: "twelvedata", SchemaVersion: "v1", Symbol: "MSFT", Timeframe: "1h",
		TS: baseTime, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, FetchedAt: baseTime,
	})
	_, err = repo.UpsertTimeseries(ctx, tenant, bars)
	require.NoError(t, err)

	got, err := repo.ListTimeseries(ctx, models.TimeseriesQuery{TenantID: tenant, Symbol: "MSFT", Timeframe: "1day", Limit: 100})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 3.0, got[0].Close, "newest first")
	assert.Equal(t, 0.0, got[3].Close)

	start, end := baseTime.Add(24*time.Hour), baseTime.Add(48*time.Hour)
	got, err = repo.ListTimeseries(ctx, models.TimeseriesQuery{TenantID: tenant, Symbol: "MSFT", Timeframe: "1day", Start: &start, End: &end, Limit: 100})
	require.NoError(t, err)
	require.Len(t, got, 2, "bounds are inclusive")
	assert.True(t, got[0].TS.Equal(end))
	assert.True(t, got[1].TS.Equal(start))

	got, err = repo.ListTimeseries(ctx, models.TimeseriesQuery{TenantID: tenant, Symbol: "MSFT", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = repo.ListTimeseries(ctx, models.TimeseriesQuery{TenantID: tenant, Symbol: "MSFT", Limit: 100})
	require.NoError(t, err)
	assert.Len(t, got, 5, "no timeframe filter")

	got, err = repo.ListTimeseries(ctx, models.TimeseriesQuery{TenantID: NewID(), Symbol: "MSFT", Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testRunsAndAudits(t *testing.T, repo Repository) {
	ctx := context.Background()
	tenant := NewID()
	run := &models.IntelRun{
		ID:               NewID(),
		TenantID:         tenant,
		RunType:          "research",
		Status:           models.RunPending,
		ModelName:        "deterministic",
		PromptVersion:    "v1",
		InputSnapshotURI: "fed rates",
		InputPayload:     json.RawMessage(`{"query":"fed rates"}`),
		GraphVersion:     models.GraphVersion,
		ExecutionMode:    models.ModeLive,
		CreatedAt:        baseTime,
	}
	require.NoError(t, repo.CreateRun(ctx, run))
	require.NoError(t, repo.MarkRunRunning(ctx, tenant, run.ID, baseTime))

	for i, tool := range []string{"first", "second"} {
		require.NoError(t, repo.AppendAudit(ctx, &models.ToolCallAudit{
			ID:              NewID(),
			TenantID:        tenant,
			RunID:           run.ID,
			ToolName:        tool,
			Status:          models.AuditSuccess,
			RequestPayload:  json.RawMessage(`{}`),
			ResponsePayload: json.RawMessage(`{"documents":[]}`),
			Citations:       []string{"https://n.test/" + tool},
			CreatedAt:       baseTime.Add(time.Duration(i) * time.Second),
		}))
	}

	audits, err := repo.ListAudits(ctx, tenant, run.ID)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "first", audits[0].ToolName)
	assert.Equal(t, "second", audits[1].ToolName)
	assert.Equal(t, []string{"https://n.test/first"}, audits[0].Citations)

	none, err := repo.ListAudits(ctx, NewID(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, repo.CompleteRun(ctx, tenant, run.ID, json.RawMessage(`{"summary":"ok"}`), baseTime.Add(time.Minute)))
	got, err := repo.GetRun(ctx, tenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.JSONEq(t, `{"summary":"ok"}`, string(got.OutputPayload))
	require.NotNil(t, got.CompletedAt)

	require.NoError(t, repo.FailRun(ctx, tenant, run.ID, "boom", baseTime.Add(2*time.Minute)))
	got, err = repo.GetRun(ctx, tenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "boom", *got.ErrorMessage)

	_, err = repo.GetRun(ctx, NewID(), run.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, repo.MarkRunRunning(ctx, tenant, NewID(), baseTime), ErrRunNotFound)
}
