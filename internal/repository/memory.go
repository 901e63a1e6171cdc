package repository

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/finops/internal/models"
)

// MemoryRepository is an in-process Repository with the same uniqueness
// and tenancy rules as the Postgres schema. It backs tests and local
// dry runs.
type MemoryRepository struct {
	mu sync.Mutex

	jobs     map[uuid.UUID]*models.Job
	jobKeys  map[jobKey]uuid.UUID
	raw      map[uuid.UUID]*models.RawPayload
	rawKeys  map[rawKey]uuid.UUID
	news     []models.NewsDocument
	newsKeys map[newsKey]struct{}
	quotes   map[quoteKey]*models.MarketQuote
	bars     map[barKey]*models.MarketBar
	runs     map[uuid.UUID]*models.IntelRun
	audits   map[uuid.UUID][]models.ToolCallAudit
}

var _ Repository = (*MemoryRepository)(nil)

type jobKey struct {
	tenant                      uuid.UUID
	provider, resource, idemKey string
}

type rawKey struct {
	tenant         uuid.UUID
	provider, hash string
}

type newsKey struct {
	tenant                 uuid.UUID
	provider, url, docHash string
}

type quoteKey struct {
	tenant           uuid.UUID
	provider, symbol string
	asOf             int64
}

type barKey struct {
	tenant                      uuid.UUID
	provider, symbol, timeframe string
	ts                          int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:     make(map[uuid.UUID]*models.Job),
		jobKeys:  make(map[jobKey]uuid.UUID),
		raw:      make(map[uuid.UUID]*models.RawPayload),
		rawKeys:  make(map[rawKey]uuid.UUID),
		newsKeys: make(map[newsKey]struct{}),
		quotes:   make(map[quoteKey]*models.MarketQuote),
		bars:     make(map[barKey]*models.MarketBar),
		runs:     make(map[uuid.UUID]*models.IntelRun),
		audits:   make(map[uuid.UUID][]models.ToolCallAudit),
	}
}

func (m *MemoryRepository) Close() error { return nil }

func cloneJob(j *models.Job) *models.Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	return &c
}

func (m *MemoryRepository) CreateJob(_ context.Context, job *models.Job) (*models.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobKey{job.TenantID, job.Provider, job.Resource, job.IdempotencyKey}
	if id, ok := m.jobKeys[key]; ok {
		return cloneJob(m.jobs[id]), false, nil
	}
	stored := cloneJob(job)
	stored.Payload = emptyObjectIfNil(stored.Payload)
	stored.UpdatedAt = stored.CreatedAt
	m.jobs[stored.ID] = stored
	m.jobKeys[key] = stored.ID
	return cloneJob(stored), true, nil
}

func (m *MemoryRepository) job(tenantID, jobID uuid.UUID) (*models.Job, error) {
	j, ok := m.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return nil, ErrJobNotFound
	}
	return j, nil
}

func (m *MemoryRepository) GetJob(_ context.Context, tenantID, jobID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.job(tenantID, jobID)
	if err != nil {
		return nil, err
	}
	return cloneJob(j), nil
}

func (m *MemoryRepository) MarkJobRunning(_ context.Context, tenantID, jobID uuid.UUID, at time.Time) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.job(tenantID, jobID)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobRunning
	j.AttemptCount++
	j.ErrorMessage = nil
	j.StartedAt = &at
	j.CompletedAt = nil
	j.UpdatedAt = at
	return cloneJob(j), nil
}

func (m *MemoryRepository) MarkJobCompleted(_ context.Context, tenantID, jobID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.job(tenantID, jobID)
	if err != nil {
		return err
	}
	j.Status = models.JobCompleted
	j.ErrorMessage = nil
	j.CompletedAt = &at
	j.UpdatedAt = at
	return nil
}

func (m *MemoryRepository) MarkJobFailed(_ context.Context, tenantID, jobID uuid.UUID, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.job(tenantID, jobID)
	if err != nil {
		return err
	}
	msg := models.TruncateError(message)
	j.Status = models.JobFailed
	j.ErrorMessage = &msg
	j.UpdatedAt = at
	return nil
}

func (m *MemoryRepository) CountRawPayloads(_ context.Context, tenantID, jobID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.raw {
		if p.TenantID == tenantID && p.JobID == jobID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) CountNormalizedRecords(_ context.Context, tenantID, jobID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rawIDs := make(map[uuid.UUID]bool)
	for id, p := range m.raw {
		if p.TenantID == tenantID && p.JobID == jobID {
			rawIDs[id] = true
		}
	}
	n := 0
	for _, d := range m.news {
		if d.TenantID == tenantID && d.JobID == jobID {
			n++
		}
	}
	for _, q := range m.quotes {
		if q.TenantID == tenantID && q.RawPayloadID != nil && rawIDs[*q.RawPayloadID] {
			n++
		}
	}
	for _, b := range m.bars {
		if b.TenantID == tenantID && b.RawPayloadID != nil && rawIDs[*b.RawPayloadID] {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) SaveRawPayload(_ context.Context, p *models.RawPayload) (*models.RawPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rawKey{p.TenantID, p.Provider, p.ContentHash}
	if id, ok := m.rawKeys[key]; ok {
		existing := *m.raw[id]
		return &existing, nil
	}
	stored := *p
	m.raw[stored.ID] = &stored
	m.rawKeys[key] = stored.ID
	out := stored
	return &out, nil
}

func (m *MemoryRepository) InsertNews(_ context.Context, tenantID uuid.UUID, docs []models.NewsDocument) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, d := range docs {
		d.TenantID = tenantID
		key := newsKey{tenantID, d.SourceProvider, d.SourceURL, d.DocumentHash}
		if _, dup := m.newsKeys[key]; dup {
			continue
		}
		m.newsKeys[key] = struct{}{}
		m.news = append(m.news, d)
		inserted++
	}
	return inserted, nil
}

func (m *MemoryRepository) UpsertQuote(_ context.Context, q *models.MarketQuote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := quoteKey{q.TenantID, q.Provider, q.Symbol, q.AsOf.UnixNano()}
	if existing, ok := m.quotes[key]; ok {
		existing.Price = q.Price
		existing.ChangePercent = q.ChangePercent
		existing.RawPayloadID = q.RawPayloadID
		existing.FetchedAt = q.FetchedAt
		return nil
	}
	stored := *q
	m.quotes[key] = &stored
	return nil
}

func (m *MemoryRepository) UpsertTimeseries(_ context.Context, tenantID uuid.UUID, bars []models.MarketBar) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range bars {
		b.TenantID = tenantID
		key := barKey{tenantID, b.Provider, b.Symbol, b.Timeframe, b.TS.UnixNano()}
		if existing, ok := m.bars[key]; ok {
			existing.Open, existing.High, existing.Low = b.Open, b.High, b.Low
			existing.Close, existing.Volume = b.Close, b.Volume
			existing.RawPayloadID = b.RawPayloadID
			existing.FetchedAt = b.FetchedAt
			continue
		}
		stored := b
		m.bars[key] = &stored
	}
	return len(bars), nil
}

// Quotes returns the tenant's stored quotes ordered by symbol and time.
func (m *MemoryRepository) Quotes(tenantID uuid.UUID) []models.MarketQuote {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.MarketQuote
	for _, q := range m.quotes {
		if q.TenantID == tenantID {
			out = append(out, *q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].AsOf.Before(out[j].AsOf)
	})
	return out
}

// Bars returns the tenant's stored bars ordered by symbol and time.
func (m *MemoryRepository) Bars(tenantID uuid.UUID) []models.MarketBar {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.MarketBar
	for _, b := range m.bars {
		if b.TenantID == tenantID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].TS.Before(out[j].TS)
	})
	return out
}

func (m *MemoryRepository) SearchNews(ctx context.Context, q models.NewsQuery) ([]models.NewsDocument, error) {
	q.Offset = 0
	return m.ListNews(ctx, q)
}

func (m *MemoryRepository) ListNews(_ context.Context, q models.NewsQuery) ([]models.NewsDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var matches []models.NewsDocument
	// Walk newest first; insertion order breaks created_at ties.
	for i := len(m.news) - 1; i >= 0; i-- {
		d := m.news[i]
		if d.TenantID != q.TenantID {
			continue
		}
		if q.JobID != nil && d.JobID != *q.JobID {
			continue
		}
		if !strings.Contains(strings.ToLower(d.Title), needle) && !strings.Contains(strings.ToLower(d.Snippet), needle) {
			continue
		}
		matches = append(matches, d)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if q.Offset > 0 {
		if q.Offset >= len(matches) {
			return nil, nil
		}
		matches = matches[q.Offset:]
	}
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

func (m *MemoryRepository) GetLatestQuote(_ context.Context, tenantID uuid.UUID, symbol string) (*models.MarketQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.MarketQuote
	for _, q := range m.quotes {
		if q.TenantID != tenantID || q.Symbol != symbol {
			continue
		}
		if latest == nil || q.AsOf.After(latest.AsOf) ||
			(q.AsOf.Equal(latest.AsOf) && q.FetchedAt.After(latest.FetchedAt)) {
			latest = q
		}
	}
	if latest == nil {
		return nil, ErrQuoteNotFound
	}
	out := *latest
	return &out, nil
}

func (m *MemoryRepository) ListTimeseries(_ context.Context, q models.TimeseriesQuery) ([]models.MarketBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.MarketBar
	for _, b := range m.bars {
		if b.TenantID != q.TenantID || b.Symbol != q.Symbol {
			continue
		}
		if q.Timeframe != "" && b.Timeframe != q.Timeframe {
			continue
		}
		if q.Start != nil && b.TS.Before(*q.Start) {
			continue
		}
		if q.End != nil && b.TS.After(*q.End) {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TS.Equal(out[j].TS) {
			return out[i].TS.After(out[j].TS)
		}
		return out[i].Provider < out[j].Provider
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func cloneRun(r *models.IntelRun) *models.IntelRun {
	c := *r
	c.InputPayload = append(json.RawMessage(nil), r.InputPayload...)
	c.OutputPayload = append(json.RawMessage(nil), r.OutputPayload...)
	return &c
}

func (m *MemoryRepository) CreateRun(_ context.Context, run *models.IntelRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneRun(run)
	stored.InputPayload = emptyObjectIfNil(stored.InputPayload)
	stored.OutputPayload = emptyObjectIfNil(stored.OutputPayload)
	stored.UpdatedAt = stored.CreatedAt
	m.runs[run.ID] = stored
	return nil
}

func (m *MemoryRepository) run(tenantID, runID uuid.UUID) (*models.IntelRun, error) {
	r, ok := m.runs[runID]
	if !ok || r.TenantID != tenantID {
		return nil, ErrRunNotFound
	}
	return r, nil
}

func (m *MemoryRepository) GetRun(_ context.Context, tenantID, runID uuid.UUID) (*models.IntelRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.run(tenantID, runID)
	if err != nil {
		return nil, err
	}
	return cloneRun(r), nil
}

func (m *MemoryRepository) MarkRunRunning(_ context.Context, tenantID, runID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.run(tenantID, runID)
	if err != nil {
		return err
	}
	r.Status = models.RunRunning
	r.ErrorMessage = nil
	r.UpdatedAt = at
	return nil
}

func (m *MemoryRepository) CompleteRun(_ context.Context, tenantID, runID uuid.UUID, output json.RawMessage, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.run(tenantID, runID)
	if err != nil {
		return err
	}
	r.Status = models.RunCompleted
	r.OutputPayload = append(json.RawMessage(nil), output...)
	r.ErrorMessage = nil
	r.CompletedAt = &at
	r.UpdatedAt = at
	return nil
}

func (m *MemoryRepository) FailRun(_ context.Context, tenantID, runID uuid.UUID, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.run(tenantID, runID)
	if err != nil {
		return err
	}
	msg := models.TruncateError(message)
	r.Status = models.RunFailed
	r.ErrorMessage = &msg
	r.CompletedAt = &at
	r.UpdatedAt = at
	return nil
}

func (m *MemoryRepository) AppendAudit(_ context.Context, a *models.ToolCallAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *a
	stored.Citations = append([]string{}, a.Citations...)
	m.audits[a.RunID] = append(m.audits[a.RunID], stored)
	return nil
}

func (m *MemoryRepository) ListAudits(_ context.Context, tenantID, runID uuid.UUID) ([]models.ToolCallAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ToolCallAudit
	for _, a := range m.audits[runID] {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}
