package ingestion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/finops/internal/cache"
	"github.com/telhawk-systems/finops/internal/config"
	"github.com/telhawk-systems/finops/internal/models"
	"github.com/telhawk-systems/finops/internal/providers"
	"github.com/telhawk-systems/finops/internal/providers/registry"
	"github.com/telhawk-systems/finops/internal/ratelimit"
	"github.com/telhawk-systems/finops/internal/repository"
)

const tavilyBody = `{
	"query": "nvidia earnings",
	"results": [
		{"title": "Nvidia beats estimates", "url": "https://news.test/nvda-1", "content": "Data center revenue jumps", "published_date": "2024-02-01T10:00:00Z"},
		{"title": "Chip demand outlook", "url": "https://news.test/nvda-2", "content": "Analysts raise targets"}
	]
}`

const twelveDataQuoteBody = `{"symbol":"nvda","close":"615.27","percent_change":"2.5","datetime":"2024-02-01"}`

const alphaVantageDailyBody = `{
	"Meta Data": {"2. Symbol": "NVDA"},
	"Time Series (Daily)": {
		"2024-02-01": {"1. open": "600.0", "2. high": "620.0", "3. low": "598.0", "4. close": "615.27", "5. volume": "5000000"},
		"2024-01-31": {"1. open": "590.0", "2. high": "605.0", "3. low": "585.0", "4. close": "600.0", "5. volume": "4200000"}
	}
}`

var fixedNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

// fakeProviders serves every provider endpoint from one test server and
// counts calls per path.
type fakeProviders struct {
	srv    *httptest.Server
	mu     sync.Mutex
	calls  map[string]int
	status atomic.Int32
}

func newFakeProviders(t *testing.T) *fakeProviders {
	t.Helper()
	f := &fakeProviders{calls: make(map[string]int)}
	f.status.Store(http.StatusOK)
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.URL.Path]++
		f.mu.Unlock()

		if code := int(f.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		switch r.URL.Path {
		case "/search":
			_, _ = w.Write([]byte(tavilyBody))
		case "/quote":
			_, _ = w.Write([]byte(twelveDataQuoteBody))
		case "/query":
			_, _ = w.Write([]byte(alphaVantageDailyBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProviders) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeProviders) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeProviders) config(ratePerMinute int) config.ProvidersConfig {
	ep := func() config.EndpointConfig {
		return config.EndpointConfig{APIKey: "test-key", BaseURL: f.srv.URL, RateLimitPerMinute: ratePerMinute}
	}
	return config.ProvidersConfig{
		Tavily:       ep(),
		Serper:       ep(),
		SerpApi:      ep(),
		TwelveData:   ep(),
		AlphaVantage: ep(),
	}
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []uuid.UUID
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, _, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, jobID)
	return nil
}

type fixture struct {
	repo      *repository.MemoryRepository
	providers *fakeProviders
	mr        *miniredis.Miniredis
	queue     *recordingQueue
	svc       *Service
	orch      *Orchestrator
}

func newFixture(t *testing.T, ratePerMinute int) *fixture {
	t.Helper()
	fp := newFakeProviders(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg := registry.FromConfig(fp.config(ratePerMinute), providers.Options{
		Timeout:    time.Second,
		MaxRetries: 1,
		Backoff:    time.Millisecond,
	})

	repo := repository.NewMemoryRepository()
	q := &recordingQueue{}
	return &fixture{
		repo:      repo,
		providers: fp,
		mr:        mr,
		queue:     q,
		svc:       NewService(repo, q, nil),
		orch: NewOrchestrator(repo, reg,
			ratelimit.NewRedisLimiter(client, nil),
			cache.NewRedisCache(client),
			WithCacheTTL(15*time.Minute),
			WithClock(func() time.Time { return fixedNow }),
		),
	}
}

func (f *fixture) submit(t *testing.T, tenant uuid.UUID, provider, resource, key, payload string) *models.JobSummary {
	t.Helper()
	job, err := f.svc.CreateJob(context.Background(), &models.CreateJobRequest{
		TenantID:       tenant,
		Provider:       provider,
		Resource:       resource,
		IdempotencyKey: key,
		Payload:        json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return job
}
