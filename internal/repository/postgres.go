package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/finops/common/database"
	"github.com/telhawk-systems/finops/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL. Every
// operation runs in a transaction scoped to the caller's tenant.
type PostgresRepository struct {
	pool     *pgxpool.Pool
	timeouts database.Timeouts
}

var _ Repository = (*PostgresRepository)(nil)

// PoolOptions tunes the connection pool. Zero values keep pgxpool defaults.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
	Timeouts database.Timeouts
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string, opts PoolOptions) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool, timeouts: opts.Timeouts}, nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) read(ctx context.Context, tenantID uuid.UUID, fn func(pgx.Tx) error) error {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()
	return database.InTenantTx(ctx, r.pool, tenantID, fn)
}

func (r *PostgresRepository) write(ctx context.Context, tenantID uuid.UUID, fn func(pgx.Tx) error) error {
	ctx, cancel := r.timeouts.WriteContext(ctx)
	defer cancel()
	return database.InTenantTx(ctx, r.pool, tenantID, fn)
}

func (r *PostgresRepository) bulk(ctx context.Context, tenantID uuid.UUID, fn func(pgx.Tx) error) error {
	ctx, cancel := r.timeouts.BulkContext(ctx)
	defer cancel()
	return database.InTenantTx(ctx, r.pool, tenantID, fn)
}

const jobColumns = `id, tenant_id, provider, resource, status, idempotency_key, payload,
	schema_version, attempt_count, error_message, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	j := &models.Job{}
	var payload []byte
	err := row.Scan(
		&j.ID, &j.TenantID, &j.Provider, &j.Resource, &j.Status, &j.IdempotencyKey, &payload,
		&j.SchemaVersion, &j.AttemptCount, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	return j, nil
}

// CreateJob inserts a job or returns the existing one for its idempotency key
func (r *PostgresRepository) CreateJob(ctx context.Context, job *models.Job) (*models.Job, bool, error) {
	insert := `
		INSERT INTO ingestion_jobs (id, tenant_id, provider, resource, status, idempotency_key,
			payload, schema_version, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
		ON CONFLICT (tenant_id, provider, resource, idempotency_key) DO NOTHING
		RETURNING ` + jobColumns
	existing := `
		SELECT ` + jobColumns + `
		FROM ingestion_jobs
		WHERE tenant_id = $1 AND provider = $2 AND resource = $3 AND idempotency_key = $4`

	var stored *models.Job
	created := true
	err := r.write(ctx, job.TenantID, func(tx pgx.Tx) error {
		var err error
		stored, err = scanJob(tx.QueryRow(ctx, insert,
			job.ID, job.TenantID, job.Provider, job.Resource, job.Status, job.IdempotencyKey,
			emptyObjectIfNil(job.Payload), job.SchemaVersion, job.CreatedAt,
		))
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		created = false
		stored, err = scanJob(tx.QueryRow(ctx, existing,
			job.TenantID, job.Provider, job.Resource, job.IdempotencyKey))
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create ingestion job: %w", err)
	}
	return stored, created, nil
}

// GetJob retrieves a job by ID
func (r *PostgresRepository) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE tenant_id = $1 AND id = $2`

	var job *models.Job
	err := r.read(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		job, err = scanJob(tx.QueryRow(ctx, query, tenantID, jobID))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get ingestion job: %w", err)
	}
	return job, nil
}

// MarkJobRunning starts a new attempt: status running, attempt count
// incremented, previous error cleared.
func (r *PostgresRepository) MarkJobRunning(ctx context.Context, tenantID, jobID uuid.UUID, at time.Time) (*models.Job, error) {
	query := `
		UPDATE ingestion_jobs
		SET status = 'running', attempt_count = attempt_count + 1, error_message = NULL,
			started_at = $3, completed_at = NULL, updated_at = $3
		WHERE tenant_id = $1 AND id = $2
		RETURNING ` + jobColumns

	var job *models.Job
	err := r.write(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		job, err = scanJob(tx.QueryRow(ctx, query, tenantID, jobID, at))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to mark job running: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) MarkJobCompleted(ctx context.Context, tenantID, jobID uuid.UUID, at time.Time) error {
	query := `
		UPDATE ingestion_jobs
		SET status = 'completed', error_message = NULL, completed_at = $3, updated_at = $3
		WHERE tenant_id = $1 AND id = $2`
	return r.execJob(ctx, tenantID, query, "mark job completed", tenantID, jobID, at)
}

func (r *PostgresRepository) MarkJobFailed(ctx context.Context, tenantID, jobID uuid.UUID, message string, at time.Time) error {
	query := `
		UPDATE ingestion_jobs
		SET status = 'failed', error_message = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2`
	return r.execJob(ctx, tenantID, query, "mark job failed", tenantID, jobID, models.TruncateError(message), at)
}

func (r *PostgresRepository) execJob(ctx context.Context, tenantID uuid.UUID, query, op string, args ...any) error {
	err := r.write(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrJobNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

func (r *PostgresRepository) CountRawPayloads(ctx context.Context, tenantID, jobID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM ingestion_raw_payloads WHERE tenant_id = $1 AND job_id = $2`

	var n int
	err := r.read(ctx, tenantID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, tenantID, jobID).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count raw payloads: %w", err)
	}
	return n, nil
}

// CountNormalizedRecords counts news documents attributed to the job plus
// market rows derived from the job's raw payloads.
func (r *PostgresRepository) CountNormalizedRecords(ctx context.Context, tenantID, jobID uuid.UUID) (int, error) {
	query := `
		WITH raw AS (
			SELECT id FROM ingestion_raw_payloads WHERE tenant_id = $1 AND job_id = $2
		)
		SELECT
			(SELECT COUNT(*) FROM news_documents WHERE tenant_id = $1 AND job_id = $2) +
			(SELECT COUNT(*) FROM market_quotes WHERE tenant_id = $1 AND raw_payload_id IN (SELECT id FROM raw)) +
			(SELECT COUNT(*) FROM market_timeseries WHERE tenant_id = $1 AND raw_payload_id IN (SELECT id FROM raw))`

	var n int
	err := r.read(ctx, tenantID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, tenantID, jobID).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count normalized records: %w", err)
	}
	return n, nil
}

const rawPayloadColumns = `id, tenant_id, job_id, provider, resource, schema_version, content_hash,
	request_payload, response_payload, http_status, provider_request_id, fetched_at`

func scanRawPayload(row pgx.Row) (*models.RawPayload, error) {
	p := &models.RawPayload{}
	var req, resp []byte
	var status *int
	err := row.Scan(
		&p.ID, &p.TenantID, &p.JobID, &p.Provider, &p.Resource, &p.SchemaVersion, &p.ContentHash,
		&req, &resp, &status, &p.ProviderRequestID, &p.FetchedAt,
	)
	if err != nil {
		return nil, err
	}
	p.RequestPayload = json.RawMessage(req)
	p.ResponsePayload = json.RawMessage(resp)
	if status != nil {
		p.HTTPStatus = *status
	}
	return p, nil
}

// SaveRawPayload stores a raw payload, reusing an identical existing one
func (r *PostgresRepository) SaveRawPayload(ctx context.Context, p *models.RawPayload) (*models.RawPayload, error) {
	insert := `
		INSERT INTO ingestion_raw_payloads (id, tenant_id, job_id, provider, resource, schema_version,
			content_hash, request_payload, response_payload, http_status, provider_request_id, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, provider, content_hash) DO NOTHING
		RETURNING ` + rawPayloadColumns
	existing := `
		SELECT ` + rawPayloadColumns + `
		FROM ingestion_raw_payloads
		WHERE tenant_id = $1 AND provider = $2 AND content_hash = $3`

	var stored *models.RawPayload
	err := r.write(ctx, p.TenantID, func(tx pgx.Tx) error {
		var err error
		stored, err = scanRawPayload(tx.QueryRow(ctx, insert,
			p.ID, p.TenantID, p.JobID, p.Provider, p.Resource, p.SchemaVersion, p.ContentHash,
			emptyObjectIfNil(p.RequestPayload), emptyObjectIfNil(p.ResponsePayload), p.HTTPStatus,
			p.ProviderRequestID, p.FetchedAt,
		))
		if err == nil || !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		stored, err = scanRawPayload(tx.QueryRow(ctx, existing, p.TenantID, p.Provider, p.ContentHash))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save raw payload: %w", err)
	}
	return stored, nil
}

// InsertNews bulk-inserts news documents, skipping natural-key duplicates
func (r *PostgresRepository) InsertNews(ctx context.Context, tenantID uuid.UUID, docs []models.NewsDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	query := `
		INSERT INTO news_documents (id, tenant_id, job_id, raw_payload_id, source_provider,
			normalization_version, source_url, title, snippet, author, language, published_at,
			document_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tenant_id, source_provider, source_url, document_hash) DO NOTHING`

	inserted := 0
	err := r.bulk(ctx, tenantID, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, d := range docs {
			batch.Queue(query,
				d.ID, tenantID, d.JobID, d.RawPayloadID, d.SourceProvider, d.NormalizationVersion,
				d.SourceURL, d.Title, d.Snippet, d.Author, d.Language, d.PublishedAt,
				d.DocumentHash, d.CreatedAt,
			)
		}
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range docs {
			tag, err := results.Exec()
			if err != nil {
				return err
			}
			inserted += int(tag.RowsAffected())
		}
		return results.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert news documents: %w", err)
	}
	return inserted, nil
}

// UpsertQuote writes a quote; the latest write wins on price fields
func (r *PostgresRepository) UpsertQuote(ctx context.Context, q *models.MarketQuote) error {
	query := `
		INSERT INTO market_quotes (id, tenant_id, provider, schema_version, raw_payload_id, symbol,
			price, change_percent, as_of, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, provider, symbol, as_of) DO UPDATE
		SET price = EXCLUDED.price,
			change_percent = EXCLUDED.change_percent,
			raw_payload_id = EXCLUDED.raw_payload_id,
			fetched_at = EXCLUDED.fetched_at`

	err := r.write(ctx, q.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			q.ID, q.TenantID, q.Provider, q.SchemaVersion, q.RawPayloadID, q.Symbol,
			q.Price, q.ChangePercent, q.AsOf, q.FetchedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert quote: %w", err)
	}
	return nil
}

// UpsertTimeseries writes OHLCV bars; the latest write wins on OHLCV fields
func (r *PostgresRepository) UpsertTimeseries(ctx context.Context, tenantID uuid.UUID, bars []models.MarketBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	query := `
		INSERT INTO market_timeseries (id, tenant_id, provider, schema_version, raw_payload_id,
			symbol, timeframe, ts, open, high, low, close, volume, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tenant_id, provider, symbol, timeframe, ts) DO UPDATE
		SET open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			raw_payload_id = EXCLUDED.raw_payload_id,
			fetched_at = EXCLUDED.fetched_at`

	err := r.bulk(ctx, tenantID, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, b := range bars {
			batch.Queue(query,
				b.ID, tenantID, b.Provider, b.SchemaVersion, b.RawPayloadID, b.Symbol, b.Timeframe,
				b.TS, b.Open, b.High, b.Low, b.Close, b.Volume, b.FetchedAt,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert timeseries: %w", err)
	}
	return len(bars), nil
}

const newsColumns = `id, tenant_id, job_id, raw_payload_id, source_provider, normalization_version,
	source_url, title, snippet, author, language, published_at, document_hash, created_at`

// SearchNews runs the evidence search over news documents
func (r *PostgresRepository) SearchNews(ctx context.Context, q models.NewsQuery) ([]models.NewsDocument, error) {
	q.Offset = 0
	return r.ListNews(ctx, q)
}

// ListNews pages through news documents, newest first
func (r *PostgresRepository) ListNews(ctx context.Context, q models.NewsQuery) ([]models.NewsDocument, error) {
	query := `
		SELECT ` + newsColumns + `
		FROM news_documents
		WHERE tenant_id = $1
			AND ($2::uuid IS NULL OR job_id = $2)
			AND (title ILIKE $3 OR snippet ILIKE $3)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($4::int, 0) OFFSET $5`

	pattern := "%" + escapeLike(strings.TrimSpace(q.Text)) + "%"
	var docs []models.NewsDocument
	err := r.read(ctx, q.TenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, q.TenantID, q.JobID, pattern, q.Limit, max(q.Offset, 0))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var d models.NewsDocument
			if err := rows.Scan(
				&d.ID, &d.TenantID, &d.JobID, &d.RawPayloadID, &d.SourceProvider, &d.NormalizationVersion,
				&d.SourceURL, &d.Title, &d.Snippet, &d.Author, &d.Language, &d.PublishedAt,
				&d.DocumentHash, &d.CreatedAt,
			); err != nil {
				return err
			}
			docs = append(docs, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list news documents: %w", err)
	}
	return docs, nil
}

const quoteColumns = `id, tenant_id, provider, schema_version, raw_payload_id, symbol, price,
	change_percent, as_of, fetched_at`

// GetLatestQuote returns the newest quote for symbol
func (r *PostgresRepository) GetLatestQuote(ctx context.Context, tenantID uuid.UUID, symbol string) (*models.MarketQuote, error) {
	query := `
		SELECT ` + quoteColumns + `
		FROM market_quotes
		WHERE tenant_id = $1 AND symbol = $2
		ORDER BY as_of DESC, fetched_at DESC
		LIMIT 1`

	q := &models.MarketQuote{}
	err := r.read(ctx, tenantID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, tenantID, symbol).Scan(
			&q.ID, &q.TenantID, &q.Provider, &q.SchemaVersion, &q.RawPayloadID, &q.Symbol, &q.Price,
			&q.ChangePercent, &q.AsOf, &q.FetchedAt,
		)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest quote: %w", err)
	}
	return q, nil
}

const barColumns = `id, tenant_id, provider, schema_version, raw_payload_id, symbol, timeframe, ts,
	open, high, low, close, volume, fetched_at`

// ListTimeseries returns bars for one symbol, newest first
func (r *PostgresRepository) ListTimeseries(ctx context.Context, q models.TimeseriesQuery) ([]models.MarketBar, error) {
	query := `
		SELECT ` + barColumns + `
		FROM market_timeseries
		WHERE tenant_id = $1
			AND symbol = $2
			AND ($3::text = '' OR timeframe = $3)
			AND ($4::timestamptz IS NULL OR ts >= $4)
			AND ($5::timestamptz IS NULL OR ts <= $5)
		ORDER BY ts DESC, provider
		LIMIT NULLIF($6::int, 0)`

	var bars []models.MarketBar
	err := r.read(ctx, q.TenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, q.TenantID, q.Symbol, q.Timeframe, q.Start, q.End, q.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var b models.MarketBar
			if err := rows.Scan(
				&b.ID, &b.TenantID, &b.Provider, &b.SchemaVersion, &b.RawPayloadID, &b.Symbol, &b.Timeframe,
				&b.TS, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.FetchedAt,
			); err != nil {
				return err
			}
			bars = append(bars, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list timeseries: %w", err)
	}
	return bars, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

const runColumns = `id, tenant_id, run_type, status, model_name, prompt_version, input_snapshot_uri,
	input_payload, graph_version, execution_mode, replay_source_run_id, error_message, output_payload,
	completed_at, created_at, updated_at`

func (r *PostgresRepository) CreateRun(ctx context.Context, run *models.IntelRun) error {
	query := `
		INSERT INTO intel_runs (id, tenant_id, run_type, status, model_name, prompt_version,
			input_snapshot_uri, input_payload, graph_version, execution_mode, replay_source_run_id,
			output_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

	err := r.write(ctx, run.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			run.ID, run.TenantID, run.RunType, run.Status, run.ModelName, run.PromptVersion,
			run.InputSnapshotURI, emptyObjectIfNil(run.InputPayload), run.GraphVersion, run.ExecutionMode,
			run.ReplaySourceRunID, emptyObjectIfNil(run.OutputPayload), run.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create intel run: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*models.IntelRun, error) {
	query := `SELECT ` + runColumns + ` FROM intel_runs WHERE tenant_id = $1 AND id = $2`

	run := &models.IntelRun{}
	err := r.read(ctx, tenantID, func(tx pgx.Tx) error {
		var input, output []byte
		if err := tx.QueryRow(ctx, query, tenantID, runID).Scan(
			&run.ID, &run.TenantID, &run.RunType, &run.Status, &run.ModelName, &run.PromptVersion,
			&run.InputSnapshotURI, &input, &run.GraphVersion, &run.ExecutionMode, &run.ReplaySourceRunID,
			&run.ErrorMessage, &output, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
		); err != nil {
			return err
		}
		run.InputPayload = json.RawMessage(input)
		run.OutputPayload = json.RawMessage(output)
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get intel run: %w", err)
	}
	return run, nil
}

func (r *PostgresRepository) MarkRunRunning(ctx context.Context, tenantID, runID uuid.UUID, at time.Time) error {
	query := `
		UPDATE intel_runs SET status = 'running', error_message = NULL, updated_at = $3
		WHERE tenant_id = $1 AND id = $2`
	return r.execRun(ctx, tenantID, query, "mark run running", tenantID, runID, at)
}

func (r *PostgresRepository) CompleteRun(ctx context.Context, tenantID, runID uuid.UUID, output json.RawMessage, at time.Time) error {
	query := `
		UPDATE intel_runs
		SET status = 'completed', output_payload = $3, error_message = NULL, completed_at = $4, updated_at = $4
		WHERE tenant_id = $1 AND id = $2`
	return r.execRun(ctx, tenantID, query, "complete run", tenantID, runID, emptyObjectIfNil(output), at)
}

func (r *PostgresRepository) FailRun(ctx context.Context, tenantID, runID uuid.UUID, message string, at time.Time) error {
	query := `
		UPDATE intel_runs
		SET status = 'failed', error_message = $3, completed_at = $4, updated_at = $4
		WHERE tenant_id = $1 AND id = $2`
	return r.execRun(ctx, tenantID, query, "fail run", tenantID, runID, models.TruncateError(message), at)
}

func (r *PostgresRepository) execRun(ctx context.Context, tenantID uuid.UUID, query, op string, args ...any) error {
	err := r.write(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRunNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return ErrRunNotFound
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

func (r *PostgresRepository) AppendAudit(ctx context.Context, a *models.ToolCallAudit) error {
	query := `
		INSERT INTO tool_call_audit (id, tenant_id, run_id, tool_name, status, request_payload,
			response_payload, citations, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`

	citations := a.Citations
	if citations == nil {
		citations = []string{}
	}
	err := r.write(ctx, a.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			a.ID, a.TenantID, a.RunID, a.ToolName, a.Status, emptyObjectIfNil(a.RequestPayload),
			emptyObjectIfNil(a.ResponsePayload), citations, a.Signature, a.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append tool call audit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAudits(ctx context.Context, tenantID, runID uuid.UUID) ([]models.ToolCallAudit, error) {
	query := `
		SELECT id, tenant_id, run_id, tool_name, status, request_payload, response_payload,
			citations, COALESCE(signature, ''), created_at
		FROM tool_call_audit
		WHERE tenant_id = $1 AND run_id = $2
		ORDER BY seq ASC`

	var audits []models.ToolCallAudit
	err := r.read(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, runID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var a models.ToolCallAudit
			var req, resp []byte
			if err := rows.Scan(
				&a.ID, &a.TenantID, &a.RunID, &a.ToolName, &a.Status, &req, &resp,
				&a.Citations, &a.Signature, &a.CreatedAt,
			); err != nil {
				return err
			}
			a.RequestPayload = json.RawMessage(req)
			a.ResponsePayload = json.RawMessage(resp)
			audits = append(audits, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tool call audits: %w", err)
	}
	return audits, nil
}
