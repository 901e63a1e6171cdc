// Package database holds helpers shared by pgx-backed repositories:
// per-operation timeouts and tenant-scoped transactions.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Standard timeout durations for database operations
const (
	// DefaultQueryTimeout is the timeout for read queries
	DefaultQueryTimeout = 5 * time.Second

	// DefaultWriteTimeout is the timeout for write operations
	DefaultWriteTimeout = 10 * time.Second

	// DefaultBulkTimeout is the timeout for bulk upserts and migrations
	DefaultBulkTimeout = 30 * time.Second
)

// TenantSetting is the transaction-local setting that row-level security
// policies compare tenant_id against.
const TenantSetting = "app.current_tenant_id"

// Timeouts bounds each class of database operation.
type Timeouts struct {
	Query time.Duration
	Write time.Duration
	Bulk  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Query: DefaultQueryTimeout, Write: DefaultWriteTimeout, Bulk: DefaultBulkTimeout}
}

// QueryContext derives a context for SELECT queries and read operations.
func (t Timeouts) QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(parent, t.Query, DefaultQueryTimeout)
}

// WriteContext derives a context for single-row INSERT and UPDATE operations.
func (t Timeouts) WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(parent, t.Write, DefaultWriteTimeout)
}

// BulkContext derives a context for multi-row upserts.
func (t Timeouts) BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(parent, t.Bulk, DefaultBulkTimeout)
}

func withTimeout(parent context.Context, d, fallback time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = fallback
	}
	return context.WithTimeout(parent, d)
}

// TxBeginner is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// InTenantTx runs fn in a transaction whose TenantSetting is tenant. The
// transaction commits when fn returns nil and rolls back otherwise.
func InTenantTx(ctx context.Context, db TxBeginner, tenant uuid.UUID, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", TenantSetting, tenant.String()); err != nil {
			return fmt.Errorf("failed to set tenant scope: %w", err)
		}
		return fn(tx)
	})
}
