package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/finops/common/audit"
	"github.com/telhawk-systems/finops/common/database"
	"github.com/telhawk-systems/finops/internal/cache"
	"github.com/telhawk-systems/finops/internal/ingestion"
	"github.com/telhawk-systems/finops/internal/intel"
	"github.com/telhawk-systems/finops/internal/providers"
	"github.com/telhawk-systems/finops/internal/providers/registry"
	"github.com/telhawk-systems/finops/internal/ratelimit"
	"github.com/telhawk-systems/finops/internal/repository"

	natsclient "github.com/telhawk-systems/finops/common/messaging/nats"
)

func openRepository(ctx context.Context) (*repository.PostgresRepository, error) {
	repo, err := repository.NewPostgresRepository(ctx, cfg.Database.URL, repository.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
		Timeouts: database.Timeouts{
			Query: cfg.Database.QueryTimeout,
			Write: cfg.Database.WriteTimeout,
			Bulk:  cfg.Database.BulkTimeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return repo, nil
}

func openRedis(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func openJetStream(name string) (*natsclient.JetStreamClient, error) {
	natsCfg := natsclient.DefaultConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.Name = name
	natsCfg.Logger = logger
	js, err := natsclient.NewJetStreamClient(natsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return js, nil
}

func newRegistry() *registry.Registry {
	return registry.FromConfig(cfg.Providers, providers.Options{
		Timeout:    cfg.Providers.Timeout,
		MaxRetries: cfg.Providers.MaxRetries,
		Backoff:    cfg.Providers.Backoff,
		Logger:     logger,
	})
}

func newOrchestrator(store ingestion.Store, rdb *redis.Client) *ingestion.Orchestrator {
	return ingestion.NewOrchestrator(
		store,
		newRegistry(),
		ratelimit.NewRedisLimiter(rdb, logger),
		cache.NewRedisCache(rdb),
		ingestion.WithCacheTTL(cfg.Providers.CacheTTL),
		ingestion.WithLogger(logger),
	)
}

func newRuntime(store intel.Store) *intel.Runtime {
	signer := audit.NewSigner(cfg.Intel.AuditSigningKey)
	if !signer.Enabled() {
		logger.Warn("intel audit signing disabled; replay cannot detect tampered audit records")
	}
	return intel.NewRuntime(store,
		intel.WithSigner(signer),
		intel.WithDefaultLimit(cfg.Intel.DefaultLimit),
		intel.WithLogger(logger),
	)
}

func parseID(flag, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("--%s is required", flag)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return id, nil
}
