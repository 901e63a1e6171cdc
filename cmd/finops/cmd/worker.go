package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/finops/common/logging"
	"github.com/telhawk-systems/finops/common/messaging"
	"github.com/telhawk-systems/finops/internal/ingestion"
	"github.com/telhawk-systems/finops/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued ingestion jobs",
	Long: `Consume the durable ingestion queue and process jobs, with
worker.concurrency jobs in flight. Metrics and health are served on
worker.metrics_addr.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

const drainTimeout = 10 * time.Second

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	rdb, err := openRedis(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	js, err := openJetStream("finops-worker")
	if err != nil {
		return err
	}
	// Runs before the database and redis are closed so in-flight jobs can
	// finish and ack.
	defer func() {
		if err := js.Drain(drainTimeout); err != nil {
			logger.Warn("failed to drain NATS connection", logging.Error(err))
		}
	}()

	if err := queue.Setup(ctx, js, cfg.NATS); err != nil {
		return err
	}

	worker := ingestion.NewWorker(newOrchestrator(repo, rdb), logger)
	handler := worker.Handler()

	server := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           newOpsMux(repo, js),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting ingestion worker",
		"concurrency", cfg.Worker.Concurrency,
		"stream", cfg.NATS.Stream,
		"consumer", cfg.NATS.Consumer,
		"metrics_addr", cfg.Worker.MetricsAddr,
	)

	g, gctx := errgroup.WithContext(ctx)
	for range cfg.Worker.Concurrency {
		g.Go(func() error {
			return queue.Consume(gctx, js, cfg.NATS, handler)
		})
	}
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("ingestion worker stopped")
	return err
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status   string                 `json:"status"`
	Database string                 `json:"database"`
	NATS     messaging.HealthStatus `json:"nats"`
}

func newOpsMux(db Pinger, broker messaging.HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthHandler(db, broker))
	return mux
}

func healthHandler(db Pinger, broker messaging.HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Database: "ok"}
		if err := db.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
			logging.FromContext(ctx, logger).Warn("database health check failed", logging.Error(err))
		}
		resp.NATS = messaging.CheckClientHealth(ctx, broker)
		if !resp.NATS.Connected {
			resp.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
