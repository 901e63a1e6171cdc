package ingestion

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/telhawk-systems/finops/common/logging"
	"github.com/telhawk-systems/finops/common/messaging"
	"github.com/telhawk-systems/finops/internal/models"
	"github.com/telhawk-systems/finops/internal/providers"
	"github.com/telhawk-systems/finops/internal/queue"
	"github.com/telhawk-systems/finops/internal/repository"
)

// Processor runs one attempt of an ingestion job.
type Processor interface {
	ProcessJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.ProcessResult, error)
}

// Worker consumes queued work items and decides, per failure, whether the
// queue should redeliver.
type Worker struct {
	proc   Processor
	logger *slog.Logger
}

func NewWorker(proc Processor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{proc: proc, logger: logger.With(logging.Component("worker"))}
}

// Handler returns the message handler to register with the queue consumer.
func (w *Worker) Handler() messaging.MessageHandler {
	return queue.Handler(w.Handle)
}

// Handle processes one work item. Failures that redelivery cannot fix are
// marked terminal: unknown jobs, configuration errors, invalid requests and
// unsupported provider or resource pairs. Rate limiting, exhausted provider
// retries and storage errors are returned as-is so the queue redelivers
// after its backoff.
func (w *Worker) Handle(ctx context.Context, m queue.Message, deliveries uint64) error {
	ctx = logging.ContextWith(ctx,
		logging.TenantID(m.TenantID.String()),
		logging.JobID(m.JobID.String()),
	)
	logger := logging.FromContext(ctx, w.logger)

	_, err := w.proc.ProcessJob(ctx, m.TenantID, m.JobID)
	if err == nil {
		return nil
	}

	if terminal(err) {
		logger.Error("ingestion job failed permanently", logging.Attempt(int(deliveries)), logging.Error(err))
		return messaging.Terminal(err)
	}
	logger.Warn("ingestion job will be redelivered", logging.Attempt(int(deliveries)), logging.Error(err))
	return err
}

func terminal(err error) bool {
	switch {
	case errors.Is(err, repository.ErrJobNotFound):
		return true
	case errors.Is(err, ErrRateLimitExceeded):
		return false
	default:
		return !providers.IsRetryable(err)
	}
}
