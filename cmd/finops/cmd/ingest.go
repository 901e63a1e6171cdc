package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/finops/internal/ingestion"
	"github.com/telhawk-systems/finops/internal/models"
	"github.com/telhawk-systems/finops/internal/queue"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingestion job commands",
	Long:  "Submit, process and inspect provider ingestion jobs",
}

var ingestSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an ingestion job",
	Long: `Create an ingestion job and enqueue it for the workers. Resubmitting
with the same idempotency key returns the existing job and enqueues it again.`,
	Example: `  finops ingest submit --tenant 6f1c... --provider tavily --resource news_search \
    --key nvda-news-001 --payload '{"query":"nvidia earnings"}'`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req, err := submitRequest(cmd)
		if err != nil {
			return err
		}

		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		js, err := openJetStream("finops-cli")
		if err != nil {
			return err
		}
		defer js.Close()
		if err := queue.Setup(cmd.Context(), js, cfg.NATS); err != nil {
			return err
		}

		svc := ingestion.NewService(repo, queue.New(js, cfg.NATS.Subject), logger)
		summary, err := svc.CreateJob(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), summary)
	},
}

var ingestProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Process an ingestion job synchronously",
	Long:  "Run one ingestion job in this process, bypassing the queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenantID, jobID, err := jobFlags(cmd)
		if err != nil {
			return err
		}

		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		rdb, err := openRedis(cmd.Context())
		if err != nil {
			return err
		}
		defer rdb.Close()

		result, err := newOrchestrator(repo, rdb).ProcessJob(cmd.Context(), tenantID, jobID)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), result)
	},
}

var ingestStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show an ingestion job with its record counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenantID, jobID, err := jobFlags(cmd)
		if err != nil {
			return err
		}

		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		summary, err := ingestion.NewService(repo, nil, logger).GetJob(cmd.Context(), tenantID, jobID)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), summary)
	},
}

func submitRequest(cmd *cobra.Command) (*models.CreateJobRequest, error) {
	tenant, _ := cmd.Flags().GetString("tenant")
	tenantID, err := parseID("tenant", tenant)
	if err != nil {
		return nil, err
	}
	provider, _ := cmd.Flags().GetString("provider")
	resource, _ := cmd.Flags().GetString("resource")
	key, _ := cmd.Flags().GetString("key")
	payload, _ := cmd.Flags().GetString("payload")
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("--payload must be valid JSON")
	}
	return &models.CreateJobRequest{
		TenantID:       tenantID,
		Provider:       provider,
		Resource:       resource,
		IdempotencyKey: key,
		Payload:        json.RawMessage(payload),
	}, nil
}

func jobFlags(cmd *cobra.Command) (tenantID, jobID uuid.UUID, err error) {
	tenant, _ := cmd.Flags().GetString("tenant")
	job, _ := cmd.Flags().GetString("job")
	if tenantID, err = parseID("tenant", tenant); err != nil {
		return tenantID, jobID, err
	}
	jobID, err = parseID("job", job)
	return tenantID, jobID, err
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.AddCommand(ingestSubmitCmd, ingestProcessCmd, ingestStatusCmd)

	ingestSubmitCmd.Flags().String("tenant", "", "tenant ID (UUID)")
	ingestSubmitCmd.Flags().String("provider", "", "provider: tavily, serper, serpapi, twelvedata, alphavantage")
	ingestSubmitCmd.Flags().String("resource", "", "resource: news_search, market_quote_refresh, market_timeseries_backfill")
	ingestSubmitCmd.Flags().String("key", "", "idempotency key")
	ingestSubmitCmd.Flags().String("payload", "{}", "provider request payload as JSON")

	for _, c := range []*cobra.Command{ingestProcessCmd, ingestStatusCmd} {
		c.Flags().String("tenant", "", "tenant ID (UUID)")
		c.Flags().String("job", "", "job ID (UUID)")
	}
}
