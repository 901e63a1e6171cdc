package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/finops/internal/models"
)

var intelCmd = &cobra.Command{
	Use:   "intel",
	Short: "Evidence runtime commands",
	Long:  "Execute intel runs over ingested evidence and replay them from their audit trail",
}

var intelRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a live intel run",
	Example: `  finops intel run --tenant 6f1c... --snapshot s3://snapshots/2024-02-01 --query "federal reserve"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		tenantID, err := parseID("tenant", tenant)
		if err != nil {
			return err
		}
		spec, err := runSpec(cmd)
		if err != nil {
			return err
		}

		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		run, err := newRuntime(repo).CreateRun(cmd.Context(), tenantID, spec)
		return reportRun(cmd.OutOrStdout(), run, err)
	},
}

var intelReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a run from its recorded tool calls",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		tenantID, err := parseID("tenant", tenant)
		if err != nil {
			return err
		}
		source, _ := cmd.Flags().GetString("source-run")
		sourceID, err := parseID("source-run", source)
		if err != nil {
			return err
		}
		var overrides models.ReplayOverrides
		overrides.RunType, _ = cmd.Flags().GetString("run-type")
		overrides.ModelName, _ = cmd.Flags().GetString("model")
		overrides.PromptVersion, _ = cmd.Flags().GetString("prompt-version")

		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		run, err := newRuntime(repo).CreateReplay(cmd.Context(), tenantID, sourceID, overrides)
		return reportRun(cmd.OutOrStdout(), run, err)
	},
}

var intelShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a run and its tool call audit trail",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		tenantID, err := parseID("tenant", tenant)
		if err != nil {
			return err
		}
		runFlag, _ := cmd.Flags().GetString("run")
		runID, err := parseID("run", runFlag)
		if err != nil {
			return err
		}

		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		rt := newRuntime(repo)
		run, err := rt.GetRun(cmd.Context(), tenantID, runID)
		if err != nil {
			return err
		}
		audits, err := rt.Audits(cmd.Context(), tenantID, runID)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), struct {
			Run    *models.IntelRun       `json:"run"`
			Audits []models.ToolCallAudit `json:"audits"`
		}{run, audits})
	},
}

// runSpec builds a live run spec from flags. An unset limit defers to
// intel.default_limit.
func runSpec(cmd *cobra.Command) (*models.RunSpec, error) {
	snapshot, _ := cmd.Flags().GetString("snapshot")
	query, _ := cmd.Flags().GetString("query")
	limit, _ := cmd.Flags().GetInt("limit")
	job, _ := cmd.Flags().GetString("job")
	runType, _ := cmd.Flags().GetString("run-type")
	model, _ := cmd.Flags().GetString("model")
	promptVersion, _ := cmd.Flags().GetString("prompt-version")

	input := map[string]any{}
	if query != "" {
		input["query"] = query
	}
	if cmd.Flags().Changed("limit") {
		input["limit"] = limit
	}
	if job != "" {
		jobID, err := parseID("job", job)
		if err != nil {
			return nil, err
		}
		input["job_id"] = jobID.String()
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	return &models.RunSpec{
		RunType:          runType,
		ModelName:        model,
		PromptVersion:    promptVersion,
		InputSnapshotURI: snapshot,
		InputPayload:     payload,
		ExecutionMode:    models.ModeLive,
	}, nil
}

// reportRun prints the run, failed or not, before returning the run error.
func reportRun(w io.Writer, run *models.IntelRun, runErr error) error {
	if run != nil {
		if err := printResult(w, run); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("intel run failed: %w", runErr)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(intelCmd)
	intelCmd.AddCommand(intelRunCmd, intelReplayCmd, intelShowCmd)

	intelRunCmd.Flags().String("tenant", "", "tenant ID (UUID)")
	intelRunCmd.Flags().String("snapshot", "", "input snapshot URI; also the query when --query is empty")
	intelRunCmd.Flags().String("query", "", "evidence search text")
	intelRunCmd.Flags().Int("limit", 5, "maximum documents to retrieve (1-20)")
	intelRunCmd.Flags().String("job", "", "restrict evidence to one ingestion job (UUID)")
	intelRunCmd.Flags().String("run-type", "market_brief", "run type label")
	intelRunCmd.Flags().String("model", "deterministic", "model name recorded on the run")
	intelRunCmd.Flags().String("prompt-version", "v1", "prompt version recorded on the run")

	intelReplayCmd.Flags().String("tenant", "", "tenant ID (UUID)")
	intelReplayCmd.Flags().String("source-run", "", "run to replay (UUID)")
	intelReplayCmd.Flags().String("run-type", "", "override the source run type")
	intelReplayCmd.Flags().String("model", "", "override the source model name")
	intelReplayCmd.Flags().String("prompt-version", "", "override the source prompt version")

	intelShowCmd.Flags().String("tenant", "", "tenant ID (UUID)")
	intelShowCmd.Flags().String("run", "", "run ID (UUID)")
}
