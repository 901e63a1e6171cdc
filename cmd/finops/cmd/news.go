package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/finops/internal/models"
)

var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Read canonical news documents",
}

var newsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List news documents, newest first",
	Example: `  finops news list --tenant 6f1c... --q nvidia --limit 20 --offset 20`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, err := newsQuery(cmd)
		if err != nil {
			return err
		}

		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		docs, err := repo.ListNews(cmd.Context(), q)
		if err != nil {
			return err
		}
		if docs == nil {
			docs = []models.NewsDocument{}
		}
		return printResult(cmd.OutOrStdout(), docs)
	},
}

func newsQuery(cmd *cobra.Command) (models.NewsQuery, error) {
	var q models.NewsQuery
	tenant, _ := cmd.Flags().GetString("tenant")
	tenantID, err := parseID("tenant", tenant)
	if err != nil {
		return q, err
	}
	q.TenantID = tenantID

	if job, _ := cmd.Flags().GetString("job"); job != "" {
		jobID, err := parseID("job", job)
		if err != nil {
			return q, err
		}
		q.JobID = &jobID
	}

	text, _ := cmd.Flags().GetString("q")
	q.Text = strings.TrimSpace(text)
	if len(q.Text) > 128 {
		return q, fmt.Errorf("--q must be at most 128 characters")
	}
	q.Limit, _ = cmd.Flags().GetInt("limit")
	if q.Limit < 1 || q.Limit > 500 {
		return q, fmt.Errorf("--limit must be between 1 and 500")
	}
	q.Offset, _ = cmd.Flags().GetInt("offset")
	if q.Offset < 0 {
		return q, fmt.Errorf("--offset must not be negative")
	}
	return q, nil
}

func init() {
	rootCmd.AddCommand(newsCmd)
	newsCmd.AddCommand(newsListCmd)

	newsListCmd.Flags().String("tenant", "", "tenant ID (UUID)")
	newsListCmd.Flags().String("job", "", "only documents from this job (UUID)")
	newsListCmd.Flags().String("q", "", "case-insensitive text match on title or snippet")
	newsListCmd.Flags().Int("limit", 100, "page size (1-500)")
	newsListCmd.Flags().Int("offset", 0, "rows to skip")
}
