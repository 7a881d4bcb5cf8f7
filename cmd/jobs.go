package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/materialshub/catalog-ingest/internal/model"
	"github.com/materialshub/catalog-ingest/internal/store"
)

var (
	jobsStatus   string
	jobsDocument string
	jobsLimit    int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List ingestion jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Store.ListJobs(cmd.Context(), store.JobFilter{
			Status:     model.JobStatus(jobsStatus),
			DocumentID: jobsDocument,
			Limit:      jobsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tDOCUMENT\tSTATUS\tSTAGE\tPROGRESS\tRETRIES\tFAILED UNITS")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%d\t%d\n",
				j.ID, j.DocumentID, j.Status, j.CurrentStage, j.ProgressPercent, j.RetryCount, j.FailedUnits)
		}
		return w.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's progress, checkpoints, and routing audit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		status, err := env.Engine.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsCmd.Flags().StringVar(&jobsDocument, "document", "", "filter by document ID")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum jobs to list")
	rootCmd.AddCommand(jobsCmd, statusCmd)
}
