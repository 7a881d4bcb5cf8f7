package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/materialshub/catalog-ingest/internal/model"
)

var runFromStage string

var runCmd = &cobra.Command{
	Use:   "run <document-id>",
	Short: "Submit a document and process it to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Engine.Submit(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("job %s submitted for document %s\n", job.ID, job.DocumentID)

		if err := env.Engine.Run(ctx, job.ID); err != nil {
			return err
		}
		fmt.Printf("job %s completed\n", job.ID)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a job from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobID := args[0]
		if runFromStage != "" {
			stage := model.Stage(runFromStage)
			if !stage.Valid() {
				return eris.Errorf("invalid stage %q", runFromStage)
			}
			if err := env.Engine.RestartFrom(ctx, jobID, stage); err != nil {
				return err
			}
		} else if err := env.Engine.Run(ctx, jobID); err != nil {
			return err
		}
		fmt.Printf("job %s completed\n", jobID)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or processing job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Engine.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("job %s cancelled\n", args[0])
		return nil
	},
}

func init() {
	resumeCmd.Flags().StringVar(&runFromStage, "from-stage", "", "discard checkpoints and restart from this stage")
	rootCmd.AddCommand(runCmd, resumeCmd, cancelCmd)
}
