package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civicband/civic-observer-sub002/internal/repo"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Operator actions on ingestion jobs",
}

var failReason string

var jobsFailCmd = &cobra.Command{
	Use:   "fail <job-id>",
	Short: "Force-fail a wedged running job so it can be resumed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline()
		if err != nil {
			return err
		}
		jobID := args[0]
		reason := failReason
		if reason == "" {
			reason = "failed by operator"
		}
		if err := repo.FailJob(cmd.Context(), p.db, jobID, reason); err != nil {
			if repo.IsNotFound(err) {
				return fmt.Errorf("job %s not found or not in a failable state", jobID)
			}
			return err
		}
		fmt.Printf("job %s marked failed\n", jobID)
		return nil
	},
}

func init() {
	jobsFailCmd.Flags().StringVar(&failReason, "reason", "", "reason recorded on the job")
	jobsCmd.AddCommand(jobsFailCmd)
}
