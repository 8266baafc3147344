package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// batchRetryCmd resets a finished job's failed items and re-drains them.
var batchRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Re-run the failed items of a finished batch job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		jobID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}

		snap, err := appInstance.Runner.Status(cmd.Context(), jobID)
		if err != nil {
			return fmt.Errorf("failed to get job status: %w", err)
		}

		executor, ok := appInstance.Executor(snap.Job.TaskType)
		if !ok {
			return fmt.Errorf("no executor for task type %q", snap.Job.TaskType)
		}

		if !appInstance.Runner.Retry(cmd.Context(), jobID, executor) {
			return fmt.Errorf("job %s is not retryable (still running or nothing failed)", jobID)
		}
		fmt.Printf("Retrying %d failed items of job %s.\n", snap.Job.Failed, jobID)
		fmt.Println("Note: the process must stay alive until the batch finishes; jobs are not durable across restarts.")
		return nil
	},
}

func init() {
	batchCmd.AddCommand(batchRetryCmd)
}
