package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// batchStatusCmd prints a snapshot of one job and its items.
var batchStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a batch job and its items",
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

		job := snap.Job
		fmt.Printf("Job %s: %s (%d/%d done, %d succeeded, %d failed)\n",
			job.ID, job.Status, job.Done, job.TotalItems, job.Succeeded, job.Failed)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Key", "Status", "Result / Error"})
		table.SetBorder(true)

		for _, item := range snap.Items {
			detail := item.ResultRef
			if item.ErrorText != "" {
				detail = item.ErrorText
			}
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			table.Append([]string{item.Key, string(item.Status), detail})
		}

		table.Render()
		return nil
	},
}

var batchCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cooperative cancellation of a batch job",
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

		if !appInstance.Runner.Cancel(cmd.Context(), jobID) {
			return fmt.Errorf("job %s cannot be cancelled", jobID)
		}
		fmt.Println("Cancellation requested. In-flight items run to completion.")
		return nil
	},
}

func init() {
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchCancelCmd)
}
