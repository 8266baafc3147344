package cmd

import (
	"fmt"
	"os"
	"time"

	"bragi/internal/clix"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// batchListCmd represents the list command for batches
var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		page := clix.ParsePagination(cmd.Flags())
		jobs, err := appInstance.Registry.List(cmd.Context(), page.Limit, page.Offset)
		if err != nil {
			return fmt.Errorf("failed to list batch jobs: %w", err)
		}

		if len(jobs) == 0 {
			fmt.Println("No batch jobs found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Job ID", "Status", "Type", "User", "Done", "Succeeded", "Failed", "Total", "Created At"})
		table.SetBorder(true)
		table.SetRowLine(true)

		for _, job := range jobs {
			table.Append([]string{
				job.ID.String(),
				string(job.Status),
				job.TaskType,
				job.UserID,
				fmt.Sprintf("%d", job.Done),
				fmt.Sprintf("%d", job.Succeeded),
				fmt.Sprintf("%d", job.Failed),
				fmt.Sprintf("%d", job.TotalItems),
				job.CreatedAt.Format(time.RFC3339),
			})
		}

		table.Render()
		return nil
	},
}

func init() {
	batchCmd.AddCommand(batchListCmd)

	batchListCmd.Flags().IntP("limit", "n", 20, "Maximum number of batch jobs to list")
	batchListCmd.Flags().IntP("offset", "o", 0, "Number of batch jobs to skip")
}
