package cmd

import (
	"fmt"
	"os"
	"time"

	"bragi/internal/clix"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// usageCmd summarizes recorded provider usage and cost.
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show recorded provider usage and cost",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		totalCost, inTokens, outTokens, err := appInstance.UsageStore.UsageSummary(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to summarize usage: %w", err)
		}
		fmt.Printf("Total cost: $%.4f (input tokens: %d, output tokens: %d)\n", totalCost, inTokens, outTokens)

		page := clix.ParsePagination(cmd.Flags())
		entries, err := appInstance.UsageStore.ListUsage(cmd.Context(), page.Limit, page.Offset)
		if err != nil {
			return fmt.Errorf("failed to list usage: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Timestamp", "Provider", "Service", "Model", "In", "Out", "Cost"})
		table.SetBorder(true)

		for _, e := range entries {
			table.Append([]string{
				e.Timestamp.Format(time.RFC3339),
				e.ProviderName,
				e.ServiceType,
				e.ModelName,
				fmt.Sprintf("%d", e.InputTokens),
				fmt.Sprintf("%d", e.OutputTokens),
				fmt.Sprintf("$%.6f", e.Cost),
			})
		}

		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().IntP("limit", "n", 20, "Maximum number of usage entries to list")
	usageCmd.Flags().IntP("offset", "o", 0, "Number of usage entries to skip")
}
