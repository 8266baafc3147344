package cmd

import (
	"github.com/spf13/cobra"
)

// batchCmd is the parent for batch job operations.
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Manage batch generation jobs",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)
}
