package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// creditsCmd is the parent for credit account operations.
var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage credit balances",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Show a user's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		balance, err := appInstance.Ledger.Balance(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		fmt.Printf("%s: %d credits\n", args[0], balance)
		return nil
	},
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <user-id> <amount>",
	Short: "Add credits to a user's balance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || amount <= 0 {
			return fmt.Errorf("invalid amount %q: must be a positive integer", args[1])
		}

		if err := appInstance.Ledger.Grant(cmd.Context(), args[0], amount); err != nil {
			return fmt.Errorf("failed to grant credits: %w", err)
		}

		balance, err := appInstance.Ledger.Balance(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		fmt.Printf("Granted %d credits. %s now has %d credits.\n", amount, args[0], balance)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsBalanceCmd)
	creditsCmd.AddCommand(creditsGrantCmd)
}
