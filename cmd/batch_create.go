package cmd

import (
	"fmt"

	"bragi/internal/billing"

	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"
)

var (
	batchCreateProject     string
	batchCreateUser        string
	batchCreateTaskType    string
	batchCreateConcurrency int
	batchCreateCost        int64
	batchCreateBypass      bool
)

// batchCreateCmd starts a metered batch; each positional argument becomes one
// item's payload key.
var batchCreateCmd = &cobra.Command{
	Use:   "create [keys...]",
	Short: "Reserve credits and start a batch job",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		executor, ok := appInstance.Executor(batchCreateTaskType)
		if !ok {
			return fmt.Errorf("unknown task type %q", batchCreateTaskType)
		}

		cost := batchCreateCost
		if cost < 0 {
			cost = appInstance.Config.CostPerItem(batchCreateTaskType)
		}
		concurrency := batchCreateConcurrency
		if concurrency <= 0 {
			concurrency = appInstance.Config.Batch.DefaultConcurrency
		}

		job, err := appInstance.Settlement.RunMetered(cmd.Context(), billing.MeteredParams{
			ProjectID:   batchCreateProject,
			UserID:      batchCreateUser,
			TaskType:    batchCreateTaskType,
			Keys:        args,
			Concurrency: concurrency,
			CostPerItem: cost,
			Bypass:      batchCreateBypass,
		}, executor)
		if err != nil {
			return fmt.Errorf("failed to start batch: %w", err)
		}

		log.Printf("Batch %s started: %d items, concurrency %d", job.ID, job.TotalItems, job.Concurrency)
		fmt.Printf("Job ID: %s\n", job.ID)
		fmt.Println("Note: the process must stay alive until the batch finishes; jobs are not durable across restarts.")
		return nil
	},
}

func init() {
	batchCmd.AddCommand(batchCreateCmd)

	batchCreateCmd.Flags().StringVar(&batchCreateProject, "project", "default", "Owning project id")
	batchCreateCmd.Flags().StringVar(&batchCreateUser, "user", "", "Owning user id")
	batchCreateCmd.Flags().StringVar(&batchCreateTaskType, "type", "text", "Task type (text, image)")
	batchCreateCmd.Flags().IntVar(&batchCreateConcurrency, "concurrency", 0, "Worker count (0 = config default)")
	batchCreateCmd.Flags().Int64Var(&batchCreateCost, "cost", -1, "Credit cost per item (-1 = config default)")
	batchCreateCmd.Flags().BoolVar(&batchCreateBypass, "bypass", false, "Skip credit reservation (quota-exempt accounts only)")
	batchCreateCmd.MarkFlagRequired("user")
}
