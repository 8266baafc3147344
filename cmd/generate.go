package cmd

import (
	"fmt"
	"strings"

	"bragi/internal/pacing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// generateCmd runs a single interactive generation through the pacing lane,
// rendering queue position and retry status live from the event stream.
var generateCmd = &cobra.Command{
	Use:   "generate <prompt...>",
	Short: "Run one interactive generation call through the pacing lane",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		prompt := strings.Join(args, " ")
		queue := appInstance.Pacing

		events := queue.Subscribe()
		defer queue.Unsubscribe(events)

		taskID, resultCh, err := queue.Submit(cmd.Context(), prompt, appInstance.TextExecutor.InteractiveTask(prompt))
		if err != nil {
			return fmt.Errorf("failed to submit task: %w", err)
		}

		queued := color.New(color.FgYellow)
		running := color.New(color.FgCyan)
		retrying := color.New(color.FgMagenta)

		for {
			select {
			case ev := <-events:
				if ev.TaskID != taskID {
					continue
				}
				switch ev.Status {
				case pacing.StatusQueued:
					queued.Printf("queued (position %d)\n", ev.Position)
				case pacing.StatusRunning:
					running.Println("running...")
				case pacing.StatusRetrying:
					retrying.Printf("%s (attempt %d)\n", ev.Message, ev.Attempt)
				}
			case res := <-resultCh:
				if res.Err != nil {
					color.Red("failed: %v", res.Err)
					return res.Err
				}
				color.Green("done")
				fmt.Println(res.Ref)
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
