package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/austindbirch/fieldsync/internal/replay"
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run one replay pass now",
	Long: `Ask the agent to re-send every queued action once, in order.

Delivered actions leave the queue; failed ones stay for the next pass. The
command fails if a pass is already running; the agent then runs another pass
as soon as the current one ends.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var res replay.Result
		if _, err := doJSON(http.MethodPost, "/v1/replay", nil, &res); err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}

		if outputJSON {
			printOutput(res)
			return nil
		}
		fmt.Fprintf(out, "Replay pass finished in %s\n", res.Duration)
		fmt.Fprintf(out, "  Attempted: %d\n", res.Attempted)
		fmt.Fprintf(out, "  Delivered: %d\n", res.Delivered)
		fmt.Fprintf(out, "  Retained: %d\n", res.Retained)
		if res.DeadLettered > 0 {
			fmt.Fprintf(out, "  Dead-lettered: %d\n", res.DeadLettered)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
