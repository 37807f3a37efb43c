package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/fieldsync/internal/action"
)

type queueListing struct {
	Count   int             `json:"count"`
	Actions []action.Action `json:"actions"`
}

// queueCmd represents the queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline queue",
	Long:  `List or clear the actions waiting in the agent's offline queue.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued actions in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		var listing queueListing
		if _, err := doJSON(http.MethodGet, "/v1/queue", nil, &listing); err != nil {
			return fmt.Errorf("failed to list queue: %w", err)
		}

		if outputJSON {
			printOutput(listing)
			return nil
		}
		if listing.Count == 0 {
			fmt.Fprintln(out, "Queue is empty")
			return nil
		}
		fmt.Fprintf(out, "%d queued action(s):\n", listing.Count)
		for i, a := range listing.Actions {
			fmt.Fprintf(out, "  %d. %s %s\n", i+1, a.Method(), a.Endpoint)
			fmt.Fprintf(out, "     ID: %s\n", a.ID)
			fmt.Fprintf(out, "     Queued: %s\n", a.EnqueuedAt.Format(time.RFC3339))
			if a.Options.Body != "" {
				fmt.Fprintf(out, "     Body: %d bytes\n", len(a.Options.Body))
			}
		}
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued action",
	Long: `Discard every queued action. The requests they describe are never sent.

Example:
  fieldctl queue clear --yes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to clear the queue without --yes")
		}
		if _, err := doJSON(http.MethodDelete, "/v1/queue", nil, nil, http.StatusNoContent); err != nil {
			return fmt.Errorf("failed to clear queue: %w", err)
		}
		fmt.Fprintln(out, "Queue cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)

	queueClearCmd.Flags().Bool("yes", false, "confirm discarding queued actions")
}
