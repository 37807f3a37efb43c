package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

type connectivityState struct {
	Online bool `json:"online"`
}

// connectivityCmd represents the connectivity command
var connectivityCmd = &cobra.Command{
	Use:     "connectivity",
	Aliases: []string{"conn"},
	Short:   "Show or override the agent's online state",
}

var connectivityStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the agent considers itself online",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st connectivityState
		if _, err := doJSON(http.MethodGet, "/v1/connectivity", nil, &st); err != nil {
			return fmt.Errorf("failed to get connectivity: %w", err)
		}
		printState(st)
		return nil
	},
}

var connectivityOnlineCmd = &cobra.Command{
	Use:   "online",
	Short: "Report the device online (starts a replay pass)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setConnectivity(true)
	},
}

var connectivityOfflineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Report the device offline (new requests are queued)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setConnectivity(false)
	},
}

func setConnectivity(online bool) error {
	var st connectivityState
	if _, err := doJSON(http.MethodPut, "/v1/connectivity", connectivityState{Online: online}, &st); err != nil {
		return fmt.Errorf("failed to set connectivity: %w", err)
	}
	printState(st)
	return nil
}

func printState(st connectivityState) {
	if outputJSON {
		printOutput(st)
		return
	}
	if st.Online {
		fmt.Fprintln(out, "✓ Agent is online")
	} else {
		fmt.Fprintln(out, "✗ Agent is offline")
	}
}

func init() {
	rootCmd.AddCommand(connectivityCmd)
	connectivityCmd.AddCommand(connectivityStatusCmd)
	connectivityCmd.AddCommand(connectivityOnlineCmd)
	connectivityCmd.AddCommand(connectivityOfflineCmd)
}
