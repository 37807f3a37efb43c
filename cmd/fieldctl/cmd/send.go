package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type sendRequest struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method,omitempty"`
	Body     string            `json:"body,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [method] [endpoint]",
	Short: "Send a request through the agent",
	Long: `Send a REST request through the agent. When the agent is offline the
request is queued and replayed later.

Examples:
  fieldctl send GET /api/leaderboard
  fieldctl send POST /api/leads/12/notes --data '{"note":"left flyer"}'
  fieldctl send PUT /api/routes/3 -H 'X-Rep: 7' --data @stop.json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		rawHeaders, _ := cmd.Flags().GetStringArray("header")

		body, err := readData(data)
		if err != nil {
			return err
		}
		headers, err := parseHeaders(rawHeaders)
		if err != nil {
			return err
		}

		resp, err := makeHTTPRequest(http.MethodPost, "/v1/requests", sendRequest{
			Endpoint: args[1],
			Method:   strings.ToUpper(args[0]),
			Body:     body,
			Headers:  headers,
		})
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		defer resp.Body.Close()
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusAccepted {
			var q struct {
				Queued bool   `json:"queued"`
				ID     string `json:"id"`
			}
			if json.Unmarshal(payload, &q) == nil && q.Queued {
				if outputJSON {
					printOutput(q)
				} else {
					fmt.Fprintf(out, "Offline: request queued for replay (id %s)\n", q.ID)
				}
				return nil
			}
		}

		if !outputJSON {
			fmt.Fprintf(out, "HTTP %s\n", resp.Status)
		}
		if len(payload) > 0 {
			fmt.Fprintln(out, strings.TrimRight(string(payload), "\n"))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("request failed: %s", resp.Status)
		}
		return nil
	},
}

// readData returns the --data value, reading a file when it starts with @.
func readData(data string) (string, error) {
	name, ok := strings.CutPrefix(data, "@")
	if !ok {
		return data, nil
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(b), nil
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringP("data", "d", "", "request body, or @file to read it from a file")
	sendCmd.Flags().StringArrayP("header", "H", nil, "request header as 'Key: Value' (repeatable)")
}
