package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/fieldsync/internal/health"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the fieldsync agent",
	Long: `Check the agent using the gRPC health service, or /healthz with --http.

Use --upstream to ask whether the agent can currently reach the REST API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		useHTTP, _ := cmd.Flags().GetBool("http")
		upstream, _ := cmd.Flags().GetBool("upstream")

		if useHTTP {
			var st health.Status
			code, err := doJSON(http.MethodGet, "/healthz", nil, &st, http.StatusOK, http.StatusServiceUnavailable)
			if err != nil {
				return fmt.Errorf("HTTP health check failed: %w", err)
			}
			if outputJSON {
				printOutput(st)
				return nil
			}
			if code == http.StatusOK {
				fmt.Fprintf(out, "✓ Agent is healthy (HTTP), online=%v, queued=%d\n", st.Online, st.QueueDepth)
			} else {
				fmt.Fprintf(out, "✗ Agent is unhealthy (HTTP %d): %s\n", code, st.Message)
			}
			return nil
		}

		service := ""
		if upstream {
			service = health.UpstreamService
		}
		resp, err := checkGRPCHealth(cmd.Context(), service)
		if err != nil {
			fmt.Fprintf(out, "✗ Agent is unhealthy: %v\n", err)
			return nil
		}
		if outputJSON {
			printOutput(resp)
			return nil
		}
		if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			fmt.Fprintln(out, "✓ Agent is healthy")
		} else {
			fmt.Fprintf(out, "✗ Agent reports %s\n", resp.GetStatus())
		}
		return nil
	},
}

func checkGRPCHealth(ctx context.Context, service string) (*healthpb.HealthCheckResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	return healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
}

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().Bool("http", false, "use the HTTP /healthz endpoint instead of gRPC")
	healthCmd.Flags().Bool("upstream", false, "check REST API reachability instead of the agent")
}
