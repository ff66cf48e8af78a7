package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the taskhook service",
	Long: `Check the health status of the taskhook service. By default the HTTP
/healthz endpoint is used; --grpc queries the gRPC health service instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		useGRPC, _ := cmd.Flags().GetBool("grpc")

		if useGRPC {
			addr, _ := cmd.Flags().GetString("grpc-addr")
			service, _ := cmd.Flags().GetString("service")
			status, err := checkGRPCHealth(addr, service)
			if err != nil {
				fmt.Fprintf(out, "✗ Service is unhealthy: %v\n", err)
				return nil
			}
			if status == healthpb.HealthCheckResponse_SERVING {
				fmt.Fprintln(out, "✓ Service is healthy (gRPC)")
			} else {
				fmt.Fprintf(out, "✗ Service is %s (gRPC)\n", status)
			}
			return nil
		}

		var st struct {
			OK      bool   `json:"ok"`
			Message string `json:"message"`
			Driver  string `json:"driver"`
		}
		err := callAPI("GET", "/healthz", nil, &st)
		if err != nil {
			fmt.Fprintf(out, "✗ Service is unhealthy: %v\n", err)
			return nil
		}
		if outputJSON {
			printOutput(out, st)
			return nil
		}
		fmt.Fprintf(out, "✓ Service is healthy (HTTP, store: %s)\n", st.Driver)
		return nil
	},
}

func checkGRPCHealth(addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().Bool("grpc", false, "use the gRPC health service")
	healthCmd.Flags().String("grpc-addr", "localhost:50051", "gRPC health address (host:port)")
	healthCmd.Flags().String("service", "", "gRPC service name to check (empty checks the server as a whole)")
}
