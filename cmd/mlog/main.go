package main

import (
	"fmt"
	"os"

	"github.com/alfredjeanlab/memlog/internal/client"
	"github.com/alfredjeanlab/memlog/internal/ui"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	authToken  string
	jsonOutput bool
	noColor    bool

	recordClient client.RecordClient
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var rootCmd = &cobra.Command{
	Use:           "mlog <command>",
	Short:         "Durable conversational message log",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.ForceNoColor()
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		recordClient = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if recordClient != nil {
			recordClient.Close()
		}
	},
}

// newClient builds the client for the selected transport.
func newClient() (client.RecordClient, error) {
	switch transport {
	case "http":
		return client.NewHTTPClient(httpURL, authToken), nil
	case "grpc":
		c, err := client.NewGRPCClient(serverAddr, authToken)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
	}
}

func init() {
	// A .env file in the working directory is optional.
	_ = godotenv.Load()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&httpURL, "http-url", envOr("MEMLOG_HTTP_URL", "http://localhost:8080"), "HTTP server URL")
	flags.StringVar(&serverAddr, "server", envOr("MEMLOG_SERVER", "localhost:9090"), "gRPC server address")
	flags.StringVar(&transport, "transport", envOr("MEMLOG_TRANSPORT", "http"), "transport protocol (http or grpc)")
	flags.StringVar(&authToken, "token", os.Getenv("MEMLOG_AUTH_TOKEN"), "bearer token")
	flags.BoolVar(&jsonOutput, "json", false, "output as JSON")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "window", Title: "Window:"},
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	rootCmd.AddCommand(
		confirmCmd, windowCmd, closeCmd,
		recordCmd, recordsCmd, userRecordsCmd, ingestCmd, purgeCmd,
		archiveCmd, watchCmd, healthCmd, serveCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
