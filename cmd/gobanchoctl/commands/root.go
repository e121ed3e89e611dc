package commands

import (
	"fmt"
	"net/http"
	"os"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/gobancho/internal/rpc"
)

// stateClients bundles the per-procedure ConnectRPC clients for the
// bancho-state service, initialized in PersistentPreRunE.
type stateClients struct {
	get    *connect.Client[rpc.GetSessionRequest, rpc.GetSessionResponse]
	list   *connect.Client[rpc.ListSessionsRequest, rpc.ListSessionsResponse]
	del    *connect.Client[rpc.DeleteSessionRequest, rpc.DeleteSessionResponse]
	watch  *connect.Client[rpc.WatchSessionEventsRequest, rpc.SessionEventMessage]
	pubkey *connect.Client[rpc.GetPublicKeyRequest, rpc.GetPublicKeyResponse]
}

var (
	// client holds the daemon connection, initialized per invocation.
	client stateClients

	// outputFormat controls the output format for all commands.
	outputFormat string

	// serverAddr is the daemon address (host:port) for the ConnectRPC
	// connection.
	serverAddr string
)

// rootCmd is the top-level cobra command for gobanchoctl.
var rootCmd = &cobra.Command{
	Use:   "gobanchoctl",
	Short: "CLI client for the gobancho daemon",
	Long:  "gobanchoctl communicates with the gobancho daemon via ConnectRPC to inspect and manage live sessions.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		base := "http://" + serverAddr
		httpClient := http.DefaultClient
		codec := connect.WithCodec(rpc.JSONCodec{})

		client = stateClients{
			get:    connect.NewClient[rpc.GetSessionRequest, rpc.GetSessionResponse](httpClient, base+rpc.ProcGetSession, codec),
			list:   connect.NewClient[rpc.ListSessionsRequest, rpc.ListSessionsResponse](httpClient, base+rpc.ProcListSessions, codec),
			del:    connect.NewClient[rpc.DeleteSessionRequest, rpc.DeleteSessionResponse](httpClient, base+rpc.ProcDeleteSession, codec),
			watch:  connect.NewClient[rpc.WatchSessionEventsRequest, rpc.SessionEventMessage](httpClient, base+rpc.ProcWatchSessionEvents, codec),
			pubkey: connect.NewClient[rpc.GetPublicKeyRequest, rpc.GetPublicKeyResponse](httpClient, base+rpc.ProcGetPublicKey, codec),
		}

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50051",
		"gobancho daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json, yaml")

	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
