package commands

import (
	"fmt"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/gobancho/internal/rpc"
	appversion "github.com/dantte-lp/gobancho/internal/version"
)

func versionCmd() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print gobanchoctl build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Println(appversion.Full("gobanchoctl"))

			if remote {
				resp, err := client.pubkey.CallUnary(cmd.Context(), connect.NewRequest(&rpc.GetPublicKeyRequest{}))
				if err != nil {
					return fmt.Errorf("query daemon: %w", err)
				}
				fmt.Printf("  daemon signing key: %s\n", resp.Msg.PublicKey)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false,
		"also query the daemon's signing public key")

	return cmd
}
