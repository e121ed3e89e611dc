package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/gobancho/internal/rpc"
)

// errIdentifierRequired indicates a show/delete call without a target.
var errIdentifierRequired = errors.New("a session id, user id, or username is required")

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage live sessions",
	}

	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionDeleteCmd())

	return cmd
}

// queryFromArg maps a CLI identifier to the wire query form: numeric
// values are user ids, 26-character ULIDs are session ids, everything
// else is a username.
func queryFromArg(arg string) (rpc.RawUserQuery, error) {
	if arg == "" {
		return rpc.RawUserQuery{}, errIdentifierRequired
	}
	if id, err := strconv.ParseInt(arg, 10, 32); err == nil {
		return rpc.QueryByUserID(int32(id)), nil
	}
	if len(arg) == 26 {
		return rpc.RawUserQuery{Kind: rpc.QueryKindSessionID, SessionID: arg}, nil
	}
	return rpc.QueryByUsername(arg), nil
}

// --- sessions list ---

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all live sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := client.list.CallUnary(cmd.Context(), connect.NewRequest(&rpc.ListSessionsRequest{}))
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out, err := formatSessions(resp.Msg.Sessions, outputFormat)
			if err != nil {
				return fmt.Errorf("format sessions: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- sessions show ---

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id|username|session-id>",
		Short: "Show one session's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := queryFromArg(args[0])
			if err != nil {
				return err
			}

			resp, err := client.get.CallUnary(cmd.Context(), connect.NewRequest(&rpc.GetSessionRequest{
				Query: query,
			}))
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}

			out, err := formatSession(resp.Msg.Session, outputFormat)
			if err != nil {
				return fmt.Errorf("format session: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- sessions delete ---

func sessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user-id|username|session-id>",
		Short: "Force-delete a live session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := queryFromArg(args[0])
			if err != nil {
				return err
			}

			resp, err := client.del.CallUnary(cmd.Context(), connect.NewRequest(&rpc.DeleteSessionRequest{
				Query: query,
			}))
			if err != nil {
				return fmt.Errorf("delete session: %w", err)
			}

			if resp.Msg.Deleted {
				fmt.Println("session deleted")
			} else {
				fmt.Println("no matching session")
			}

			return nil
		},
	}
}
