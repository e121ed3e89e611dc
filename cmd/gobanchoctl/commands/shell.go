package commands

import (
	"fmt"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive gobanchoctl shell",
		Long:  "Launches a readline console bound to the gobanchoctl command tree, with history and completion.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := console.New("gobanchoctl")

			menu := app.ActiveMenu()
			menu.SetCommands(shellCommands)
			menu.Prompt().Primary = func() string { return "gobanchoctl> " }

			fmt.Println("gobancho interactive shell. Type 'help' for commands, Ctrl+D to quit.")
			if err := app.Start(); err != nil {
				return fmt.Errorf("run shell: %w", err)
			}

			return nil
		},
	}
}

// shellCommands builds a fresh command tree per console line. The shell
// command itself is excluded so the console cannot nest.
func shellCommands() *cobra.Command {
	root := &cobra.Command{
		Use:           "gobanchoctl",
		Short:         "gobancho daemon control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&outputFormat, "format", outputFormat,
		"output format: table, json, yaml")

	root.AddCommand(sessionCmd())
	root.AddCommand(monitorCmd())
	root.AddCommand(versionCmd())

	return root
}
