package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
)

const (
	groupCommands = "commands"
	groupSetup    = "setup"
)

// filePath is the buffer exposed to the backend as the active editor.
var filePath string

var rootCmd = &cobra.Command{
	Use:   "xt [command...]",
	Short: "interactive command palette for an xt backend",
	Long: `xt - interactive command palette for an xt backend

Type a command, pick a completion, and xt asks the backend to run it.
Arguments are used as the initial command prefix:

  xt              # start with an empty prompt
  xt ag           # start at "ag "
  xt --file f.go  # let commands read and edit f.go`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPalette(cmd.Context(), prefixFor(args))
	},
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupCommands, Title: "Commands:"},
		&cobra.Group{ID: groupSetup, Title: "Setup:"},
	)
	rootCmd.PersistentFlags().StringVarP(&filePath, "file", "f", "", "file exposed to commands as the active editor")

	rootCmd.AddCommand(newPrefixCmd("ag", "Search file contents"))
	rootCmd.AddCommand(newPrefixCmd("open", "Open a file"))
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// newPrefixCmd returns a shortcut that starts the palette at "name ".
func newPrefixCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:     name + " [args...]",
		Short:   short,
		GroupID: groupCommands,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPalette(cmd.Context(), prefixFor(append([]string{name}, args...)))
		},
	}
}

// prefixFor joins args into a command prefix ending in a space.
func prefixFor(args []string) string {
	prefix := strings.TrimSpace(strings.Join(args, " "))
	if prefix == "" {
		return ""
	}
	return prefix + " "
}
