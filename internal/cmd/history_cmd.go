package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/runger/xt/internal/config"
	"github.com/runger/xt/internal/history"
	xtlog "github.com/runger/xt/internal/log"
	"github.com/runger/xt/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "Show or clear per-command history",
	GroupID: groupSetup,
	Long: `Show or clear the history xt keeps for each command.

Without a subcommand, lists the commands that have history.

Examples:
  xt history              # Commands with history
  xt history list ag      # Recent "ag" arguments, newest first
  xt history clear open   # Forget "open" history`,
	Args: cobra.NoArgs,
	RunE: runHistoryCommands,
}

var historyListCmd = &cobra.Command{
	Use:   "list <command>",
	Short: "List the history of a command",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryList,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <command>",
	Short: "Clear the history of a command",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryClear,
}

func init() {
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// withHistory loads the config and opens the history store for fn.
func withHistory(fn func(*storage.SQLiteStore, *history.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := xtlog.Discard()
	if cfg.Log.Level == "debug" {
		logger = xtlog.New(&xtlog.Config{Debug: true})
	}
	store, hist, err := openHistory(cfg, config.DefaultPaths(), logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store, hist)
}

func runHistoryCommands(cmd *cobra.Command, args []string) error {
	return withHistory(func(store *storage.SQLiteStore, hist *history.Store) error {
		cmds, err := store.HistoryCommands(cmd.Context())
		if err != nil {
			return err
		}
		printHistoryCommands(cmd.OutOrStdout(), cmds, hist)
		return nil
	})
}

func printHistoryCommands(out io.Writer, cmds []string, hist *history.Store) {
	shown := 0
	for _, name := range cmds {
		n := len(hist.Get(name))
		if n == 0 {
			continue
		}
		fmt.Fprintf(out, "%s%s%s %s(%d)%s\n", colorCyan, name, colorReset, colorDim, n, colorReset)
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(out, "No history recorded.")
	}
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	return withHistory(func(_ *storage.SQLiteStore, hist *history.Store) error {
		for _, entry := range hist.Get(args[0]) {
			fmt.Fprintln(cmd.OutOrStdout(), entry)
		}
		return nil
	})
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	return withHistory(func(_ *storage.SQLiteStore, hist *history.Store) error {
		if err := hist.Clear(args[0]); err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s history cleared\n", args[0])
		return nil
	})
}
