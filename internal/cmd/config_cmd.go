package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/xt/internal/config"
)

var listKeys bool

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Show, get or set configuration values",
	Long: `Show, get or set xt configuration values.

Without arguments, prints the effective configuration as YAML.
With one argument, shows the value of that key.
With two arguments, sets the key to the value.

Configuration is stored in ~/.config/xt/config.yaml (XDG compliant),
or in $XT_CONFIG when set.

Keys are in the format: section.key
Sections: server, picker, history, log, editor

Examples:
  xt config                              # Effective configuration
  xt config --keys                       # List all keys
  xt config server.command               # Get the backend command
  xt config server.command "pyxt --stdio"
  xt config picker.debounce_ms 100`,
	GroupID: groupSetup,
	Args:    cobra.MaximumNArgs(2),
	RunE:    runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&listKeys, "keys", false, "List all keys with their values")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	out := cmd.OutOrStdout()

	switch len(args) {
	case 0:
		if listKeys {
			return listConfig(out, cfg)
		}
		return showConfig(out, cfg)
	case 1:
		return getConfig(out, cfg, args[0])
	case 2:
		return setConfig(out, cfg, args[0], args[1])
	}

	return nil
}

func showConfig(out io.Writer, cfg *config.Config) error {
	text, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Fprint(out, text)
	return nil
}

func listConfig(out io.Writer, cfg *config.Config) error {
	fmt.Fprintf(out, "%sConfiguration Keys%s\n", colorBold, colorReset)
	fmt.Fprintln(out, strings.Repeat("-", 40))
	fmt.Fprintln(out)

	var failedKeys []string
	for _, key := range config.ListKeys() {
		value, err := cfg.Get(key)
		if err != nil {
			failedKeys = append(failedKeys, key)
			continue
		}

		displayValue := value
		if displayValue == "" {
			displayValue = colorDim + "(not set)" + colorReset
		}

		fmt.Fprintf(out, "  %s%s%s = %s\n", colorCyan, key, colorReset, displayValue)
	}

	if len(failedKeys) > 0 {
		fmt.Fprintf(out, "\n%sWarning:%s Failed to retrieve keys: %s\n", colorYellow, colorReset, strings.Join(failedKeys, ", "))
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Config file: %s\n", config.FilePath())

	return nil
}

func getConfig(out io.Writer, cfg *config.Config, key string) error {
	value, err := cfg.Get(key)
	if err != nil {
		return err
	}

	if value == "" {
		fmt.Fprintf(out, "%s(not set)%s\n", colorDim, colorReset)
	} else {
		fmt.Fprintln(out, value)
	}

	return nil
}

func setConfig(out io.Writer, cfg *config.Config, key, value string) error {
	if err := cfg.Set(key, value); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	path := config.FilePath()
	if err := cfg.SaveToFile(path); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s%s%s = %s\n", colorCyan, key, colorReset, value)
	fmt.Fprintf(out, "Saved to: %s\n", path)

	return nil
}
