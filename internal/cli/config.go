package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relgraph/internal/config"
)

// DefaultConfigFile is where config init writes when no path is given.
const DefaultConfigFile = "relgraph.toml"

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample configuration file",
		Long: `Write a commented sample configuration to path (default ./relgraph.toml).
An existing file is never overwritten.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := DefaultConfigFile
			if len(args) == 1 {
				path = args[0]
			}
			formatter := rootOpts.formatter(cmd)
			if err := config.InitConfig(path); err != nil {
				return commandError(formatter, ErrCodeWriteFailed, err.Error())
			}
			if formatter.JSON() {
				return formatter.Success(map[string]string{"path": path})
			}
			fmt.Fprintf(formatter.Writer, "✓ Wrote %s\n", path)
			return nil
		},
	}
}
