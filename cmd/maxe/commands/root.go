// Package commands implements the maxe command line.
package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Sumatoshi-tech/maxe/pkg/config"
	"github.com/Sumatoshi-tech/maxe/pkg/exitcode"
	"github.com/Sumatoshi-tech/maxe/pkg/version"
)

// ExitError carries the process exit code of a finished command. Err is
// nil when the code alone says everything, e.g. a clean stop on break.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit " + exitcode.Name(e.Code)
	}

	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code for the error Execute returned.
func ExitCode(err error) int {
	if err == nil {
		return exitcode.Completed
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	return exitcode.Error
}

type globals struct {
	configPath string
}

// NewRootCommand builds the maxe command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   version.Program(),
		Short: "Extremal staircase search with break and dump control",
		Long: `maxe enumerates extremal staircases generation by generation.

A running search honors two operator requests, delivered as signals:
  break  stop at the next safe point, writing a final checkpoint
  dump   write a checkpoint and keep going

Commands:
  run       Start or resume a search
  inspect   Show and verify a checkpoint artifact
  signal    Send break or dump to the running search
  config    Print the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default maxe.yaml in ., ./config, /etc/maxe)")

	root.AddCommand(newRunCommand(g))
	root.AddCommand(newInspectCommand(g))
	root.AddCommand(newSignalCommand(g))
	root.AddCommand(newConfigCommand(g))
	root.AddCommand(newVersionCommand())

	return root
}

// loadConfig reads the configuration with the given flags layered on top.
// keys maps flag names to configuration keys.
func (g *globals) loadConfig(flags *pflag.FlagSet, keys map[string]string) (*config.Config, error) {
	v := config.New()

	for name, key := range keys {
		err := v.BindPFlag(key, flags.Lookup(name))
		if err != nil {
			return nil, fmt.Errorf("bind --%s: %w", name, err)
		}
	}

	return config.Read(v, g.configPath)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit: %s, built: %s)\n",
				version.Program(), version.String(), version.Commit, version.Date)
		},
	}
}
