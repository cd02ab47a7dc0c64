package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/maxe/pkg/checkpoint"
	"github.com/Sumatoshi-tech/maxe/pkg/config"
	"github.com/Sumatoshi-tech/maxe/pkg/signals"
)

func newSignalCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal break|dump",
		Short: "Send break or dump to the running search",
		Long: `Look up the search holding the checkpoint lock and send it the first
signal configured for the request.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{signals.KindBreak.String(), signals.KindDump.String()},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd.Flags(), map[string]string{"checkpoint": "checkpoint.path"})
			if err != nil {
				return err
			}

			sig, err := requestSignal(cfg, args[0])
			if err != nil {
				return err
			}

			pid, err := checkpoint.HolderPID(cfg.Checkpoint.Path)
			if err != nil {
				return err
			}

			err = signals.Send(pid, sig)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sent %s (%s) to pid %d\n", args[0], signals.SignalName(sig), pid)

			return nil
		},
	}

	cmd.Flags().String("checkpoint", config.DefaultCheckpointPath, "checkpoint artifact path")

	return cmd
}

func requestSignal(cfg *config.Config, request string) (os.Signal, error) {
	var names []string

	switch request {
	case signals.KindBreak.String():
		names = cfg.Control.BreakSignals
	case signals.KindDump.String():
		names = cfg.Control.DumpSignals
	default:
		return nil, fmt.Errorf("unknown request %q: want break or dump", request)
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("no signal configured for %s", request)
	}

	return signals.ParseSignal(names[0])
}
