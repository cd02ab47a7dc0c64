package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/maxe/pkg/checkpoint"
	"github.com/Sumatoshi-tech/maxe/pkg/exitcode"
	"github.com/Sumatoshi-tech/maxe/pkg/runner"
	"github.com/Sumatoshi-tech/maxe/pkg/search"
)

type inspectCommand struct {
	g       *globals
	stats   bool
	noColor bool
}

func newInspectCommand(g *globals) *cobra.Command {
	ic := &inspectCommand{g: g}

	cmd := &cobra.Command{
		Use:   "inspect [artifact]",
		Short: "Show and verify a checkpoint artifact",
		Long: `Print the metadata of a checkpoint, verify its checksum and decode its
payload. Exits 1 when the artifact is missing or damaged.`,
		Args: cobra.MaximumNArgs(1),
		RunE: ic.run,
	}

	cmd.Flags().BoolVar(&ic.stats, "stats", true, "print per-generation statistics")
	cmd.Flags().BoolVar(&ic.noColor, "no-color", false, "disable colored output")

	return cmd
}

func (ic *inspectCommand) run(cmd *cobra.Command, args []string) error {
	if ic.noColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}

	var path string

	if len(args) > 0 {
		path = args[0]
	} else {
		cfg, err := ic.g.loadConfig(cmd.Flags(), nil)
		if err != nil {
			return err
		}

		path = cfg.Checkpoint.Path
	}

	out := cmd.OutOrStdout()
	store := checkpoint.NewManager(afero.NewOsFs(), path)

	meta, err := store.Verify()
	if errors.Is(err, checkpoint.ErrNotFound) {
		return &ExitError{Code: exitcode.Error, Err: err}
	}

	if err != nil {
		return damaged(out, store, path, err)
	}

	fmt.Fprintln(out, renderMetadata(path, meta))
	fmt.Fprintf(out, "status: %s\n", color.GreenString("ok, checksum verified"))

	writeHolder(out, path)

	if !ic.stats {
		return nil
	}

	var snap runner.Snapshot

	_, err = store.Load(&snap)
	if err != nil {
		fmt.Fprintf(out, "stats: %s\n", color.RedString("undecodable: %v", err))

		return &ExitError{Code: exitcode.Error, Err: err}
	}

	if len(snap.Kernel.Stats) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderStats(snap.Kernel.Stats))
	}

	return nil
}

// damaged reports an artifact that failed verification. The header may
// still be readable when only the payload is damaged.
func damaged(out io.Writer, store *checkpoint.Manager, path string, cause error) error {
	if header, err := store.LoadMetadata(); err == nil {
		fmt.Fprintln(out, renderMetadata(path, header))
	}

	fmt.Fprintf(out, "status: %s\n", color.RedString("damaged: %v", cause))

	return &ExitError{Code: exitcode.Error, Err: cause}
}

func renderMetadata(path string, meta checkpoint.Metadata) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(path)

	created := meta.CreatedAt
	if t, err := meta.Created(); err == nil {
		created = fmt.Sprintf("%s (%s)", meta.CreatedAt, humanize.Time(t))
	}

	resumed := meta.ResumedFrom
	if resumed == "" {
		resumed = "-"
	}

	p := meta.Progress

	tbl.AppendRows([]table.Row{
		{"format version", meta.Version},
		{"program", fmt.Sprintf("%s %s", meta.Program, meta.BuildVersion)},
		{"mode", fmt.Sprintf("%s, %d worker(s)", meta.Mode, meta.Workers)},
		{"run id", meta.RunID},
		{"resumed from", resumed},
		{"sequence", meta.Sequence},
		{"created", created},
		{"codec", meta.Codec},
		{"payload", humanize.IBytes(uint64(max(meta.PayloadSize, 0)))},
		{"sha256", meta.Checksum},
		{"generation", fmt.Sprintf("%d of %d", p.Generation, p.MaxGeneration)},
		{"pool", humanize.Comma(int64(p.PoolSize))},
		{"units", fmt.Sprintf("%d of %d completed", p.CompletedUnits, p.Units)},
	})

	return tbl.Render()
}

func renderStats(stats []search.GenerationStats) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"gen", "size", "+", "-"})
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})

	plus := 0

	for _, s := range stats {
		tbl.AppendRow(table.Row{s.Generation + 1, humanize.Comma(int64(s.Size)), humanize.Comma(int64(s.Plus)),
			humanize.Comma(int64(s.Minus))})

		plus += s.Plus
	}

	tbl.AppendFooter(table.Row{"", "", humanize.Comma(int64(plus)), ""})

	return tbl.Render()
}

func writeHolder(out io.Writer, path string) {
	pid, err := checkpoint.HolderPID(path)
	if err != nil {
		fmt.Fprintln(out, "running: no")

		return
	}

	fmt.Fprintf(out, "running: %s\n", color.YellowString("pid "+strconv.Itoa(pid)))
}
