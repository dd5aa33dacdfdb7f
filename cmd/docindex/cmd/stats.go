package cmd

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/ui"
	"github.com/Aman-CERP/docindex/pkg/docindex"
)

type statsOptions struct {
	jsonOutput  bool
	noColor     bool
	wait        time.Duration
	diagnostics bool
}

func newStatsCmd(g *globalOptions) *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database and index statistics",
		Long: `Show the store backend, document count and generation, and for every
index its state, entry count, processed generation, pending queue depth and
map error count.

Indexes are rebuilt from the change feed when the database opens; use --wait
to report them after they catch up.`,
		Example: `  docindex stats
  docindex stats --wait 30s --diagnostics
  docindex stats --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, g, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().DurationVar(&opts.wait, "wait", 0, "Wait up to this long for indexes to catch up first")
	cmd.Flags().BoolVar(&opts.diagnostics, "diagnostics", false, "Also list retained map and reduce diagnostics")

	return cmd
}

func runStats(cmd *cobra.Command, g *globalOptions, opts statsOptions) error {
	ctx := cmd.Context()
	db, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if opts.wait > 0 {
		if err := db.WaitForIndexing(ctx, opts.wait); err != nil {
			return err
		}
	}

	status, err := db.Status(ctx)
	if err != nil {
		return err
	}
	info := statusInfo(status)

	if opts.jsonOutput {
		if !opts.diagnostics {
			return ui.NewStatusRenderer(cmd.OutOrStdout(), true).RenderJSON(info)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			ui.StatusInfo
			Diagnostics []docindex.Diagnostic `json:"diagnostics"`
		}{info, db.Diagnostics()})
	}

	noColor := opts.noColor || ui.DetectNoColor()
	if err := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor).Render(info); err != nil {
		return err
	}
	if opts.diagnostics {
		writeDiagnostics(output.New(cmd.OutOrStdout()), db.Diagnostics())
	}
	return nil
}

func statusInfo(s docindex.Status) ui.StatusInfo {
	path := s.Path
	if path == "" {
		path = "(memory)"
	}
	return ui.StatusInfo{
		Path:              path,
		Backend:           s.Backend,
		Documents:         s.Documents,
		CurrentGeneration: uint64(s.CurrentGeneration),
		StorageSize:       s.StorageSize,
		Indexes:           s.Indexes,
	}
}

func writeDiagnostics(out *output.Writer, diags []docindex.Diagnostic) {
	out.Newline()
	if len(diags) == 0 {
		out.Success("No diagnostics")
		return
	}
	rows := make([][]string, len(diags))
	for i, d := range diags {
		source := d.DocumentID
		if source == "" {
			source = d.Group
		}
		rows[i] = []string{d.Index, source, d.Code, d.Message}
	}
	out.Table([]string{"INDEX", "SOURCE", "CODE", "MESSAGE"}, rows)
}
