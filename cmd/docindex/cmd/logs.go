package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/logging"
	"github.com/Aman-CERP/docindex/internal/ui"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	index   string
	filter  string
	noColor bool
	logFile string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View docindex logs",
		Long: `View and tail the JSON logs written by commands run with --debug
(~/.docindex/logs/docindex.log).`,
		Example: `  docindex logs                      # last 50 entries
  docindex logs -f                   # follow new entries
  docindex logs --level warn         # warnings and errors only
  docindex logs --index OrderLines/1 # entries of one index`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.index, "index", "", "Only entries about this index")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only lines matching this pattern (regex)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Path to log file")

	return cmd
}

func runLogs(cmd *cobra.Command, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.logFile)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		pattern, err = regexp.Compile(opts.filter)
		if err != nil {
			return ierrors.ValidationError(fmt.Sprintf("invalid filter pattern %q", opts.filter), err)
		}
	}

	out := cmd.OutOrStdout()
	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Index:   opts.index,
		Pattern: pattern,
		NoColor: opts.noColor || ui.DetectNoColor() || !ui.IsTTY(out),
	}, out)

	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)

	if !opts.follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return follow(ctx, viewer, path)
}

func follow(ctx context.Context, viewer *logging.Viewer, path string) error {
	ch := make(chan logging.LogEntry, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- viewer.Follow(ctx, path, ch)
		close(ch)
	}()
	for entry := range ch {
		viewer.Print([]logging.LogEntry{entry})
	}
	return <-errc
}
