package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/watcher"
	"github.com/Aman-CERP/docindex/pkg/docindex"
)

type watchOptions struct {
	poll     bool
	interval time.Duration
}

func newWatchCmd(g *globalOptions) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Mirror a directory of JSON documents into the database",
		Long: `Load every .json file under DIR, then follow the directory: created and
modified files are written, removed files are deleted. The document id is the
file path without its extension (orders/1.json is "orders/1") and the entity
is the top-level directory unless the file sets "@entity".

Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, g, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.poll, "poll", false, "Poll the directory instead of using filesystem events")
	cmd.Flags().DurationVar(&opts.interval, "report", 10*time.Second, "Interval of progress reports (0 disables)")

	return cmd
}

func runWatch(cmd *cobra.Command, g *globalOptions, dir string, opts watchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	w, err := watcher.New(watcher.Options{
		DebounceWindow: db.Config().Watch.Debounce,
		ForcePolling:   opts.poll,
	})
	if err != nil {
		return err
	}
	src := watcher.NewSource(w, dir, db, nil, g.log())

	out := output.New(cmd.OutOrStdout())
	out.Statusf("👀", "Watching %s (%s)", dir, w.WatcherType())

	if opts.interval > 0 {
		go reportWatch(ctx, out, db, src, opts.interval)
	}

	if err := src.Run(ctx); err != nil {
		return err
	}

	st := src.Stats()
	out.Newline()
	out.Successf("Stopped: %d written, %d deleted, %d failed", st.Puts, st.Deletes, st.Errors)
	return nil
}

func reportWatch(ctx context.Context, out *output.Writer, db *docindex.DB, src *watcher.Source, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := src.Stats()
			stale := 0
			for _, name := range db.Indexes() {
				if s, err := db.IsStale(name); err == nil && s {
					stale++
				}
			}
			out.Statusf("📊", "generation %d: %d written, %d deleted, %d failed, %d/%d indexes stale",
				db.CurrentGeneration(), st.Puts, st.Deletes, st.Errors, stale, len(db.Indexes()))
		}
	}
}
