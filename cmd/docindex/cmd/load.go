package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docindex/internal/ui"
	"github.com/Aman-CERP/docindex/internal/watcher"
	"github.com/Aman-CERP/docindex/pkg/docindex"
)

type loadOptions struct {
	generate  int
	from      string
	lines     int
	customers int
	indexes   int
	workers   int
	seed      uint64
	wait      time.Duration
	plain     bool
	noColor   bool
}

func newLoadCmd(g *globalOptions) *cobra.Command {
	opts := loadOptions{}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Write documents and wait for the indexes to catch up",
		Long: `Write documents into the database, wait until every index has processed
them, then verify each index with a non-stale query.

Documents are either generated orders (--generate) or the JSON files of a
directory (--from). Generated orders carry --lines order lines each; with
--fanout-indexes N the run also defines N identical indexes mapping every
line to an entry, so each order fans out into N x lines entries.`,
		Example: `  # 12 orders x 50 lines into 6 identical fan-out indexes
  docindex load --generate 12 --lines 50 --fanout-indexes 6

  # Load a directory of JSON documents
  docindex load --from ./data`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoad(cmd, g, opts)
		},
	}

	cmd.Flags().IntVar(&opts.generate, "generate", 1000, "Number of orders to generate")
	cmd.Flags().StringVar(&opts.from, "from", "", "Load JSON documents from this directory instead of generating")
	cmd.Flags().IntVar(&opts.lines, "lines", 3, "Order lines per generated order")
	cmd.Flags().IntVar(&opts.customers, "customers", 50, "Distinct customers in generated orders")
	cmd.Flags().IntVar(&opts.indexes, "fanout-indexes", 0, "Define this many identical order-line indexes for the run")
	cmd.Flags().IntVar(&opts.workers, "workers", 8, "Concurrent writers")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Seed of generated orders")
	cmd.Flags().DurationVar(&opts.wait, "wait", 5*time.Minute, "Maximum time to wait for the indexes")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain text progress instead of the TUI")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runLoad(cmd *cobra.Command, g *globalOptions, opts loadOptions) error {
	ctx := cmd.Context()
	db, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	for i := range opts.indexes {
		if _, err := db.DefineIndex(ctx, orderLinesIndex(fmt.Sprintf("OrderLines/%d", i+1))); err != nil {
			return err
		}
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(opts.noColor || ui.DetectNoColor()),
		ui.WithTitle("docindex load")))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	start := time.Now()
	startGen := db.CurrentGeneration()
	var stats ui.CompletionStats

	// Write
	var written, failed int
	if opts.from != "" {
		renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageWriting, Message: "loading " + opts.from})
		src := watcher.NewSource(nil, opts.from, db, nil, g.log())
		if err := src.Load(ctx); err != nil {
			return err
		}
		st := src.Stats()
		written, failed = int(st.Puts), int(st.Errors)
	} else {
		gen := newOrderGenerator(opts.customers, opts.lines, opts.seed)
		written, failed, err = writeOrders(ctx, db, gen, opts.generate, opts.workers, renderer)
		if err != nil {
			return err
		}
	}
	stats.Stages.Write = time.Since(start)

	// Index
	indexStart := time.Now()
	target := db.CurrentGeneration()
	if err := waitWithProgress(ctx, db, renderer, startGen, target, opts.wait); err != nil {
		return err
	}
	stats.Stages.Index = time.Since(indexStart)

	// Verify
	verifyStart := time.Now()
	names := db.Indexes()
	for i, name := range names {
		renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageVerifying, Current: i, Total: len(names), Item: name})
		res, err := db.Query(ctx, docindex.Query{Index: name, Take: 1, Staleness: docindex.WaitFor(target, opts.wait)})
		if err != nil {
			renderer.AddError(ui.ErrorEvent{Item: name, Err: err})
			stats.Errors++
			continue
		}
		stats.Entries += res.TotalCount
		if res.IsStale {
			renderer.AddError(ui.ErrorEvent{Item: name, Err: errors.New("index still stale after wait"), IsWarn: true})
			stats.Warnings++
		}
	}
	for i := range opts.indexes {
		name := fmt.Sprintf("OrderLines/%d", i+1)
		st, err := db.GetIndexStatistics(name)
		if err != nil {
			continue
		}
		if want := written * opts.lines; startGen == 0 && opts.from == "" && st.EntryCount != want {
			renderer.AddError(ui.ErrorEvent{
				Item: name,
				Err:  fmt.Errorf("expected %d entries, found %d", want, st.EntryCount),
			})
			stats.Errors++
		}
	}
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageVerifying, Current: len(names), Total: len(names)})
	stats.Stages.Verify = time.Since(verifyStart)

	stats.Documents = written
	stats.Indexes = len(names)
	stats.Duration = time.Since(start)
	stats.Errors += failed
	stats.Warnings += len(db.Diagnostics())
	renderer.Complete(stats)
	return nil
}

// writeOrders writes total generated orders with workers concurrent writers.
// A failed write is reported and counted; cancellation stops the run.
func writeOrders(ctx context.Context, db *docindex.DB, gen *orderGenerator, total, workers int, r ui.Renderer) (written, failed int, err error) {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(workers, 1))

	var ok, bad atomic.Int64
	step := max(total/100, 1)
	r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageWriting, Total: total})
	for i := range total {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			doc := gen.order(i)
			if _, err := db.Put(ctx, doc); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				bad.Add(1)
				r.AddError(ui.ErrorEvent{Item: doc.ID, Err: err})
				return nil
			}
			if n := int(ok.Add(1)); n%step == 0 || n == total {
				r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageWriting, Current: n, Total: total, Item: doc.ID})
			}
			return nil
		})
	}
	err = eg.Wait()
	return int(ok.Load()), int(bad.Load()), err
}

// waitWithProgress waits for every index to process target, reporting the
// slowest index as progress.
func waitWithProgress(ctx context.Context, db *docindex.DB, r ui.Renderer, from, target docindex.Generation, timeout time.Duration) error {
	total := int(target - from)
	r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Total: total})

	done := make(chan error, 1)
	go func() { done <- db.WaitForIndexing(ctx, timeout) }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err == nil {
				r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Current: total, Total: total})
			}
			return err
		case <-ticker.C:
			slowest, processed := "", target
			for _, name := range db.Indexes() {
				st, err := db.GetIndexStatistics(name)
				if err != nil {
					continue
				}
				if st.LastProcessedGeneration < processed {
					slowest, processed = name, st.LastProcessedGeneration
				}
			}
			current := 0
			if processed > from {
				current = int(processed - from)
			}
			r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Current: current, Total: total, Item: slowest})
		}
	}
}
