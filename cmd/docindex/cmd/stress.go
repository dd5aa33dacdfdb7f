package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docindex/internal/config"
	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/profiling"
	"github.com/Aman-CERP/docindex/internal/ui"
	"github.com/Aman-CERP/docindex/pkg/docindex"
)

const stressIndex = "Stress/OrdersByTotal"

type stressOptions struct {
	writes    int
	readers   int
	deleteN   int
	threshold float64
	sqlite    bool
	wait      time.Duration
	plain     bool
	noColor   bool
}

func newStressCmd(g *globalOptions) *cobra.Command {
	opts := stressOptions{}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Check that non-stale query results match the store",
		Long: `Run one writer inserting (and periodically deleting) orders while readers
query "Total >= threshold" waiting for the last write. Every result reported
as non-stale must count exactly the live matching orders as of the result's
generation; any difference is reported as an inconsistency.

The run uses a scratch database: in memory, or a temporary SQLite store with
--sqlite.`,
		Example: `  docindex stress --writes 10000 --readers 4
  docindex stress --sqlite --plain`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStress(cmd, g, opts)
		},
	}

	cmd.Flags().IntVar(&opts.writes, "writes", 10_000, "Orders to insert")
	cmd.Flags().IntVar(&opts.readers, "readers", 2, "Concurrent readers")
	cmd.Flags().IntVar(&opts.deleteN, "delete-every", 5, "Delete an earlier order after every N inserts (0 disables)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 100, "Total threshold of the checked range query")
	cmd.Flags().BoolVar(&opts.sqlite, "sqlite", false, "Use a temporary SQLite store instead of memory")
	cmd.Flags().DurationVar(&opts.wait, "wait", 30*time.Second, "Maximum wait of each read")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain text progress instead of the TUI")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

// StressReport summarizes a stress run.
type StressReport struct {
	Writes          int
	Deletes         int
	Reads           int
	NonStaleReads   int
	Inconsistencies int
	Duration        time.Duration
}

// liveCounts records the number of live matching orders after each write.
type liveCounts struct {
	mu   sync.RWMutex
	base docindex.Generation
	at   map[docindex.Generation]int
}

func (c *liveCounts) set(gen docindex.Generation, n int) {
	c.mu.Lock()
	c.at[gen] = n
	c.mu.Unlock()
}

func (c *liveCounts) get(gen docindex.Generation) (int, bool) {
	if gen <= c.base {
		return 0, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.at[gen]
	return n, ok
}

func openScratch(ctx context.Context, g *globalOptions, sqlite bool) (*docindex.DB, func(), error) {
	opts := []docindex.Option{docindex.WithLogger(g.log())}
	if g.registry != nil {
		opts = append(opts, docindex.WithRegisterer(g.registry))
	}
	if !sqlite {
		db, err := docindex.OpenMemory(ctx, opts...)
		return db, func() {}, err
	}

	dir, err := os.MkdirTemp("", "docindex-stress-*")
	if err != nil {
		return nil, nil, err
	}
	cfg := config.NewConfig()
	cfg.Store.Backend = config.BackendSQLite
	opts = append(opts, docindex.WithConfig(cfg), docindex.WithoutTelemetry())
	db, err := docindex.Open(ctx, dir, opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, nil, err
	}
	return db, func() { _ = os.RemoveAll(dir) }, nil
}

func runStress(cmd *cobra.Command, g *globalOptions, opts stressOptions) error {
	ctx := cmd.Context()
	db, cleanup, err := openScratch(ctx, g, opts.sqlite)
	if err != nil {
		return err
	}
	defer cleanup()
	defer db.Close()

	if _, err := db.DefineIndex(ctx, ordersByTotalIndex(stressIndex)); err != nil {
		return err
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(opts.noColor || ui.DetectNoColor()),
		ui.WithTitle("docindex stress")))
	if err := renderer.Start(ctx); err != nil {
		return err
	}

	report, err := stress(ctx, db, opts, renderer)
	renderer.Complete(ui.CompletionStats{
		Documents: report.Writes,
		Indexes:   1,
		Entries:   report.NonStaleReads,
		Duration:  report.Duration,
		Errors:    report.Inconsistencies,
	})
	_ = renderer.Stop()
	if err != nil {
		return err
	}

	mem := profiling.ReadMemory()
	out := output.New(cmd.OutOrStdout())
	out.Newline()
	out.KeyValues(
		[2]string{"Writes:", fmt.Sprint(report.Writes)},
		[2]string{"Deletes:", fmt.Sprint(report.Deletes)},
		[2]string{"Reads:", fmt.Sprint(report.Reads)},
		[2]string{"Non-stale reads:", fmt.Sprint(report.NonStaleReads)},
		[2]string{"Inconsistencies:", fmt.Sprint(report.Inconsistencies)},
		[2]string{"Duration:", report.Duration.Round(time.Millisecond).String()},
		[2]string{"Heap in use:", profiling.FormatBytes(mem.HeapInUse)},
	)
	if report.Inconsistencies > 0 {
		return ierrors.InternalError(fmt.Sprintf("%d non-stale results did not match the store", report.Inconsistencies), nil)
	}
	out.Success("Every non-stale result matched the store")
	return nil
}

// stress runs the writer and readers until the writer finishes.
func stress(ctx context.Context, db *docindex.DB, opts stressOptions, r ui.Renderer) (StressReport, error) {
	start := time.Now()
	counts := &liveCounts{base: db.CurrentGeneration(), at: make(map[docindex.Generation]int, opts.writes)}
	gen := newOrderGenerator(50, 3, uint64(start.UnixNano()))

	var reads, nonStale, bad atomic.Int64
	var deletes int
	writerDone := make(chan struct{})

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(writerDone)
		live := make(map[string]bool)
		matching := 0
		step := max(opts.writes/100, 1)
		r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageWriting, Total: opts.writes})

		for i := range opts.writes {
			doc := gen.order(i)
			g, err := db.Put(ctx, doc)
			if err != nil {
				return err
			}
			match := doc.Payload["Total"].(float64) >= opts.threshold
			live[doc.ID] = match
			if match {
				matching++
			}
			counts.set(g, matching)

			if opts.deleteN > 0 && i%opts.deleteN == opts.deleteN-1 {
				victim := fmt.Sprintf("orders/%d", i-1)
				g, err := db.Delete(ctx, victim)
				if err != nil {
					return err
				}
				if live[victim] {
					matching--
				}
				delete(live, victim)
				deletes++
				counts.set(g, matching)
			}
			if (i+1)%step == 0 {
				r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageWriting, Current: i + 1, Total: opts.writes, Item: doc.ID})
			}
		}
		return nil
	})

	for range max(opts.readers, 1) {
		eg.Go(func() error {
			q := docindex.Query{
				Index:     stressIndex,
				Where:     []docindex.Clause{docindex.Where("Total", docindex.OpGte, opts.threshold)},
				Take:      1,
				Staleness: docindex.WaitForLastWriteWithin(opts.wait),
			}
			for {
				select {
				case <-writerDone:
					return nil
				default:
				}
				res, err := db.Query(ctx, q)
				if err != nil {
					return err
				}
				reads.Add(1)
				if res.IsStale {
					continue
				}
				nonStale.Add(1)
				want, ok := counts.get(res.Generation)
				if ok && want != res.TotalCount {
					bad.Add(1)
					r.AddError(ui.ErrorEvent{
						Item: fmt.Sprintf("generation %d", res.Generation),
						Err:  fmt.Errorf("non-stale result counted %d, store had %d", res.TotalCount, want),
					})
				}
			}
		})
	}

	err := eg.Wait()
	return StressReport{
		Writes:          opts.writes,
		Deletes:         deletes,
		Reads:           int(reads.Load()),
		NonStaleReads:   int(nonStale.Load()),
		Inconsistencies: int(bad.Load()),
		Duration:        time.Since(start),
	}, err
}
