package cmd

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/pkg/docindex"
)

type queryOptions struct {
	where      []string
	order      []string
	skip       int
	take       int
	wait       time.Duration
	stale      bool
	jsonOutput bool
}

func newQueryCmd(g *globalOptions) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query INDEX",
		Short: "Query an index",
		Long: `Query a declared index. Clauses are combined with AND.

Clause syntax: Field=value, Field<value, Field<=value, Field>value,
Field>=value, Field~terms (analyzed match) and Field=null. Durations accept
TimeSpan form ([-][d.]hh:mm:ss[.fffffff]) or Go form (1h30m).

By default the query waits until the index has processed every write made
before it; --stale answers immediately.`,
		Example: `  # Orders of one customer, largest first
  docindex query OrdersByCustomer --where Customer=customers/7 --order -Total

  # Sessions longer than a day
  docindex query SessionsByLength --where "Length>1.00:00:00" --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, g, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.where, "where", "w", nil, "Clause, repeatable (Field<op>value)")
	cmd.Flags().StringArrayVarP(&opts.order, "order", "o", nil, "Sort field, repeatable; prefix with - for descending")
	cmd.Flags().IntVar(&opts.skip, "skip", 0, "Number of results to skip")
	cmd.Flags().IntVarP(&opts.take, "take", "n", 0, "Page size (default from config)")
	cmd.Flags().DurationVar(&opts.wait, "wait", 30*time.Second, "Maximum time to wait for the index to catch up")
	cmd.Flags().BoolVar(&opts.stale, "stale", false, "Answer immediately, possibly from a stale index")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// buildQuery parses the flag values into a query.
func buildQuery(indexName string, opts queryOptions) (docindex.Query, error) {
	q := docindex.Query{Index: indexName, Skip: opts.skip, Take: opts.take}
	for _, raw := range opts.where {
		c, err := docindex.ParseClause(raw)
		if err != nil {
			return docindex.Query{}, err
		}
		q.Where = append(q.Where, c)
	}
	for _, raw := range opts.order {
		o, err := docindex.ParseOrder(raw)
		if err != nil {
			return docindex.Query{}, err
		}
		q.OrderBy = append(q.OrderBy, o)
	}
	if opts.stale {
		q.Staleness = docindex.NoWait()
	} else {
		q.Staleness = docindex.WaitForLastWriteWithin(opts.wait)
	}
	return q, nil
}

func runQuery(cmd *cobra.Command, g *globalOptions, indexName string, opts queryOptions) error {
	q, err := buildQuery(indexName, opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.Query(ctx, q)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		return writeResultJSON(cmd, res)
	}
	writeResultTable(cmd, res)
	return nil
}

type resultJSON struct {
	Index      string           `json:"index"`
	IsStale    bool             `json:"is_stale"`
	TotalCount int              `json:"total_count"`
	Generation uint64           `json:"generation"`
	DurationMS float64          `json:"duration_ms"`
	Entries    []map[string]any `json:"entries"`
}

func writeResultJSON(cmd *cobra.Command, res *docindex.Result) error {
	out := resultJSON{
		Index:      res.Index,
		IsStale:    res.IsStale,
		TotalCount: res.TotalCount,
		Generation: uint64(res.Generation),
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
		Entries:    make([]map[string]any, len(res.Entries)),
	}
	for i := range res.Entries {
		out.Entries[i] = res.Row(i)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeResultTable(cmd *cobra.Command, res *docindex.Result) {
	out := output.New(cmd.OutOrStdout())

	headers := make([]string, 0, len(res.Fields)+1)
	headers = append(headers, "ID")
	for _, f := range res.Fields {
		headers = append(headers, f.Name)
	}

	rows := make([][]string, len(res.Entries))
	for i, e := range res.Entries {
		id := e.DocumentID
		if id == "" {
			id = e.GroupKey
		}
		row := make([]string, 0, len(headers))
		row = append(row, id)
		for _, v := range e.Values {
			row = append(row, v.String())
		}
		rows[i] = row
	}

	if len(rows) > 0 {
		out.Table(headers, rows)
	}

	state := "fresh"
	if res.IsStale {
		state = "stale"
	}
	out.Statusf("", "%d of %d results (%s at generation %d, %s)",
		len(res.Entries), res.TotalCount, state, res.Generation, res.Duration.Round(time.Microsecond))
	if res.IsStale {
		out.Warning("The index had not caught up with the last write")
	}
}
