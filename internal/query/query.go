// Package query answers range, equality and token-match queries over index
// snapshots, with null-aware ordering, pagination, staleness policies and a
// result cache keyed by snapshot version.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/docindex/internal/index"
	"github.com/Aman-CERP/docindex/internal/store"
)

// Op is a clause operator.
type Op string

const (
	OpEq    Op = "="
	OpLt    Op = "<"
	OpLte   Op = "<="
	OpGt    Op = ">"
	OpGte   Op = ">="
	OpMatch Op = "match"
)

func (o Op) valid() bool {
	switch o {
	case OpEq, OpLt, OpLte, OpGt, OpGte, OpMatch:
		return true
	}
	return false
}

func (o Op) isRange() bool {
	switch o {
	case OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Clause is one predicate. Clauses of a query are combined with AND.
type Clause struct {
	Field string
	Op    Op

	// Value is coerced to the field kind. Nil compares equal to null and
	// is only valid with OpEq.
	Value any
}

// Where returns a clause.
func Where(field string, op Op, value any) Clause {
	return Clause{Field: field, Op: op, Value: value}
}

// String renders the clause in the form accepted by ParseClause.
func (c Clause) String() string {
	if c.Op == OpMatch {
		return fmt.Sprintf("%s~%v", c.Field, c.Value)
	}
	if c.Value == nil {
		return c.Field + string(c.Op) + "null"
	}
	if d, ok := c.Value.(time.Duration); ok {
		return c.Field + string(c.Op) + index.FormatTimeSpan(d)
	}
	if t, ok := c.Value.(time.Time); ok {
		return c.Field + string(c.Op) + t.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s%s%v", c.Field, c.Op, c.Value)
}

// Order sorts by one field.
type Order struct {
	Field      string
	Descending bool
}

// Asc orders by field ascending; nulls come first.
func Asc(field string) Order { return Order{Field: field} }

// Desc orders by field descending; nulls come last.
func Desc(field string) Order { return Order{Field: field, Descending: true} }

// String renders the order in the form accepted by ParseOrder.
func (o Order) String() string {
	if o.Descending {
		return "-" + o.Field
	}
	return o.Field
}

// StalenessMode selects how a query treats an index that lags the store.
type StalenessMode int

const (
	// AllowStale answers from the current snapshot immediately.
	AllowStale StalenessMode = iota
	// WaitForGeneration waits until the index has processed Target.
	WaitForGeneration
	// WaitForLastWrite waits until the index has processed the store
	// generation current when the query starts.
	WaitForLastWrite
)

// Staleness is the staleness policy of a query.
type Staleness struct {
	Mode    StalenessMode
	Target  store.Generation
	Timeout time.Duration
}

// NoWait answers immediately, possibly from a stale index.
func NoWait() Staleness { return Staleness{Mode: AllowStale} }

// WaitFor waits up to timeout for the index to process target.
func WaitFor(target store.Generation, timeout time.Duration) Staleness {
	return Staleness{Mode: WaitForGeneration, Target: target, Timeout: timeout}
}

// WaitForLastWriteWithin waits up to timeout for the index to catch up with
// the writes made before the query.
func WaitForLastWriteWithin(timeout time.Duration) Staleness {
	return Staleness{Mode: WaitForLastWrite, Timeout: timeout}
}

// Query reads one index.
type Query struct {
	Index   string
	Where   []Clause
	OrderBy []Order

	// Skip and Take paginate the sorted result. Take 0 means the default
	// page size.
	Skip int
	Take int

	Staleness Staleness
}

// String renders the query for logs and telemetry.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Index)
	for i, c := range q.Where {
		if i == 0 {
			b.WriteString(" where ")
		} else {
			b.WriteString(" and ")
		}
		b.WriteString(c.String())
	}
	if len(q.OrderBy) > 0 {
		b.WriteString(" order by ")
		for i, o := range q.OrderBy {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(o.String())
		}
	}
	if q.Skip > 0 {
		fmt.Fprintf(&b, " skip %d", q.Skip)
	}
	if q.Take > 0 {
		fmt.Fprintf(&b, " take %d", q.Take)
	}
	return b.String()
}

// fields returns the fields referenced by the query.
func (q Query) fields() []string {
	out := make([]string, 0, len(q.Where)+len(q.OrderBy))
	for _, c := range q.Where {
		out = append(out, c.Field)
	}
	for _, o := range q.OrderBy {
		out = append(out, o.Field)
	}
	return out
}

// Result is one page of query results. Entries, IsStale and Generation
// always come from the same snapshot.
type Result struct {
	Index   string
	Fields  []index.Field
	Entries []index.Entry

	// IsStale reports that the index lagged the store, or had queued work,
	// when the snapshot was read.
	IsStale bool

	// TotalCount is the number of matching entries before pagination.
	TotalCount int

	// Generation is the last store generation reflected in the entries.
	Generation store.Generation

	Duration time.Duration
	Cached   bool
}

// Value returns a field of the i-th entry, or null if the field is unknown.
func (r *Result) Value(i int, field string) index.Value {
	for pos, f := range r.Fields {
		if f.Name == field {
			return r.Entries[i].Values[pos]
		}
	}
	return index.NullValue()
}

// DocumentIDs returns the document ids of the entries in order.
func (r *Result) DocumentIDs() []string {
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.DocumentID
	}
	return out
}

// Row returns the i-th entry as a map of plain values keyed by field name.
func (r *Result) Row(i int) map[string]any {
	row := make(map[string]any, len(r.Fields)+1)
	e := r.Entries[i]
	for pos, f := range r.Fields {
		v := e.Values[pos]
		if v.Kind() == index.ValueDuration {
			row[f.Name] = index.FormatTimeSpan(v.Duration())
			continue
		}
		row[f.Name] = v.Interface()
	}
	if e.DocumentID != "" {
		row["@id"] = e.DocumentID
	}
	return row
}
