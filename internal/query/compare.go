package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/index"
)

// predicate is a clause bound to a snapshot schema.
type predicate struct {
	pos      int
	op       Op
	value    index.Value
	terms    []index.Term
	analyzed bool
}

type ordering struct {
	pos  int
	desc bool
}

// plan is a query compiled against the schema of one snapshot.
type plan struct {
	preds []predicate
	order []ordering
}

// compile validates q against fields and coerces clause values to the
// declared kinds.
func compile(q Query, fields []index.Field, an *index.Analyzer) (*plan, error) {
	lookup := func(name string) (int, index.Field, error) {
		for i, f := range fields {
			if f.Name == name {
				return i, f, nil
			}
		}
		return -1, index.Field{}, invalidQuery(q, fmt.Sprintf("unknown field %q", name))
	}

	p := &plan{}
	for _, c := range q.Where {
		if !c.Op.valid() {
			return nil, invalidQuery(q, fmt.Sprintf("unknown operator %q", c.Op))
		}
		pos, f, err := lookup(c.Field)
		if err != nil {
			return nil, err
		}
		pred := predicate{pos: pos, op: c.Op, analyzed: f.Analysis == index.Analyzed}

		switch {
		case c.Op == OpMatch:
			if f.Kind != index.FieldString {
				return nil, invalidQuery(q, fmt.Sprintf("match on %s field %q", f.Kind, f.Name))
			}
			s, ok := c.Value.(string)
			if !ok {
				return nil, invalidQuery(q, fmt.Sprintf("match value for %q must be a string", f.Name))
			}
			pred.terms = an.Terms(s)
			if len(pred.terms) == 0 {
				return nil, invalidQuery(q, fmt.Sprintf("match value for %q has no terms", f.Name))
			}

		case c.Op.isRange() && pred.analyzed:
			return nil, invalidQuery(q, fmt.Sprintf("range operator %s on analyzed field %q", c.Op, f.Name))

		case c.Op.isRange() && c.Value == nil:
			return nil, invalidQuery(q, fmt.Sprintf("range operator %s with null on %q", c.Op, f.Name))

		case c.Op == OpEq && pred.analyzed && c.Value != nil:
			s, ok := c.Value.(string)
			if !ok {
				return nil, invalidQuery(q, fmt.Sprintf("value for analyzed field %q must be a string", f.Name))
			}
			pred.terms = an.Terms(s)
			if len(pred.terms) == 0 {
				return nil, invalidQuery(q, fmt.Sprintf("value for analyzed field %q has no terms", f.Name))
			}

		default:
			v, err := index.Coerce(c.Value, index.Field{Name: f.Name, Kind: f.Kind}, nil)
			if err != nil {
				return nil, ierrors.QueryError(err.Error(), err).WithDetail("query", q.String())
			}
			pred.value = v
		}
		p.preds = append(p.preds, pred)
	}

	for _, o := range q.OrderBy {
		pos, _, err := lookup(o.Field)
		if err != nil {
			return nil, err
		}
		p.order = append(p.order, ordering{pos: pos, desc: o.Descending})
	}
	return p, nil
}

// fingerprint identifies the compiled query for caching.
func (p *plan) fingerprint(skip, take int) string {
	var b strings.Builder
	for _, pr := range p.preds {
		fmt.Fprintf(&b, "%d%s%d:%s", pr.pos, pr.op, pr.value.Kind(), pr.value.String())
		for _, t := range pr.terms {
			fmt.Fprintf(&b, "|%s:%t", t.Text, t.Prefix)
		}
		b.WriteByte(';')
	}
	for _, o := range p.order {
		fmt.Fprintf(&b, "o%d:%t;", o.pos, o.desc)
	}
	fmt.Fprintf(&b, "s%d:t%d", skip, take)
	return b.String()
}

// matches reports whether e satisfies every predicate.
func (p *plan) matches(e *index.Entry) bool {
	for _, pr := range p.preds {
		if !pr.matches(e.Values[pr.pos]) {
			return false
		}
	}
	return true
}

func (pr predicate) matches(v index.Value) bool {
	if pr.terms != nil {
		return !v.IsNull() && index.MatchTokens(v.Tokens(), pr.terms)
	}
	if pr.op == OpEq {
		return index.Compare(v, pr.value) == 0
	}
	// Null and values of another kind never satisfy a range.
	if v.IsNull() || v.Kind() != pr.value.Kind() {
		return false
	}
	c := index.Compare(v, pr.value)
	switch pr.op {
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

// sort orders entries by the plan orderings, then by document id, group key
// and ordinal. Nulls sort first ascending and last descending.
func (p *plan) sort(entries []index.Entry) {
	slices.SortFunc(entries, func(a, b index.Entry) int {
		for _, o := range p.order {
			c := index.Compare(a.Values[o.pos], b.Values[o.pos])
			if o.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return cmp.Or(
			cmp.Compare(a.DocumentID, b.DocumentID),
			cmp.Compare(a.GroupKey, b.GroupKey),
			cmp.Compare(a.Ordinal, b.Ordinal),
		)
	})
}

func invalidQuery(q Query, msg string) error {
	return ierrors.QueryError(msg, nil).WithDetail("query", q.String())
}
