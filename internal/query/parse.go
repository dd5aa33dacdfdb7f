package query

import (
	"fmt"
	"strings"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// operators in match order: two-character operators first.
var operators = []struct {
	token string
	op    Op
}{
	{"<=", OpLte},
	{">=", OpGte},
	{"~", OpMatch},
	{"=", OpEq},
	{"<", OpLt},
	{">", OpGt},
}

// ParseClause parses "Field<op>Value" where op is one of = < <= > >= and ~
// (token match). The value stays a string and is coerced to the field kind
// when the query runs; "null" is the null value.
//
//	Start<=15h
//	Name~data*
//	Until=null
func ParseClause(s string) (Clause, error) {
	pos, width := -1, 0
	var op Op
	for _, cand := range operators {
		i := strings.Index(s, cand.token)
		if i < 0 {
			continue
		}
		if pos < 0 || i < pos || (i == pos && len(cand.token) > width) {
			pos, width, op = i, len(cand.token), cand.op
		}
	}
	if pos <= 0 {
		return Clause{}, ierrors.QueryError(fmt.Sprintf("invalid clause %q: expected field, operator and value", s), nil)
	}

	field := strings.TrimSpace(s[:pos])
	raw := strings.TrimSpace(s[pos+width:])
	if field == "" {
		return Clause{}, ierrors.QueryError(fmt.Sprintf("invalid clause %q: missing field", s), nil)
	}

	var value any = raw
	if strings.EqualFold(raw, "null") {
		if op != OpEq {
			return Clause{}, ierrors.QueryError(fmt.Sprintf("invalid clause %q: null only compares with =", s), nil)
		}
		value = nil
	}
	return Clause{Field: field, Op: op, Value: value}, nil
}

// ParseOrder parses "Field", "+Field" (ascending) or "-Field" (descending).
func ParseOrder(s string) (Order, error) {
	s = strings.TrimSpace(s)
	desc := false
	switch {
	case strings.HasPrefix(s, "-"):
		desc = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return Order{}, ierrors.QueryError("invalid order: missing field", nil)
	}
	return Order{Field: s, Descending: desc}, nil
}
