// Package index implements incremental map/reduce indexes over a document
// store: index definitions, the indexing engine with its per-index queues and
// worker pool, staleness tracking, and immutable entry snapshots for queries.
package index

import (
	"fmt"
	"sort"
	"strings"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/store"
)

// FieldKind is the declared type of an index field.
type FieldKind int

const (
	FieldString FieldKind = iota
	FieldNumber
	FieldDuration
	FieldTime
	FieldBool
)

// String returns the lowercase kind name.
func (k FieldKind) String() string {
	switch k {
	case FieldString:
		return "string"
	case FieldNumber:
		return "number"
	case FieldDuration:
		return "duration"
	case FieldTime:
		return "time"
	case FieldBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseFieldKind parses a kind name as produced by FieldKind.String.
func ParseFieldKind(s string) (FieldKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "":
		return FieldString, nil
	case "number":
		return FieldNumber, nil
	case "duration", "timespan":
		return FieldDuration, nil
	case "time":
		return FieldTime, nil
	case "bool":
		return FieldBool, nil
	default:
		return 0, fmt.Errorf("unknown field kind %q", s)
	}
}

// Analysis selects how string fields are compared.
type Analysis int

const (
	// NotAnalyzed fields match by exact value.
	NotAnalyzed Analysis = iota
	// Analyzed fields are tokenized and match by token.
	Analyzed
)

// Field declares one field of an index schema.
type Field struct {
	Name     string
	Kind     FieldKind
	Analysis Analysis
}

// Draft is one entry produced by a map or reduce function, before the
// declared fields are extracted.
type Draft struct {
	// DocumentID overrides the source document reference. Map drafts default
	// to the mapped document.
	DocumentID string

	// GroupKey is used for grouping when the definition has no GroupBy.
	GroupKey string

	// Fields holds the produced values by field name.
	Fields map[string]any
}

// Mapper turns a document into zero or more drafts.
type Mapper interface {
	Map(doc *store.Document) ([]Draft, error)
}

// MapFunc adapts a function to Mapper.
type MapFunc func(doc *store.Document) ([]Draft, error)

// Map calls f(doc).
func (f MapFunc) Map(doc *store.Document) ([]Draft, error) {
	return f(doc)
}

// Reducer merges the drafts of one group. It must be associative and
// commutative, and reducing its own output must return the same output.
type Reducer interface {
	Reduce(group string, drafts []Draft) ([]Draft, error)
}

// ReduceFunc adapts a function to Reducer.
type ReduceFunc func(group string, drafts []Draft) ([]Draft, error)

// Reduce calls f(group, drafts).
func (f ReduceFunc) Reduce(group string, drafts []Draft) ([]Draft, error) {
	return f(group, drafts)
}

// GroupByFunc extracts the group key of a draft.
type GroupByFunc func(d Draft) (string, error)

// GroupByField groups drafts by the formatted value of a field.
func GroupByField(name string) GroupByFunc {
	return func(d Draft) (string, error) {
		v, ok := d.Fields[name]
		if !ok || v == nil {
			return "", fmt.Errorf("group-by field %q is missing", name)
		}
		return fmt.Sprint(v), nil
	}
}

// Map binds a mapper to the entity tag of the documents it receives.
type Map struct {
	// Entity selects documents by entity tag. Empty matches every entity.
	Entity string

	Mapper Mapper

	// Produces optionally lists the fields the mapper emits. It is checked
	// against the declared schema at registration.
	Produces []string
}

// Definition declares an index.
type Definition struct {
	Name    string
	Maps    []Map
	Reduce  Reducer
	Fields  []Field
	GroupBy GroupByFunc
}

// Validate checks the definition against its own schema.
func (d *Definition) Validate() error {
	if d == nil {
		return invalidDefinition("", "definition is nil")
	}
	if strings.TrimSpace(d.Name) == "" {
		return invalidDefinition(d.Name, "index name is required")
	}
	if len(d.Maps) == 0 {
		return invalidDefinition(d.Name, "at least one map is required")
	}
	if len(d.Fields) == 0 {
		return invalidDefinition(d.Name, "at least one field is required")
	}

	declared := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" {
			return invalidDefinition(d.Name, "field name is required")
		}
		if _, dup := declared[f.Name]; dup {
			return invalidDefinition(d.Name, fmt.Sprintf("field %q declared twice", f.Name))
		}
		if f.Kind < FieldString || f.Kind > FieldBool {
			return invalidDefinition(d.Name, fmt.Sprintf("field %q has unknown kind", f.Name))
		}
		if f.Analysis == Analyzed && f.Kind != FieldString {
			return invalidDefinition(d.Name, fmt.Sprintf("field %q: only string fields can be analyzed", f.Name))
		}
		declared[f.Name] = struct{}{}
	}

	for i, m := range d.Maps {
		if m.Mapper == nil {
			return invalidDefinition(d.Name, fmt.Sprintf("map %d has no mapper", i))
		}
		if d.Reduce != nil {
			// Reduce inputs may carry fields the schema does not declare.
			continue
		}
		for _, name := range m.Produces {
			if _, ok := declared[name]; !ok {
				return invalidDefinition(d.Name, fmt.Sprintf("map %d produces undeclared field %q", i, name))
			}
		}
	}
	return nil
}

// FieldIndex returns the position of the named field, or -1.
func (d *Definition) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Entities returns the distinct entity tags the index maps, sorted.
func (d *Definition) Entities() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range d.Maps {
		if _, ok := seen[m.Entity]; ok {
			continue
		}
		seen[m.Entity] = struct{}{}
		out = append(out, m.Entity)
	}
	sort.Strings(out)
	return out
}

// signature describes the schema of a definition. Two definitions with the
// same signature are treated as the same index.
func (d *Definition) signature() string {
	var b strings.Builder
	b.WriteString(d.Name)
	for _, f := range d.Fields {
		fmt.Fprintf(&b, "|%s:%s:%d", f.Name, f.Kind, f.Analysis)
	}
	entities := make([]string, 0, len(d.Maps))
	for _, m := range d.Maps {
		entities = append(entities, m.Entity)
	}
	sort.Strings(entities)
	fmt.Fprintf(&b, "|maps=%s|reduce=%t|groupby=%t",
		strings.Join(entities, ","), d.Reduce != nil, d.GroupBy != nil)
	return b.String()
}

// clone copies the slices of a definition so later caller mutation cannot
// change a registered index.
func (d *Definition) clone() *Definition {
	c := *d
	c.Maps = append([]Map(nil), d.Maps...)
	c.Fields = append([]Field(nil), d.Fields...)
	return &c
}

// mapsFor returns the maps routed for an entity tag.
func (d *Definition) mapsFor(entity string) []Map {
	var out []Map
	for _, m := range d.Maps {
		if m.Entity == "" || m.Entity == entity {
			out = append(out, m)
		}
	}
	return out
}

func invalidDefinition(name, msg string) error {
	return ierrors.New(ierrors.ErrCodeInvalidDefinition, msg, nil).WithDetail("index", name)
}
