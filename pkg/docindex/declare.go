package docindex

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/Aman-CERP/docindex/internal/config"
	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/index"
)

// Special payload paths.
const (
	pathID     = "@id"
	pathEntity = "@entity"
)

// DefinitionFromConfig builds an index definition from its YAML
// declaration.
func DefinitionFromConfig(ic config.IndexConfig) (*Definition, error) {
	fields := make([]index.Field, 0, len(ic.Fields))
	for _, fc := range ic.Fields {
		kind, err := index.ParseFieldKind(fc.Kind)
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeInvalidDefinition, err.Error(), err).
				WithDetail("index", ic.Name).
				WithDetail("field", fc.Name)
		}
		f := index.Field{Name: fc.Name, Kind: kind}
		if fc.Analyzed {
			f.Analysis = index.Analyzed
		}
		fields = append(fields, f)
	}

	count := ""
	if ic.Reduce != nil {
		count = ic.Reduce.Count
	}

	def := &index.Definition{Name: ic.Name, Fields: fields}
	for _, mc := range ic.Maps {
		pm := &pathMapper{paths: make(map[string]string, len(fields)), each: mc.Each, count: count}
		produces := make([]string, 0, len(fields))
		for _, f := range fields {
			path := mc.Fields[f.Name]
			if path == "" {
				path = f.Name
			}
			if f.Name == count {
				continue
			}
			pm.paths[f.Name] = path
			produces = append(produces, f.Name)
		}
		if count != "" {
			produces = append(produces, count)
		}
		def.Maps = append(def.Maps, index.Map{Entity: mc.Entity, Mapper: pm, Produces: produces})
	}

	if r := ic.Reduce; r != nil {
		sr := &sumReducer{groupBy: r.GroupBy, count: r.Count}
		for _, name := range r.Sum {
			pos := slices.IndexFunc(fields, func(f index.Field) bool { return f.Name == name })
			if pos < 0 {
				return nil, ierrors.New(ierrors.ErrCodeInvalidDefinition,
					fmt.Sprintf("sum field %q is not declared", name), nil).
					WithDetail("index", ic.Name)
			}
			f := fields[pos]
			if f.Kind != index.FieldNumber && f.Kind != index.FieldDuration {
				return nil, ierrors.New(ierrors.ErrCodeInvalidDefinition,
					fmt.Sprintf("sum field %q must be a number or duration, got %s", name, f.Kind), nil).
					WithDetail("index", ic.Name)
			}
			sr.sums = append(sr.sums, f)
		}
		def.Reduce = sr
		def.GroupBy = index.GroupByField(r.GroupBy)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// pathMapper copies payload values addressed by dotted paths into fields.
type pathMapper struct {
	paths map[string]string
	each  string
	count string
}

func (m *pathMapper) Map(doc *Document) ([]Draft, error) {
	if m.each == "" {
		return []Draft{m.draft(doc, doc.Payload)}, nil
	}

	raw := lookup(doc.Payload, m.each)
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s is %T, not an array", m.each, raw)
	}
	drafts := make([]Draft, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is %T, not an object", m.each, i, item)
		}
		drafts = append(drafts, m.draft(doc, obj))
	}
	return drafts, nil
}

func (m *pathMapper) draft(doc *Document, obj map[string]any) Draft {
	fields := make(map[string]any, len(m.paths)+1)
	for name, path := range m.paths {
		switch path {
		case pathID:
			fields[name] = doc.ID
		case pathEntity:
			fields[name] = doc.Entity
		default:
			fields[name] = lookup(obj, path)
		}
	}
	if m.count != "" {
		fields[m.count] = 1
	}
	return Draft{Fields: fields}
}

// lookup resolves a dotted path through nested objects. Missing keys and
// non-object intermediates resolve to nil.
func lookup(obj map[string]any, path string) any {
	var cur any = obj
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// sumReducer folds a group into one draft holding the group key, the sums
// of the summed fields and the entry count. Its output is a valid input, so
// re-reducing is stable.
type sumReducer struct {
	groupBy string
	sums    []index.Field
	count   string
}

func (r *sumReducer) Reduce(group string, drafts []Draft) ([]Draft, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	out := map[string]any{r.groupBy: drafts[0].Fields[r.groupBy]}

	for _, f := range r.sums {
		nums := make([]float64, 0, len(drafts))
		var dur time.Duration
		for _, d := range drafts {
			v, err := index.Coerce(d.Fields[f.Name], f, nil)
			if err != nil {
				return nil, err
			}
			nums = append(nums, v.Num())
			dur += v.Duration()
		}
		if f.Kind == index.FieldDuration {
			out[f.Name] = dur
		} else {
			out[f.Name] = sum(nums)
		}
	}

	if r.count != "" {
		countField := index.Field{Name: r.count, Kind: index.FieldNumber}
		counts := make([]float64, 0, len(drafts))
		for _, d := range drafts {
			v, err := index.Coerce(d.Fields[r.count], countField, nil)
			if err != nil {
				return nil, err
			}
			counts = append(counts, v.Num())
		}
		out[r.count] = sum(counts)
	}
	return []Draft{{GroupKey: group, Fields: out}}, nil
}

// sum adds nums in sorted order with Neumaier compensation, so the result
// does not depend on the order the group's drafts arrive in.
func sum(nums []float64) float64 {
	slices.Sort(nums)
	var total, comp float64
	for _, n := range nums {
		t := total + n
		if math.Abs(total) >= math.Abs(n) {
			comp += (total - t) + n
		} else {
			comp += (n - t) + total
		}
		total = t
	}
	return total + comp
}
