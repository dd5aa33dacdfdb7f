package index

import (
	"fmt"
)

// MultiMap builds a definition fed by several maps, typically one per entity
// tag, sharing one field schema.
type MultiMap struct {
	def Definition
}

// NewMultiMap starts a multi-map definition with the shared schema.
func NewMultiMap(name string, fields ...Field) *MultiMap {
	return &MultiMap{def: Definition{Name: name, Fields: fields}}
}

// AddMap routes documents tagged entity to mapper. produces optionally lists
// the schema fields the mapper emits; the rest are null on its entries.
func (m *MultiMap) AddMap(entity string, mapper Mapper, produces ...string) *MultiMap {
	m.def.Maps = append(m.def.Maps, Map{Entity: entity, Mapper: mapper, Produces: produces})
	return m
}

// Reduce sets the reduce function.
func (m *MultiMap) Reduce(r Reducer) *MultiMap {
	m.def.Reduce = r
	return m
}

// GroupBy sets the group-by extractor.
func (m *MultiMap) GroupBy(fn GroupByFunc) *MultiMap {
	m.def.GroupBy = fn
	return m
}

// Definition returns the built definition.
func (m *MultiMap) Definition() *Definition {
	d := m.def
	return d.clone()
}

// normalize projects a draft onto the declared schema: undeclared fields are
// dropped, missing fields become null, present fields are coerced to their
// declared kind.
func normalize(def *Definition, d Draft, an *Analyzer) ([]Value, error) {
	if d.Fields == nil {
		return nil, fmt.Errorf("draft has no fields")
	}
	values := make([]Value, len(def.Fields))
	for i, f := range def.Fields {
		raw, ok := d.Fields[f.Name]
		if !ok {
			values[i] = NullValue()
			continue
		}
		v, err := Coerce(raw, f, an)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}
