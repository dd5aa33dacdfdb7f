package config

import (
	"fmt"
	"slices"
	"strings"
)

// Field kinds accepted in index declarations.
var fieldKinds = []string{"string", "number", "duration", "timespan", "time", "bool"}

// IndexConfig declares an index in YAML. Each map copies payload values
// into index fields; an optional reduce sums and counts per group.
type IndexConfig struct {
	Name   string        `yaml:"name" json:"name"`
	Fields []FieldConfig `yaml:"fields" json:"fields"`
	Maps   []MapConfig   `yaml:"maps" json:"maps"`
	Reduce *ReduceConfig `yaml:"reduce,omitempty" json:"reduce,omitempty"`
}

// FieldConfig declares one index field.
type FieldConfig struct {
	Name     string `yaml:"name" json:"name"`
	Kind     string `yaml:"kind,omitempty" json:"kind,omitempty"`
	Analyzed bool   `yaml:"analyzed,omitempty" json:"analyzed,omitempty"`
}

// MapConfig routes documents of an entity into the index.
type MapConfig struct {
	// Entity selects documents by entity tag. Empty matches every entity.
	Entity string `yaml:"entity,omitempty" json:"entity,omitempty"`

	// Fields maps index field names to dotted payload paths. A field
	// missing here reads the payload key of the same name.
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`

	// Each names a payload array; the map emits one entry per element, with
	// paths resolved against the element.
	Each string `yaml:"each,omitempty" json:"each,omitempty"`
}

// ReduceConfig aggregates mapped entries per group.
type ReduceConfig struct {
	// GroupBy is the field whose value forms the group key.
	GroupBy string `yaml:"group_by" json:"group_by"`

	// Sum lists number or duration fields summed per group.
	Sum []string `yaml:"sum,omitempty" json:"sum,omitempty"`

	// Count names a number field receiving the entry count of the group.
	Count string `yaml:"count,omitempty" json:"count,omitempty"`
}

func (c *Config) validateIndexes() error {
	names := make(map[string]bool, len(c.Indexes))
	for i, idx := range c.Indexes {
		where := fmt.Sprintf("indexes[%d]", i)
		if strings.TrimSpace(idx.Name) == "" {
			return invalid(where + ".name is required")
		}
		if names[idx.Name] {
			return invalid(fmt.Sprintf("index %q is declared twice", idx.Name))
		}
		names[idx.Name] = true

		if len(idx.Fields) == 0 {
			return invalid(fmt.Sprintf("index %q needs at least one field", idx.Name))
		}
		if len(idx.Maps) == 0 {
			return invalid(fmt.Sprintf("index %q needs at least one map", idx.Name))
		}

		declared := make(map[string]bool, len(idx.Fields))
		for _, f := range idx.Fields {
			if f.Name == "" {
				return invalid(fmt.Sprintf("index %q has a field without a name", idx.Name))
			}
			kind := strings.ToLower(f.Kind)
			if kind != "" && !slices.Contains(fieldKinds, kind) {
				return invalid(fmt.Sprintf("index %q field %q: kind must be one of %s, got %s",
					idx.Name, f.Name, strings.Join(fieldKinds, ", "), f.Kind))
			}
			declared[f.Name] = true
		}

		if r := idx.Reduce; r != nil {
			if !declared[r.GroupBy] {
				return invalid(fmt.Sprintf("index %q: reduce.group_by %q is not a declared field", idx.Name, r.GroupBy))
			}
			for _, name := range append(slices.Clone(r.Sum), r.Count) {
				if name != "" && !declared[name] {
					return invalid(fmt.Sprintf("index %q: reduce field %q is not declared", idx.Name, name))
				}
			}
		}
	}
	return nil
}

// Index returns the declared index with name.
func (c *Config) Index(name string) (IndexConfig, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexConfig{}, false
}
