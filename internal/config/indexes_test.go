package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
)

func TestLoad_IndexDeclarations(t *testing.T) {
	// Given: a project config declaring a map and a map/reduce index
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), `
indexes:
  - name: OrdersByCustomer
    fields:
      - {name: Customer}
      - {name: Total, kind: number}
    maps:
      - entity: Orders
        fields: {Customer: Customer.Name}
  - name: TotalsByCustomer
    fields:
      - {name: Customer}
      - {name: Total, kind: number}
      - {name: Count, kind: number}
    maps:
      - entity: Orders
        each: Lines
    reduce:
      group_by: Customer
      sum: [Total]
      count: Count
`)

	// When: loading
	cfg, err := Load(dir)

	// Then: both indexes are available by name
	require.NoError(t, err)
	require.Len(t, cfg.Indexes, 2)

	idx, ok := cfg.Index("OrdersByCustomer")
	require.True(t, ok)
	assert.Equal(t, "Customer.Name", idx.Maps[0].Fields["Customer"])
	assert.Nil(t, idx.Reduce)

	idx, ok = cfg.Index("TotalsByCustomer")
	require.True(t, ok)
	assert.Equal(t, "Lines", idx.Maps[0].Each)
	require.NotNil(t, idx.Reduce)
	assert.Equal(t, []string{"Total"}, idx.Reduce.Sum)

	_, ok = cfg.Index("Missing")
	assert.False(t, ok)
}

func TestMergeWith_IndexesReplaceWhole(t *testing.T) {
	base := NewConfig()
	base.Indexes = []IndexConfig{{Name: "A"}, {Name: "B"}}

	base.mergeWith(&Config{Indexes: []IndexConfig{{Name: "C"}}})
	assert.Equal(t, []IndexConfig{{Name: "C"}}, base.Indexes)

	base.mergeWith(&Config{})
	assert.Equal(t, []IndexConfig{{Name: "C"}}, base.Indexes, "empty list keeps inherited indexes")
}

func TestValidate_IndexDeclarations(t *testing.T) {
	valid := func() IndexConfig {
		return IndexConfig{
			Name:   "Orders",
			Fields: []FieldConfig{{Name: "Customer"}, {Name: "Total", Kind: "number"}},
			Maps:   []MapConfig{{Entity: "Orders"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing name", func(c *Config) { c.Indexes[0].Name = " " }},
		{"duplicate name", func(c *Config) { c.Indexes = append(c.Indexes, valid()) }},
		{"no fields", func(c *Config) { c.Indexes[0].Fields = nil }},
		{"no maps", func(c *Config) { c.Indexes[0].Maps = nil }},
		{"unnamed field", func(c *Config) { c.Indexes[0].Fields[0].Name = "" }},
		{"unknown kind", func(c *Config) { c.Indexes[0].Fields[1].Kind = "decimal" }},
		{"undeclared group_by", func(c *Config) { c.Indexes[0].Reduce = &ReduceConfig{GroupBy: "Nope"} }},
		{"undeclared sum", func(c *Config) {
			c.Indexes[0].Reduce = &ReduceConfig{GroupBy: "Customer", Sum: []string{"Nope"}}
		}},
		{"undeclared count", func(c *Config) {
			c.Indexes[0].Reduce = &ReduceConfig{GroupBy: "Customer", Count: "Nope"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Indexes = []IndexConfig{valid()}
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			err := cfg.Validate()

			require.Error(t, err)
			var ie *ierrors.IndexError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, ierrors.ErrCodeConfigInvalid, ie.Code)
		})
	}
}
