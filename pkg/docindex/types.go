package docindex

import (
	"github.com/Aman-CERP/docindex/internal/index"
	"github.com/Aman-CERP/docindex/internal/query"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/internal/telemetry"
)

// Store types.
type (
	Document   = store.Document
	Generation = store.Generation
)

// Index definition types.
type (
	Definition  = index.Definition
	Field       = index.Field
	FieldKind   = index.FieldKind
	Analysis    = index.Analysis
	Map         = index.Map
	Draft       = index.Draft
	Mapper      = index.Mapper
	MapFunc     = index.MapFunc
	Reducer     = index.Reducer
	ReduceFunc  = index.ReduceFunc
	GroupByFunc = index.GroupByFunc
	MultiMap    = index.MultiMap
	Handle      = index.Handle
	Stats       = index.Stats
	Entry       = index.Entry
	Value       = index.Value
	Diagnostic  = index.Diagnostic
)

// Query types.
type (
	Query     = query.Query
	Clause    = query.Clause
	Order     = query.Order
	Op        = query.Op
	Staleness = query.Staleness
	Result    = query.Result
)

// QueryTelemetry summarizes the queries answered since the DB opened.
type QueryTelemetry = telemetry.QueryMetricsSnapshot

// Field kinds.
const (
	FieldString   = index.FieldString
	FieldNumber   = index.FieldNumber
	FieldDuration = index.FieldDuration
	FieldTime     = index.FieldTime
	FieldBool     = index.FieldBool
)

// String analysis modes.
const (
	NotAnalyzed = index.NotAnalyzed
	Analyzed    = index.Analyzed
)

// Clause operators.
const (
	OpEq    = query.OpEq
	OpLt    = query.OpLt
	OpLte   = query.OpLte
	OpGt    = query.OpGt
	OpGte   = query.OpGte
	OpMatch = query.OpMatch
)

var (
	// NewMultiMap starts a multi-map index definition.
	NewMultiMap = index.NewMultiMap
	// GroupByField groups drafts by the value of a field.
	GroupByField = index.GroupByField

	Where       = query.Where
	Asc         = query.Asc
	Desc        = query.Desc
	ParseClause = query.ParseClause
	ParseOrder  = query.ParseOrder

	// NoWait answers from the current snapshot.
	NoWait = query.NoWait
	// WaitFor waits until the index has processed a generation.
	WaitFor = query.WaitFor
	// WaitForLastWriteWithin waits for the writes made before the query.
	WaitForLastWriteWithin = query.WaitForLastWriteWithin

	// FormatTimeSpan renders a duration as [-][d.]hh:mm:ss[.fffffff].
	FormatTimeSpan = index.FormatTimeSpan
	// ParseDuration accepts time spans, Go durations and the sortable
	// duration encoding.
	ParseDuration = index.ParseDuration
)
