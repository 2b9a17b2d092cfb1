package model

import (
	"slices"
	"strings"

	"github.com/roach88/grainplan/internal/ir"
	"github.com/roach88/grainplan/internal/queryir"
)

// Datasource is a source of concepts.
//
// This is a sealed interface - only *BaseDatasource and *QueryDatasource
// implement it. Code that walks datasource trees switches exhaustively
// over the two variants.
type Datasource interface {
	Identifier() string
	Outputs() []Concept
	Granularity() Grain
	datasourceNode() // Marker method - seals interface to this package
}

// Column binds a physical column to the concept it carries.
type Column struct {
	Name    string
	Concept Concept
}

// BaseDatasource is a physical, table-like source.
type BaseDatasource struct {
	Name    string // identifier, unique within an Environment
	Table   string // physical table; defaults to Name
	Columns []Column
	Grain   Grain
}

func (*BaseDatasource) datasourceNode() {}

// Identifier returns the datasource name.
func (b *BaseDatasource) Identifier() string { return b.Name }

// Granularity returns the declared grain.
func (b *BaseDatasource) Granularity() Grain { return b.Grain }

// TableName returns the physical table name.
func (b *BaseDatasource) TableName() string {
	if b.Table == "" {
		return b.Name
	}
	return b.Table
}

// Outputs returns the concepts bound to columns, sorted by address.
func (b *BaseDatasource) Outputs() []Concept {
	cs := make([]Concept, 0, len(b.Columns))
	for _, col := range b.Columns {
		cs = append(cs, col.Concept)
	}
	return SortConcepts(UniqueConcepts(cs))
}

// ColumnFor returns the physical column carrying address.
func (b *BaseDatasource) ColumnFor(address string) (string, bool) {
	for _, col := range b.Columns {
		if col.Concept.Address() == address {
			return col.Name, true
		}
	}
	return "", false
}

// JoinType is the kind of join between two datasources.
type JoinType string

const (
	JoinInner      JoinType = "INNER"
	JoinLeftOuter  JoinType = "LEFT_OUTER"
	JoinRightOuter JoinType = "RIGHT_OUTER"
	JoinFull       JoinType = "FULL"
)

// SQL returns the SQL join keyword.
func (j JoinType) SQL() string {
	switch j {
	case JoinLeftOuter:
		return "LEFT JOIN"
	case JoinRightOuter:
		return "RIGHT JOIN"
	case JoinFull:
		return "FULL JOIN"
	default:
		return "JOIN"
	}
}

// BaseJoin declares that two datasources join on a set of shared concepts.
type BaseJoin struct {
	Left     Datasource
	Right    Datasource
	Concepts []Concept
	JoinType JoinType
}

// canonicalKey is the order-sensitive identity of the join.
func (j BaseJoin) canonicalKey(id func(Datasource) string) string {
	return strings.Join([]string{
		id(j.Left),
		id(j.Right),
		string(j.JoinType),
		strings.Join(Addresses(SortConcepts(j.Concepts)), ","),
	}, "|")
}

func identifierOf(ds Datasource) string {
	if ds == nil {
		return ""
	}
	return ds.Identifier()
}

// QueryDatasource is a derived source built from child datasources.
//
// Children may themselves be *QueryDatasource, forming a tree. The
// identifier is a structural hash of the children identifiers, joins,
// grain, grouping flag and condition. Output concepts are not part of the
// identity, so two composites with the same shape but different outputs
// share an identifier and can be combined with Merge.
type QueryDatasource struct {
	OutputConcepts []Concept
	InputConcepts  []Concept
	// SourceMap maps a concept address to the children able to supply it.
	SourceMap      map[string][]Datasource
	Grain          Grain
	Datasources    []Datasource
	Joins          []BaseJoin
	GroupRequired  bool
	Condition      queryir.Predicate
	FilterConcepts []Concept
}

func (*QueryDatasource) datasourceNode() {}

// Outputs returns the output concepts.
func (q *QueryDatasource) Outputs() []Concept { return q.OutputConcepts }

// Granularity returns the grain of the composite.
func (q *QueryDatasource) Granularity() Grain { return q.Grain }

// Identifier returns "q_" followed by 16 hex characters of the structural hash.
func (q *QueryDatasource) Identifier() string {
	return Identifiers(q)[q]
}

// Identifiers returns the identifier of q and of every composite reachable
// from it through children, joins and source maps. Each composite is
// hashed once, children before parents, with an explicit stack.
func Identifiers(q *QueryDatasource) map[*QueryDatasource]string {
	ids := make(map[*QueryDatasource]string)
	pending := make(map[*QueryDatasource]bool)
	type visit struct {
		q        *QueryDatasource
		expanded bool
	}
	stack := []visit{{q: q}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := ids[top.q]; done {
			continue
		}
		if top.expanded {
			ids[top.q] = ir.MustDatasourceID(top.q.structure(ids))
			delete(pending, top.q)
			continue
		}
		pending[top.q] = true
		stack = append(stack, visit{q: top.q, expanded: true})
		for _, dep := range top.q.dependencies() {
			if child, ok := dep.(*QueryDatasource); ok && !pending[child] {
				if _, done := ids[child]; !done {
					stack = append(stack, visit{q: child})
				}
			}
		}
	}
	return ids
}

// dependencies lists every datasource the identifier of q depends on.
func (q *QueryDatasource) dependencies() []Datasource {
	deps := slices.Clone(q.Datasources)
	for _, j := range q.Joins {
		deps = append(deps, j.Left, j.Right)
	}
	for _, sources := range q.SourceMap {
		deps = append(deps, sources...)
	}
	return deps
}

// structure is the hashed form of q. Composites missing from ids are
// part of a cycle and hash as the empty identifier.
func (q *QueryDatasource) structure(ids map[*QueryDatasource]string) ir.Object {
	id := func(ds Datasource) string {
		if child, ok := ds.(*QueryDatasource); ok {
			return ids[child]
		}
		return identifierOf(ds)
	}

	children := make([]string, 0, len(q.Datasources))
	for _, ds := range q.Datasources {
		children = append(children, id(ds))
	}
	slices.Sort(children)

	joins := make([]string, 0, len(q.Joins))
	for _, j := range q.Joins {
		joins = append(joins, j.canonicalKey(id))
	}
	slices.Sort(joins)
	joins = slices.Compact(joins)

	obj := ir.Object{
		"children":       ir.Strings(children...),
		"joins":          ir.Strings(joins...),
		"grain":          ir.Strings(q.Grain.Addresses()...),
		"group_required": ir.Bool(q.GroupRequired),
	}
	if q.Condition != nil {
		if cond, err := queryir.Canonical(q.Condition); err == nil {
			obj["condition"] = cond
		} else {
			obj["condition_text"] = ir.String(queryir.String(q.Condition))
		}
	}
	return obj
}

// Child returns the direct child with the given identifier.
func (q *QueryDatasource) Child(identifier string) (Datasource, bool) {
	for _, ds := range q.Datasources {
		if identifierOf(ds) == identifier {
			return ds, true
		}
	}
	return nil, false
}

// Wrap lifts a base datasource into a pass-through composite with the
// same outputs and grain.
func Wrap(base *BaseDatasource) *QueryDatasource {
	outputs := base.Outputs()
	sourceMap := make(map[string][]Datasource, len(outputs))
	for _, c := range outputs {
		sourceMap[c.Address()] = []Datasource{base}
	}
	return &QueryDatasource{
		OutputConcepts: outputs,
		InputConcepts:  outputs,
		SourceMap:      sourceMap,
		Grain:          NewGrain(base.Grain.Components...),
		Datasources:    []Datasource{base},
	}
}

// Group wraps a base datasource into a composite aggregated to grain.
// Outputs are the grain components plus the metrics the base carries.
func Group(base *BaseDatasource, grain Grain) *QueryDatasource {
	var outputs []Concept
	for _, c := range base.Outputs() {
		if grain.Contains(c.Address()) || c.Purpose == PurposeMetric {
			outputs = append(outputs, c)
		}
	}
	outputs = SortConcepts(outputs)
	sourceMap := make(map[string][]Datasource, len(outputs))
	for _, c := range outputs {
		sourceMap[c.Address()] = []Datasource{base}
	}
	return &QueryDatasource{
		OutputConcepts: outputs,
		InputConcepts:  base.Outputs(),
		SourceMap:      sourceMap,
		Grain:          NewGrain(grain.Components...),
		Datasources:    []Datasource{base},
		GroupRequired:  true,
	}
}

// IsComposite reports whether ds is a *QueryDatasource.
func IsComposite(ds Datasource) bool {
	_, ok := ds.(*QueryDatasource)
	return ok
}
