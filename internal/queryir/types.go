package queryir

import "github.com/roach88/grainplan/internal/ir"

// Predicate represents a filter condition over concepts.
//
// This is a sealed interface - only types in this package implement it.
// The marker method prevents external implementations and lets renderers
// use exhaustive type switches.
//
// Predicate types:
//   - Comparison: concept <op> literal
//   - In: concept IN (literal, ...)
//   - IsNull: concept IS [NOT] NULL
//   - And / Or: conjunction / disjunction of predicates
//   - Not: negation
//
// Predicates reference concepts by address (namespace.name), never by
// physical column. The renderer maps addresses to columns of whichever CTE
// or table ends up owning the concept.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Operator is a binary comparison operator.
type Operator string

const (
	OpEq  Operator = "="
	OpNeq Operator = "!="
	OpLt  Operator = "<"
	OpLte Operator = "<="
	OpGt  Operator = ">"
	OpGte Operator = ">="
)

// ValidOperators lists the operators accepted by ParseOperator.
var ValidOperators = map[Operator]bool{
	OpEq: true, OpNeq: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true,
}

// Comparison compares a concept against a literal.
//
//	Comparison{Concept: "local.status", Op: OpEq, Value: ir.String("shipped")}
//
// renders as
//
//	status = ?   -- with "shipped" bound
type Comparison struct {
	Concept string   // concept address
	Op      Operator // comparison operator
	Value   ir.Value // literal (never interpolated)
}

func (Comparison) predicateNode() {}

// Equals is shorthand for an equality Comparison.
func Equals(concept string, value ir.Value) Comparison {
	return Comparison{Concept: concept, Op: OpEq, Value: value}
}

// In tests membership in a literal list. An empty list matches nothing.
type In struct {
	Concept string
	Values  ir.List
}

func (In) predicateNode() {}

// IsNull tests a concept for NULL (or NOT NULL when Negated).
type IsNull struct {
	Concept string
	Negated bool
}

func (IsNull) predicateNode() {}

// And is a conjunction. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or is a disjunction. An empty Or is always false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Normalize returns the value form of p so callers only switch on values.
// Both Comparison{} and &Comparison{} are accepted everywhere.
func Normalize(p Predicate) Predicate {
	switch v := p.(type) {
	case *Comparison:
		return *v
	case *In:
		return *v
	case *IsNull:
		return *v
	case *And:
		return *v
	case *Or:
		return *v
	case *Not:
		return *v
	}
	return p
}
