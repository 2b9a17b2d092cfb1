package queryir

import (
	"fmt"

	"github.com/roach88/grainplan/internal/ir"
)

// ValidationResult reports problems found in a predicate.
type ValidationResult struct {
	// IsPortable is true when the predicate renders with identical semantics
	// on every SQL backend the renderer targets.
	IsPortable bool

	// Warnings lists non-portable or suspicious constructs.
	Warnings []string

	// UnknownConcepts lists referenced addresses rejected by the known
	// callback. A non-empty list means the predicate cannot be planned.
	UnknownConcepts []string
}

// Validate checks a predicate for non-portable constructs and references to
// unknown concepts. known may be nil, in which case every address is accepted.
//
// Portability rules:
//  1. Comparisons against NULL must use IsNull (= NULL is never true)
//  2. IN lists must be non-empty and must not contain NULL
//  3. Operators must be one of ValidOperators
//  4. Nested And/Or groups must not be empty
//
// Validate is a pure function with no side effects.
func Validate(p Predicate, known func(address string) bool) ValidationResult {
	v := &validator{known: known, unknown: map[string]bool{}}
	if p != nil {
		v.validate(p)
	}

	result := ValidationResult{
		IsPortable: len(v.warnings) == 0,
		Warnings:   v.warnings,
	}
	for _, addr := range Concepts(p) {
		if v.unknown[addr] {
			result.UnknownConcepts = append(result.UnknownConcepts, addr)
		}
	}
	return result
}

// validator accumulates findings during traversal.
type validator struct {
	known    func(string) bool
	warnings []string
	unknown  map[string]bool
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) checkConcept(addr string) {
	if v.known != nil && !v.known(addr) {
		v.unknown[addr] = true
	}
}

func (v *validator) validate(p Predicate) {
	switch pred := Normalize(p).(type) {
	case Comparison:
		v.checkConcept(pred.Concept)
		if !ValidOperators[pred.Op] {
			v.addWarning("unknown operator %q on %s", pred.Op, pred.Concept)
		}
		if _, isNull := pred.Value.(ir.Null); isNull || pred.Value == nil {
			v.addWarning("%s compared to NULL with %s - use IsNull", pred.Concept, pred.Op)
		}
	case In:
		v.checkConcept(pred.Concept)
		if len(pred.Values) == 0 {
			v.addWarning("empty IN list on %s matches no rows", pred.Concept)
		}
		for _, val := range pred.Values {
			if _, isNull := val.(ir.Null); isNull {
				v.addWarning("NULL inside IN list on %s never matches", pred.Concept)
				break
			}
		}
	case IsNull:
		v.checkConcept(pred.Concept)
	case And:
		v.validateGroup("AND", pred.Predicates)
	case Or:
		v.validateGroup("OR", pred.Predicates)
	case Not:
		if pred.Predicate == nil {
			v.addWarning("NOT without operand")
			return
		}
		v.validate(pred.Predicate)
	default:
		v.addWarning("unknown predicate type: %T", p)
	}
}

func (v *validator) validateGroup(kind string, preds []Predicate) {
	if len(preds) == 0 {
		v.addWarning("empty %s group", kind)
	}
	for _, sub := range preds {
		if sub == nil {
			v.addWarning("nil predicate inside %s", kind)
			continue
		}
		v.validate(sub)
	}
}
