package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface for literal values that appear in filter
// predicates and sandbox seed rows.
// Only Null, String, Int, Bool and List implement it.
// There is no float variant: literals participate in datasource identity
// hashing, and float formatting is not canonical.
type Value interface {
	irValue()
}

// Null is the SQL NULL literal.
type Null struct{}

func (Null) irValue() {}

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a text literal.
type String string

func (String) irValue() {}

// Int is an integer literal. Always int64.
type Int int64

func (Int) irValue() {}

// Bool is a boolean literal.
type Bool bool

func (Bool) irValue() {}

// List is an ordered list of literals, used by IN predicates.
type List []Value

func (List) irValue() {}

// Object is a string-keyed map of values. It is used for canonical
// encodings of structural identity; it never appears as a predicate literal.
// Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) irValue() {}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// sort.Strings orders by UTF-8 bytes, which differs for astral characters.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Strings builds a List of String values.
func Strings(ss ...string) List {
	out := make(List, len(ss))
	for i, s := range ss {
		out[i] = String(s)
	}
	return out
}

// FromAny converts a decoded YAML/JSON/CUE value into a Value.
// Whole floats (as produced by some decoders for integer literals) are
// accepted and narrowed to Int; fractional floats are rejected.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", val)
		}
		return Int(val), nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("fractional numbers are not supported: %v", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("fractional numbers are not supported: %s", val)
		}
		return Int(n), nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			lit, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = lit
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported literal type: %T", v)
	}
}

// ToParam converts a scalar Value to a database/sql parameter.
func ToParam(v Value) (any, error) {
	switch val := v.(type) {
	case Null:
		return nil, nil
	case String:
		return string(val), nil
	case Int:
		return int64(val), nil
	case Bool:
		return bool(val), nil
	case List:
		return nil, fmt.Errorf("list cannot be bound as a single SQL parameter")
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}

// Format renders a Value for human-readable plan output.
func Format(v Value) string {
	switch val := v.(type) {
	case Null:
		return "NULL"
	case String:
		return fmt.Sprintf("%q", string(val))
	case Int:
		return fmt.Sprintf("%d", int64(val))
	case Bool:
		if val {
			return "true"
		}
		return "false"
	case List:
		s := "("
		for i, elem := range val {
			if i > 0 {
				s += ", "
			}
			s += Format(elem)
		}
		return s + ")"
	default:
		return fmt.Sprintf("%v", v)
	}
}
