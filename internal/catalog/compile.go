package catalog

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/grainplan/internal/ir"
	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/queryir"
)

// CompileConcept parses a CUE concept declaration.
//
//	concept: amount: {purpose: "metric", type: "int", aggregate: "sum"}
func CompileConcept(name string, v cue.Value) (model.Concept, error) {
	if err := v.Err(); err != nil {
		return model.Concept{}, formatCUEError(err)
	}

	purposeVal := v.LookupPath(cue.ParsePath("purpose"))
	if !purposeVal.Exists() {
		return model.Concept{}, &CompileError{Field: "purpose", Message: "purpose is required", Pos: v.Pos()}
	}
	purpose, err := purposeVal.String()
	if err != nil {
		return model.Concept{}, formatCUEError(err)
	}
	if !model.ValidPurposes[model.Purpose(purpose)] {
		return model.Concept{}, &CompileError{
			Field:   "purpose",
			Message: fmt.Sprintf("invalid purpose %q (want key, property or metric)", purpose),
			Pos:     purposeVal.Pos(),
		}
	}

	c := model.NewConcept(name, model.Purpose(purpose))

	if s, ok, err := optionalString(v, "namespace"); err != nil {
		return model.Concept{}, err
	} else if ok {
		c.Namespace = s
	}
	if s, ok, err := optionalString(v, "type"); err != nil {
		return model.Concept{}, err
	} else if ok {
		c.DataType = s
	}

	aggVal := v.LookupPath(cue.ParsePath("aggregate"))
	if aggVal.Exists() {
		agg, err := aggVal.String()
		if err != nil {
			return model.Concept{}, formatCUEError(err)
		}
		if c.Purpose != model.PurposeMetric {
			return model.Concept{}, &CompileError{
				Field:   "aggregate",
				Message: fmt.Sprintf("aggregate is only allowed on metrics, %s is a %s", name, c.Purpose),
				Pos:     aggVal.Pos(),
			}
		}
		if !model.ValidAggregates[model.Aggregate(agg)] {
			return model.Concept{}, &CompileError{
				Field:   "aggregate",
				Message: fmt.Sprintf("invalid aggregate %q", agg),
				Pos:     aggVal.Pos(),
			}
		}
		c.Aggregate = model.Aggregate(agg)
	}

	return c, nil
}

// CompileDatasource parses a CUE datasource declaration against the
// concepts already registered in env.
//
//	datasource: orders: {
//		table: "raw_orders"
//		grain: ["order_id"]
//		columns: {id: "order_id", total: "amount"}
//	}
func CompileDatasource(name string, v cue.Value, env *model.Environment) (*model.BaseDatasource, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	ds := &model.BaseDatasource{Name: name}
	if s, ok, err := optionalString(v, "table"); err != nil {
		return nil, err
	} else if ok {
		ds.Table = s
	}

	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if colsVal.Exists() {
		iter, err := colsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			c, err := conceptRef(iter.Value(), env)
			if err != nil {
				return nil, err
			}
			ds.Columns = append(ds.Columns, model.Column{Name: iter.Label(), Concept: c})
		}
	}
	if len(ds.Columns) == 0 {
		return nil, &CompileError{Field: "columns", Message: "at least one column is required", Pos: v.Pos()}
	}

	var grain []model.Concept
	grainVal := v.LookupPath(cue.ParsePath("grain"))
	if grainVal.Exists() {
		cs, err := conceptList(grainVal, env)
		if err != nil {
			return nil, err
		}
		for _, c := range cs {
			if _, ok := ds.ColumnFor(c.Address()); !ok {
				return nil, &CompileError{
					Field:   "grain",
					Message: fmt.Sprintf("grain component %s is not a column of %s", c.Address(), name),
					Pos:     grainVal.Pos(),
				}
			}
		}
		grain = cs
	}
	ds.Grain = model.NewGrain(grain...)

	return ds, nil
}

// CompileQuery parses a named CUE query into a Select.
//
//	query: eu_revenue: {
//		select: ["order_id", "amount"]
//		grain: ["order_id"]
//		where: {concept: "region", op: "=", value: "EU"}
//		order_by: [{concept: "amount", desc: true}]
//		limit: 10
//	}
//
// grain defaults to the keys of the selection.
func CompileQuery(v cue.Value, env *model.Environment) (model.Select, error) {
	var stmt model.Select
	if err := v.Err(); err != nil {
		return stmt, formatCUEError(err)
	}

	selVal := v.LookupPath(cue.ParsePath("select"))
	if !selVal.Exists() {
		return stmt, &CompileError{Field: "select", Message: "select is required", Pos: v.Pos()}
	}
	selection, err := conceptList(selVal, env)
	if err != nil {
		return stmt, err
	}
	if len(selection) == 0 {
		return stmt, &CompileError{Field: "select", Message: "select must name at least one concept", Pos: selVal.Pos()}
	}
	stmt.Selection = selection

	grainVal := v.LookupPath(cue.ParsePath("grain"))
	if grainVal.Exists() {
		cs, err := conceptList(grainVal, env)
		if err != nil {
			return stmt, err
		}
		stmt.Grain = model.NewGrain(cs...)
	} else {
		stmt.Grain = model.DefaultGrain(selection)
	}

	whereVal := v.LookupPath(cue.ParsePath("where"))
	if whereVal.Exists() {
		stmt.Where, err = compilePredicate(whereVal, env)
		if err != nil {
			return stmt, err
		}
	}

	orderVal := v.LookupPath(cue.ParsePath("order_by"))
	if orderVal.Exists() {
		stmt.OrderBy, err = compileOrderBy(orderVal, env)
		if err != nil {
			return stmt, err
		}
	}

	limitVal := v.LookupPath(cue.ParsePath("limit"))
	if limitVal.Exists() {
		n, err := limitVal.Int64()
		if err != nil || n < 0 {
			return stmt, &CompileError{Field: "limit", Message: "limit must be a non-negative integer", Pos: limitVal.Pos()}
		}
		limit := int(n)
		stmt.Limit = &limit
	}

	return stmt, nil
}

// compilePredicate parses a where clause. Accepted forms:
//
//	{concept: "region", op: "=", value: "EU"}   // op defaults to "="
//	{concept: "region", op: "in", values: ["EU", "US"]}
//	{concept: "region", op: "is_null"}          // or "is_not_null"
//	{and: [...]} | {or: [...]} | {not: {...}}
func compilePredicate(v cue.Value, env *model.Environment) (queryir.Predicate, error) {
	if list := v.LookupPath(cue.ParsePath("and")); list.Exists() {
		preds, err := compilePredicateList(list, env)
		if err != nil {
			return nil, err
		}
		return queryir.And{Predicates: preds}, nil
	}
	if list := v.LookupPath(cue.ParsePath("or")); list.Exists() {
		preds, err := compilePredicateList(list, env)
		if err != nil {
			return nil, err
		}
		return queryir.Or{Predicates: preds}, nil
	}
	if inner := v.LookupPath(cue.ParsePath("not")); inner.Exists() {
		p, err := compilePredicate(inner, env)
		if err != nil {
			return nil, err
		}
		return queryir.Not{Predicate: p}, nil
	}

	conceptVal := v.LookupPath(cue.ParsePath("concept"))
	if !conceptVal.Exists() {
		return nil, &CompileError{
			Field:   "where",
			Message: "predicate needs concept, and, or, or not",
			Pos:     v.Pos(),
		}
	}
	c, err := conceptRef(conceptVal, env)
	if err != nil {
		return nil, err
	}

	op := string(queryir.OpEq)
	if s, ok, err := optionalString(v, "op"); err != nil {
		return nil, err
	} else if ok {
		op = s
	}

	switch op {
	case "in":
		valuesVal := v.LookupPath(cue.ParsePath("values"))
		if !valuesVal.Exists() {
			return nil, &CompileError{Field: "where", Message: "in requires values", Pos: v.Pos()}
		}
		lit, err := literal(valuesVal)
		if err != nil {
			return nil, err
		}
		list, ok := lit.(ir.List)
		if !ok {
			return nil, &CompileError{Field: "where", Message: "in values must be a list", Pos: valuesVal.Pos()}
		}
		return queryir.In{Concept: c.Address(), Values: list}, nil
	case "is_null":
		return queryir.IsNull{Concept: c.Address()}, nil
	case "is_not_null":
		return queryir.IsNull{Concept: c.Address(), Negated: true}, nil
	}

	if !queryir.ValidOperators[queryir.Operator(op)] {
		return nil, &CompileError{Field: "where", Message: fmt.Sprintf("unknown operator %q", op), Pos: v.Pos()}
	}
	valueVal := v.LookupPath(cue.ParsePath("value"))
	if !valueVal.Exists() {
		return nil, &CompileError{Field: "where", Message: fmt.Sprintf("operator %s requires value", op), Pos: v.Pos()}
	}
	lit, err := literal(valueVal)
	if err != nil {
		return nil, err
	}
	return queryir.Comparison{Concept: c.Address(), Op: queryir.Operator(op), Value: lit}, nil
}

func compilePredicateList(v cue.Value, env *model.Environment) ([]queryir.Predicate, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var preds []queryir.Predicate
	for iter.Next() {
		p, err := compilePredicate(iter.Value(), env)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// compileOrderBy accepts bare concept names (ascending) or
// {concept: "...", desc: true} structs.
func compileOrderBy(v cue.Value, env *model.Environment) ([]model.OrderItem, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: "order_by", Message: "order_by must be a list", Pos: v.Pos()}
	}
	var items []model.OrderItem
	for iter.Next() {
		elem := iter.Value()
		if elem.IncompleteKind() == cue.StringKind {
			c, err := conceptRef(elem, env)
			if err != nil {
				return nil, err
			}
			items = append(items, model.OrderItem{Concept: c})
			continue
		}

		conceptVal := elem.LookupPath(cue.ParsePath("concept"))
		if !conceptVal.Exists() {
			return nil, &CompileError{Field: "order_by", Message: "order_by entry needs a concept", Pos: elem.Pos()}
		}
		c, err := conceptRef(conceptVal, env)
		if err != nil {
			return nil, err
		}
		item := model.OrderItem{Concept: c}
		if descVal := elem.LookupPath(cue.ParsePath("desc")); descVal.Exists() {
			item.Descending, err = descVal.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// conceptRef resolves a string reference ("name" or "namespace.name").
func conceptRef(v cue.Value, env *model.Environment) (model.Concept, error) {
	ref, err := v.String()
	if err != nil {
		return model.Concept{}, formatCUEError(err)
	}
	c, ok := env.Concept(ref)
	if !ok {
		return model.Concept{}, &CompileError{
			Field:   "concept",
			Message: fmt.Sprintf("unknown concept %q", ref),
			Pos:     v.Pos(),
		}
	}
	return c, nil
}

func conceptList(v cue.Value, env *model.Environment) ([]model.Concept, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []model.Concept
	for iter.Next() {
		c, err := conceptRef(iter.Value(), env)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func optionalString(v cue.Value, field string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

// literal converts a concrete CUE value to an ir.Value.
// Floats are forbidden; numeric literals must be integers.
func literal(v cue.Value) (ir.Value, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := ir.List{}
		for iter.Next() {
			elem, err := literal(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   "value",
			Message: "float literals are not supported - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("unsupported literal kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}
