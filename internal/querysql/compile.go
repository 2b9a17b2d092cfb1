package querysql

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/grainplan/internal/ir"
	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/planner"
	"github.com/roach88/grainplan/internal/queryir"
)

// SQLCompiler renders a ProcessedQuery to SQLite SQL.
//
// All literals are bound as ? parameters. Identifiers are always quoted, so
// table, CTE and column names never need escaping by the caller.
type SQLCompiler struct {
	builder sq.StatementBuilderType
}

// NewSQLCompiler creates a compiler emitting ? placeholders.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{builder: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
}

// Render is shorthand for NewSQLCompiler().Compile(pq).
func Render(pq *planner.ProcessedQuery) (string, []any, error) {
	return NewSQLCompiler().Compile(pq)
}

// Compile renders pq as a single WITH statement.
//
// The algorithm:
//  1. Emit every CTE in compiled order (parents before dependents). A CTE
//     selects from its sources, joins them per its join list, applies its
//     condition and groups to its grain when GroupToGrain is set.
//  2. Select the query outputs from the base CTE, LEFT JOINed to each
//     synthesized join target on the join keys.
//  3. Apply the statement's WHERE, ORDER BY and LIMIT against the final
//     relation set.
func (c *SQLCompiler) Compile(pq *planner.ProcessedQuery) (string, []any, error) {
	if pq == nil {
		return "", nil, fmt.Errorf("nil plan")
	}
	if pq.Base == nil {
		return "", nil, fmt.Errorf("plan has no base CTE")
	}

	parts := make([]string, 0, len(pq.CTEs))
	var prefixArgs []any
	for _, cte := range pq.CTEs {
		body, args, err := c.compileCTE(cte)
		if err != nil {
			return "", nil, fmt.Errorf("cte %s: %w", cte.Name, err)
		}
		parts = append(parts, fmt.Sprintf("%s AS (%s)", quoteIdent(cte.Name), body))
		prefixArgs = append(prefixArgs, args...)
	}

	final, err := c.compileFinal(pq)
	if err != nil {
		return "", nil, err
	}
	if len(parts) > 0 {
		final = final.Prefix("WITH "+strings.Join(parts, ", "), prefixArgs...)
	}
	return final.ToSql()
}

// compileCTE renders the body of one CTE.
func (c *SQLCompiler) compileCTE(cte *planner.CTE) (string, []any, error) {
	if len(cte.OutputColumns) == 0 {
		return "", nil, fmt.Errorf("no output columns")
	}
	if len(cte.Sources) == 0 {
		return "", nil, fmt.Errorf("no sources")
	}

	var columns, groupBy []string
	for _, col := range cte.OutputColumns {
		addr := col.Address()
		src, ok := cte.SourceFor(addr)
		if !ok {
			return "", nil, fmt.Errorf("no source for %s", addr)
		}
		ref, err := columnRef(src, addr)
		if err != nil {
			return "", nil, err
		}

		expr := ref
		if cte.GroupToGrain {
			switch {
			case cte.Grain.Contains(addr):
				groupBy = append(groupBy, ref)
			case col.Purpose == model.PurposeMetric:
				expr = aggregateSQL(col.AggregateOrDefault(), ref)
			default:
				return "", nil, fmt.Errorf("cannot group %s: not a grain component or metric", addr)
			}
		}
		columns = append(columns, expr+" AS "+quoteIdent(ColumnAlias(addr)))
	}

	anchor := cte.Sources[0]
	if len(cte.Joins) > 0 {
		anchor = cte.Joins[0].Left
	}
	query := c.builder.Select(columns...).From(relationSQL(anchor))

	joined := map[string]bool{anchor.Name: true}
	for _, j := range cte.Joins {
		on, err := joinCondition(j)
		if err != nil {
			return "", nil, err
		}
		query = query.JoinClause(fmt.Sprintf("%s %s ON %s", j.JoinType.SQL(), relationSQL(j.Right), on))
		joined[j.Right.Name] = true
	}
	for _, src := range cte.Sources {
		if !joined[src.Name] {
			query = query.JoinClause("CROSS JOIN " + relationSQL(src))
			joined[src.Name] = true
		}
	}

	if cte.Condition != nil {
		resolve := func(addr string) (string, error) {
			if src, ok := cte.SourceFor(addr); ok {
				return columnRef(src, addr)
			}
			for _, src := range cte.Sources {
				if ref, err := columnRef(src, addr); err == nil {
					return ref, nil
				}
			}
			return "", fmt.Errorf("condition concept %s is not available in %s", addr, cte.Name)
		}
		where, err := compilePredicate(cte.Condition, resolve)
		if err != nil {
			return "", nil, fmt.Errorf("compile condition: %w", err)
		}
		query = query.Where(where)
	}

	if len(groupBy) > 0 {
		query = query.GroupBy(groupBy...)
	}
	return query.ToSql()
}

// compileFinal renders the outer SELECT over the base CTE and its joins.
func (c *SQLCompiler) compileFinal(pq *planner.ProcessedQuery) (sq.SelectBuilder, error) {
	relations := []planner.Relation{pq.Base.Relation()}
	for _, j := range pq.Joins {
		relations = append(relations, j.Right)
	}
	resolve := func(addr string) (string, error) {
		for _, rel := range relations {
			if model.ContainsAddress(rel.CTE.OutputColumns, addr) {
				return columnRef(rel, addr)
			}
		}
		return "", fmt.Errorf("concept %s is not available in the plan", addr)
	}

	aliases := outputAliases(pq.OutputColumns)
	columns := make([]string, 0, len(pq.OutputColumns))
	for _, col := range pq.OutputColumns {
		ref, err := resolve(col.Address())
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		columns = append(columns, ref+" AS "+quoteIdent(aliases[col.Address()]))
	}
	if len(columns) == 0 {
		return sq.SelectBuilder{}, fmt.Errorf("plan has no output columns")
	}

	query := c.builder.Select(columns...).From(quoteIdent(pq.Base.Name))
	for _, j := range pq.Joins {
		on, err := joinCondition(j)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		query = query.JoinClause(fmt.Sprintf("%s %s ON %s", j.JoinType.SQL(), quoteIdent(j.Right.Name), on))
	}

	if pq.WhereClause != nil {
		where, err := compilePredicate(pq.WhereClause, resolve)
		if err != nil {
			return sq.SelectBuilder{}, fmt.Errorf("compile where: %w", err)
		}
		query = query.Where(where)
	}

	for _, item := range pq.OrderBy {
		ref, err := resolve(item.Concept.Address())
		if err != nil {
			return sq.SelectBuilder{}, fmt.Errorf("order by: %w", err)
		}
		if item.Descending {
			ref += " DESC"
		} else {
			ref += " ASC"
		}
		query = query.OrderBy(ref)
	}

	if pq.Limit != nil {
		if *pq.Limit < 0 {
			return sq.SelectBuilder{}, fmt.Errorf("negative limit %d", *pq.Limit)
		}
		query = query.Limit(uint64(*pq.Limit))
	}
	return query, nil
}

// outputAliases names result columns by concept name, falling back to the
// full alias when two outputs share a name across namespaces.
func outputAliases(cols []model.Concept) map[string]string {
	count := map[string]int{}
	for _, col := range cols {
		count[col.Name]++
	}
	aliases := make(map[string]string, len(cols))
	for _, col := range cols {
		if count[col.Name] > 1 {
			aliases[col.Address()] = ColumnAlias(col.Address())
		} else {
			aliases[col.Address()] = col.Name
		}
	}
	return aliases
}

func joinCondition(j planner.Join) (string, error) {
	if len(j.JoinKeys) == 0 {
		return "", fmt.Errorf("join %s -> %s has no keys", j.Left.Name, j.Right.Name)
	}
	conds := make([]string, 0, len(j.JoinKeys))
	for _, k := range j.JoinKeys {
		left, err := columnRef(j.Left, k.Address())
		if err != nil {
			return "", fmt.Errorf("join key: %w", err)
		}
		right, err := columnRef(j.Right, k.Address())
		if err != nil {
			return "", fmt.Errorf("join key: %w", err)
		}
		conds = append(conds, left+" = "+right)
	}
	return strings.Join(conds, " AND "), nil
}

// relationSQL renders a relation for a FROM or JOIN clause.
func relationSQL(rel planner.Relation) string {
	if rel.Base != nil {
		return quoteIdent(rel.Base.TableName()) + " AS " + quoteIdent(rel.Name)
	}
	return quoteIdent(rel.Name)
}

// columnRef returns the qualified column carrying addr in rel.
func columnRef(rel planner.Relation, addr string) (string, error) {
	switch {
	case rel.Base != nil:
		col, ok := rel.Base.ColumnFor(addr)
		if !ok {
			return "", fmt.Errorf("table %s has no column for %s", rel.Base.TableName(), addr)
		}
		return quoteIdent(rel.Name) + "." + quoteIdent(col), nil
	case rel.CTE != nil:
		if !model.ContainsAddress(rel.CTE.OutputColumns, addr) {
			return "", fmt.Errorf("cte %s does not output %s", rel.Name, addr)
		}
		return quoteIdent(rel.Name) + "." + quoteIdent(ColumnAlias(addr)), nil
	default:
		return "", fmt.Errorf("relation %s has no source", rel.Name)
	}
}

// ColumnAlias is the column name a CTE uses for a concept address.
func ColumnAlias(addr string) string {
	return strings.ReplaceAll(addr, ".", "_")
}

func aggregateSQL(agg model.Aggregate, ref string) string {
	switch agg {
	case model.AggCount:
		return "COUNT(" + ref + ")"
	case model.AggCountDistinct:
		return "COUNT(DISTINCT " + ref + ")"
	case model.AggAvg:
		return "AVG(" + ref + ")"
	case model.AggMin:
		return "MIN(" + ref + ")"
	case model.AggMax:
		return "MAX(" + ref + ")"
	default:
		return "SUM(" + ref + ")"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// compilePredicate translates a predicate into a squirrel expression,
// resolving concept addresses to qualified columns with resolve.
func compilePredicate(p queryir.Predicate, resolve func(string) (string, error)) (sq.Sqlizer, error) {
	switch pred := queryir.Normalize(p).(type) {
	case queryir.Comparison:
		col, err := resolve(pred.Concept)
		if err != nil {
			return nil, err
		}
		val, err := ir.ToParam(pred.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pred.Concept, err)
		}
		switch pred.Op {
		case queryir.OpEq:
			return sq.Eq{col: val}, nil
		case queryir.OpNeq:
			return sq.NotEq{col: val}, nil
		case queryir.OpLt:
			return sq.Lt{col: val}, nil
		case queryir.OpLte:
			return sq.LtOrEq{col: val}, nil
		case queryir.OpGt:
			return sq.Gt{col: val}, nil
		case queryir.OpGte:
			return sq.GtOrEq{col: val}, nil
		default:
			return nil, fmt.Errorf("unsupported operator %q", pred.Op)
		}

	case queryir.In:
		col, err := resolve(pred.Concept)
		if err != nil {
			return nil, err
		}
		vals := make([]any, 0, len(pred.Values))
		for i, v := range pred.Values {
			param, err := ir.ToParam(v)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", pred.Concept, i, err)
			}
			vals = append(vals, param)
		}
		return sq.Eq{col: vals}, nil

	case queryir.IsNull:
		col, err := resolve(pred.Concept)
		if err != nil {
			return nil, err
		}
		if pred.Negated {
			return sq.NotEq{col: nil}, nil
		}
		return sq.Eq{col: nil}, nil

	case queryir.And:
		out := make(sq.And, 0, len(pred.Predicates))
		for i, sub := range pred.Predicates {
			s, err := compilePredicate(sub, resolve)
			if err != nil {
				return nil, fmt.Errorf("and[%d]: %w", i, err)
			}
			out = append(out, s)
		}
		return out, nil

	case queryir.Or:
		out := make(sq.Or, 0, len(pred.Predicates))
		for i, sub := range pred.Predicates {
			s, err := compilePredicate(sub, resolve)
			if err != nil {
				return nil, fmt.Errorf("or[%d]: %w", i, err)
			}
			out = append(out, s)
		}
		return out, nil

	case queryir.Not:
		inner, err := compilePredicate(pred.Predicate, resolve)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		sql, args, err := inner.ToSql()
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return sq.Expr("NOT ("+sql+")", args...), nil

	case nil:
		return nil, fmt.Errorf("nil predicate")

	default:
		return nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}
