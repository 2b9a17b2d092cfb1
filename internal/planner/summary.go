package planner

import (
	"fmt"
	"strings"

	"github.com/roach88/grainplan/internal/ir"
	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/queryir"
)

// Summary returns a canonical, trace-independent description of the plan.
// Two compilations of the same statement against the same environment
// produce equal summaries.
func (pq *ProcessedQuery) Summary() ir.Object {
	ctes := make(ir.List, 0, len(pq.CTEs))
	for _, cte := range pq.CTEs {
		ctes = append(ctes, cteSummary(cte))
	}
	joins := make(ir.List, 0, len(pq.Joins))
	for _, j := range pq.Joins {
		joins = append(joins, ir.String(joinString(j)))
	}

	obj := ir.Object{
		"grain":   ir.Strings(pq.Grain.Addresses()...),
		"outputs": ir.Strings(model.Addresses(pq.OutputColumns)...),
		"ctes":    ctes,
		"joins":   joins,
	}
	if pq.Base != nil {
		obj["base"] = ir.String(pq.Base.Name)
	}
	if pq.WhereClause != nil {
		obj["where"] = ir.String(queryir.String(pq.WhereClause))
	}
	if len(pq.OrderBy) > 0 {
		order := make(ir.List, len(pq.OrderBy))
		for i, item := range pq.OrderBy {
			dir := "asc"
			if item.Descending {
				dir = "desc"
			}
			order[i] = ir.String(item.Concept.Address() + " " + dir)
		}
		obj["order_by"] = order
	}
	if pq.Limit != nil {
		obj["limit"] = ir.Int(*pq.Limit)
	}
	return obj
}

func cteSummary(cte *CTE) ir.Object {
	sources := make([]string, len(cte.Sources))
	for i, src := range cte.Sources {
		sources[i] = src.Name
	}
	joins := make([]string, len(cte.Joins))
	for i, j := range cte.Joins {
		joins[i] = joinString(j)
	}
	parents := make([]string, len(cte.ParentCTEs))
	for i, p := range cte.ParentCTEs {
		parents[i] = p.Name
	}

	obj := ir.Object{
		"name":    ir.String(cte.Name),
		"source":  ir.String(cte.SourceID),
		"grain":   ir.Strings(cte.Grain.Addresses()...),
		"group":   ir.Bool(cte.GroupToGrain),
		"outputs": ir.Strings(model.Addresses(cte.OutputColumns)...),
		"sources": ir.Strings(sources...),
		"joins":   ir.Strings(joins...),
		"parents": ir.Strings(parents...),
	}
	if cte.Condition != nil {
		obj["condition"] = ir.String(queryir.String(cte.Condition))
	}
	return obj
}

func joinString(j Join) string {
	return fmt.Sprintf("%s %s %s on %s",
		j.Left.Name, j.JoinType, j.Right.Name,
		strings.Join(model.Addresses(j.JoinKeys), ","))
}

// Fingerprint hashes the plan summary.
func (pq *ProcessedQuery) Fingerprint() (string, error) {
	return ir.PlanFingerprint(pq.Summary())
}

// Describe renders the plan as indented text for humans.
func (pq *ProcessedQuery) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "grain: %s\n", pq.Grain)
	fmt.Fprintf(&b, "outputs: %s\n", strings.Join(model.Addresses(pq.OutputColumns), ", "))
	for _, cte := range pq.CTEs {
		marker := ""
		if pq.Base != nil && cte.Name == pq.Base.Name {
			marker = " (base)"
		}
		fmt.Fprintf(&b, "cte %s%s\n", cte.Name, marker)
		fmt.Fprintf(&b, "  source: %s\n", cte.SourceID)
		fmt.Fprintf(&b, "  grain: %s group=%t\n", cte.Grain, cte.GroupToGrain)
		for _, src := range cte.Sources {
			fmt.Fprintf(&b, "  from: %s\n", src.Name)
		}
		for _, j := range cte.Joins {
			fmt.Fprintf(&b, "  join: %s\n", joinString(j))
		}
		if cte.Condition != nil {
			fmt.Fprintf(&b, "  where: %s\n", queryir.String(cte.Condition))
		}
		fmt.Fprintf(&b, "  outputs: %s\n", strings.Join(model.Addresses(cte.OutputColumns), ", "))
	}
	for _, j := range pq.Joins {
		fmt.Fprintf(&b, "join: %s\n", joinString(j))
	}
	if pq.WhereClause != nil {
		fmt.Fprintf(&b, "where: %s\n", queryir.String(pq.WhereClause))
	}
	for _, item := range pq.OrderBy {
		dir := "asc"
		if item.Descending {
			dir = "desc"
		}
		fmt.Fprintf(&b, "order by: %s %s\n", item.Concept.Address(), dir)
	}
	if pq.Limit != nil {
		fmt.Fprintf(&b, "limit: %d\n", *pq.Limit)
	}
	return b.String()
}
