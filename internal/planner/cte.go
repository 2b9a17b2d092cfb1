package planner

import (
	"fmt"

	"github.com/roach88/grainplan/internal/ir"
	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/queryir"
)

// Relation is something a CTE selects from: a base table or another CTE.
// Exactly one of Base and CTE is set.
type Relation struct {
	Name string
	Base *model.BaseDatasource
	CTE  *CTE
}

// Identifier returns the datasource identifier the relation stands for.
func (r Relation) Identifier() string {
	if r.CTE != nil {
		return r.CTE.SourceID
	}
	if r.Base != nil {
		return r.Base.Identifier()
	}
	return r.Name
}

// Outputs returns the concept addresses the relation exposes.
func (r Relation) Outputs() []string {
	if r.CTE != nil {
		return model.Addresses(r.CTE.OutputColumns)
	}
	if r.Base != nil {
		return model.Addresses(r.Base.Outputs())
	}
	return nil
}

func (r Relation) provides(address string) bool {
	for _, out := range r.Outputs() {
		if out == address {
			return true
		}
	}
	return false
}

// Join links two relations on a set of concepts.
type Join struct {
	Left     Relation
	Right    Relation
	JoinType model.JoinType
	JoinKeys []model.Concept
}

// CTE is one named materialization step of a plan.
type CTE struct {
	Name          string
	Source        *model.QueryDatasource
	SourceID      string          // Source.Identifier(), computed once
	OutputColumns []model.Concept // qualified to Grain

	// SourceMap maps a concept address to the relation name that supplies it.
	SourceMap      map[string]string
	Sources        []Relation
	Joins          []Join
	RelatedColumns []model.Concept
	FilterColumns  []model.Concept
	Grain          model.Grain
	GroupToGrain   bool

	// ParentCTEs are the CTEs built from this node's immediate children
	// only, never further ancestors.
	ParentCTEs []*CTE
	Condition  queryir.Predicate
}

// Relation returns the CTE as a Relation.
func (c *CTE) Relation() Relation {
	return Relation{Name: c.Name, CTE: c}
}

// SourceFor returns the relation that supplies address.
func (c *CTE) SourceFor(address string) (Relation, bool) {
	name, ok := c.SourceMap[address]
	if !ok {
		return Relation{}, false
	}
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return Relation{}, false
}

// IsPassThrough reports whether the CTE selects from a single base table.
func (c *CTE) IsPassThrough() bool {
	return len(c.Sources) == 1 && c.Sources[0].Base != nil
}

type frame struct {
	ds   *model.QueryDatasource
	next int
	reps []Relation
}

// CompileCTEs flattens a composite datasource into CTEs, parents first and
// the CTE for ds itself last.
//
// Nested composites are compiled depth-first with an explicit stack, so
// nesting depth is bounded by memory rather than the goroutine stack. A
// composite child is represented by the last CTE it produced; a base child
// is referenced directly by name and never becomes a CTE of its own.
// Identifiers for the whole tree are computed once up front.
func CompileCTEs(ds *model.QueryDatasource) ([]*CTE, error) {
	if ds == nil {
		return nil, fmt.Errorf("compile: nil datasource")
	}

	c := &cteCompiler{
		ids:      model.Identifiers(ds),
		produced: make(map[string]Relation),
	}

	var out []*CTE
	stack := []*frame{{ds: ds}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next < len(top.ds.Datasources) {
			child := top.ds.Datasources[top.next]
			top.next++
			switch ch := child.(type) {
			case *model.BaseDatasource:
				top.reps = append(top.reps, Relation{Name: ch.Name, Base: ch})
			case *model.QueryDatasource:
				stack = append(stack, &frame{ds: ch})
			default:
				return nil, fmt.Errorf("compile %s: unsupported child %T", c.id(top.ds), child)
			}
			continue
		}

		stack = stack[:len(stack)-1]
		cte, err := c.build(top.ds, top.reps)
		if err != nil {
			return nil, err
		}
		out = append(out, cte)
		c.produced[cte.SourceID] = cte.Relation()
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.reps = append(parent.reps, cte.Relation())
		}
	}
	return out, nil
}

// cteCompiler holds state shared by every node of one CompileCTEs call.
type cteCompiler struct {
	ids      map[*model.QueryDatasource]string
	produced map[string]Relation // CTEs built so far, by source identifier
}

// id returns the identifier of ds, using the precomputed tree identifiers
// for composites.
func (c *cteCompiler) id(ds model.Datasource) string {
	switch d := ds.(type) {
	case nil:
		return ""
	case *model.QueryDatasource:
		if id, ok := c.ids[d]; ok {
			return id
		}
	}
	return ds.Identifier()
}

// lookup finds the relation standing for identifier: one of reps, or a CTE
// produced earlier.
func (c *cteCompiler) lookup(identifier string, reps []Relation) (Relation, bool) {
	for _, rep := range reps {
		if rep.Identifier() == identifier {
			return rep, true
		}
	}
	rel, ok := c.produced[identifier]
	return rel, ok
}

// build emits the CTE for ds given the representatives of its children.
func (c *cteCompiler) build(ds *model.QueryDatasource, reps []Relation) (*CTE, error) {
	id := c.id(ds)
	name := ir.CTEName(id)

	joins := make([]Join, 0, len(ds.Joins))
	for _, bj := range ds.Joins {
		left, right := c.id(bj.Left), c.id(bj.Right)
		l, ok := c.lookup(left, reps)
		if !ok {
			return nil, NewJoinTargetNotFoundError(name, left, right, left)
		}
		r, ok := c.lookup(right, reps)
		if !ok {
			return nil, NewJoinTargetNotFoundError(name, left, right, right)
		}
		joins = append(joins, Join{Left: l, Right: r, JoinType: bj.JoinType, JoinKeys: bj.Concepts})
	}

	depths := relationDepths(joins)
	sourceMap := make(map[string]string, len(ds.OutputConcepts))
	for _, concept := range ds.OutputConcepts {
		addr := concept.Address()
		if rel, ok := c.pickSource(ds, addr, reps, depths); ok {
			sourceMap[addr] = rel.Name
		}
	}

	outputs := make([]model.Concept, len(ds.OutputConcepts))
	for i, concept := range ds.OutputConcepts {
		outputs[i] = concept.WithGrain(ds.Grain)
	}

	var related []model.Concept
	var parents []*CTE
	for _, rep := range reps {
		if rep.CTE != nil {
			parents = append(parents, rep.CTE)
			related = model.UnionConcepts(related, unqualified(rep.CTE.OutputColumns))
		} else if rep.Base != nil {
			related = model.UnionConcepts(related, rep.Base.Outputs())
		}
	}
	related = model.UnionConcepts(related, ds.FilterConcepts)

	cte := &CTE{
		Name:           name,
		Source:         ds,
		SourceID:       id,
		OutputColumns:  outputs,
		SourceMap:      sourceMap,
		Sources:        reps,
		Joins:          joins,
		RelatedColumns: related,
		FilterColumns:  ds.FilterConcepts,
		Grain:          derivedGrain(outputs, ds.Grain),
		GroupToGrain:   ds.GroupRequired,
		ParentCTEs:     parents,
		Condition:      ds.Condition,
	}

	if !cte.Grain.Equal(ds.Grain) {
		return nil, NewGrainCorruptionError(name, ds.Grain.String(), cte.Grain.String())
	}
	return cte, nil
}

// pickSource chooses the child relation supplying addr: the datasource's
// own source map first, then the first child that outputs it. A single
// child supplies everything. Among several mapped children the one
// closest to the join anchor wins, then the lowest relation name, so the
// choice does not depend on source map order.
func (c *cteCompiler) pickSource(ds *model.QueryDatasource, addr string, reps []Relation, depths map[string]int) (Relation, bool) {
	var (
		best  Relation
		found bool
	)
	for _, src := range ds.SourceMap[addr] {
		rel, ok := c.lookup(c.id(src), reps)
		if ok && (!found || preferSource(rel.Name, best.Name, depths)) {
			best, found = rel, true
		}
	}
	if found {
		return best, true
	}
	for _, rep := range reps {
		if rep.provides(addr) {
			return rep, true
		}
	}
	if len(reps) == 1 {
		return reps[0], true
	}
	return Relation{}, false
}

// relationDepths returns how many joins separate each joined relation from
// an anchor, a left side that is never joined in. Outer joins null the
// right side, so shallower relations are the safer source for shared keys.
func relationDepths(joins []Join) map[string]int {
	depths := make(map[string]int, len(joins)+1)
	rights := make(map[string]bool, len(joins))
	for _, j := range joins {
		rights[j.Right.Name] = true
	}
	for _, j := range joins {
		if !rights[j.Left.Name] {
			depths[j.Left.Name] = 0
		}
	}
	for range joins {
		changed := false
		for _, j := range joins {
			d, ok := depths[j.Left.Name]
			if !ok {
				continue
			}
			if cur, seen := depths[j.Right.Name]; !seen || d+1 < cur {
				depths[j.Right.Name] = d + 1
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return depths
}

// preferSource reports whether relation a is a better source than b.
// Relations outside every join count as anchors.
func preferSource(a, b string, depths map[string]int) bool {
	da, db := depths[a], depths[b]
	if da != db {
		return da < db
	}
	return a < b
}

// derivedGrain is the grain implied by a CTE's output columns: the
// declared grain components the CTE actually outputs. Every output is
// already qualified to the declared grain, so a component missing from
// the outputs is what shows up as corruption.
func derivedGrain(outputs []model.Concept, declared model.Grain) model.Grain {
	var comps []model.Concept
	for _, col := range outputs {
		if declared.Contains(col.Address()) {
			comps = append(comps, col.Unqualified())
		}
	}
	return model.NewGrain(comps...)
}

func unqualified(cs []model.Concept) []model.Concept {
	out := make([]model.Concept, len(cs))
	for i, c := range cs {
		out[i] = c.Unqualified()
	}
	return out
}

// MergeCTEs collapses CTEs with the same name, keeping the first
// occurrence's position and unioning columns. Parent, source and join
// references are repointed at the surviving CTEs. The input is not
// modified.
func MergeCTEs(ctes []*CTE) []*CTE {
	byName := make(map[string]*CTE, len(ctes))
	out := make([]*CTE, 0, len(ctes))
	for _, c := range ctes {
		if existing, ok := byName[c.Name]; ok {
			existing.absorb(c)
			continue
		}
		cp := c.clone()
		byName[c.Name] = cp
		out = append(out, cp)
	}

	repoint := func(r Relation) Relation {
		if r.CTE != nil {
			if merged, ok := byName[r.CTE.Name]; ok {
				r.CTE = merged
			}
		}
		return r
	}
	for _, c := range out {
		for i, p := range c.ParentCTEs {
			if merged, ok := byName[p.Name]; ok {
				c.ParentCTEs[i] = merged
			}
		}
		for i := range c.Sources {
			c.Sources[i] = repoint(c.Sources[i])
		}
		for i := range c.Joins {
			c.Joins[i].Left = repoint(c.Joins[i].Left)
			c.Joins[i].Right = repoint(c.Joins[i].Right)
		}
	}
	return out
}

func (c *CTE) clone() *CTE {
	cp := *c
	cp.OutputColumns = append([]model.Concept(nil), c.OutputColumns...)
	cp.RelatedColumns = append([]model.Concept(nil), c.RelatedColumns...)
	cp.FilterColumns = append([]model.Concept(nil), c.FilterColumns...)
	cp.Sources = append([]Relation(nil), c.Sources...)
	cp.Joins = append([]Join(nil), c.Joins...)
	cp.ParentCTEs = append([]*CTE(nil), c.ParentCTEs...)
	cp.SourceMap = make(map[string]string, len(c.SourceMap))
	for k, v := range c.SourceMap {
		cp.SourceMap[k] = v
	}
	return &cp
}

// absorb folds other, a CTE with the same name, into c. The result does
// not depend on which of the two came first.
func (c *CTE) absorb(other *CTE) {
	for _, col := range other.OutputColumns {
		if !model.ContainsConcept(c.OutputColumns, col) {
			c.OutputColumns = append(c.OutputColumns, col)
		}
	}
	c.OutputColumns = model.SortConcepts(c.OutputColumns)
	c.RelatedColumns = model.UnionConcepts(c.RelatedColumns, other.RelatedColumns)
	c.FilterColumns = model.UnionConcepts(c.FilterColumns, other.FilterColumns)
	depths := relationDepths(c.Joins)
	for k, v := range other.SourceMap {
		if cur, ok := c.SourceMap[k]; !ok || preferSource(v, cur, depths) {
			c.SourceMap[k] = v
		}
	}
	for _, p := range other.ParentCTEs {
		found := false
		for _, existing := range c.ParentCTEs {
			if existing.Name == p.Name {
				found = true
				break
			}
		}
		if !found {
			c.ParentCTEs = append(c.ParentCTEs, p)
		}
	}
}
