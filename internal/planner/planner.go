package planner

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/grainplan/internal/graph"
	"github.com/roach88/grainplan/internal/model"
	"github.com/roach88/grainplan/internal/queryir"
	"github.com/roach88/grainplan/internal/search"
)

// Config configures a Planner. The zero value is usable.
type Config struct {
	// Search finds a datasource per concept. Defaults to search.New(Logger).
	Search SearchFunc

	// BuildGraph builds the reference graph. Defaults to graph.Generate.
	BuildGraph GraphFunc

	// Hooks observes compilation stages. Defaults to NopHooks.
	Hooks Hooks

	// Logger receives planner logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Traces mints the trace id attached to hook events and logs.
	// Defaults to UUIDGenerator.
	Traces TraceGenerator

	// ResolveFilterConcepts adds concepts referenced only by Where to the
	// resolution worklist, so a renderer can filter on columns that are not
	// selected. Off by default: a Where then never changes the CTE set.
	ResolveFilterConcepts bool
}

// TraceGenerator mints one trace id per compilation.
type TraceGenerator interface {
	Generate() string
}

// UUIDGenerator mints random UUIDv4 trace ids.
type UUIDGenerator struct{}

// Generate returns a new UUID string.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// Planner compiles Select statements into ProcessedQuery plans.
// A Planner holds no per-query state and is safe for concurrent use.
type Planner struct {
	search     SearchFunc
	buildGraph GraphFunc
	hooks      Hooks
	logger     *slog.Logger
	traces     TraceGenerator

	resolveFilters bool
}

// New creates a Planner, filling unset Config fields with defaults.
func New(cfg Config) *Planner {
	p := &Planner{
		search:     cfg.Search,
		buildGraph: cfg.BuildGraph,
		hooks:      cfg.Hooks,
		logger:     cfg.Logger,
		traces:     cfg.Traces,

		resolveFilters: cfg.ResolveFilterConcepts,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.search == nil {
		p.search = search.New(p.logger).SearchDatasource
	}
	if p.buildGraph == nil {
		p.buildGraph = graph.Generate
	}
	if p.hooks == nil {
		p.hooks = NopHooks{}
	}
	if p.traces == nil {
		p.traces = UUIDGenerator{}
	}
	return p
}

// ProcessQuery plans stmt against env with default search and graph
// construction. hooks may be nil.
func ProcessQuery(env *model.Environment, stmt model.Select, hooks Hooks) (*ProcessedQuery, error) {
	return New(Config{
		Hooks:  hooks,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}).ProcessQuery(env, stmt)
}

// compilation is the working state of one ProcessQuery call.
type compilation struct {
	*Planner
	env         *model.Environment
	graph       *graph.ReferenceGraph
	stmt        model.Select
	traceID     string
	concepts    ConceptMap
	datasources DatasourceMap
}

func (p *Planner) newCompilation(env *model.Environment, g *graph.ReferenceGraph, stmt model.Select) *compilation {
	return &compilation{
		Planner:     p,
		env:         env,
		graph:       g,
		stmt:        stmt,
		traceID:     p.traces.Generate(),
		concepts:    make(ConceptMap),
		datasources: make(DatasourceMap),
	}
}

func (c *compilation) event(stage Stage, pass string, components int) Event {
	return Event{
		TraceID:     c.traceID,
		Stage:       stage,
		Pass:        pass,
		Components:  components,
		Datasources: c.datasources.Identifiers(),
	}
}

// ProcessQuery resolves, compiles and assembles a plan for stmt.
//
// The reference graph is built once per call. Any error aborts the
// compilation; no partial plan is returned.
func (p *Planner) ProcessQuery(env *model.Environment, stmt model.Select) (*ProcessedQuery, error) {
	if env == nil {
		return nil, fmt.Errorf("process query: nil environment")
	}
	c := p.newCompilation(env, p.buildGraph(env), stmt)

	if err := c.resolve(); err != nil {
		return nil, err
	}

	var all []*CTE
	for _, id := range c.datasources.Identifiers() {
		switch ds := c.datasources[id].(type) {
		case *model.BaseDatasource:
			return nil, NewUnexpectedBaseError(id)
		case *model.QueryDatasource:
			ctes, err := CompileCTEs(ds)
			if err != nil {
				return nil, err
			}
			all = append(all, ctes...)
		default:
			return nil, fmt.Errorf("process query: unsupported datasource %T", ds)
		}
	}
	merged := MergeCTEs(all)

	compiled := c.event(StageCompiled, "", 0)
	compiled.CTEs = cteNames(merged)
	c.hooks.Compiled(compiled)

	base, err := SelectBase(merged, stmt)
	if err != nil {
		return nil, err
	}
	selected := c.event(StageBaseSelected, "", 0)
	selected.CTEs = compiled.CTEs
	selected.Base = base.Name
	c.hooks.BaseSelected(selected)

	joins := SynthesizeJoins(base, merged, stmt.Grain)

	pq := &ProcessedQuery{
		OutputColumns: stmt.OutputConcepts(),
		Grain:         stmt.Grain,
		Base:          base,
		CTEs:          merged,
		Joins:         joins,
		WhereClause:   stmt.Where,
		OrderBy:       stmt.OrderBy,
		Limit:         stmt.Limit,
		TraceID:       c.traceID,
	}

	fingerprint, err := pq.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("process query: %w", err)
	}
	planned := c.event(StagePlanned, "", 0)
	planned.CTEs = compiled.CTEs
	planned.Base = base.Name
	planned.Joins = len(joins)
	planned.Fingerprint = fingerprint
	c.hooks.Planned(planned)

	p.logger.Debug("query planned",
		"trace", c.traceID,
		"base", base.Name,
		"ctes", len(merged),
		"joins", len(joins),
		"fingerprint", fingerprint)
	return pq, nil
}

// SelectBase picks the CTE that carries the query's primary row stream.
//
// A CTE at exactly the query grain wins; among several, the one covering
// more selected concepts, then the lower name. Otherwise CTEs whose grain
// is a subset of the query grain are ranked by how many query grain
// components they output, then by selected concepts covered, then by name.
// The ranking never depends on the order of ctes.
func SelectBase(ctes []*CTE, stmt model.Select) (*CTE, error) {
	outputs := stmt.OutputConcepts()

	var exact, subset []*CTE
	for _, cte := range ctes {
		switch {
		case cte.Grain.Equal(stmt.Grain):
			exact = append(exact, cte)
		case cte.Grain.IsSubset(stmt.Grain):
			subset = append(subset, cte)
		}
	}

	if len(exact) > 0 {
		slices.SortStableFunc(exact, func(a, b *CTE) int {
			return cmp.Or(
				cmp.Compare(covered(b, outputs), covered(a, outputs)),
				cmp.Compare(a.Name, b.Name),
			)
		})
		return exact[0], nil
	}

	if len(subset) > 0 {
		slices.SortStableFunc(subset, func(a, b *CTE) int {
			return cmp.Or(
				cmp.Compare(covered(b, stmt.Grain.Components), covered(a, stmt.Grain.Components)),
				cmp.Compare(covered(b, outputs), covered(a, outputs)),
				cmp.Compare(a.Name, b.Name),
			)
		})
		return subset[0], nil
	}

	var available []string
	for _, cte := range ctes {
		available = append(available, cte.Grain.String())
	}
	slices.Sort(available)
	return nil, NewNoEligibleBaseGrainError(stmt.Grain.String(), slices.Compact(available))
}

// covered counts the concepts in cs that cte outputs.
func covered(cte *CTE, cs []model.Concept) int {
	n := 0
	for _, c := range cs {
		if model.ContainsAddress(cte.OutputColumns, c.Address()) {
			n++
		}
	}
	return n
}

// SynthesizeJoins joins base to every other CTE on the query grain
// components both sides output.
//
// A CTE is joined only when its own grain is a subset of the query grain
// and at least one key exists. Others are left out of the top-level join
// list; they remain reachable as parents of the CTEs that use them.
func SynthesizeJoins(base *CTE, ctes []*CTE, grain model.Grain) []Join {
	var joins []Join
	for _, cte := range ctes {
		if cte.Name == base.Name || !cte.Grain.IsSubset(grain) {
			continue
		}
		var keys []model.Concept
		for _, k := range grain.Components {
			if model.ContainsConcept(cte.OutputColumns, k.WithGrain(cte.Grain)) &&
				model.ContainsConcept(base.OutputColumns, k.WithGrain(base.Grain)) {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			continue
		}
		joins = append(joins, Join{
			Left:     base.Relation(),
			Right:    cte.Relation(),
			JoinType: model.JoinLeftOuter,
			JoinKeys: keys,
		})
	}
	return joins
}

func cteNames(ctes []*CTE) []string {
	names := make([]string, len(ctes))
	for i, cte := range ctes {
		names[i] = cte.Name
	}
	return names
}

// ProcessedQuery is the compiled plan handed to a renderer.
// It is immutable once returned.
type ProcessedQuery struct {
	OutputColumns []model.Concept
	Grain         model.Grain
	Base          *CTE
	CTEs          []*CTE
	Joins         []Join
	WhereClause   queryir.Predicate
	OrderBy       []model.OrderItem
	Limit         *int
	TraceID       string
}

// CTE returns the CTE with the given name.
func (pq *ProcessedQuery) CTE(name string) (*CTE, bool) {
	for _, cte := range pq.CTEs {
		if cte.Name == name {
			return cte, true
		}
	}
	return nil, false
}
