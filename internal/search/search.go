package search

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/roach88/grainplan/internal/graph"
	"github.com/roach88/grainplan/internal/model"
)

type rank int

const (
	rankExact rank = iota
	rankCoarser
	rankGroupable
	rankOther
)

func (r rank) String() string {
	switch r {
	case rankExact:
		return "exact"
	case rankCoarser:
		return "coarser"
	case rankGroupable:
		return "groupable"
	default:
		return "other"
	}
}

// Searcher is the default single-concept datasource search.
// It holds no per-query state and is safe for concurrent use.
type Searcher struct {
	logger *slog.Logger
}

// New creates a Searcher. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{logger: logger}
}

// SearchDatasource returns one datasource able to supply c at grain.
//
// The result is always a *model.QueryDatasource. Returns a *NotFoundError
// when no base datasource outputs c.
func (s *Searcher) SearchDatasource(c model.Concept, grain model.Grain, env *model.Environment, g *graph.ReferenceGraph, wholeGrain bool) (model.Datasource, error) {
	if g == nil {
		g = graph.Generate(env)
	}
	candidates := g.DatasourcesFor(c.Address())
	if len(candidates) == 0 {
		return nil, &NotFoundError{Concept: c, Grain: grain}
	}

	best, r := bestCandidate(c, grain, candidates)

	if wholeGrain || r == rankOther {
		if composite, ok := buildComposite(c, grain, g); ok {
			s.logger.Debug("composite datasource",
				"concept", c.Address(),
				"grain", grain.Key(),
				"whole_grain", wholeGrain,
				"children", len(composite.Datasources),
				"id", composite.Identifier())
			return composite, nil
		}
	}

	s.logger.Debug("direct datasource",
		"concept", c.Address(),
		"grain", grain.Key(),
		"datasource", best.Name,
		"rank", r.String())

	if r == rankGroupable {
		return model.Group(best, grain), nil
	}
	return model.Wrap(best), nil
}

func classify(c model.Concept, target model.Grain, ds *model.BaseDatasource) rank {
	switch {
	case ds.Grain.Equal(target):
		return rankExact
	case ds.Grain.IsSubset(target):
		return rankCoarser
	case coverage(target, ds) == len(target.Components) &&
		(c.Purpose == model.PurposeMetric || target.Contains(c.Address())):
		return rankGroupable
	default:
		return rankOther
	}
}

// coverage counts the target grain components ds outputs.
func coverage(target model.Grain, ds *model.BaseDatasource) int {
	n := 0
	for _, comp := range target.Components {
		if _, ok := ds.ColumnFor(comp.Address()); ok {
			n++
		}
	}
	return n
}

func bestCandidate(c model.Concept, grain model.Grain, candidates []*model.BaseDatasource) (*model.BaseDatasource, rank) {
	type scored struct {
		ds       *model.BaseDatasource
		rank     rank
		coverage int
	}
	all := make([]scored, 0, len(candidates))
	for _, ds := range candidates {
		all = append(all, scored{ds: ds, rank: classify(c, grain, ds), coverage: coverage(grain, ds)})
	}
	slices.SortStableFunc(all, func(a, b scored) int {
		return cmp.Or(
			cmp.Compare(a.rank, b.rank),
			cmp.Compare(b.coverage, a.coverage),
			cmp.Compare(a.ds.Name, b.ds.Name),
		)
	})
	return all[0].ds, all[0].rank
}
