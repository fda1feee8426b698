package plan

import (
	"log/slog"

	"joinplan/internal/graph"
	"joinplan/internal/predicate"
	"joinplan/internal/schema"
)

// Planner accumulates operations against a root relation. Recording never
// fails; every path and requirement is checked during Compile, so a plan
// assembled from independent callers reports conflicts exactly once, with
// the full picture available.
type Planner struct {
	sc     *schema.Schema
	root   string
	ops    []Op
	logger *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the structured logger used during compilation.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) { p.logger = logger }
}

// New returns a planner over the given root relation.
func New(sc *schema.Schema, root string, opts ...Option) *Planner {
	p := &Planner{sc: sc, root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record appends operations in declaration order.
func (p *Planner) Record(ops ...Op) *Planner {
	p.ops = append(p.ops, ops...)
	return p
}

// Where filters on the relation at path (empty path targets the root).
func (p *Planner) Where(path string, pred predicate.Group) *Planner {
	return p.Record(WhereOp{Path: path, Pred: pred})
}

// Join requires a join along path with the given mode.
func (p *Planner) Join(path string, mode graph.JoinMode) *Planner {
	return p.Record(JoinOp{Path: path, Mode: mode})
}

// JoinOn requires a join along path and attaches filter groups to the leaf
// hop's ON predicate.
func (p *Planner) JoinOn(path string, mode graph.JoinMode, filters ...predicate.Group) *Planner {
	return p.Record(JoinOp{Path: path, Mode: mode, Filters: filters})
}

// OrderBy orders by columns of the relation at path.
func (p *Planner) OrderBy(path string, terms ...Term) *Planner {
	return p.Record(OrderByOp{Path: path, Terms: terms})
}

// GroupBy groups by columns of the relation at path.
func (p *Planner) GroupBy(path string, columns ...string) *Planner {
	return p.Record(GroupByOp{Path: path, Columns: columns})
}

// Preload requests hydration of the association at path. The path may not
// carry qualifier markers; join requirements come from Join operations.
func (p *Planner) Preload(path string, strategy graph.Strategy, scope *graph.Scope) *Planner {
	return p.Record(PreloadOp{Path: path, Strategy: strategy, Scope: scope})
}

// RankWindow keeps at most limit rows per partition. An empty partition
// defaults to the root relation's primary key.
func (p *Planner) RankWindow(partitionBy []string, order []Term, limit int) *Planner {
	return p.Record(RankWindowOp{PartitionBy: partitionBy, Order: order, Limit: limit})
}

// Limit caps the total row count.
func (p *Planner) Limit(n uint64) *Planner {
	return p.Record(LimitOp{Limit: n})
}

// Offset skips leading rows.
func (p *Planner) Offset(n uint64) *Planner {
	return p.Record(OffsetOp{Offset: n})
}
