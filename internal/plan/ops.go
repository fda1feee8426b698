// Package plan records the high-level operations declared against a query
// and compiles them: operations are staged around row-shape-changing
// barriers, each stage materializes an association graph and emits its
// joins, and preload declarations are resolved against whatever joins
// actually ended up present.
package plan

import (
	"joinplan/internal/graph"
	"joinplan/internal/predicate"
)

// Op is one recorded operation. The concrete types below form a closed set;
// the compiler dispatches over them exhaustively.
type Op interface {
	isOp()
}

// Term is a single sort term over a relation column.
type Term struct {
	Column string
	Desc   bool
}

// WhereOp filters on a field of the root relation (empty Path) or of an
// association reachable through Path.
type WhereOp struct {
	Path string
	// Mode is the join mode used to materialize Path. The zero value
	// (JoinAny) requires the join without a qualifier preference.
	Mode graph.JoinMode
	Pred predicate.Group
}

func (WhereOp) isOp() {}

// OrderByOp orders by columns of the root relation or of a joined
// association.
type OrderByOp struct {
	Path  string
	Mode  graph.JoinMode
	Terms []Term
}

func (OrderByOp) isOp() {}

// GroupByOp groups by columns of the root relation or of a joined
// association.
type GroupByOp struct {
	Path    string
	Mode    graph.JoinMode
	Columns []string
}

func (GroupByOp) isOp() {}

// JoinOp requires a join along Path. It contributes to the stage's graph
// and applies nothing on its own.
type JoinOp struct {
	Path     string
	Mode     graph.JoinMode
	LeftMode graph.LeftMode
	// Filters become ON-predicate conjuncts of the leaf hop's join.
	Filters []predicate.Group
}

func (JoinOp) isOp() {}

// PreloadOp requests hydration of the association at Path. Preloads are
// deferred to the end of compilation and merged into the final graph
// without forcing new joins.
type PreloadOp struct {
	Path     string
	Strategy graph.Strategy
	Scope    *graph.Scope
}

func (PreloadOp) isOp() {}

// RankWindowOp keeps at most Limit rows per partition, ranked by Order.
// It is a barrier: it redefines the row set, so all prior join bindings
// stop being addressable and the next stage starts from a blank graph.
type RankWindowOp struct {
	// PartitionBy lists root-relation columns; empty defaults to the root
	// relation's primary key.
	PartitionBy []string
	Order       []Term
	Limit       int
}

func (RankWindowOp) isOp() {}

// LimitOp caps the total row count.
type LimitOp struct {
	Limit uint64
}

func (LimitOp) isOp() {}

// OffsetOp skips leading rows.
type OffsetOp struct {
	Offset uint64
}

func (OffsetOp) isOp() {}

func isBarrier(op Op) bool {
	_, ok := op.(RankWindowOp)
	return ok
}

func isPreload(op Op) bool {
	_, ok := op.(PreloadOp)
	return ok
}

// stage is a run of operations delimited by barriers. A stage that was
// closed by a barrier contains that barrier as its final operation.
type stage struct {
	ops     []Op
	barrier bool
}

// splitStages partitions stage operations in recorded order, closing a
// stage after each barrier. Trailing non-barrier operations form a final
// open stage.
func splitStages(ops []Op) []stage {
	var stages []stage
	var current []Op
	for _, op := range ops {
		current = append(current, op)
		if isBarrier(op) {
			stages = append(stages, stage{ops: current, barrier: true})
			current = nil
		}
	}
	if len(current) > 0 {
		stages = append(stages, stage{ops: current})
	}
	return stages
}
