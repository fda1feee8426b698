// Package preload resolves the hydration plans of a compiled query. A
// through-join preload reads association data off rows the query already
// produces, so it is validated against the join that is actually present.
// A separate preload hydrates through an additional batched query keyed by
// the parent rows' association key values.
package preload

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"joinplan/internal/graph"
	"joinplan/internal/query"
	"joinplan/internal/schema"
	"joinplan/internal/sqlutil"
)

const batchAlias = "__batch"

// Plan is one resolved preload.
type Plan struct {
	Path        []string
	Strategy    graph.Strategy
	Association schema.Association
	// Columns are the target relation's column names, in declaration order.
	Columns []string
	// Binding is the joined binding the rows are read from. Set only for
	// through-join plans.
	Binding string
	// Order is the fully qualified hydration ordering of a separate plan:
	// the preload scope's ordering when one was given, otherwise the target
	// relation's primary key.
	Order []query.OrderTerm
	// Filter is the preload scope's filter, if any.
	Filter sq.Sqlizer
}

// Resolve walks the final graph and resolves every preload requirement
// against the compiled query. A through-join preload whose binding is not
// present in the query fails: a join consumed by a rank-window wrap, or
// never emitted at all, cannot be read from.
func Resolve(sc *schema.Schema, g *graph.Graph, q *query.Query) ([]Plan, error) {
	var plans []Plan
	err := g.Walk(func(path []string, n *graph.Node) error {
		if n.Preload == nil || n.Preload.Strategy == graph.StrategyUnset {
			return nil
		}
		assoc, err := sc.Association(n.Source, n.Field)
		if err != nil {
			return err
		}
		rel, err := sc.Relation(n.Target)
		if err != nil {
			return err
		}
		columns := make([]string, len(rel.Columns))
		for i, col := range rel.Columns {
			columns[i] = col.Name
		}

		plan := Plan{
			Path:        append([]string(nil), path...),
			Strategy:    n.Preload.Strategy,
			Association: assoc,
			Columns:     columns,
		}

		switch n.Preload.Strategy {
		case graph.StrategyThroughJoin:
			binding := n.Binding()
			join, ok := q.Join(binding)
			if !ok {
				return &graph.NotJoinedError{Path: plan.Path, Binding: binding}
			}
			if err := graph.ValidateExistingJoin(join, n, parentBinding(g, q, path)); err != nil {
				return err
			}
			plan.Binding = binding
		case graph.StrategySeparate:
			scope := n.Preload.Scope
			if scope != nil && scope.Filter != nil && !scope.Filter.Empty() {
				s, err := scope.Filter.Sqlizer(n.Target)
				if err != nil {
					return err
				}
				plan.Filter = s
			}
			if scope != nil && len(scope.Order) > 0 {
				plan.Order = make([]query.OrderTerm, len(scope.Order))
				for i, term := range scope.Order {
					plan.Order[i] = query.OrderTerm{
						Expr: sqlutil.QualifyColumn(n.Target, term.Expr),
						Desc: term.Desc,
					}
				}
			} else {
				for _, col := range sc.PrimaryKey(n.Target) {
					plan.Order = append(plan.Order, query.OrderTerm{
						Expr: sqlutil.QualifyColumn(n.Target, col),
					})
				}
			}
		}

		plans = append(plans, plan)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plans, nil
}

// parentBinding returns the binding the node's join must hang off: the
// parent node's derived binding, or the query root for top-level nodes.
func parentBinding(g *graph.Graph, q *query.Query, path []string) string {
	if len(path) <= 1 {
		return q.RootBinding()
	}
	parent, ok := g.NodeAt(path[:len(path)-1]...)
	if !ok {
		return q.RootBinding()
	}
	return parent.Binding()
}

// ParentColumns returns the aliases under which BuildBatch selects the
// parent key values alongside each hydrated row.
func (p Plan) ParentColumns() []string {
	if len(p.Association.RemoteColumns) == 1 {
		return []string{"__batch_parent_id"}
	}
	out := make([]string, len(p.Association.RemoteColumns))
	for i := range out {
		out[i] = fmt.Sprintf("__batch_parent_%d", i)
	}
	return out
}

// BuildBatch renders the batched hydration query of a separate plan for
// one set of parent key tuples. Each tuple holds the parent rows' values
// of the association's local columns, in column order. When limit is
// positive (or offset is), rows are ranked per parent with a ROW_NUMBER
// window so every parent gets its own slice.
func (p Plan) BuildBatch(parents [][]any, limit, offset int) (query.SQLQuery, error) {
	if p.Strategy != graph.StrategySeparate {
		return query.SQLQuery{}, fmt.Errorf("preload: %s plan for %q cannot build a batch query",
			p.Strategy, strings.Join(p.Path, "."))
	}
	if len(parents) == 0 {
		return query.SQLQuery{}, fmt.Errorf("preload: batch query for %q needs at least one parent key",
			strings.Join(p.Path, "."))
	}
	remote := p.Association.RemoteColumns
	for _, parent := range parents {
		if len(parent) != len(remote) {
			return query.SQLQuery{}, fmt.Errorf("preload: parent key arity %d does not match %d remote columns",
				len(parent), len(remote))
		}
	}

	target := p.Association.Target
	membership, err := p.membership(parents)
	if err != nil {
		return query.SQLQuery{}, err
	}

	selectExprs := make([]string, 0, len(p.Columns)+len(remote))
	selectExprs = append(selectExprs, sqlutil.QualifyColumns(target, p.Columns)...)
	aliases := p.ParentColumns()
	for i, col := range remote {
		selectExprs = append(selectExprs, fmt.Sprintf("%s AS %s",
			sqlutil.QualifyColumn(target, col), sqlutil.QuoteIdentifier(aliases[i])))
	}

	orderExprs := make([]string, len(p.Order))
	for i, term := range p.Order {
		orderExprs[i] = term.Expr
		if term.Desc {
			orderExprs[i] += " DESC"
		}
	}

	var b sq.SelectBuilder
	if limit > 0 || offset > 0 {
		window := fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS __rn",
			strings.Join(sqlutil.QualifyColumns(target, remote), ", "),
			strings.Join(orderExprs, ", "))

		inner := sq.Select(selectExprs...).
			Column(window).
			From(sqlutil.QuoteIdentifier(target)).
			Where(membership)
		if p.Filter != nil {
			inner = inner.Where(p.Filter)
		}

		outerCols := make([]string, 0, len(p.Columns)+len(aliases))
		for _, col := range p.Columns {
			outerCols = append(outerCols, sqlutil.QuoteIdentifier(col))
		}
		for _, alias := range aliases {
			outerCols = append(outerCols, sqlutil.QuoteIdentifier(alias))
		}

		b = sq.Select(outerCols...).
			FromSelect(inner, batchAlias).
			Where(sq.Gt{"__rn": offset})
		if limit > 0 {
			b = b.Where(sq.LtOrEq{"__rn": offset + limit})
		}
		b = b.OrderBy(append(quoteAll(aliases), "__rn")...)
	} else {
		b = sq.Select(selectExprs...).
			From(sqlutil.QuoteIdentifier(target)).
			Where(membership)
		if p.Filter != nil {
			b = b.Where(p.Filter)
		}
		b = b.OrderBy(append(quoteAll(aliases), orderExprs...)...)
	}

	sql, args, err := b.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return query.SQLQuery{}, err
	}
	return query.SQLQuery{SQL: sql, Args: args}, nil
}

// membership builds the parent-key membership condition: a plain IN for a
// single-column key, a tuple IN for a composite one.
func (p Plan) membership(parents [][]any) (sq.Sqlizer, error) {
	target := p.Association.Target
	remote := p.Association.RemoteColumns
	if len(remote) == 1 {
		values := make([]any, len(parents))
		for i, parent := range parents {
			values[i] = parent[0]
		}
		return sq.Eq{sqlutil.QualifyColumn(target, remote[0]): values}, nil
	}

	tuple := "(" + strings.Join(sqlutil.QualifyColumns(target, remote), ", ") + ")"
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(remote)), ", ") + ")"
	placeholders := make([]string, len(parents))
	args := make([]any, 0, len(parents)*len(remote))
	for i, parent := range parents {
		placeholders[i] = placeholder
		args = append(args, parent...)
	}
	return sq.Expr(fmt.Sprintf("%s IN (%s)", tuple, strings.Join(placeholders, ", ")), args...), nil
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = sqlutil.QuoteIdentifier(name)
	}
	return out
}
