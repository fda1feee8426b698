package plan

import (
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"joinplan/internal/graph"
	"joinplan/internal/query"
	"joinplan/internal/schema"
	"joinplan/internal/sqlutil"
)

// emitJoins walks the graph depth-first in lexical field order and emits
// every required join that is not already present in q. A binding that
// already exists is validated for compatibility instead of re-emitted;
// on-join filters can only ride along when this pass created the join
// itself, since retrofitting them onto a foreign join would silently
// change that join's meaning.
func emitJoins(sc *schema.Schema, g *graph.Graph, q *query.Query) (*query.Query, error) {
	for _, field := range sortedFields(g.Nodes) {
		var err error
		q, err = emitNode(sc, q, []string{field}, g.Nodes[field], q.RootBinding())
		if err != nil {
			return nil, err
		}
	}
	return q, nil
}

func emitNode(sc *schema.Schema, q *query.Query, path []string, node *graph.Node, sourceBinding string) (*query.Query, error) {
	binding := node.Binding()
	if node.Join.Required {
		existing, ok := q.Join(binding)
		if ok {
			if err := graph.ValidateExistingJoin(existing, node, sourceBinding); err != nil {
				return nil, err
			}
			if len(node.Join.Filters) > 0 && !node.Join.Emitted {
				return nil, &graph.FilterRetrofitError{Binding: binding, Path: path}
			}
		} else {
			on, err := joinOn(sc, node, sourceBinding, binding)
			if err != nil {
				return nil, err
			}
			qualifier := node.Join.Qualifier
			if qualifier == query.QualifierAny {
				qualifier = query.QualifierLeft
			}
			q, err = q.AppendJoin(query.Join{
				Name:          binding,
				Qualifier:     qualifier,
				SourceBinding: sourceBinding,
				Field:         node.Field,
				Target:        node.Target,
				On:            on,
				Association:   true,
			})
			if err != nil {
				return nil, err
			}
			node.Join.Emitted = true
		}
	}
	for _, field := range sortedFields(node.Children) {
		var err error
		q, err = emitNode(sc, q, append(path, field), node.Children[field], binding)
		if err != nil {
			return nil, err
		}
	}
	return q, nil
}

// joinOn builds the join's ON predicate: the association's key-column
// equalities conjoined with the node's on-join filter groups, every column
// qualified by its binding.
func joinOn(sc *schema.Schema, node *graph.Node, sourceBinding, binding string) (sq.Sqlizer, error) {
	assoc, err := sc.Association(node.Source, node.Field)
	if err != nil {
		return nil, err
	}
	conds := make(sq.And, 0, len(assoc.LocalColumns)+len(node.Join.Filters))
	for i, local := range assoc.LocalColumns {
		conds = append(conds, sq.Expr(fmt.Sprintf("%s = %s",
			sqlutil.QualifyColumn(sourceBinding, local),
			sqlutil.QualifyColumn(binding, assoc.RemoteColumns[i]))))
	}
	for _, group := range node.Join.Filters {
		s, err := group.Sqlizer(binding)
		if err != nil {
			return nil, err
		}
		conds = append(conds, s)
	}
	return conds, nil
}

func sortedFields(nodes map[string]*graph.Node) []string {
	fields := make([]string, 0, len(nodes))
	for field := range nodes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
