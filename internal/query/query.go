// Package query holds the relational query value the planner compiles into.
// A Query is a value type: every operation returns an updated copy, so
// callers can hold earlier snapshots without seeing later mutations.
// Rendering to SQL goes through Masterminds/squirrel with MySQL-style
// placeholders and backtick quoting.
package query

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"joinplan/internal/sqlutil"
)

// Qualifier is the join flavor required (or preferred) for an association.
type Qualifier int

const (
	// QualifierAny means no preference has been expressed yet.
	QualifierAny Qualifier = iota
	// QualifierLeft is an optional (LEFT OUTER) join.
	QualifierLeft
	// QualifierInner is a mandatory (INNER) join.
	QualifierInner
)

func (q Qualifier) String() string {
	switch q {
	case QualifierAny:
		return "any"
	case QualifierLeft:
		return "left"
	case QualifierInner:
		return "inner"
	default:
		return fmt.Sprintf("qualifier(%d)", int(q))
	}
}

func (q Qualifier) sqlKeyword() string {
	if q == QualifierInner {
		return "INNER JOIN"
	}
	return "LEFT JOIN"
}

// Join is one named join carried by a Query.
type Join struct {
	// Name is the binding under which the joined relation is addressable.
	Name          string
	Qualifier     Qualifier
	SourceBinding string
	// Field is the association field the join was derived from. Empty for
	// joins that were not produced from an association.
	Field       string
	Target      string
	On          sq.Sqlizer
	Association bool
}

// SQLQuery is a rendered statement with its bound arguments.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// OrderTerm is a single ORDER BY entry.
type OrderTerm struct {
	Expr string
	Desc bool
}

func (o OrderTerm) render() string {
	if o.Desc {
		return o.Expr + " DESC"
	}
	return o.Expr
}

// Query is the accumulating relational query. The zero value is not usable;
// construct with New.
type Query struct {
	root        string
	rootBinding string
	selects     []string
	joins       []Join
	wheres      []sq.Sqlizer
	orders      []OrderTerm
	groups      []string
	limit       *uint64
	offset      *uint64

	// inner is set when this query wraps a ranked subquery; the outer query
	// then selects from the wrapped row set under rootBinding.
	inner       *Query
	wrapRank    int
	wrapRankCol string
	wrapOrder   []OrderTerm
	wrapPart    []string
}

// New returns an empty query over the given root relation. The root binding
// is the relation name itself.
func New(root string) *Query {
	return &Query{root: root, rootBinding: root}
}

// Root returns the root relation name.
func (q *Query) Root() string { return q.root }

// RootBinding returns the binding name the current row set is addressed by.
// After a ranked wrap this is the wrap alias, not the original relation.
func (q *Query) RootBinding() string { return q.rootBinding }

// Joins returns the joins in append order.
func (q *Query) Joins() []Join {
	out := make([]Join, len(q.joins))
	copy(out, q.joins)
	return out
}

func (q *Query) clone() *Query {
	out := *q
	out.selects = append([]string(nil), q.selects...)
	out.joins = append([]Join(nil), q.joins...)
	out.wheres = append([]sq.Sqlizer(nil), q.wheres...)
	out.orders = append([]OrderTerm(nil), q.orders...)
	out.groups = append([]string(nil), q.groups...)
	return &out
}

// HasBinding reports whether a binding with the given name exists, either as
// the current root binding or as a join.
func (q *Query) HasBinding(name string) bool {
	if name == q.rootBinding {
		return true
	}
	_, ok := q.Join(name)
	return ok
}

// Join returns the join carried under the given binding name.
func (q *Query) Join(name string) (Join, bool) {
	for _, j := range q.joins {
		if j.Name == name {
			return j, true
		}
	}
	return Join{}, false
}

// AppendJoin adds a named join. Appending a second join under an existing
// binding name is an error; callers are expected to consult Join first.
func (q *Query) AppendJoin(j Join) (*Query, error) {
	if j.Name == "" {
		return nil, fmt.Errorf("query: join has no binding name")
	}
	if q.HasBinding(j.Name) {
		return nil, fmt.Errorf("query: binding %q already exists", j.Name)
	}
	if j.SourceBinding != "" && !q.HasBinding(j.SourceBinding) {
		return nil, fmt.Errorf("query: join %q references unknown source binding %q", j.Name, j.SourceBinding)
	}
	if j.Qualifier == QualifierAny {
		return nil, fmt.Errorf("query: join %q must carry a resolved qualifier", j.Name)
	}
	out := q.clone()
	out.joins = append(out.joins, j)
	return out, nil
}

// Select replaces the select list with explicit expressions.
func (q *Query) Select(exprs ...string) *Query {
	out := q.clone()
	out.selects = append([]string(nil), exprs...)
	return out
}

// Where appends a WHERE conjunct.
func (q *Query) Where(pred sq.Sqlizer) *Query {
	out := q.clone()
	out.wheres = append(out.wheres, pred)
	return out
}

// OrderBy appends ORDER BY terms.
func (q *Query) OrderBy(terms ...OrderTerm) *Query {
	out := q.clone()
	out.orders = append(out.orders, terms...)
	return out
}

// GroupBy appends GROUP BY expressions.
func (q *Query) GroupBy(exprs ...string) *Query {
	out := q.clone()
	out.groups = append(out.groups, exprs...)
	return out
}

// Limit sets the row limit.
func (q *Query) Limit(n uint64) *Query {
	out := q.clone()
	out.limit = &n
	return out
}

// Offset sets the row offset.
func (q *Query) Offset(n uint64) *Query {
	out := q.clone()
	out.offset = &n
	return out
}

// WrapRanked wraps the accumulated query in a ROW_NUMBER() window subquery,
// keeping at most limit rows per partition. The result is a fresh row set:
// previously joined bindings are no longer addressable, and subsequent
// operations see only the wrap alias. The rank column is named after the
// alias so that wrapping an already-wrapped query never produces duplicate
// column names in the derived table.
func (q *Query) WrapRanked(alias string, partitionBy []string, orderBy []OrderTerm, limit int) (*Query, error) {
	if alias == "" {
		return nil, fmt.Errorf("query: ranked wrap requires an alias")
	}
	if len(orderBy) == 0 {
		return nil, fmt.Errorf("query: ranked wrap requires an ordering")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("query: ranked wrap requires a positive per-partition limit")
	}
	inner := q.clone()
	return &Query{
		root:        q.root,
		rootBinding: alias,
		inner:       inner,
		wrapRank:    limit,
		wrapRankCol: alias + "_rn",
		wrapOrder:   append([]OrderTerm(nil), orderBy...),
		wrapPart:    append([]string(nil), partitionBy...),
	}, nil
}

// Wrapped reports whether the query contains at least one ranked wrap.
func (q *Query) Wrapped() bool { return q.inner != nil }

func (q *Query) selectExprs() []string {
	if len(q.selects) > 0 {
		return q.selects
	}
	return []string{sqlutil.QuoteIdentifier(q.rootBinding) + ".*"}
}

func (q *Query) builder() (sq.SelectBuilder, error) {
	var b sq.SelectBuilder
	if q.inner != nil {
		innerBuilder, err := q.inner.builder()
		if err != nil {
			return b, err
		}
		var window strings.Builder
		window.WriteString("ROW_NUMBER() OVER (")
		if len(q.wrapPart) > 0 {
			window.WriteString("PARTITION BY ")
			window.WriteString(strings.Join(q.wrapPart, ", "))
			window.WriteString(" ")
		}
		orderExprs := make([]string, len(q.wrapOrder))
		for i, term := range q.wrapOrder {
			orderExprs[i] = term.render()
		}
		window.WriteString("ORDER BY ")
		window.WriteString(strings.Join(orderExprs, ", "))
		window.WriteString(") AS ")
		window.WriteString(q.wrapRankCol)
		innerBuilder = innerBuilder.Column(window.String())

		b = sq.Select(q.selectExprs()...).
			FromSelect(innerBuilder, q.rootBinding).
			Where(sq.LtOrEq{q.wrapRankCol: q.wrapRank})
	} else {
		b = sq.Select(q.selectExprs()...).From(sqlutil.QuoteIdentifier(q.root))
	}

	for _, j := range q.joins {
		onSQL, onArgs, err := j.On.ToSql()
		if err != nil {
			return b, fmt.Errorf("query: rendering ON predicate of join %q: %w", j.Name, err)
		}
		clause := fmt.Sprintf("%s %s AS %s ON %s",
			j.Qualifier.sqlKeyword(),
			sqlutil.QuoteIdentifier(j.Target),
			sqlutil.QuoteIdentifier(j.Name),
			onSQL,
		)
		b = b.JoinClause(clause, onArgs...)
	}
	for _, w := range q.wheres {
		b = b.Where(w)
	}
	if len(q.groups) > 0 {
		b = b.GroupBy(q.groups...)
	}
	if len(q.orders) > 0 {
		orderExprs := make([]string, len(q.orders))
		for i, term := range q.orders {
			orderExprs[i] = term.render()
		}
		b = b.OrderBy(orderExprs...)
	}
	if q.limit != nil {
		b = b.Limit(*q.limit)
	}
	if q.offset != nil {
		b = b.Offset(*q.offset)
	}
	return b, nil
}

// ToSQL renders the query with MySQL-style ? placeholders.
func (q *Query) ToSQL() (SQLQuery, error) {
	b, err := q.builder()
	if err != nil {
		return SQLQuery{}, err
	}
	sql, args, err := b.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: sql, Args: args}, nil
}
