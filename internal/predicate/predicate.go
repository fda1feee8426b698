// Package predicate models the filter expressions threaded through the
// planner: flat AND conditions plus optional OR alternatives, kept opaque
// until they are rendered against a concrete join binding.
package predicate

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"joinplan/internal/sqlutil"
	"joinplan/internal/uuidutil"
)

// Op identifies a comparison operator.
type Op string

const (
	OpEQ      Op = "eq"
	OpNEQ     Op = "neq"
	OpGT      Op = "gt"
	OpGTE     Op = "gte"
	OpLT      Op = "lt"
	OpLTE     Op = "lte"
	OpIn      Op = "in"
	OpNotIn   Op = "not_in"
	OpLike    Op = "like"
	OpNotLike Op = "not_like"
	OpIsNull  Op = "is_null"
	OpNotNull Op = "not_null"
)

// Cond is a single column comparison.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Group is one filter group: all of All must hold, and, when Any is
// non-empty, at least one of its alternatives (each itself a conjunction)
// must hold as well.
type Group struct {
	All []Cond
	Any [][]Cond
}

// Eq is shorthand for an equality condition.
func Eq(column string, value any) Cond {
	return Cond{Column: column, Op: OpEQ, Value: value}
}

// Where builds a group from AND-ed conditions.
func Where(conds ...Cond) Group {
	return Group{All: conds}
}

// AnyOf appends an OR alternative (a conjunction of conditions) to the group.
func (g Group) AnyOf(conds ...Cond) Group {
	out := g
	out.Any = append(append([][]Cond(nil), g.Any...), conds)
	return out
}

// Empty reports whether the group holds no conditions at all.
func (g Group) Empty() bool {
	return len(g.All) == 0 && len(g.Any) == 0
}

// Sqlizer renders the group against a binding. Column references are
// qualified as binding.column; an empty binding leaves them bare.
func (g Group) Sqlizer(binding string) (sq.Sqlizer, error) {
	and := sq.And{}
	for _, c := range g.All {
		s, err := c.sqlizer(binding)
		if err != nil {
			return nil, err
		}
		and = append(and, s)
	}
	if len(g.Any) > 0 {
		or := sq.Or{}
		for _, alt := range g.Any {
			inner := sq.And{}
			for _, c := range alt {
				s, err := c.sqlizer(binding)
				if err != nil {
					return nil, err
				}
				inner = append(inner, s)
			}
			or = append(or, inner)
		}
		and = append(and, or)
	}
	if len(and) == 0 {
		return nil, fmt.Errorf("predicate: empty filter group")
	}
	return and, nil
}

func (c Cond) sqlizer(binding string) (sq.Sqlizer, error) {
	if c.Column == "" {
		return nil, fmt.Errorf("predicate: condition has no column")
	}
	col := sqlutil.QualifyColumn(binding, c.Column)
	val := normalizeValue(c.Value)
	switch c.Op {
	case OpEQ:
		return sq.Eq{col: val}, nil
	case OpNEQ:
		return sq.NotEq{col: val}, nil
	case OpGT:
		return sq.Gt{col: val}, nil
	case OpGTE:
		return sq.GtOrEq{col: val}, nil
	case OpLT:
		return sq.Lt{col: val}, nil
	case OpLTE:
		return sq.LtOrEq{col: val}, nil
	case OpIn:
		return sq.Eq{col: val}, nil
	case OpNotIn:
		return sq.NotEq{col: val}, nil
	case OpLike:
		return sq.Like{col: val}, nil
	case OpNotLike:
		return sq.NotLike{col: val}, nil
	case OpIsNull:
		return sq.Eq{col: nil}, nil
	case OpNotNull:
		return sq.NotEq{col: nil}, nil
	default:
		return nil, fmt.Errorf("predicate: unsupported operator %q on column %q", c.Op, c.Column)
	}
}

// normalizeValue canonicalizes values whose textual form can vary, so that
// equal predicates render and deduplicate identically. UUIDs become their
// lower-case string form; slices are normalized element-wise.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case uuid.UUID:
		normalized, err := uuidutil.Normalize(v)
		if err != nil {
			return value
		}
		return normalized
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return value
	}
}

// Key returns a deterministic identity for the group, used to deduplicate
// filters accumulated from independent merge calls.
func (g Group) Key() string {
	var b strings.Builder
	b.WriteString("all(")
	for i, c := range g.All {
		if i > 0 {
			b.WriteByte(',')
		}
		writeCondKey(&b, c)
	}
	b.WriteString(")")
	if len(g.Any) > 0 {
		b.WriteString("any(")
		for i, alt := range g.Any {
			if i > 0 {
				b.WriteByte('|')
			}
			for j, c := range alt {
				if j > 0 {
					b.WriteByte(',')
				}
				writeCondKey(&b, c)
			}
		}
		b.WriteString(")")
	}
	return b.String()
}

func writeCondKey(b *strings.Builder, c Cond) {
	fmt.Fprintf(b, "%s %s %#v", c.Column, c.Op, normalizeValue(c.Value))
}

// Dedup drops groups whose Key was already seen, preserving first-appearance
// order.
func Dedup(groups []Group) []Group {
	if len(groups) < 2 {
		return groups
	}
	seen := make(map[string]struct{}, len(groups))
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		key := g.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, g)
	}
	return out
}
