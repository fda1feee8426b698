// Package script reads operation scripts: a YAML document naming a root
// relation and the ordered operations to compile against it.
package script

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"joinplan/internal/graph"
	"joinplan/internal/plan"
	"joinplan/internal/predicate"
	"joinplan/internal/query"
)

// Script is a parsed operation script.
type Script struct {
	Root string
	Ops  []plan.Op
}

type fileScript struct {
	Root       string   `yaml:"root"`
	Operations []fileOp `yaml:"operations"`
}

// fileOp is one operation entry; exactly one field may be set.
type fileOp struct {
	Where      *fileWhere      `yaml:"where"`
	Join       *fileJoin       `yaml:"join"`
	OrderBy    *fileOrderBy    `yaml:"order_by"`
	GroupBy    *fileGroupBy    `yaml:"group_by"`
	Preload    *filePreload    `yaml:"preload"`
	RankWindow *fileRankWindow `yaml:"rank_window"`
	Limit      *uint64         `yaml:"limit"`
	Offset     *uint64         `yaml:"offset"`
}

type fileWhere struct {
	Path   string     `yaml:"path"`
	Mode   string     `yaml:"mode"`
	Filter fileFilter `yaml:"filter"`
}

type fileJoin struct {
	Path     string       `yaml:"path"`
	Mode     string       `yaml:"mode"`
	LeftMode string       `yaml:"left_mode"`
	Filters  []fileFilter `yaml:"filters"`
}

type fileOrderBy struct {
	Path  string     `yaml:"path"`
	Mode  string     `yaml:"mode"`
	Terms []fileTerm `yaml:"terms"`
}

type fileGroupBy struct {
	Path    string   `yaml:"path"`
	Mode    string   `yaml:"mode"`
	Columns []string `yaml:"columns"`
}

type filePreload struct {
	Path     string     `yaml:"path"`
	Strategy string     `yaml:"strategy"`
	Scope    *fileScope `yaml:"scope"`
}

type fileScope struct {
	Filter *fileFilter `yaml:"filter"`
	Order  []fileTerm  `yaml:"order"`
}

type fileRankWindow struct {
	PartitionBy []string   `yaml:"partition_by"`
	Order       []fileTerm `yaml:"order"`
	Limit       int        `yaml:"limit"`
}

type fileTerm struct {
	Column string `yaml:"column"`
	Desc   bool   `yaml:"desc"`
}

type fileFilter struct {
	All []fileCond   `yaml:"all"`
	Any [][]fileCond `yaml:"any"`
}

type fileCond struct {
	Column string `yaml:"column"`
	Op     string `yaml:"op"`
	Value  any    `yaml:"value"`
}

// Load reads and parses an operation script file.
func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML operation script from r.
func Parse(r io.Reader) (*Script, error) {
	var doc fileScript
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode script: %w", err)
	}
	if doc.Root == "" {
		return nil, fmt.Errorf("script: no root relation")
	}

	out := &Script{Root: doc.Root}
	for i, fo := range doc.Operations {
		op, err := fo.op()
		if err != nil {
			return nil, fmt.Errorf("script: operation %d: %w", i+1, err)
		}
		out.Ops = append(out.Ops, op)
	}
	return out, nil
}

func (fo fileOp) op() (plan.Op, error) {
	var ops []plan.Op
	if fo.Where != nil {
		mode, err := parseMode(fo.Where.Mode)
		if err != nil {
			return nil, err
		}
		pred, err := fo.Where.Filter.group()
		if err != nil {
			return nil, err
		}
		ops = append(ops, plan.WhereOp{Path: fo.Where.Path, Mode: mode, Pred: pred})
	}
	if fo.Join != nil {
		mode, err := parseMode(fo.Join.Mode)
		if err != nil {
			return nil, err
		}
		leftMode, err := parseLeftMode(fo.Join.LeftMode)
		if err != nil {
			return nil, err
		}
		var filters []predicate.Group
		for _, ff := range fo.Join.Filters {
			g, err := ff.group()
			if err != nil {
				return nil, err
			}
			filters = append(filters, g)
		}
		ops = append(ops, plan.JoinOp{Path: fo.Join.Path, Mode: mode, LeftMode: leftMode, Filters: filters})
	}
	if fo.OrderBy != nil {
		mode, err := parseMode(fo.OrderBy.Mode)
		if err != nil {
			return nil, err
		}
		ops = append(ops, plan.OrderByOp{Path: fo.OrderBy.Path, Mode: mode, Terms: terms(fo.OrderBy.Terms)})
	}
	if fo.GroupBy != nil {
		mode, err := parseMode(fo.GroupBy.Mode)
		if err != nil {
			return nil, err
		}
		ops = append(ops, plan.GroupByOp{Path: fo.GroupBy.Path, Mode: mode, Columns: fo.GroupBy.Columns})
	}
	if fo.Preload != nil {
		strategy, err := parseStrategy(fo.Preload.Strategy)
		if err != nil {
			return nil, err
		}
		scope, err := fo.Preload.Scope.scope()
		if err != nil {
			return nil, err
		}
		ops = append(ops, plan.PreloadOp{Path: fo.Preload.Path, Strategy: strategy, Scope: scope})
	}
	if fo.RankWindow != nil {
		ops = append(ops, plan.RankWindowOp{
			PartitionBy: fo.RankWindow.PartitionBy,
			Order:       terms(fo.RankWindow.Order),
			Limit:       fo.RankWindow.Limit,
		})
	}
	if fo.Limit != nil {
		ops = append(ops, plan.LimitOp{Limit: *fo.Limit})
	}
	if fo.Offset != nil {
		ops = append(ops, plan.OffsetOp{Offset: *fo.Offset})
	}

	switch len(ops) {
	case 0:
		return nil, fmt.Errorf("empty operation entry")
	case 1:
		return ops[0], nil
	default:
		return nil, fmt.Errorf("operation entry sets %d operations, want exactly one", len(ops))
	}
}

func (fs *fileScope) scope() (*graph.Scope, error) {
	if fs == nil {
		return nil, nil
	}
	out := &graph.Scope{}
	if fs.Filter != nil {
		g, err := fs.Filter.group()
		if err != nil {
			return nil, err
		}
		out.Filter = &g
	}
	for _, t := range fs.Order {
		out.Order = append(out.Order, scopeTerm(t))
	}
	return out, nil
}

func (ff fileFilter) group() (predicate.Group, error) {
	var g predicate.Group
	for _, fc := range ff.All {
		c, err := fc.cond()
		if err != nil {
			return g, err
		}
		g.All = append(g.All, c)
	}
	for _, alt := range ff.Any {
		conds := make([]predicate.Cond, 0, len(alt))
		for _, fc := range alt {
			c, err := fc.cond()
			if err != nil {
				return g, err
			}
			conds = append(conds, c)
		}
		g = g.AnyOf(conds...)
	}
	if g.Empty() {
		return g, fmt.Errorf("empty filter")
	}
	return g, nil
}

func (fc fileCond) cond() (predicate.Cond, error) {
	if fc.Column == "" {
		return predicate.Cond{}, fmt.Errorf("filter condition has no column")
	}
	op := predicate.Op(fc.Op)
	if fc.Op == "" {
		op = predicate.OpEQ
	}
	switch op {
	case predicate.OpEQ, predicate.OpNEQ, predicate.OpGT, predicate.OpGTE,
		predicate.OpLT, predicate.OpLTE, predicate.OpIn, predicate.OpNotIn,
		predicate.OpLike, predicate.OpNotLike, predicate.OpIsNull, predicate.OpNotNull:
	default:
		return predicate.Cond{}, fmt.Errorf("unknown operator %q", fc.Op)
	}
	return predicate.Cond{Column: fc.Column, Op: op, Value: fc.Value}, nil
}

func parseMode(raw string) (graph.JoinMode, error) {
	switch raw {
	case "", "any":
		return graph.JoinAny, nil
	case "none":
		return graph.JoinNone, nil
	case "left":
		return graph.JoinLeft, nil
	case "inner":
		return graph.JoinInner, nil
	default:
		return 0, fmt.Errorf("unknown join mode %q", raw)
	}
}

func parseLeftMode(raw string) (graph.LeftMode, error) {
	switch raw {
	case "", "leaf":
		return graph.LeftLeaf, nil
	case "path":
		return graph.LeftPath, nil
	default:
		return 0, fmt.Errorf("unknown left mode %q", raw)
	}
}

func parseStrategy(raw string) (graph.Strategy, error) {
	switch raw {
	case "separate":
		return graph.StrategySeparate, nil
	case "through_join":
		return graph.StrategyThroughJoin, nil
	default:
		return 0, fmt.Errorf("unknown preload strategy %q", raw)
	}
}

// scopeTerm keeps the bare column name; the preload builder qualifies it
// against the target relation.
func scopeTerm(t fileTerm) query.OrderTerm {
	return query.OrderTerm{Expr: t.Column, Desc: t.Desc}
}

func terms(in []fileTerm) []plan.Term {
	out := make([]plan.Term, len(in))
	for i, t := range in {
		out[i] = plan.Term{Column: t.Column, Desc: t.Desc}
	}
	return out
}
