package plan

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"joinplan/internal/graph"
	"joinplan/internal/preload"
	"joinplan/internal/query"
	"joinplan/internal/sqlutil"
)

// Result is a compiled plan: the final query, its rendered SQL, the final
// association graph, and the resolved preload plans.
type Result struct {
	Query    *query.Query
	SQL      query.SQLQuery
	Graph    *graph.Graph
	Preloads []preload.Plan
}

// Compile resolves every recorded operation into a Result.
//
// Stage operations run in recorded order, split into stages at rank-window
// barriers: each stage merges its paths into the carried graph, validates
// it, emits the missing joins, then applies its operations. A barrier wraps
// the query and resets the carried graph, since the wrapped row set no
// longer exposes the previous bindings. Preload operations are deferred to
// the end and merged without requiring joins, then resolved against the
// joins that survived.
func (p *Planner) Compile(ctx context.Context) (*Result, error) {
	_, span := startSpan(ctx, "plan.compile",
		attribute.String("plan.root", p.root),
		attribute.Int("plan.operations", len(p.ops)))
	defer span.End()

	res, err := p.compile()
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("plan.joins", len(res.Query.Joins())),
		attribute.Int("plan.preloads", len(res.Preloads)),
	)
	return res, nil
}

func (p *Planner) compile() (*Result, error) {
	if _, err := p.sc.Relation(p.root); err != nil {
		return nil, err
	}

	var stageOps, preloadOps []Op
	for _, op := range p.ops {
		if isPreload(op) {
			preloadOps = append(preloadOps, op)
		} else {
			stageOps = append(stageOps, op)
		}
	}

	q := query.New(p.root)
	g := graph.New(p.root)
	wraps := 0
	for _, st := range splitStages(stageOps) {
		var err error
		g, err = p.stageGraph(g, st.ops)
		if err != nil {
			return nil, err
		}
		if err := graph.Validate(g); err != nil {
			return nil, err
		}
		q, err = emitJoins(p.sc, g, q)
		if err != nil {
			return nil, err
		}
		for _, op := range st.ops {
			q, err = p.applyOp(q, g, op, &wraps)
			if err != nil {
				return nil, err
			}
		}
		if st.barrier {
			g = graph.New(p.root)
		}
	}

	for _, op := range preloadOps {
		pre := op.(PreloadOp)
		entries, err := graph.ParsePath(pre.Path)
		if err != nil {
			return nil, err
		}
		// Preloads merge after the last emit pass, so a marker here would
		// record a join requirement nothing can satisfy.
		if entriesHaveMarker(entries) {
			return nil, &graph.MalformedPathError{Spec: pre.Path, Reason: "qualifier markers are not allowed in preload paths"}
		}
		g, err = graph.MergeSpec(p.sc, g, entries, graph.Options{
			Join:    graph.JoinNone,
			Preload: &graph.Preload{Strategy: pre.Strategy, Scope: pre.Scope},
		})
		if err != nil {
			return nil, err
		}
	}
	if err := graph.Validate(g); err != nil {
		return nil, err
	}

	plans, err := preload.Resolve(p.sc, g, q)
	if err != nil {
		return nil, err
	}

	sqlq, err := q.ToSQL()
	if err != nil {
		return nil, err
	}

	p.logger.Debug("compiled plan",
		"root", p.root,
		"operations", len(p.ops),
		"joins", len(q.Joins()),
		"preloads", len(plans))
	return &Result{Query: q, SQL: sqlq, Graph: g, Preloads: plans}, nil
}

func entriesHaveMarker(entries []graph.Entry) bool {
	for _, e := range entries {
		if e.Marker != graph.MarkerNone || entriesHaveMarker(e.Nested) {
			return true
		}
	}
	return false
}

// stageGraph merges the graph contribution of each stage operation, in
// recorded order, into g.
func (p *Planner) stageGraph(g *graph.Graph, ops []Op) (*graph.Graph, error) {
	for _, op := range ops {
		path, opts, ok := graphSpec(op)
		if !ok || path == "" {
			continue
		}
		entries, err := graph.ParsePath(path)
		if err != nil {
			return nil, err
		}
		g, err = graph.MergeSpec(p.sc, g, entries, opts)
		if err != nil {
			return nil, err
		}
	}
	return g, nil
}

// graphSpec returns the path and build options an operation contributes to
// its stage's graph. Operations without a graph contribution return false.
func graphSpec(op Op) (string, graph.Options, bool) {
	switch op := op.(type) {
	case WhereOp:
		return op.Path, graph.Options{Join: op.Mode}, true
	case OrderByOp:
		return op.Path, graph.Options{Join: op.Mode}, true
	case GroupByOp:
		return op.Path, graph.Options{Join: op.Mode}, true
	case JoinOp:
		return op.Path, graph.Options{Join: op.Mode, LeftMode: op.LeftMode, Filters: op.Filters}, true
	default:
		return "", graph.Options{}, false
	}
}

func (p *Planner) applyOp(q *query.Query, g *graph.Graph, op Op, wraps *int) (*query.Query, error) {
	switch op := op.(type) {
	case WhereOp:
		binding, err := p.opBinding(q, g, op.Path)
		if err != nil {
			return nil, err
		}
		s, err := op.Pred.Sqlizer(binding)
		if err != nil {
			return nil, err
		}
		return q.Where(s), nil
	case OrderByOp:
		binding, err := p.opBinding(q, g, op.Path)
		if err != nil {
			return nil, err
		}
		terms := make([]query.OrderTerm, len(op.Terms))
		for i, t := range op.Terms {
			terms[i] = query.OrderTerm{Expr: sqlutil.QualifyColumn(binding, t.Column), Desc: t.Desc}
		}
		return q.OrderBy(terms...), nil
	case GroupByOp:
		binding, err := p.opBinding(q, g, op.Path)
		if err != nil {
			return nil, err
		}
		return q.GroupBy(sqlutil.QualifyColumns(binding, op.Columns)...), nil
	case JoinOp:
		// Join-only: already emitted from the stage graph.
		return q, nil
	case RankWindowOp:
		*wraps++
		alias := fmt.Sprintf("__ranked_%d", *wraps)
		part := op.PartitionBy
		if len(part) == 0 {
			part = p.sc.PrimaryKey(p.root)
		}
		if len(part) == 0 {
			return nil, fmt.Errorf("plan: relation %q has no primary key to partition by", p.root)
		}
		order := make([]query.OrderTerm, len(op.Order))
		for i, t := range op.Order {
			order[i] = query.OrderTerm{Expr: sqlutil.QualifyColumn(q.RootBinding(), t.Column), Desc: t.Desc}
		}
		return q.WrapRanked(alias, sqlutil.QualifyColumns(q.RootBinding(), part), order, op.Limit)
	case LimitOp:
		return q.Limit(op.Limit), nil
	case OffsetOp:
		return q.Offset(op.Offset), nil
	default:
		return nil, fmt.Errorf("plan: unhandled operation %T", op)
	}
}

// opBinding resolves an operation's target binding: the query root for an
// empty path, otherwise the derived binding at the path, which must have
// actually been joined.
func (p *Planner) opBinding(q *query.Query, g *graph.Graph, path string) (string, error) {
	if path == "" {
		return q.RootBinding(), nil
	}
	entries, err := graph.ParsePath(path)
	if err != nil {
		return "", err
	}
	fields := graph.PathFields(entries)
	binding, err := g.BindingForPath(fields...)
	if err != nil {
		return "", err
	}
	if !q.HasBinding(binding) {
		return "", &graph.NotJoinedError{Path: fields, Binding: binding}
	}
	return binding, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("joinplan/plan")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
