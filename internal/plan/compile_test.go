package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joinplan/internal/graph"
	"joinplan/internal/predicate"
	"joinplan/internal/schema"
)

func planSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New(
		schema.Relation{
			Name: "users",
			Columns: []schema.Column{
				{Name: "id", IsPrimaryKey: true},
				{Name: "role_id"},
				{Name: "active"},
			},
			Associations: []schema.Association{
				{Name: "role", Target: "roles", Cardinality: schema.One, LocalColumns: []string{"role_id"}, RemoteColumns: []string{"id"}},
				{Name: "articles", Target: "articles", Cardinality: schema.Many, LocalColumns: []string{"id"}, RemoteColumns: []string{"author_id"}},
			},
		},
		schema.Relation{
			Name: "roles",
			Columns: []schema.Column{
				{Name: "id", IsPrimaryKey: true},
				{Name: "name"},
				{Name: "rank"},
			},
		},
		schema.Relation{
			Name: "articles",
			Columns: []schema.Column{
				{Name: "id", IsPrimaryKey: true},
				{Name: "author_id"},
				{Name: "published"},
			},
			Associations: []schema.Association{
				{Name: "comments", Target: "comments", Cardinality: schema.Many, LocalColumns: []string{"id"}, RemoteColumns: []string{"article_id"}},
			},
		},
		schema.Relation{
			Name: "comments",
			Columns: []schema.Column{
				{Name: "id", IsPrimaryKey: true},
				{Name: "article_id"},
				{Name: "body"},
			},
		},
	)
	require.NoError(t, err)
	return s
}

func TestCompileRootOnly(t *testing.T) {
	s := planSchema(t)

	res, err := New(s, "users").
		Where("", predicate.Where(predicate.Eq("active", true))).
		OrderBy("", Term{Column: "id"}).
		Limit(10).
		Compile(context.Background())
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT `users`.* FROM `users` WHERE (`users`.`active` = ?) ORDER BY `users`.`id` LIMIT 10",
		res.SQL.SQL)
	assert.Equal(t, []interface{}{true}, res.SQL.Args)
	assert.Empty(t, res.Query.Joins())
	assert.Empty(t, res.Preloads)
}

func TestCompileWhereOnPathEmitsLeftJoin(t *testing.T) {
	s := planSchema(t)

	// No qualifier preference anywhere on the path: emission defaults to
	// LEFT so the join cannot drop rows the caller never asked to drop.
	res, err := New(s, "users").
		Where("role", predicate.Where(predicate.Eq("name", "admin"))).
		Compile(context.Background())
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT `users`.* FROM `users` LEFT JOIN `roles` AS `users__role` ON (`users`.`role_id` = `users__role`.`id`) WHERE (`users__role`.`name` = ?)",
		res.SQL.SQL)
	assert.Equal(t, []interface{}{"admin"}, res.SQL.Args)
}

func TestCompileJoinAndWhereShareOneJoin(t *testing.T) {
	s := planSchema(t)

	res, err := New(s, "users").
		Join("role", graph.JoinInner).
		Where("role", predicate.Where(predicate.Eq("name", "admin"))).
		Compile(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Query.Joins(), 1)
	assert.Equal(t,
		"SELECT `users`.* FROM `users` INNER JOIN `roles` AS `users__role` ON (`users`.`role_id` = `users__role`.`id`) WHERE (`users__role`.`name` = ?)",
		res.SQL.SQL)
}

func TestCompileNestedPath(t *testing.T) {
	s := planSchema(t)

	res, err := New(s, "users").
		Join("articles.comments", graph.JoinInner).
		Compile(context.Background())
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT `users`.* FROM `users` INNER JOIN `articles` AS `users__articles` ON (`users`.`id` = `users__articles`.`author_id`) INNER JOIN `comments` AS `articles__comments` ON (`users__articles`.`id` = `articles__comments`.`article_id`)",
		res.SQL.SQL)
}

func TestCompileJoinOnFilters(t *testing.T) {
	s := planSchema(t)

	res, err := New(s, "users").
		JoinOn("role", graph.JoinInner, predicate.Where(predicate.Cond{Column: "rank", Op: predicate.OpGTE, Value: 2})).
		Compile(context.Background())
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT `users`.* FROM `users` INNER JOIN `roles` AS `users__role` ON (`users`.`role_id` = `users__role`.`id` AND (`users__role`.`rank` >= ?))",
		res.SQL.SQL)
	assert.Equal(t, []interface{}{2}, res.SQL.Args)
}

func TestCompileQualifierConflict(t *testing.T) {
	s := planSchema(t)

	_, err := New(s, "users").
		Join("role", graph.JoinLeft).
		Join("role", graph.JoinInner).
		Compile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrQualifierConflict)
}

func TestCompileWhereWithoutJoin(t *testing.T) {
	s := planSchema(t)

	// JoinNone records the path without requiring a join, so the filter has
	// no binding to land on.
	_, err := New(s, "users").
		Record(WhereOp{Path: "role", Mode: graph.JoinNone, Pred: predicate.Where(predicate.Eq("name", "admin"))}).
		Compile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrNotJoined)
}

func TestCompileRankWindowBarrier(t *testing.T) {
	s := planSchema(t)

	res, err := New(s, "users").
		Join("role", graph.JoinInner).
		RankWindow(nil, []Term{{Column: "id", Desc: true}}, 3).
		Where("", predicate.Where(predicate.Eq("active", true))).
		Compile(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Query.Wrapped())
	assert.Equal(t, "__ranked_1", res.Query.RootBinding())
	assert.Equal(t,
		"SELECT `__ranked_1`.* FROM (SELECT `users`.*, ROW_NUMBER() OVER (PARTITION BY `users`.`id` ORDER BY `users`.`id` DESC) AS __ranked_1_rn FROM `users` INNER JOIN `roles` AS `users__role` ON (`users`.`role_id` = `users__role`.`id`)) AS __ranked_1 WHERE __ranked_1_rn <= ? AND (`__ranked_1`.`active` = ?)",
		res.SQL.SQL)
	assert.Equal(t, []interface{}{3, true}, res.SQL.Args)
}

func TestCompileBindingsUnaddressableAfterBarrier(t *testing.T) {
	s := planSchema(t)

	// A reference that does not itself require a join finds the old binding
	// gone from the wrapped query.
	_, err := New(s, "users").
		Join("role", graph.JoinInner).
		RankWindow(nil, []Term{{Column: "id"}}, 3).
		Record(OrderByOp{Path: "role", Mode: graph.JoinNone, Terms: []Term{{Column: "name"}}}).
		Compile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrNotJoined)
}

func TestCompileJoinRejoinedAfterBarrier(t *testing.T) {
	s := planSchema(t)

	// The same path joined again after a barrier gets a fresh join against
	// the wrapped row set.
	res, err := New(s, "users").
		Join("role", graph.JoinInner).
		RankWindow(nil, []Term{{Column: "id"}}, 3).
		Join("role", graph.JoinInner).
		Where("role", predicate.Where(predicate.Eq("name", "admin"))).
		Compile(context.Background())
	require.NoError(t, err)

	join, ok := res.Query.Join("users__role")
	require.True(t, ok)
	assert.Equal(t, "__ranked_1", join.SourceBinding)
	assert.Contains(t, res.SQL.SQL, "INNER JOIN `roles` AS `users__role` ON (`__ranked_1`.`role_id` = `users__role`.`id`)")
}

func TestCompileTwoRankWindowBarriers(t *testing.T) {
	s := planSchema(t)

	res, err := New(s, "users").
		Join("role", graph.JoinInner).
		RankWindow(nil, []Term{{Column: "id"}}, 3).
		Where("", predicate.Where(predicate.Eq("active", true))).
		RankWindow(nil, []Term{{Column: "id", Desc: true}}, 2).
		Compile(context.Background())
	require.NoError(t, err)

	// Each barrier resets the addressable bindings to its own wrap alias.
	assert.Equal(t, "__ranked_2", res.Query.RootBinding())
	assert.False(t, res.Query.HasBinding("__ranked_1"))
	assert.False(t, res.Query.HasBinding("users__role"))

	// The two wraps rank under distinct columns, so the second derived table
	// is a valid row set.
	assert.Equal(t,
		"SELECT `__ranked_2`.* FROM (SELECT `__ranked_1`.*, ROW_NUMBER() OVER (PARTITION BY `__ranked_1`.`id` ORDER BY `__ranked_1`.`id` DESC) AS __ranked_2_rn FROM (SELECT `users`.*, ROW_NUMBER() OVER (PARTITION BY `users`.`id` ORDER BY `users`.`id`) AS __ranked_1_rn FROM `users` INNER JOIN `roles` AS `users__role` ON (`users`.`role_id` = `users__role`.`id`)) AS __ranked_1 WHERE __ranked_1_rn <= ? AND (`__ranked_1`.`active` = ?)) AS __ranked_2 WHERE __ranked_2_rn <= ?",
		res.SQL.SQL)
	assert.Equal(t, []interface{}{3, true, 2}, res.SQL.Args)
}

func TestCompileThroughJoinPreloadReusesJoin(t *testing.T) {
	s := planSchema(t)

	res, err := New(s, "users").
		Join("role", graph.JoinInner).
		Where("role", predicate.Where(predicate.Eq("name", "admin"))).
		Preload("role", graph.StrategyThroughJoin, nil).
		Compile(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Query.Joins(), 1)
	require.Len(t, res.Preloads, 1)
	plan := res.Preloads[0]
	assert.Equal(t, []string{"role"}, plan.Path)
	assert.Equal(t, graph.StrategyThroughJoin, plan.Strategy)
	assert.Equal(t, "users__role", plan.Binding)
}

func TestCompileThroughJoinPreloadWithoutJoin(t *testing.T) {
	s := planSchema(t)

	_, err := New(s, "users").
		Preload("role", graph.StrategyThroughJoin, nil).
		Compile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrNotJoined)
}

func TestCompileThroughJoinPreloadAcrossBarrier(t *testing.T) {
	s := planSchema(t)

	// The barrier consumed the join, so reading rows through it is no
	// longer possible even though the path was joined earlier.
	_, err := New(s, "users").
		Join("role", graph.JoinInner).
		RankWindow(nil, []Term{{Column: "id"}}, 3).
		Preload("role", graph.StrategyThroughJoin, nil).
		Compile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrNotJoined)
}

func TestCompileSeparatePreloadForcesNoJoin(t *testing.T) {
	s := planSchema(t)

	res, err := New(s, "users").
		Preload("articles", graph.StrategySeparate, nil).
		Compile(context.Background())
	require.NoError(t, err)

	assert.Empty(t, res.Query.Joins())
	require.Len(t, res.Preloads, 1)
	assert.Equal(t, graph.StrategySeparate, res.Preloads[0].Strategy)

	node, ok := res.Graph.NodeAt("articles")
	require.True(t, ok)
	assert.False(t, node.Join.Required)
}

func TestCompilePreloadStrategyConflict(t *testing.T) {
	s := planSchema(t)

	_, err := New(s, "users").
		Join("role", graph.JoinInner).
		Preload("role", graph.StrategyThroughJoin, nil).
		Preload("role", graph.StrategySeparate, nil).
		Compile(context.Background())
	require.NoError(t, err)
	// Through-join outranks separate; not a conflict.

	_, err = New(s, "users").
		Preload("role", graph.StrategyThroughJoin, &graph.Scope{Filter: groupPtr(predicate.Where(predicate.Eq("name", "admin")))}).
		Compile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrPreloadConflict)
}

func TestCompilePreloadRejectsMarkers(t *testing.T) {
	s := planSchema(t)

	// A marker would demand a join after the last emit pass.
	_, err := New(s, "users").
		Preload("role!", graph.StrategyThroughJoin, nil).
		Compile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrMalformedPath)

	_, err = New(s, "users").
		Preload("articles.comments?", graph.StrategySeparate, nil).
		Compile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrMalformedPath)
}

func TestCompileUnknownRoot(t *testing.T) {
	s := planSchema(t)

	_, err := New(s, "nope").Compile(context.Background())
	require.Error(t, err)
}

func TestCompileUnknownPath(t *testing.T) {
	s := planSchema(t)

	_, err := New(s, "users").Join("nope", graph.JoinInner).Compile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrUnknownPath)
}

func TestCompileOrderByJoinedPath(t *testing.T) {
	s := planSchema(t)

	res, err := New(s, "users").
		OrderBy("role", Term{Column: "name", Desc: true}).
		Compile(context.Background())
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT `users`.* FROM `users` LEFT JOIN `roles` AS `users__role` ON (`users`.`role_id` = `users__role`.`id`) ORDER BY `users__role`.`name` DESC",
		res.SQL.SQL)
}

func TestCompileGroupByJoinedPath(t *testing.T) {
	s := planSchema(t)

	res, err := New(s, "users").
		GroupBy("role", "name").
		Compile(context.Background())
	require.NoError(t, err)

	assert.Contains(t, res.SQL.SQL, "GROUP BY `users__role`.`name`")
}

func TestSplitStages(t *testing.T) {
	ops := []Op{
		JoinOp{Path: "role"},
		RankWindowOp{Limit: 3},
		LimitOp{Limit: 10},
	}
	stages := splitStages(ops)
	require.Len(t, stages, 2)
	assert.True(t, stages[0].barrier)
	assert.Len(t, stages[0].ops, 2)
	assert.False(t, stages[1].barrier)
	assert.Len(t, stages[1].ops, 1)

	assert.Empty(t, splitStages(nil))
}

func groupPtr(g predicate.Group) *predicate.Group { return &g }
