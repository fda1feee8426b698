package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joinplan/internal/predicate"
	"joinplan/internal/query"
	"joinplan/internal/schema"
)

func builderSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New(
		schema.Relation{
			Name: "users",
			Columns: []schema.Column{
				{Name: "id", IsPrimaryKey: true},
				{Name: "role_id"},
			},
			Associations: []schema.Association{
				{Name: "role", Target: "roles", Cardinality: schema.One, LocalColumns: []string{"role_id"}, RemoteColumns: []string{"id"}},
				{Name: "articles", Target: "articles", Cardinality: schema.Many, LocalColumns: []string{"id"}, RemoteColumns: []string{"author_id"}},
			},
		},
		schema.Relation{
			Name:    "roles",
			Columns: []schema.Column{{Name: "id", IsPrimaryKey: true}, {Name: "name"}},
		},
		schema.Relation{
			Name:    "articles",
			Columns: []schema.Column{{Name: "id", IsPrimaryKey: true}, {Name: "author_id"}},
			Associations: []schema.Association{
				{Name: "comments", Target: "comments", Cardinality: schema.Many, LocalColumns: []string{"id"}, RemoteColumns: []string{"article_id"}},
			},
		},
		schema.Relation{
			Name:    "comments",
			Columns: []schema.Column{{Name: "id", IsPrimaryKey: true}, {Name: "article_id"}},
		},
	)
	require.NoError(t, err)
	return s
}

func TestBuildLeftLeafMode(t *testing.T) {
	s := builderSchema(t)

	g, err := Build(s, "users", mustParse(t, "articles.comments"), Options{Join: JoinLeft, LeftMode: LeftLeaf})
	require.NoError(t, err)

	articles, ok := g.NodeAt("articles")
	require.True(t, ok)
	assert.True(t, articles.Join.Required)
	assert.Equal(t, query.QualifierInner, articles.Join.Qualifier)

	comments, ok := g.NodeAt("articles", "comments")
	require.True(t, ok)
	assert.True(t, comments.Join.Required)
	assert.Equal(t, query.QualifierLeft, comments.Join.Qualifier)
}

func TestBuildLeftPathMode(t *testing.T) {
	s := builderSchema(t)

	g, err := Build(s, "users", mustParse(t, "articles.comments"), Options{Join: JoinLeft, LeftMode: LeftPath})
	require.NoError(t, err)

	articles, _ := g.NodeAt("articles")
	comments, _ := g.NodeAt("articles", "comments")
	assert.Equal(t, query.QualifierLeft, articles.Join.Qualifier)
	assert.Equal(t, query.QualifierLeft, comments.Join.Qualifier)
}

func TestBuildJoinModes(t *testing.T) {
	s := builderSchema(t)

	tests := []struct {
		name     string
		mode     JoinMode
		required bool
		qual     query.Qualifier
	}{
		{"none", JoinNone, false, query.QualifierAny},
		{"any", JoinAny, true, query.QualifierAny},
		{"inner", JoinInner, true, query.QualifierInner},
		{"left", JoinLeft, true, query.QualifierLeft},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(s, "users", mustParse(t, "role"), Options{Join: tt.mode})
			require.NoError(t, err)
			node, ok := g.NodeAt("role")
			require.True(t, ok)
			assert.Equal(t, tt.required, node.Join.Required)
			assert.Equal(t, tt.qual, node.Join.Qualifier)
		})
	}
}

func TestBuildMarkers(t *testing.T) {
	s := builderSchema(t)

	g, err := Build(s, "users", mustParse(t, "role?"), Options{Join: JoinAny})
	require.NoError(t, err)
	node, _ := g.NodeAt("role")
	assert.True(t, node.Join.Required)
	assert.Equal(t, query.QualifierLeft, node.Join.Qualifier)

	g, err = Build(s, "users", mustParse(t, "role!"), Options{Join: JoinAny})
	require.NoError(t, err)
	node, _ = g.NodeAt("role")
	assert.True(t, node.Join.Required)
	assert.Equal(t, query.QualifierInner, node.Join.Qualifier)

	// A marker forces a join even under a preload-only mode.
	g, err = Build(s, "users", mustParse(t, "role?"), Options{Join: JoinNone})
	require.NoError(t, err)
	node, _ = g.NodeAt("role")
	assert.True(t, node.Join.Required)
}

func TestBuildMarkerConflictsWithMode(t *testing.T) {
	s := builderSchema(t)

	_, err := Build(s, "users", mustParse(t, "role?"), Options{Join: JoinInner})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQualifierConflict)

	_, err = Build(s, "users", mustParse(t, "role!"), Options{Join: JoinLeft})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQualifierConflict)
}

func TestBuildRequiredUnderOptional(t *testing.T) {
	s := builderSchema(t)

	_, err := Build(s, "users", mustParse(t, "articles?.comments!"), Options{Join: JoinAny})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequiredUnderOptional)

	var locked *RequiredUnderOptionalError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "comments", locked.Field)
	assert.Equal(t, []string{"articles"}, locked.Path)
}

func TestBuildRequiredUnderOptionalAcrossMerge(t *testing.T) {
	s := builderSchema(t)

	// Built in either order, a left outer path and an inner marker beneath it
	// cannot reconcile.
	left, err := Build(s, "users", mustParse(t, "articles?.comments"), Options{Join: JoinAny})
	require.NoError(t, err)
	inner, err := Build(s, "users", mustParse(t, "articles.comments!"), Options{Join: JoinAny})
	require.NoError(t, err)

	// The hop-by-hop merge itself reconciles (Any vs Inner on the leaf,
	// Left vs Any on articles); the contradiction only exists across levels
	// and is caught by whole-graph validation.
	merged, err := Merge(left, inner)
	require.NoError(t, err)

	err = Validate(merged)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequiredUnderOptional)

	merged, err = Merge(inner, left)
	require.NoError(t, err)
	err = Validate(merged)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequiredUnderOptional)
}

func TestValidatePassesLeftUnderLeft(t *testing.T) {
	s := builderSchema(t)
	g, err := Build(s, "users", mustParse(t, "articles?.comments?"), Options{Join: JoinAny})
	require.NoError(t, err)
	require.NoError(t, Validate(g))
}

func TestBuildUnknownField(t *testing.T) {
	s := builderSchema(t)

	_, err := Build(s, "users", mustParse(t, "ghosts"), Options{Join: JoinAny})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownPath)

	_, err = Build(s, "users", mustParse(t, "ghosts?"), Options{Join: JoinAny})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownPath)

	_, err = Build(s, "users", mustParse(t, "articles.ghosts"), Options{Join: JoinAny})
	require.Error(t, err)
	var unknown *UnknownPathError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []string{"articles", "ghosts"}, unknown.Path)
}

func TestBuildFiltersAttachToLeaf(t *testing.T) {
	s := builderSchema(t)
	filter := predicate.Where(predicate.Eq("name", "admin"))

	g, err := Build(s, "users", mustParse(t, "articles.comments"), Options{
		Join:    JoinInner,
		Filters: []predicate.Group{filter},
	})
	require.NoError(t, err)

	articles, _ := g.NodeAt("articles")
	assert.Empty(t, articles.Join.Filters)

	comments, _ := g.NodeAt("articles", "comments")
	require.Len(t, comments.Join.Filters, 1)
	assert.Equal(t, filter.Key(), comments.Join.Filters[0].Key())
}

func TestBuildFiltersRequireJoin(t *testing.T) {
	s := builderSchema(t)

	_, err := Build(s, "users", mustParse(t, "role"), Options{
		Join:    JoinNone,
		Filters: []predicate.Group{predicate.Where(predicate.Eq("name", "admin"))},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestBuildPreloadAttachesToLeaf(t *testing.T) {
	s := builderSchema(t)

	g, err := Build(s, "users", mustParse(t, "articles"), Options{
		Join:    JoinNone,
		Preload: &Preload{Strategy: StrategySeparate},
	})
	require.NoError(t, err)

	node, _ := g.NodeAt("articles")
	require.NotNil(t, node.Preload)
	assert.Equal(t, StrategySeparate, node.Preload.Strategy)
	assert.False(t, node.Join.Required)
}

func TestBuildPreloadThroughJoinWithScopeRejected(t *testing.T) {
	s := builderSchema(t)
	scoped := predicate.Where(predicate.Eq("published", true))

	_, err := Build(s, "users", mustParse(t, "articles"), Options{
		Join: JoinNone,
		Preload: &Preload{
			Strategy: StrategyThroughJoin,
			Scope:    &Scope{Filter: &scoped},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPreloadConflict)
}

func TestMergeSpecScenarioLeftThenInner(t *testing.T) {
	s := builderSchema(t)

	g, err := Build(s, "users", mustParse(t, "role"), Options{Join: JoinLeft})
	require.NoError(t, err)

	_, err = MergeSpec(s, g, mustParse(t, "role"), Options{Join: JoinInner})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQualifierConflict)
	assert.Contains(t, err.Error(), ":left")
	assert.Contains(t, err.Error(), ":inner")
}

func TestMergeSpecNeverMutatesInput(t *testing.T) {
	s := builderSchema(t)

	g, err := Build(s, "users", mustParse(t, "role"), Options{Join: JoinLeft})
	require.NoError(t, err)

	g2, err := MergeSpec(s, g, mustParse(t, "articles"), Options{Join: JoinInner})
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 1)
	assert.Len(t, g2.Nodes, 2)
}

func TestBuildBindingNamesStable(t *testing.T) {
	s := builderSchema(t)

	a, err := Build(s, "users", mustParse(t, "articles.comments"), Options{Join: JoinAny})
	require.NoError(t, err)
	b, err := Build(s, "users", mustParse(t, "articles.comments"), Options{Join: JoinAny})
	require.NoError(t, err)

	merged, err := Merge(a, b)
	require.NoError(t, err)

	binding, err := merged.BindingForPath("articles", "comments")
	require.NoError(t, err)
	assert.Equal(t, "articles__comments", binding)
}

func TestBuildUnknownRoot(t *testing.T) {
	s := builderSchema(t)
	_, err := Build(s, "ghosts", mustParse(t, "role"), Options{})
	require.Error(t, err)
}
