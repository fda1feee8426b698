package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferAssociations(t *testing.T) {
	relations := []Relation{
		{Name: "posts", Columns: []Column{{Name: "id", IsPrimaryKey: true}, {Name: "author_id"}}},
		{Name: "users", Columns: []Column{{Name: "id", IsPrimaryKey: true}}},
	}
	fks := []ForeignKey{
		{Relation: "posts", Columns: []string{"author_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}},
	}

	out, err := InferAssociations(relations, fks)
	require.NoError(t, err)

	s, err := New(out...)
	require.NoError(t, err)

	forward, err := s.Association("posts", "author")
	require.NoError(t, err)
	assert.Equal(t, "users", forward.Target)
	assert.Equal(t, One, forward.Cardinality)
	assert.Equal(t, []string{"author_id"}, forward.LocalColumns)

	reverse, err := s.Association("users", "posts")
	require.NoError(t, err)
	assert.Equal(t, "posts", reverse.Target)
	assert.Equal(t, Many, reverse.Cardinality)
	assert.Equal(t, []string{"id"}, reverse.LocalColumns)
	assert.Equal(t, []string{"author_id"}, reverse.RemoteColumns)
}

func TestInferAssociationsDisambiguatesMultipleFKs(t *testing.T) {
	relations := []Relation{
		{Name: "messages", Columns: []Column{{Name: "id", IsPrimaryKey: true}, {Name: "sender_id"}, {Name: "recipient_id"}}},
		{Name: "users", Columns: []Column{{Name: "id", IsPrimaryKey: true}}},
	}
	fks := []ForeignKey{
		{Relation: "messages", Columns: []string{"sender_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}},
		{Relation: "messages", Columns: []string{"recipient_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}},
	}

	out, err := InferAssociations(relations, fks)
	require.NoError(t, err)

	s, err := New(out...)
	require.NoError(t, err)

	_, err = s.Association("messages", "sender")
	require.NoError(t, err)
	_, err = s.Association("messages", "recipient")
	require.NoError(t, err)

	_, err = s.Association("users", "sender_messages")
	require.NoError(t, err)
	_, err = s.Association("users", "recipient_messages")
	require.NoError(t, err)
}

func TestInferAssociationsExplicitWins(t *testing.T) {
	relations := []Relation{
		{
			Name:    "posts",
			Columns: []Column{{Name: "id", IsPrimaryKey: true}, {Name: "author_id"}},
			Associations: []Association{
				{Name: "author", Target: "users", Cardinality: One, LocalColumns: []string{"author_id"}, RemoteColumns: []string{"uid"}},
			},
		},
		{Name: "users", Columns: []Column{{Name: "uid", IsPrimaryKey: true}}},
	}
	fks := []ForeignKey{
		{Relation: "posts", Columns: []string{"author_id"}, ReferencedTable: "users", ReferencedColumns: []string{"uid"}},
	}

	out, err := InferAssociations(relations, fks)
	require.NoError(t, err)

	s, err := New(out...)
	require.NoError(t, err)
	assoc, err := s.Association("posts", "author")
	require.NoError(t, err)
	// The explicitly declared mapping is preserved.
	assert.Equal(t, []string{"uid"}, assoc.RemoteColumns)
}

func TestInferAssociationsUnknownRelation(t *testing.T) {
	_, err := InferAssociations(
		[]Relation{{Name: "users"}},
		[]ForeignKey{{Relation: "ghosts", Columns: []string{"x"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}}},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghosts")
}

func TestAssociationStem(t *testing.T) {
	tests := []struct {
		column string
		want   string
	}{
		{"author_id", "author"},
		{"parent_fk", "parent"},
		{"owner", "owner"},
		{"_id", "_id"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, associationStem(tt.column), tt.column)
	}
}
