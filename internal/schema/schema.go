// Package schema holds the relational metadata the planner compiles against:
// relations, their columns and primary keys, and the named associations
// between relations. It also owns the deterministic binding-name derivation
// used to alias association joins.
package schema

import (
	"fmt"
)

// Cardinality describes how many target rows an association can produce
// per source row.
type Cardinality int

const (
	// One means at most one target row per source row (belongs-to / has-one).
	One Cardinality = iota + 1
	// Many means zero or more target rows per source row (has-many).
	Many
)

func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	default:
		return fmt.Sprintf("cardinality(%d)", int(c))
	}
}

// Column describes a single relation column.
type Column struct {
	Name         string
	Type         string
	IsPrimaryKey bool
}

// Association describes one traversable hop from a source relation to a
// target relation, keyed by its logical field name on the source.
type Association struct {
	Name          string
	Source        string
	Target        string
	Cardinality   Cardinality
	LocalColumns  []string
	RemoteColumns []string
}

// Relation describes a single relation (table or view) and its associations.
type Relation struct {
	Name         string
	Columns      []Column
	Associations []Association
}

// Schema is an immutable set of relations with name-based lookups.
type Schema struct {
	relations []Relation
	byName    map[string]int
}

// New validates the given relations and returns a Schema.
// Every association must name an existing target relation, have a unique
// field name on its source, and carry matching key column widths.
func New(relations ...Relation) (*Schema, error) {
	s := &Schema{
		relations: relations,
		byName:    make(map[string]int, len(relations)),
	}
	for i, rel := range relations {
		if rel.Name == "" {
			return nil, fmt.Errorf("schema: relation %d has no name", i)
		}
		if _, ok := s.byName[rel.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate relation %q", rel.Name)
		}
		s.byName[rel.Name] = i
	}
	for _, rel := range relations {
		seen := make(map[string]struct{}, len(rel.Associations))
		for _, assoc := range rel.Associations {
			if assoc.Name == "" {
				return nil, fmt.Errorf("schema: relation %q has an unnamed association", rel.Name)
			}
			if _, ok := seen[assoc.Name]; ok {
				return nil, fmt.Errorf("schema: relation %q declares association %q twice", rel.Name, assoc.Name)
			}
			seen[assoc.Name] = struct{}{}
			if _, ok := s.byName[assoc.Target]; !ok {
				return nil, fmt.Errorf("schema: association %s.%s targets unknown relation %q", rel.Name, assoc.Name, assoc.Target)
			}
			if len(assoc.LocalColumns) == 0 || len(assoc.LocalColumns) != len(assoc.RemoteColumns) {
				return nil, fmt.Errorf("schema: association %s.%s has mismatched key columns", rel.Name, assoc.Name)
			}
			if assoc.Cardinality != One && assoc.Cardinality != Many {
				return nil, fmt.Errorf("schema: association %s.%s has invalid cardinality", rel.Name, assoc.Name)
			}
		}
	}
	return s, nil
}

// Relations returns the relations in declaration order.
func (s *Schema) Relations() []Relation {
	return s.relations
}

// Relation returns the relation with the given name.
func (s *Schema) Relation(name string) (Relation, error) {
	i, ok := s.byName[name]
	if !ok {
		return Relation{}, fmt.Errorf("schema: unknown relation %q", name)
	}
	return s.relations[i], nil
}

// Association returns the association with the given field name on the
// source relation.
func (s *Schema) Association(source, field string) (Association, error) {
	rel, err := s.Relation(source)
	if err != nil {
		return Association{}, err
	}
	for _, assoc := range rel.Associations {
		if assoc.Name == field {
			a := assoc
			a.Source = rel.Name
			return a, nil
		}
	}
	return Association{}, fmt.Errorf("schema: relation %q has no association %q", source, field)
}

// Cardinality returns the cardinality of the association with the given
// field name on the source relation.
func (s *Schema) Cardinality(source, field string) (Cardinality, error) {
	assoc, err := s.Association(source, field)
	if err != nil {
		return 0, err
	}
	return assoc.Cardinality, nil
}

// PrimaryKey returns the primary key column names of the relation, in
// declaration order. The result is empty when the relation has no key.
func (s *Schema) PrimaryKey(relation string) []string {
	rel, err := s.Relation(relation)
	if err != nil {
		return nil
	}
	var cols []string
	for _, col := range rel.Columns {
		if col.IsPrimaryKey {
			cols = append(cols, col.Name)
		}
	}
	return cols
}

// BindingName derives the stable join alias for an association hop.
// It is a pure function of the source relation and field name, so the same
// logical hop always maps to the same binding across independent calls.
func BindingName(source, field string) string {
	return source + "__" + field
}
