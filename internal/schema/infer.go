package schema

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
)

// ForeignKey describes a foreign-key constraint between two relations, used
// to infer associations when a schema file does not declare them explicitly.
type ForeignKey struct {
	Relation          string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
}

// InferAssociations derives bidirectional associations from foreign keys and
// appends them to the given relations. The forward (child -> parent) side is
// named after the FK column with its `_id`/`_fk` suffix stripped; the reverse
// (parent -> children) side uses the pluralized child relation name. When a
// relation carries several FKs to the same target, reverse names are prefixed
// with the FK column stem to disambiguate.
func InferAssociations(relations []Relation, fks []ForeignKey) ([]Relation, error) {
	byName := make(map[string]int, len(relations))
	for i, rel := range relations {
		byName[rel.Name] = i
	}

	// Count FKs per (source, target) pair; multiple constraints to the same
	// target force column-stem naming on the reverse side.
	fkCount := make(map[string]int)
	for _, fk := range fks {
		fkCount[fk.Relation+"->"+fk.ReferencedTable]++
	}

	out := make([]Relation, len(relations))
	copy(out, relations)
	for i := range out {
		out[i].Associations = append([]Association(nil), relations[i].Associations...)
	}

	for _, fk := range fks {
		src, ok := byName[fk.Relation]
		if !ok {
			return nil, fmt.Errorf("schema: foreign key on unknown relation %q", fk.Relation)
		}
		tgt, ok := byName[fk.ReferencedTable]
		if !ok {
			return nil, fmt.Errorf("schema: foreign key %s references unknown relation %q", fk.Relation, fk.ReferencedTable)
		}
		if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.ReferencedColumns) {
			return nil, fmt.Errorf("schema: foreign key on %q has mismatched column lists", fk.Relation)
		}

		forward := associationStem(fk.Columns[0])
		out[src].Associations = appendAssociation(out[src].Associations, Association{
			Name:          forward,
			Source:        fk.Relation,
			Target:        fk.ReferencedTable,
			Cardinality:   One,
			LocalColumns:  fk.Columns,
			RemoteColumns: fk.ReferencedColumns,
		})

		reverse := inflection.Plural(inflection.Singular(fk.Relation))
		if fkCount[fk.Relation+"->"+fk.ReferencedTable] > 1 {
			reverse = forward + "_" + reverse
		}
		out[tgt].Associations = appendAssociation(out[tgt].Associations, Association{
			Name:          reverse,
			Source:        fk.ReferencedTable,
			Target:        fk.Relation,
			Cardinality:   Many,
			LocalColumns:  fk.ReferencedColumns,
			RemoteColumns: fk.Columns,
		})
	}
	return out, nil
}

// associationStem strips common FK suffixes from a column name so that
// "author_id" names the association "author".
func associationStem(column string) string {
	name := column
	for _, suffix := range []string{"_id", "_fk"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	if name == "" {
		name = column
	}
	return name
}

// appendAssociation adds an association unless the field name is already
// declared on the relation. Explicit declarations win over inferred ones.
func appendAssociation(assocs []Association, next Association) []Association {
	for _, a := range assocs {
		if a.Name == next.Name {
			return assocs
		}
	}
	return append(assocs, next)
}
