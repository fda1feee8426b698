package schema

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

type fileSchema struct {
	Relations   []fileRelation `yaml:"relations"`
	ForeignKeys []fileFK       `yaml:"foreign_keys"`
}

type fileRelation struct {
	Name         string            `yaml:"name"`
	Columns      []fileColumn      `yaml:"columns"`
	Associations []fileAssociation `yaml:"associations"`
}

type fileColumn struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	PrimaryKey bool   `yaml:"primary_key"`
}

type fileAssociation struct {
	Name          string   `yaml:"name"`
	Target        string   `yaml:"target"`
	Cardinality   string   `yaml:"cardinality"`
	LocalColumns  []string `yaml:"local_columns"`
	RemoteColumns []string `yaml:"remote_columns"`
}

type fileFK struct {
	Relation          string   `yaml:"relation"`
	Columns           []string `yaml:"columns"`
	ReferencedTable   string   `yaml:"referenced_table"`
	ReferencedColumns []string `yaml:"referenced_columns"`
}

// Load reads a YAML schema file, infers associations from any declared
// foreign keys, and returns the validated Schema.
func Load(ctx context.Context, path string) (*Schema, error) {
	_, span := startSpan(ctx, "schema.load", attribute.String("schema.path", path))
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("schema.relations", len(s.Relations())))
	return s, nil
}

// Parse decodes a YAML schema document from r.
func Parse(r io.Reader) (*Schema, error) {
	var doc fileSchema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}

	relations := make([]Relation, 0, len(doc.Relations))
	for _, fr := range doc.Relations {
		rel := Relation{Name: fr.Name}
		for _, fc := range fr.Columns {
			rel.Columns = append(rel.Columns, Column{
				Name:         fc.Name,
				Type:         fc.Type,
				IsPrimaryKey: fc.PrimaryKey,
			})
		}
		for _, fa := range fr.Associations {
			card, err := parseCardinality(fa.Cardinality)
			if err != nil {
				return nil, fmt.Errorf("association %s.%s: %w", fr.Name, fa.Name, err)
			}
			rel.Associations = append(rel.Associations, Association{
				Name:          fa.Name,
				Source:        fr.Name,
				Target:        fa.Target,
				Cardinality:   card,
				LocalColumns:  fa.LocalColumns,
				RemoteColumns: fa.RemoteColumns,
			})
		}
		relations = append(relations, rel)
	}

	if len(doc.ForeignKeys) > 0 {
		fks := make([]ForeignKey, 0, len(doc.ForeignKeys))
		for _, fk := range doc.ForeignKeys {
			fks = append(fks, ForeignKey{
				Relation:          fk.Relation,
				Columns:           fk.Columns,
				ReferencedTable:   fk.ReferencedTable,
				ReferencedColumns: fk.ReferencedColumns,
			})
		}
		var err error
		relations, err = InferAssociations(relations, fks)
		if err != nil {
			return nil, err
		}
	}

	return New(relations...)
}

func parseCardinality(raw string) (Cardinality, error) {
	switch raw {
	case "one":
		return One, nil
	case "many":
		return Many, nil
	default:
		return 0, fmt.Errorf("invalid cardinality %q (want \"one\" or \"many\")", raw)
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("joinplan/schema")
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
