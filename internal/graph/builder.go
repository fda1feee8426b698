package graph

import (
	"errors"

	"joinplan/internal/predicate"
	"joinplan/internal/query"
	"joinplan/internal/schema"
)

// JoinMode is the default join requirement a builder call applies to the
// fields of its path specification.
type JoinMode int

const (
	// JoinAny requires a join but expresses no qualifier preference.
	JoinAny JoinMode = iota
	// JoinNone records the path without requiring a join (preload-only).
	JoinNone
	// JoinLeft requires a left join; see LeftMode for intermediate hops.
	JoinLeft
	// JoinInner requires an inner join.
	JoinInner
)

func (m JoinMode) String() string {
	switch m {
	case JoinAny:
		return "any"
	case JoinNone:
		return "none"
	case JoinLeft:
		return "left"
	case JoinInner:
		return "inner"
	default:
		return "mode(?)"
	}
}

// LeftMode controls intermediate hops when the join mode is JoinLeft.
type LeftMode int

const (
	// LeftLeaf joins intermediate hops inner and only the last hop left.
	LeftLeaf LeftMode = iota
	// LeftPath joins every hop of the path left.
	LeftPath
)

// Options configures one build/merge call.
type Options struct {
	Join     JoinMode
	LeftMode LeftMode
	// Filters are attached as on-join filters to the leaf hop of each branch.
	Filters []predicate.Group
	// Preload is attached to the leaf hop of each branch.
	Preload *Preload
}

// buildState is the context threaded through the recursive build: where the
// current hop starts from, and whether an ancestor hop has locked the branch
// to optional semantics.
type buildState struct {
	root     string
	source   string
	lockLeft bool
}

// Build constructs a fresh graph for the given path specification.
func Build(sc *schema.Schema, root string, entries []Entry, opts Options) (*Graph, error) {
	if _, err := sc.Relation(root); err != nil {
		return nil, err
	}
	g := New(root)
	state := buildState{root: root, source: root}
	for _, entry := range entries {
		node, err := buildEntry(sc, state, entry, opts, nil)
		if err != nil {
			return nil, err
		}
		existing, ok := g.Nodes[node.Field]
		if !ok {
			g.Nodes[node.Field] = node
			continue
		}
		merged, err := mergeNode([]string{node.Field}, existing, node)
		if err != nil {
			return nil, err
		}
		g.Nodes[node.Field] = merged
	}
	return g, nil
}

// MergeSpec builds a graph for the path specification and merges it into g,
// returning a new graph. The input graph is never modified, and previously
// recorded requirements are never dropped.
func MergeSpec(sc *schema.Schema, g *Graph, entries []Entry, opts Options) (*Graph, error) {
	built, err := Build(sc, g.Root, entries, opts)
	if err != nil {
		return nil, err
	}
	return Merge(g, built)
}

func buildEntry(sc *schema.Schema, state buildState, entry Entry, opts Options, prefix []string) (*Node, error) {
	path := append(append([]string(nil), prefix...), entry.Field)

	assoc, err := sc.Association(state.source, entry.Field)
	if err != nil {
		return nil, &UnknownPathError{Root: state.root, Path: path}
	}

	leaf := len(entry.Nested) == 0
	required, qualifier, err := resolveRequirement(state, entry, opts, leaf, prefix)
	if err != nil {
		return nil, err
	}

	node := &Node{
		Field:       entry.Field,
		Source:      state.source,
		Target:      assoc.Target,
		Cardinality: assoc.Cardinality,
		Join: JoinRequirement{
			Required:  required,
			Qualifier: qualifier,
		},
		Children: make(map[string]*Node),
	}

	if leaf {
		if len(opts.Filters) > 0 {
			node.Join.Filters = predicate.Dedup(opts.Filters)
			if err := checkJoinInvariants(path, node.Join); err != nil {
				return nil, err
			}
		}
		if opts.Preload != nil {
			p, err := checkPreloadInvariants(path, opts.Preload)
			if err != nil {
				return nil, err
			}
			cp := *p
			node.Preload = &cp
		}
	}

	childState := buildState{
		root:     state.root,
		source:   assoc.Target,
		lockLeft: state.lockLeft || (required && qualifier == query.QualifierLeft),
	}
	for _, nested := range entry.Nested {
		child, err := buildEntry(sc, childState, nested, opts, path)
		if err != nil {
			return nil, err
		}
		existing, ok := node.Children[child.Field]
		if !ok {
			node.Children[child.Field] = child
			continue
		}
		merged, err := mergeNode(append(path, child.Field), existing, child)
		if err != nil {
			return nil, err
		}
		node.Children[child.Field] = merged
	}
	return node, nil
}

// resolveRequirement derives a hop's join requirement from the build
// options' join mode and the entry's suffix marker. A marker combines with
// the mode-derived qualifier through the qualifier-merge rule, so an
// explicit marker that contradicts the mode is a conflict, not an override.
func resolveRequirement(state buildState, entry Entry, opts Options, leaf bool, prefix []string) (bool, query.Qualifier, error) {
	var required bool
	var qualifier query.Qualifier

	switch opts.Join {
	case JoinNone:
		required = false
		qualifier = query.QualifierAny
	case JoinAny:
		required = true
		qualifier = query.QualifierAny
	case JoinInner:
		required = true
		qualifier = query.QualifierInner
	case JoinLeft:
		required = true
		if leaf || opts.LeftMode == LeftPath {
			qualifier = query.QualifierLeft
		} else {
			qualifier = query.QualifierInner
		}
	}

	switch entry.Marker {
	case MarkerNone:
		return required, qualifier, nil
	case MarkerOptional:
		merged, err := MergeQualifier(qualifier, query.QualifierLeft)
		if err != nil {
			return false, 0, markConflictPath(err, prefix, entry.Field)
		}
		return true, merged, nil
	case MarkerRequired:
		if state.lockLeft {
			return false, 0, &RequiredUnderOptionalError{Path: prefix, Field: entry.Field}
		}
		merged, err := MergeQualifier(qualifier, query.QualifierInner)
		if err != nil {
			return false, 0, markConflictPath(err, prefix, entry.Field)
		}
		return true, merged, nil
	default:
		return false, 0, &MalformedPathError{Spec: entry.Field, Reason: "unknown qualifier marker"}
	}
}

func markConflictPath(err error, prefix []string, field string) error {
	var conflict *QualifierConflictError
	if errors.As(err, &conflict) {
		conflict.Path = append(append([]string(nil), prefix...), field)
	}
	return err
}
