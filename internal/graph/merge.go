package graph

import (
	"errors"
	"fmt"

	"joinplan/internal/predicate"
	"joinplan/internal/query"
)

// MergeQualifier reconciles two join qualifiers. Any is the identity
// element, equal qualifiers merge to themselves, and Left with Inner is a
// hard conflict. The operation is commutative and associative, so merges
// from unrelated call sites resolve identically in any order.
func MergeQualifier(a, b query.Qualifier) (query.Qualifier, error) {
	switch {
	case a == b:
		return a, nil
	case a == query.QualifierAny:
		return b, nil
	case b == query.QualifierAny:
		return a, nil
	default:
		return query.QualifierAny, &QualifierConflictError{A: a, B: b}
	}
}

func mergeJoinRequirement(path []string, a, b JoinRequirement) (JoinRequirement, error) {
	qual, err := MergeQualifier(a.Qualifier, b.Qualifier)
	if err != nil {
		var conflict *QualifierConflictError
		if errors.As(err, &conflict) {
			conflict.Path = path
		}
		return JoinRequirement{}, err
	}
	merged := JoinRequirement{
		Required:  a.Required || b.Required,
		Qualifier: qual,
		Filters:   predicate.Dedup(append(append([]predicate.Group(nil), a.Filters...), b.Filters...)),
		Emitted:   a.Emitted || b.Emitted,
	}
	if err := checkJoinInvariants(path, merged); err != nil {
		return JoinRequirement{}, err
	}
	return merged, nil
}

func checkJoinInvariants(path []string, req JoinRequirement) error {
	if req.Emitted && !req.Required {
		return &InvariantError{Path: path, Reason: "join marked emitted but not required"}
	}
	if len(req.Filters) > 0 && !req.Required {
		return &InvariantError{Path: path, Reason: "on-join filters attached to a non-required join"}
	}
	return nil
}

// mergeStrategy gives ThroughJoin priority over Separate over unset.
func mergeStrategy(a, b Strategy) Strategy {
	if a == StrategyThroughJoin || b == StrategyThroughJoin {
		return StrategyThroughJoin
	}
	if a == StrategySeparate || b == StrategySeparate {
		return StrategySeparate
	}
	return StrategyUnset
}

func mergePreload(path []string, a, b *Preload) (*Preload, error) {
	if a == nil && b == nil {
		return nil, nil
	}
	if a == nil {
		return checkPreloadInvariants(path, b)
	}
	if b == nil {
		return checkPreloadInvariants(path, a)
	}

	merged := &Preload{Strategy: mergeStrategy(a.Strategy, b.Strategy)}
	switch {
	case a.Scope == nil:
		merged.Scope = b.Scope
	case b.Scope == nil:
		merged.Scope = a.Scope
	case a.Scope.key() == b.Scope.key():
		merged.Scope = a.Scope
	default:
		return nil, &PreloadConflictError{Path: path, Reason: "two different scoped query options for the same path"}
	}
	return checkPreloadInvariants(path, merged)
}

func checkPreloadInvariants(path []string, p *Preload) (*Preload, error) {
	if p == nil {
		return nil, nil
	}
	if p.Strategy == StrategyThroughJoin && p.Scope != nil {
		return nil, &PreloadConflictError{Path: path, Reason: "a through-join preload cannot carry scoped query options"}
	}
	return p, nil
}

func mergeNode(path []string, a, b *Node) (*Node, error) {
	if a.Source != b.Source || a.Field != b.Field {
		return nil, &InvariantError{Path: path, Reason: "merging nodes for different association hops"}
	}
	if a.Target != b.Target {
		return nil, &BindingCollisionError{
			Path:    path,
			Binding: a.Binding(),
			TargetA: a.Target,
			TargetB: b.Target,
		}
	}

	join, err := mergeJoinRequirement(path, a.Join, b.Join)
	if err != nil {
		return nil, err
	}
	preload, err := mergePreload(path, a.Preload, b.Preload)
	if err != nil {
		return nil, err
	}

	out := &Node{
		Field:       a.Field,
		Source:      a.Source,
		Target:      a.Target,
		Cardinality: a.Cardinality,
		Join:        join,
		Preload:     preload,
		Children:    make(map[string]*Node, len(a.Children)+len(b.Children)),
	}
	for field, child := range a.Children {
		out.Children[field] = child.clone()
	}
	for field, child := range b.Children {
		existing, ok := out.Children[field]
		if !ok {
			out.Children[field] = child.clone()
			continue
		}
		merged, err := mergeNode(append(append([]string(nil), path...), field), existing, child)
		if err != nil {
			return nil, err
		}
		out.Children[field] = merged
	}
	return out, nil
}

// Merge combines two graphs over the same root into a new graph. Neither
// input is modified. Nodes present in both are reconciled hop by hop; any
// contradiction surfaces as a structured error naming the offending path.
func Merge(a, b *Graph) (*Graph, error) {
	if a.Root != b.Root {
		return nil, fmt.Errorf("joinplan: cannot merge graphs rooted at %q and %q", a.Root, b.Root)
	}
	out := a.Clone()
	for field, node := range b.Nodes {
		existing, ok := out.Nodes[field]
		if !ok {
			out.Nodes[field] = node.clone()
			continue
		}
		merged, err := mergeNode([]string{field}, existing, node)
		if err != nil {
			return nil, err
		}
		out.Nodes[field] = merged
	}
	return out, nil
}

// Validate walks the graph and rejects states that individual merges cannot
// see: a required inner join anywhere beneath a hop that resolved to a left
// join, regardless of which calls contributed which hop. Optionality is
// infectious downward, so the inner requirement can never be honored.
func Validate(g *Graph) error {
	return validateNodes(nil, g.Nodes, false)
}

func validateNodes(prefix []string, nodes map[string]*Node, underLeft bool) error {
	for field, node := range nodes {
		if underLeft && node.Join.Required && node.Join.Qualifier == query.QualifierInner {
			return &RequiredUnderOptionalError{Path: prefix, Field: field}
		}
		locked := underLeft || (node.Join.Required && node.Join.Qualifier == query.QualifierLeft)
		path := append(append([]string(nil), prefix...), field)
		if err := validateNodes(path, node.Children, locked); err != nil {
			return err
		}
	}
	return nil
}

// ValidateExistingJoin checks that a live-query join under a node's derived
// binding actually is the association join the node expects: an association
// join, from the expected source binding, for the expected field, with a
// compatible qualifier. Any mismatch is a hard error; silently reusing an
// incompatible join could change result semantics unnoticed.
func ValidateExistingJoin(j query.Join, node *Node, wantSource string) error {
	if !j.Association {
		return &JoinMismatchError{
			Binding: j.Name,
			Reason:  "a non-association join occupies the binding",
		}
	}
	if j.Field != node.Field {
		return &JoinMismatchError{
			Binding:  j.Name,
			Reason:   "joined for a different association field",
			Expected: node.Field,
			Actual:   j.Field,
		}
	}
	if wantSource != "" && j.SourceBinding != wantSource {
		return &JoinMismatchError{
			Binding:  j.Name,
			Reason:   "joined from a different source binding",
			Expected: wantSource,
			Actual:   j.SourceBinding,
		}
	}
	if node.Join.Qualifier != query.QualifierAny && j.Qualifier != node.Join.Qualifier {
		return &JoinMismatchError{
			Binding:  j.Name,
			Reason:   "join qualifier differs",
			Expected: ":" + node.Join.Qualifier.String(),
			Actual:   ":" + j.Qualifier.String(),
		}
	}
	return nil
}
