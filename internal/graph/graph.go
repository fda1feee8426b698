// Package graph implements the association dependency graph the planner
// compiles operations against: one node per traversed association hop,
// carrying a join requirement, an optional preload requirement, and nested
// children. Graphs merge deterministically, so requirements recorded by
// independent calls reconcile into one consistent plan or fail loudly.
package graph

import (
	"sort"

	"joinplan/internal/predicate"
	"joinplan/internal/query"
	"joinplan/internal/schema"
)

// Strategy selects how an association's data is hydrated.
type Strategy int

const (
	// StrategyUnset means no preload was requested.
	StrategyUnset Strategy = iota
	// StrategySeparate hydrates through an additional query keyed by parent
	// identifiers.
	StrategySeparate
	// StrategyThroughJoin reads association data off rows already produced
	// by an existing join.
	StrategyThroughJoin
)

func (s Strategy) String() string {
	switch s {
	case StrategyUnset:
		return "unset"
	case StrategySeparate:
		return "separate"
	case StrategyThroughJoin:
		return "through_join"
	default:
		return "strategy(?)"
	}
}

// Scope carries the query options of a scoped separate preload.
type Scope struct {
	Filter *predicate.Group
	Order  []query.OrderTerm
}

func (s *Scope) key() string {
	if s == nil {
		return ""
	}
	key := "scope:"
	if s.Filter != nil {
		key += s.Filter.Key()
	}
	for _, term := range s.Order {
		key += "|" + term.Expr
		if term.Desc {
			key += " desc"
		}
	}
	return key
}

// Preload is a node's preload requirement.
type Preload struct {
	Strategy Strategy
	Scope    *Scope
}

// JoinRequirement is a node's join requirement.
type JoinRequirement struct {
	Required  bool
	Qualifier query.Qualifier
	Filters   []predicate.Group
	Emitted   bool
}

// Node represents one traversed association hop.
type Node struct {
	Field       string
	Source      string
	Target      string
	Cardinality schema.Cardinality
	Join        JoinRequirement
	Preload     *Preload
	Children    map[string]*Node
}

// Binding returns the node's derived join alias.
func (n *Node) Binding() string {
	return schema.BindingName(n.Source, n.Field)
}

func (n *Node) clone() *Node {
	out := *n
	out.Join.Filters = append([]predicate.Group(nil), n.Join.Filters...)
	if n.Preload != nil {
		p := *n.Preload
		if p.Scope != nil {
			s := *p.Scope
			s.Order = append([]query.OrderTerm(nil), p.Scope.Order...)
			p.Scope = &s
		}
		out.Preload = &p
	}
	out.Children = make(map[string]*Node, len(n.Children))
	for field, child := range n.Children {
		out.Children[field] = child.clone()
	}
	return &out
}

// Graph is a tree of association nodes rooted at one relation.
type Graph struct {
	Root  string
	Nodes map[string]*Node
}

// New returns an empty graph over the given root relation.
func New(root string) *Graph {
	return &Graph{Root: root, Nodes: make(map[string]*Node)}
}

// Clone deep-copies the graph.
func (g *Graph) Clone() *Graph {
	out := New(g.Root)
	for field, node := range g.Nodes {
		out.Nodes[field] = node.clone()
	}
	return out
}

// Empty reports whether the graph carries no nodes.
func (g *Graph) Empty() bool { return len(g.Nodes) == 0 }

// NodeAt returns the node at the given association path.
func (g *Graph) NodeAt(path ...string) (*Node, bool) {
	if len(path) == 0 {
		return nil, false
	}
	nodes := g.Nodes
	var node *Node
	for _, field := range path {
		n, ok := nodes[field]
		if !ok {
			return nil, false
		}
		node = n
		nodes = n.Children
	}
	return node, true
}

// BindingForPath returns the derived binding name of the node at path.
func (g *Graph) BindingForPath(path ...string) (string, error) {
	node, ok := g.NodeAt(path...)
	if !ok {
		return "", &UnknownPathError{Root: g.Root, Path: path}
	}
	return node.Binding(), nil
}

// BindingForField resolves a binding by field name alone. It fails when the
// field appears at multiple paths, since a name-only reference would be
// ambiguous.
func (g *Graph) BindingForField(field string) (string, error) {
	var matches [][]string
	_ = g.Walk(func(path []string, n *Node) error {
		if n.Field == field {
			matches = append(matches, append([]string(nil), path...))
		}
		return nil
	})
	switch len(matches) {
	case 0:
		return "", &UnknownPathError{Root: g.Root, Path: []string{field}}
	case 1:
		node, _ := g.NodeAt(matches[0]...)
		return node.Binding(), nil
	default:
		return "", &AmbiguousFieldError{Field: field, Paths: matches}
	}
}

// Walk visits every node depth-first in lexical field order, passing the
// full path from the root. Returning an error stops the walk.
func (g *Graph) Walk(fn func(path []string, n *Node) error) error {
	return walkNodes(nil, g.Nodes, fn)
}

func walkNodes(prefix []string, nodes map[string]*Node, fn func(path []string, n *Node) error) error {
	fields := make([]string, 0, len(nodes))
	for field := range nodes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		node := nodes[field]
		path := append(append([]string(nil), prefix...), field)
		if err := fn(path, node); err != nil {
			return err
		}
		if err := walkNodes(path, node.Children, fn); err != nil {
			return err
		}
	}
	return nil
}
