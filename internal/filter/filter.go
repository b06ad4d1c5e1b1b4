/*
Copyright (C) 2025  MemCP Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package filter implements the FilterGroup predicate tree (spec §4.6): a
// tagged-variant recursive structure (spec §9 "dynamic predicate trees"),
// not a class hierarchy, with pure transformation functions returning new
// trees.
package filter

import "github.com/sneldb/sneldb/internal/event"

// Op is a leaf comparison operator.
type Op int

const (
	Eq Op = iota
	Neq
	Lt
	Lte
	Gt
	Gte
	In
)

// Kind tags a Node the same way event.Kind tags a Value — a small closed
// set of shapes instead of an interface hierarchy (spec §9).
type Kind int

const (
	KindLeaf Kind = iota
	KindAnd
	KindOr
	KindNot
)

// Node is one node of the filter tree. Only the fields matching Kind are
// meaningful: Field/LeafOp/Value/Values for KindLeaf, Children for
// KindAnd/KindOr, Children[0] for KindNot.
type Node struct {
	Kind     Kind
	Field    string
	LeafOp   Op
	Value    event.Value
	Values   []event.Value // only for LeafOp == In
	Children []Node
}

func Leaf(field string, op Op, value event.Value) Node {
	return Node{Kind: KindLeaf, Field: field, LeafOp: op, Value: value}
}

func InLeaf(field string, values ...event.Value) Node {
	return Node{Kind: KindLeaf, Field: field, LeafOp: In, Values: values}
}

func And(children ...Node) Node { return Node{Kind: KindAnd, Children: children} }
func Or(children ...Node) Node  { return Node{Kind: KindOr, Children: children} }
func Not(child Node) Node       { return Node{Kind: KindNot, Children: []Node{child}} }

// Compile applies all required transformations (spec §4.6) in the order
// that keeps each one's precondition satisfied: IN-expansion first (so
// De Morgan never has to reason about an IN leaf), then push negations to
// the leaves, then flatten the now-stable And/Or nesting.
func Compile(n Node) Node {
	n = expandIn(n)
	n = pushNegations(n)
	n = flatten(n)
	return n
}

// expandIn turns `IN (v1, v2, ...)` into `Or[Eq v1, Eq v2, ...]` (spec §4.6).
func expandIn(n Node) Node {
	switch n.Kind {
	case KindLeaf:
		if n.LeafOp == In {
			children := make([]Node, len(n.Values))
			for i, v := range n.Values {
				children[i] = Leaf(n.Field, Eq, v)
			}
			return Node{Kind: KindOr, Children: children}
		}
		return n
	case KindNot:
		return Not(expandIn(n.Children[0]))
	case KindAnd, KindOr:
		children := make([]Node, len(n.Children))
		for i, c := range n.Children {
			children[i] = expandIn(c)
		}
		return Node{Kind: n.Kind, Children: children}
	default:
		return n
	}
}

// pushNegations applies De Morgan (Not(And) => Or(Not..), Not(Or) =>
// And(Not..)) and double-negation elimination (Not(Not x) => x) until every
// Not node wraps a leaf.
func pushNegations(n Node) Node {
	switch n.Kind {
	case KindLeaf:
		return n
	case KindAnd, KindOr:
		children := make([]Node, len(n.Children))
		for i, c := range n.Children {
			children[i] = pushNegations(c)
		}
		return Node{Kind: n.Kind, Children: children}
	case KindNot:
		child := n.Children[0]
		switch child.Kind {
		case KindNot:
			return pushNegations(child.Children[0]) // Not(Not x) => x
		case KindAnd:
			negated := make([]Node, len(child.Children))
			for i, c := range child.Children {
				negated[i] = Not(c)
			}
			return pushNegations(Node{Kind: KindOr, Children: negated})
		case KindOr:
			negated := make([]Node, len(child.Children))
			for i, c := range child.Children {
				negated[i] = Not(c)
			}
			return pushNegations(Node{Kind: KindAnd, Children: negated})
		default: // Leaf
			return Not(pushNegations(child))
		}
	default:
		return n
	}
}

// flatten merges nested And-in-And and Or-in-Or children into their parent.
func flatten(n Node) Node {
	switch n.Kind {
	case KindLeaf:
		return n
	case KindNot:
		return Not(flatten(n.Children[0]))
	case KindAnd, KindOr:
		var children []Node
		for _, c := range n.Children {
			fc := flatten(c)
			if fc.Kind == n.Kind {
				children = append(children, fc.Children...)
			} else {
				children = append(children, fc)
			}
		}
		return Node{Kind: n.Kind, Children: children}
	default:
		return n
	}
}
