// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package rewrite implements the match-tree rewriter (spec.md section 4.1):
// it turns a matchtree.Arena tree into a rank-partitioned Tree whose shape
// is friendly to rank-down compilation (package compile) — rows grouped by
// rank, Or-subtrees bounded-expansion cross-producted against their
// surrounding And-context, and a residual Report subtree capturing whatever
// must be evaluated at rank zero (Not subtrees, and any Or the rewriter
// declined to expand).
package rewrite

import (
	"fmt"

	"github.com/grailbio/bitfunnel/rowid"
)

// Kind tags the variant a Node holds.
type Kind int

const (
	// KindRow is a leaf: an AbstractRow to load (and possibly AND) into the
	// accumulator.
	KindRow Kind = iota
	KindAnd
	KindOr
	KindNot
	// KindReport marks a subtree that must be evaluated at rank zero and
	// contribute a match at the current offset (spec.md section 3: "Report
	// node"). Child may be NilHandle (a bare Report with no residual
	// condition, used when an AND's rank-N bucket fully determines the
	// match and there is nothing left to evaluate at rank 0).
	KindReport
	// KindConstant is a rewrite-time-only simplification: the result of
	// folding a term whose row sequence came back empty (spec.md section 8
	// boundary case: "A term whose row set is empty matches nothing").
	// Smart constructors fold KindConstant operands away immediately, so a
	// KindConstant node can only ever reach package compile at the root of
	// the whole tree; compile.Compile detects that case and the query
	// engine short-circuits without ever invoking the bytecode machinery.
	KindConstant
)

func (k Kind) String() string {
	switch k {
	case KindRow:
		return "Row"
	case KindAnd:
		return "And"
	case KindOr:
		return "Or"
	case KindNot:
		return "Not"
	case KindReport:
		return "Report"
	case KindConstant:
		return "Constant"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Handle is a Tree-local reference to a Node.
type Handle int32

// NilHandle represents "no node" (an absent Report child, or the AND
// identity element used while folding an empty conjunction).
const NilHandle Handle = -1

// Node is the rewritten tree's tagged union.
type Node struct {
	Kind Kind

	Row rowid.AbstractRow // KindRow

	Left, Right Handle // KindAnd, KindOr
	Child       Handle // KindNot, KindReport (may be NilHandle for KindReport)

	ConstValue bool // KindConstant
}

// Tree owns every Node allocated while rewriting one query. Like
// matchtree.Arena, it is a per-query arena freed wholesale at query end.
type Tree struct {
	nodes []Node
}

func (t *Tree) alloc(n Node) Handle {
	h := Handle(len(t.nodes))
	t.nodes = append(t.nodes, n)
	return h
}

// Node dereferences a handle.
func (t *Tree) Node(h Handle) *Node {
	if h < 0 || int(h) >= len(t.nodes) {
		panic(fmt.Sprintf("rewrite: invalid handle %d", h))
	}
	return &t.nodes[h]
}

// Row allocates a leaf node.
func (t *Tree) Row(row rowid.AbstractRow) Handle {
	return t.alloc(Node{Kind: KindRow, Row: row})
}

// Constant allocates a constant-fold sentinel.
func (t *Tree) Constant(v bool) Handle {
	return t.alloc(Node{Kind: KindConstant, ConstValue: v})
}

func (t *Tree) isConstant(h Handle, v bool) bool {
	if h == NilHandle {
		return false
	}
	n := t.Node(h)
	return n.Kind == KindConstant && n.ConstValue == v
}

// And builds a conjunction, treating NilHandle as the AND identity ("true")
// and folding constant operands immediately so KindConstant never survives
// past the point where it was produced, except at the very root.
func (t *Tree) And(left, right Handle) Handle {
	switch {
	case left == NilHandle:
		return right
	case right == NilHandle:
		return left
	case t.isConstant(left, false) || t.isConstant(right, false):
		return t.Constant(false)
	case t.isConstant(left, true):
		return right
	case t.isConstant(right, true):
		return left
	default:
		return t.alloc(Node{Kind: KindAnd, Left: left, Right: right})
	}
}

// Or builds a disjunction with the same constant folding as And.
func (t *Tree) Or(left, right Handle) Handle {
	switch {
	case left == NilHandle:
		return right
	case right == NilHandle:
		return left
	case t.isConstant(left, true) || t.isConstant(right, true):
		return t.Constant(true)
	case t.isConstant(left, false):
		return right
	case t.isConstant(right, false):
		return left
	default:
		return t.alloc(Node{Kind: KindOr, Left: left, Right: right})
	}
}

// Not builds a negation, folding a constant child immediately.
func (t *Tree) Not(child Handle) Handle {
	if child == NilHandle {
		// NOT of the empty (vacuously true) conjunction is false.
		return t.Constant(false)
	}
	if n := t.Node(child); n.Kind == KindConstant {
		return t.Constant(!n.ConstValue)
	}
	return t.alloc(Node{Kind: KindNot, Child: child})
}

// Report wraps child (which may be NilHandle) as a rank-zero match
// contribution. A constant child (the whole residual condition folded to a
// known true/false) propagates unchanged rather than being wrapped, keeping
// KindConstant reachable only where a caller can actually observe it.
func (t *Tree) Report(child Handle) Handle {
	if child == NilHandle {
		return NilHandle
	}
	if t.Node(child).Kind == KindConstant {
		return child
	}
	return t.alloc(Node{Kind: KindReport, Child: child})
}

// Config tunes the rewriter's bounded Or-expansion (spec.md section 9, Open
// Questions: "the rewriter's cross-product bound is a tunable heuristic").
type Config struct {
	// TargetRowCount bounds the leaf-row count of a single Or subtree: an
	// Or whose leaves resolve to more rows than this is lifted whole under
	// Report instead of being expanded. The rows already accumulated in the
	// surrounding And-context are not counted against it.
	TargetRowCount int
	// TargetCrossProductTerms bounds the total number of rows duplicated by
	// Or expansion across the whole rewrite.
	TargetCrossProductTerms int
}

// DefaultConfig returns the reference defaults: 500 rows / 500 cross
// product terms, the "arbitrary 500 rows" planning hint from spec.md.
func DefaultConfig() Config {
	return Config{TargetRowCount: 500, TargetCrossProductTerms: 500}
}
