// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package compile implements the rank-down compiler (spec.md section 4.2):
// it lowers a rewrite.Tree into a compile-tree IR whose shape maps directly
// onto the bytecode instruction set (package bytecode) — a ladder of
// LoadRow/LoadRowJz/AndRowJz steps descending through ranks via RankDown,
// joined by AndTree/Or/OrTree/Not, terminating in Report nodes.
package compile

import (
	"fmt"
	"sort"

	"github.com/grailbio/bitfunnel/rewrite"
	"github.com/grailbio/bitfunnel/rowid"
)

// Kind tags the variant a Node holds.
type Kind int

const (
	// KindLoadRow loads a single row into a fresh accumulator; nothing
	// follows it in the program (there is no short-circuit to perform).
	KindLoadRow Kind = iota
	// KindLoadRowJz is the same load, but the caller must test the result
	// and jump past the rest of the ladder if it is zero.
	KindLoadRowJz
	// KindAndRowJz ANDs Row into the accumulator produced by Left, jumping
	// past the rest of the ladder if the result is zero.
	KindAndRowJz
	// KindRankDown re-expresses Child's accumulator, currently valid at a
	// coarser rank, at the finer Rank so it can be ANDed against rows
	// native to that finer rank.
	KindRankDown
	// KindAndTree ANDs two already-compiled subtrees' results.
	KindAndTree
	// KindOrTree ORs two subtrees already sharing a common rank.
	KindOrTree
	// KindOr ORs two subtrees whose ranks had to be reconciled via
	// RankDown before the OR could be computed (the "fork" spec.md section
	// 4.2 describes for un-expanded Or subtrees).
	KindOr
	KindNot
	// KindReport marks a rank-zero subtree whose truthiness reports a
	// match at the current document offset.
	KindReport
)

func (k Kind) String() string {
	switch k {
	case KindLoadRow:
		return "LoadRow"
	case KindLoadRowJz:
		return "LoadRowJz"
	case KindAndRowJz:
		return "AndRowJz"
	case KindRankDown:
		return "RankDown"
	case KindAndTree:
		return "AndTree"
	case KindOrTree:
		return "OrTree"
	case KindOr:
		return "Or"
	case KindNot:
		return "Not"
	case KindReport:
		return "Report"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Handle is a Tree-local reference to a Node.
type Handle int32

// NilHandle represents "no node" (an empty Report body).
const NilHandle Handle = -1

// Node is the compile-tree IR's tagged union.
type Node struct {
	Kind Kind

	Row rowid.AbstractRow // KindLoadRow, KindLoadRowJz, KindAndRowJz

	Left, Right Handle // KindAndRowJz (Left=chain so far), KindAndTree, KindOrTree, KindOr
	Child       Handle // KindRankDown, KindNot, KindReport (may be NilHandle)

	Rank uint8 // KindRankDown: the target (finer) rank
}

// Tree owns every Node compiled for one query plan.
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
		panic(fmt.Sprintf("compile: invalid handle %d", h))
	}
	return &t.nodes[h]
}

func (t *Tree) LoadRow(row rowid.AbstractRow) Handle {
	return t.alloc(Node{Kind: KindLoadRow, Row: row})
}

func (t *Tree) LoadRowJz(row rowid.AbstractRow) Handle {
	return t.alloc(Node{Kind: KindLoadRowJz, Row: row})
}

func (t *Tree) AndRowJz(chain Handle, row rowid.AbstractRow) Handle {
	return t.alloc(Node{Kind: KindAndRowJz, Left: chain, Row: row})
}

func (t *Tree) RankDown(child Handle, rank uint8) Handle {
	return t.alloc(Node{Kind: KindRankDown, Child: child, Rank: rank})
}

func (t *Tree) AndTree(left, right Handle) Handle {
	return t.alloc(Node{Kind: KindAndTree, Left: left, Right: right})
}

func (t *Tree) OrTree(left, right Handle) Handle {
	return t.alloc(Node{Kind: KindOrTree, Left: left, Right: right})
}

func (t *Tree) Or(left, right Handle) Handle {
	return t.alloc(Node{Kind: KindOr, Left: left, Right: right})
}

func (t *Tree) Not(child Handle) Handle {
	return t.alloc(Node{Kind: KindNot, Child: child})
}

func (t *Tree) Report(child Handle) Handle {
	return t.alloc(Node{Kind: KindReport, Child: child})
}

// Plan is the result of compiling one query. Constant is non-nil when the
// rewriter folded the whole match tree to a known boolean (spec.md section
// 8 boundary case: an empty-row-set term); in that case Root and Tree are
// both zero and the query engine must short-circuit without invoking the
// bytecode generator or interpreter at all.
type Plan struct {
	Tree     *Tree
	Root     Handle
	Constant *bool

	// Rank is the rank at which Root's accumulator is valid — the rank the
	// bytecode interpreter's outer loop must iterate offsets at (spec.md
	// section 4.6's "plan's initial rank"). For any plan containing a
	// Report (virtually every real query, since a term's RowIdSequence
	// typically includes a rank-0 row), this is always 0: Report nodes
	// compile to rank 0, and the root And/Or combinator reconciles its
	// other operand down to meet them.
	Rank uint8
}

// Compile lowers a rewritten tree into compile-tree IR.
func Compile(rw *rewrite.Tree, root rewrite.Handle) (*Plan, error) {
	if n := rw.Node(root); n.Kind == rewrite.KindConstant {
		v := n.ConstValue
		return &Plan{Constant: &v}, nil
	}
	c := &compiler{rw: rw, out: &Tree{}}
	h, rank, err := c.compile(root)
	if err != nil {
		return nil, err
	}
	return &Plan{Tree: c.out, Root: h, Rank: rank}, nil
}

type compiler struct {
	rw  *rewrite.Tree
	out *Tree
}

func minRank(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

func (c *compiler) compile(h rewrite.Handle) (Handle, uint8, error) {
	n := c.rw.Node(h)
	switch n.Kind {
	case rewrite.KindRow:
		return c.out.LoadRow(n.Row), n.Row.EvalRank(), nil

	case rewrite.KindAnd:
		if rows, ok := c.collectRowChain(h); ok {
			ladder, rank := c.compileLadder(rows, false)
			return ladder, rank, nil
		}
		if rows, ok := c.collectRowChain(n.Left); ok {
			ladder, rank := c.compileLadder(rows, true)
			restH, restRank, err := c.compile(n.Right)
			if err != nil {
				return NilHandle, 0, err
			}
			return c.andCombine(ladder, rank, restH, restRank), minRank(rank, restRank), nil
		}
		lh, lr, err := c.compile(n.Left)
		if err != nil {
			return NilHandle, 0, err
		}
		rh, rr, err := c.compile(n.Right)
		if err != nil {
			return NilHandle, 0, err
		}
		return c.andCombine(lh, lr, rh, rr), minRank(lr, rr), nil

	case rewrite.KindOr:
		lh, lr, err := c.compile(n.Left)
		if err != nil {
			return NilHandle, 0, err
		}
		rh, rr, err := c.compile(n.Right)
		if err != nil {
			return NilHandle, 0, err
		}
		target := minRank(lr, rr)
		if lr == rr {
			return c.out.OrTree(lh, rh), target, nil
		}
		if lr > target {
			lh = c.out.RankDown(lh, target)
		}
		if rr > target {
			rh = c.out.RankDown(rh, target)
		}
		return c.out.Or(lh, rh), target, nil

	case rewrite.KindNot:
		ch, cr, err := c.compile(n.Child)
		if err != nil {
			return NilHandle, 0, err
		}
		return c.out.Not(ch), cr, nil

	case rewrite.KindReport:
		if n.Child == rewrite.NilHandle {
			return c.out.Report(NilHandle), 0, nil
		}
		ch, _, err := c.compile(n.Child)
		if err != nil {
			return NilHandle, 0, err
		}
		return c.out.Report(ch), 0, nil

	case rewrite.KindConstant:
		return NilHandle, 0, fmt.Errorf("compile: constant subtree below the root is not supported; the rewriter must fold it away")

	default:
		return NilHandle, 0, fmt.Errorf("compile: unexpected rewrite kind %v", n.Kind)
	}
}

// andCombine ANDs two already-compiled subtrees, reconciling their ranks
// with RankDown if they differ.
func (c *compiler) andCombine(lh Handle, lr uint8, rh Handle, rr uint8) Handle {
	target := minRank(lr, rr)
	if lr > target {
		lh = c.out.RankDown(lh, target)
	}
	if rr > target {
		rh = c.out.RankDown(rh, target)
	}
	return c.out.AndTree(lh, rh)
}

// collectRowChain succeeds if h is entirely a left-leaning chain of Row
// leaves joined by And (the shape the rewriter's andChainRows helper builds
// with rewrite.Tree.And), returning every row in the chain.
func (c *compiler) collectRowChain(h rewrite.Handle) ([]rowid.AbstractRow, bool) {
	n := c.rw.Node(h)
	switch n.Kind {
	case rewrite.KindRow:
		return []rowid.AbstractRow{n.Row}, true
	case rewrite.KindAnd:
		rn := c.rw.Node(n.Right)
		if rn.Kind != rewrite.KindRow {
			return nil, false
		}
		left, ok := c.collectRowChain(n.Left)
		if !ok {
			return nil, false
		}
		return append(left, rn.Row), true
	default:
		return nil, false
	}
}

// compileLadder lowers a set of rows sharing a rank-N And-context into a
// descending-rank ladder: the highest-native-rank row loads first, and each
// subsequent row either extends the chain at the same rank (AndRowJz) or,
// if its native rank is lower, forces a RankDown to that finer rank first.
// hasFollowing indicates whether more structure (a Report, another And)
// follows this ladder, which decides whether the entry load must be able to
// short-circuit (LoadRowJz) or can be a bare LoadRow.
func (c *compiler) compileLadder(rows []rowid.AbstractRow, hasFollowing bool) (Handle, uint8) {
	sorted := make([]rowid.AbstractRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank > sorted[j].Rank })

	// The ladder always settles at its lowest-ranked row (sorted is
	// descending, so that's the last element): bake that rank into the
	// first load's delta up front, rather than its own native rank, so the
	// compile tree's stored AbstractRow already reflects the rank it is
	// actually evaluated at (package regalloc reads this field directly,
	// with no opportunity to re-derive it the way the bytecode generator's
	// genLadder does for an outer RankDown).
	curRank := sorted[0].Rank
	settledRank := sorted[len(sorted)-1].Rank
	first := sorted[0].AtRank(settledRank)
	var node Handle
	if hasFollowing || len(sorted) > 1 {
		node = c.out.LoadRowJz(first)
	} else {
		node = c.out.LoadRow(first)
	}
	for _, r := range sorted[1:] {
		if r.Rank < curRank {
			node = c.out.RankDown(node, r.Rank)
			curRank = r.Rank
		}
		node = c.out.AndRowJz(node, r.AtRank(curRank))
	}
	return node, curRank
}
