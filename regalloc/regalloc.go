// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package regalloc implements the (optional, native-backend-only) register
// allocator (spec.md section 4.5): a depth-first scoring pass over a
// compile.Tree decides which of a plan's rows are worth keeping resident in
// a machine register rather than reloaded from the row table on every use.
package regalloc

import (
	"sort"

	"github.com/grailbio/bitfunnel/compile"
	"github.com/grailbio/bitfunnel/rowid"
)

// score accumulates one row's traversal statistics: the shallowest depth at
// which it is referenced, and the sum of its uses along every path that
// references it, each weighted by 2^delta (a coarser-rank reference, lifted
// down via RankDown, is read once per 2^delta finer-rank documents, so it is
// worth more to keep resident than a rank-0 reference hit just as often).
type score struct {
	row      rowid.RowId
	minDepth int
	uses     int
}

// Allocation is the result of one Allocate call: which rows (of the ones a
// plan actually references) were assigned a register, and which index.
type Allocation struct {
	register map[rowid.RowId]int
}

// IsRegister reports whether row was assigned a register.
func (a *Allocation) IsRegister(row rowid.RowId) bool {
	_, ok := a.register[row]
	return ok
}

// RegisterFor returns the register index row was assigned, if any.
func (a *Allocation) RegisterFor(row rowid.RowId) (int, bool) {
	idx, ok := a.register[row]
	return idx, ok
}

// Allocate scores every row compile.Tree's root references and assigns the
// first budget rows — sorted by ascending minimum depth, then descending use
// count — a register. Rows the plan never references are dropped entirely:
// there is nothing to allocate for them.
func Allocate(tree *compile.Tree, root compile.Handle, budget int) *Allocation {
	scores := map[rowid.RowId]*score{}
	walk(tree, root, 0, scores)

	ordered := make([]*score, 0, len(scores))
	for _, s := range scores {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].minDepth != ordered[j].minDepth {
			return ordered[i].minDepth < ordered[j].minDepth
		}
		if ordered[i].uses != ordered[j].uses {
			return ordered[i].uses > ordered[j].uses
		}
		// Break remaining ties on row id so Allocate is deterministic for
		// callers comparing allocations across repeated compiles of the
		// same plan.
		return ordered[i].row < ordered[j].row
	})

	if budget > len(ordered) {
		budget = len(ordered)
	}
	reg := make(map[rowid.RowId]int, budget)
	for i := 0; i < budget; i++ {
		reg[ordered[i].row] = i
	}
	return &Allocation{register: reg}
}

func walk(tree *compile.Tree, h compile.Handle, depth int, scores map[rowid.RowId]*score) {
	if h == compile.NilHandle {
		return
	}
	n := tree.Node(h)
	switch n.Kind {
	case compile.KindLoadRow, compile.KindLoadRowJz:
		record(scores, n.Row, depth)
	case compile.KindAndRowJz:
		walk(tree, n.Left, depth+1, scores)
		record(scores, n.Row, depth)
	case compile.KindRankDown:
		walk(tree, n.Child, depth+1, scores)
	case compile.KindAndTree, compile.KindOrTree, compile.KindOr:
		walk(tree, n.Left, depth+1, scores)
		walk(tree, n.Right, depth+1, scores)
	case compile.KindNot, compile.KindReport:
		walk(tree, n.Child, depth+1, scores)
	}
}

// record adds one reference to row at depth. uses is weighted by 2^delta:
// row.RankDelta already captures the full native-to-eval-rank drop for this
// particular reference, so no separate per-RankDown-node multiplier needs to
// be threaded through the traversal.
func record(scores map[rowid.RowId]*score, row rowid.AbstractRow, depth int) {
	s, ok := scores[row.Row]
	if !ok {
		s = &score{row: row.Row, minDepth: depth}
		scores[row.Row] = s
	} else if depth < s.minDepth {
		s.minDepth = depth
	}
	s.uses += 1 << row.RankDelta
}
