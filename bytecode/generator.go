// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bytecode

import (
	"fmt"

	"github.com/grailbio/bitfunnel/compile"
	"github.com/grailbio/bitfunnel/rowid"
)

// RowRef is one entry of a Program's row table: the row a LoadRow/AndRow
// instruction's operand indexes into.
type RowRef struct {
	Row rowid.RowId
}

// Generate lowers a compiled plan into a flat, resolved bytecode Program.
// plan.Constant must be nil; callers short-circuit a constant plan before
// ever reaching the generator (see compile.Plan).
//
// A Report inside a deeper subtree than its enclosing AndTree fires on its
// own residual's bits alone, before that AndTree's other operand has been
// folded in. This can over-report a document whose block-level gate later
// turns out to exclude it, but never under-reports one: a Jz short-circuit
// only ever fires when its operand is provably all-zero for the whole
// block, so a block containing a true match is never skipped. Nothing
// downstream filters the extra candidates out: query.Engine.Run hands them
// to its results buffer exactly as reported.
//
// Generate returns an error if plan needs more than MaxReportSlots distinct
// Report sites; callers should treat this as a query-too-complex condition,
// not a programming error.
func Generate(plan *compile.Plan) (*Program, error) {
	if plan.Constant != nil {
		panic("bytecode: Generate called on a constant plan; caller must short-circuit first")
	}
	g := &generator{tree: plan.Tree, rowIndex: map[rowid.RowId]int{}}
	g.gen(plan.Root)
	if g.reportSlots > MaxReportSlots {
		return nil, fmt.Errorf("bytecode: plan needs %d Report sites, exceeding the %d-slot dedupe buffer", g.reportSlots, MaxReportSlots)
	}
	g.emit(Pack(OpEnd, 0, 0, false))
	return &Program{Code: g.code, Rows: g.rows, Rank: plan.Rank}, nil
}

type generator struct {
	tree *compile.Tree
	code []Instruction

	rows     []RowRef
	rowIndex map[rowid.RowId]int

	// reportSlots counts OpReport sites emitted so far; each one's operand is
	// the dedupe-buffer slot it reports into (see package dedupe).
	reportSlots int
}

func (g *generator) emit(instr Instruction) int {
	g.code = append(g.code, instr)
	return len(g.code) - 1
}

// label collects the patch sites of every forward jump/call waiting on one
// not-yet-known target address.
type label struct {
	patches []int
}

func (g *generator) placeholder(op Opcode, l *label) int {
	idx := g.emit(Pack(op, 0, 0, false))
	l.patches = append(l.patches, idx)
	return idx
}

func (g *generator) bind(l *label) {
	if l == nil {
		return
	}
	target := len(g.code)
	for _, idx := range l.patches {
		instr := g.code[idx]
		g.code[idx] = Pack(instr.Opcode(), target, 0, false)
	}
}

func (g *generator) rowOperand(row rowid.AbstractRow) (int, uint8, bool) {
	idx, ok := g.rowIndex[row.Row]
	if !ok {
		idx = len(g.rows)
		g.rows = append(g.rows, RowRef{Row: row.Row})
		g.rowIndex[row.Row] = idx
	}
	return idx, row.RankDelta, row.Inverted
}

// gen emits code for node, leaving its boolean/bitset result in the
// interpreter's accumulator.
func (g *generator) gen(h compile.Handle) {
	n := g.tree.Node(h)
	switch n.Kind {
	case compile.KindLoadRow, compile.KindLoadRowJz, compile.KindAndRowJz, compile.KindRankDown:
		exit := g.genLadder(h, nil)
		g.bind(exit)

	case compile.KindAndTree:
		// Left's accumulator is a per-document bitset, not a single
		// boolean: the AND of two bitsets can only be computed bit-by-bit,
		// so right's bits must be combined with left's via the stack
		// (AndStack), not simply left in the accumulator after evaluating
		// right. Skipping straight to the (already-zero) result when left
		// is entirely zero is still sound: bit i of the AND is 0 whenever
		// bit i of left is 0, for every i, regardless of right.
		g.gen(n.Left)
		g.emit(Pack(OpUpdateFlags, 0, 0, false))
		done := g.newLabel()
		g.placeholder(OpJz, done)
		g.emit(Pack(OpPush, 0, 0, false))
		g.gen(n.Right)
		g.emit(Pack(OpAndStack, 0, 0, false))
		g.bind(done)

	case compile.KindOrTree, compile.KindOr:
		// Unlike AND, a nonzero left does not make right's bits
		// redundant (right may set additional document bits left
		// didn't), so OR always evaluates both sides and combines via
		// OrStack.
		g.gen(n.Left)
		g.emit(Pack(OpPush, 0, 0, false))
		g.gen(n.Right)
		g.emit(Pack(OpOrStack, 0, 0, false))

	case compile.KindNot:
		g.gen(n.Child)
		g.emit(Pack(OpNot, 0, 0, false))

	case compile.KindReport:
		if n.Child != compile.NilHandle {
			g.gen(n.Child)
		}
		g.emit(Pack(OpUpdateFlags, 0, 0, false))
		slot := g.reportSlots
		g.reportSlots++
		g.emit(Pack(OpReport, slot, 0, false))

	default:
		panic("bytecode: unexpected compile kind in gen")
	}
}

func (g *generator) newLabel() *label { return &label{} }

// genLadder emits a ladder of LoadRow(Jz)/AndRow(Jz)/RankDown compile nodes
// and returns the label any failing row test should jump to (nil if the
// ladder never needs to short-circuit, i.e. a bare single-row LoadRow).
//
// target overrides every row's rank-delta to the rank the outermost RankDown
// ancestor demanded (nil outside any RankDown), recomputed via
// AbstractRow.AtRank so offset>>delta keeps addressing the correct word at
// that rank regardless of what rank the row was originally compiled at.
func (g *generator) genLadder(h compile.Handle, target *uint8) *label {
	n := g.tree.Node(h)
	switch n.Kind {
	case compile.KindLoadRow:
		idx, delta, inv := g.rowOperand(g.atTarget(n.Row, target))
		g.emit(Pack(OpLoadRow, idx, delta, inv))
		return nil

	case compile.KindLoadRowJz:
		idx, delta, inv := g.rowOperand(g.atTarget(n.Row, target))
		g.emit(Pack(OpLoadRow, idx, delta, inv))
		g.emit(Pack(OpUpdateFlags, 0, 0, false))
		exit := g.newLabel()
		g.placeholder(OpJz, exit)
		return exit

	case compile.KindAndRowJz:
		// compileLadder only ever wraps an AndRowJz around a chain whose
		// base load used LoadRowJz (any chain longer than one row forces
		// that), so exit is never nil here.
		exit := g.genLadder(n.Left, target)
		idx, delta, inv := g.rowOperand(g.atTarget(n.Row, target))
		g.emit(Pack(OpAndRow, idx, delta, inv))
		g.emit(Pack(OpUpdateFlags, 0, 0, false))
		g.placeholder(OpJz, exit)
		return exit

	case compile.KindRankDown:
		// The first RankDown encountered on the way down from the ladder's
		// root carries the ladder's true settled rank (compileLadder nests
		// RankDown nodes in construction order, so the outermost one sits
		// closest to the root); once set it must not be overwritten by a
		// deeper, already-stale RankDown from an earlier construction step.
		// RankDown itself contributes no bytecode: the target is fully
		// captured by the rank-delta of the row instructions genLadder
		// re-derives below it.
		if target == nil {
			rank := n.Rank
			target = &rank
		}
		return g.genLadder(n.Child, target)

	default:
		panic("bytecode: genLadder called on a non-ladder node")
	}
}

// atTarget re-derives row's rank-delta for target, if one is in effect;
// otherwise row is used exactly as compiled.
func (g *generator) atTarget(row rowid.AbstractRow, target *uint8) rowid.AbstractRow {
	if target == nil {
		return row
	}
	return row.AtRank(*target)
}
