// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rewrite

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/rowid"
)

// FactStream is the synthetic stream a Fact leaf's id is looked up under, so
// a single rowid.TermTable can serve both positional terms and document-level
// facts without a second collaborator interface.
const FactStream rowid.StreamID = 1<<32 - 1

// Rewrite partitions the match tree rooted at root into a rank-partitioned
// rewrite.Tree (spec.md section 4.1): rows grouped by rank, Or subtrees
// expanded against their surrounding And-context up to cfg's bounds, and
// whatever remains (Not subtrees, and Or subtrees the bound declined)
// wrapped in a rank-zero Report.
//
// The returned root may be a KindConstant node if resolving term rows (or
// boolean simplification of an always-true/always-false subtree) collapsed
// the whole query to a constant; callers must check for that before handing
// the tree to package compile.
func Rewrite(mt *matchtree.Arena, root matchtree.Handle, terms rowid.TermTable, cfg Config) (*Tree, Handle, error) {
	if err := matchtree.Validate(mt, root); err != nil {
		return nil, NilHandle, errors.E(err, "rewrite: input match tree failed validation")
	}
	rw := &rewriter{mt: mt, terms: terms, cfg: cfg, out: &Tree{}}
	h, err := rw.visit(root)
	if err != nil {
		return nil, NilHandle, err
	}
	return rw.out, h, nil
}

type rewriter struct {
	mt    *matchtree.Arena
	terms rowid.TermTable
	cfg   Config
	out   *Tree

	crossProductTerms int
}

// visit rewrites the subtree rooted at node, folding any top-level chain of
// And nodes into a single rows/other/pendingOr classification, then
// resolving each pending Or in turn against the accumulated context.
func (rw *rewriter) visit(node matchtree.Handle) (Handle, error) {
	var rows []rowid.AbstractRow
	var others []Handle
	var ors []matchtree.Handle
	if err := rw.flatten(node, &rows, &others, &ors); err != nil {
		return NilHandle, err
	}
	context := rw.materialize(rows, others)

	for _, orH := range ors {
		orNode := rw.mt.Node(orH)
		if rw.shouldLift(orH) {
			lifted, err := rw.liftToZero(orH)
			if err != nil {
				return NilHandle, err
			}
			context = rw.out.And(context, rw.out.Report(lifted))
			continue
		}
		leftV, err := rw.visit(orNode.Left)
		if err != nil {
			return NilHandle, err
		}
		rightV, err := rw.visit(orNode.Right)
		if err != nil {
			return NilHandle, err
		}
		rw.crossProductTerms += rw.countLeafRows(orH)
		context = rw.out.Or(rw.out.And(context, leftV), rw.out.And(context, rightV))
	}
	return context, nil
}

// flatten walks node, recursing through And chains, and classifies every
// non-And conjunct it finds: leaves are resolved immediately into rows,
// Not subtrees are lifted to rank zero immediately (they can never be
// expanded, only evaluated once), and Or subtrees are deferred into ors so
// visit can decide whether to expand each one against the full context.
func (rw *rewriter) flatten(node matchtree.Handle, rows *[]rowid.AbstractRow, others *[]Handle, ors *[]matchtree.Handle) error {
	n := rw.mt.Node(node)
	switch n.Kind {
	case matchtree.KindAnd:
		if err := rw.flatten(n.Left, rows, others, ors); err != nil {
			return err
		}
		return rw.flatten(n.Right, rows, others, ors)
	case matchtree.KindUnigram, matchtree.KindPhrase, matchtree.KindFact:
		leafRows, err := rw.resolveRows(n)
		if err != nil {
			return err
		}
		if len(leafRows) == 0 {
			// Empty row sequence: this leaf can never match.
			*others = append(*others, rw.out.Constant(false))
		}
		*rows = append(*rows, leafRows...)
	case matchtree.KindOr:
		*ors = append(*ors, node)
	case matchtree.KindNot:
		lifted, err := rw.liftToZero(n.Child)
		if err != nil {
			return err
		}
		*others = append(*others, rw.out.Not(lifted))
	default:
		return fmt.Errorf("rewrite: unexpected match tree kind %v", n.Kind)
	}
	return nil
}

// shouldLift reports whether orH should be left un-expanded (lifted whole to
// rank zero under Report) rather than cross-producted against its context:
// either it contains a Not anywhere beneath it (a Not subtree can only be
// evaluated, never split across rank-N ladders), or expanding it would push
// the rewrite past its configured row/cross-product bounds.
func (rw *rewriter) shouldLift(orH matchtree.Handle) bool {
	if rw.containsNot(orH) {
		return true
	}
	cost := rw.countLeafRows(orH)
	return rw.crossProductTerms+cost > rw.cfg.TargetCrossProductTerms || cost > rw.cfg.TargetRowCount
}

func (rw *rewriter) containsNot(h matchtree.Handle) bool {
	n := rw.mt.Node(h)
	switch n.Kind {
	case matchtree.KindNot:
		return true
	case matchtree.KindAnd, matchtree.KindOr:
		return rw.containsNot(n.Left) || rw.containsNot(n.Right)
	default:
		return false
	}
}

// countLeafRows estimates the row cost of expanding h: the number of
// AbstractRows every leaf beneath it would contribute. It does not memoise
// per-leaf resolution, trading a little redundant term-table lookup for a
// simpler implementation; term tables are expected to be cheap, in-memory
// lookups (see package shard).
func (rw *rewriter) countLeafRows(h matchtree.Handle) int {
	n := rw.mt.Node(h)
	switch n.Kind {
	case matchtree.KindUnigram, matchtree.KindPhrase, matchtree.KindFact:
		rows, err := rw.resolveRows(n)
		if err != nil {
			return 0
		}
		return len(rows)
	case matchtree.KindAnd, matchtree.KindOr:
		return rw.countLeafRows(n.Left) + rw.countLeafRows(n.Right)
	case matchtree.KindNot:
		return rw.countLeafRows(n.Child)
	default:
		return 0
	}
}

// liftToZero rewrites the subtree rooted at h with every leaf forced to
// evaluate at rank zero (spec.md section 4.1: "Rank-up-to-zero"), preserving
// its And/Or/Not structure exactly. Used for Not subtrees (which can only
// ever be evaluated this way) and for Or subtrees the rewriter declined to
// expand.
func (rw *rewriter) liftToZero(h matchtree.Handle) (Handle, error) {
	n := rw.mt.Node(h)
	switch n.Kind {
	case matchtree.KindUnigram, matchtree.KindPhrase, matchtree.KindFact:
		rows, err := rw.resolveRows(n)
		if err != nil {
			return NilHandle, err
		}
		chain := NilHandle
		for _, r := range rows {
			chain = rw.out.And(chain, rw.out.Row(r.AtRank(0)))
		}
		if chain == NilHandle {
			// Empty row sequence: this leaf can never match.
			return rw.out.Constant(false), nil
		}
		return chain, nil
	case matchtree.KindAnd:
		l, err := rw.liftToZero(n.Left)
		if err != nil {
			return NilHandle, err
		}
		r, err := rw.liftToZero(n.Right)
		if err != nil {
			return NilHandle, err
		}
		return rw.out.And(l, r), nil
	case matchtree.KindOr:
		l, err := rw.liftToZero(n.Left)
		if err != nil {
			return NilHandle, err
		}
		r, err := rw.liftToZero(n.Right)
		if err != nil {
			return NilHandle, err
		}
		return rw.out.Or(l, r), nil
	case matchtree.KindNot:
		c, err := rw.liftToZero(n.Child)
		if err != nil {
			return NilHandle, err
		}
		return rw.out.Not(c), nil
	default:
		return NilHandle, fmt.Errorf("rewrite: unexpected match tree kind %v", n.Kind)
	}
}

// materialize assembles the rank-N And-context / rank-0+other Report shape
// spec.md section 4.1 describes: rows with rank > 0 form the rank-N bucket,
// ANDed directly against a Report wrapping the rank-0 rows ANDed with
// already-lifted other subtrees.
func (rw *rewriter) materialize(rows []rowid.AbstractRow, others []Handle) Handle {
	var rankN, rank0 []rowid.AbstractRow
	for _, r := range rows {
		if r.Rank == 0 {
			rank0 = append(rank0, r)
		} else {
			rankN = append(rankN, r)
		}
	}
	rankNTree := rw.andChainRows(rankN)
	rank0Tree := rw.andChainRows(rank0)
	otherTree := rw.andChainHandles(others)
	reportBody := rw.out.And(rank0Tree, otherTree)
	if reportBody == NilHandle {
		return rankNTree
	}
	report := rw.out.Report(reportBody)
	return rw.out.And(rankNTree, report)
}

func (rw *rewriter) andChainRows(rows []rowid.AbstractRow) Handle {
	chain := NilHandle
	for _, r := range rows {
		chain = rw.out.And(chain, rw.out.Row(r))
	}
	return chain
}

func (rw *rewriter) andChainHandles(hs []Handle) Handle {
	chain := NilHandle
	for _, h := range hs {
		chain = rw.out.And(chain, h)
	}
	return chain
}

// resolveRows looks up every AbstractRow a leaf node contributes, at its
// own native rank (delta 0); callers that need the rows evaluated at a
// coarser rank rederive that via AbstractRow.AtRank.
func (rw *rewriter) resolveRows(n *matchtree.Node) ([]rowid.AbstractRow, error) {
	switch n.Kind {
	case matchtree.KindUnigram:
		return rw.termRows(n.Term, n.Inverted)
	case matchtree.KindFact:
		term := rowid.Term{Text: fmt.Sprintf("#%d", n.Fact), Stream: FactStream, GramSize: 1}
		return rw.termRows(term, n.Inverted)
	case matchtree.KindPhrase:
		var all []rowid.AbstractRow
		for _, t := range n.Terms {
			rows, err := rw.termRows(t, n.Inverted)
			if err != nil {
				return nil, err
			}
			all = append(all, rows...)
		}
		return all, nil
	default:
		return nil, fmt.Errorf("rewrite: resolveRows called on non-leaf kind %v", n.Kind)
	}
}

func (rw *rewriter) termRows(term rowid.Term, inverted bool) ([]rowid.AbstractRow, error) {
	seq, err := rw.terms.Lookup(term)
	if err != nil {
		return nil, errors.E(err, fmt.Sprintf("rewrite: looking up term %v", term))
	}
	rows := seq.Rows()
	out := make([]rowid.AbstractRow, len(rows))
	for i, row := range rows {
		out[i] = rowid.NewAbstractRow(row, row.Rank(), inverted)
	}
	return out, nil
}
