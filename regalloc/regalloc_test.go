// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package regalloc_test

import (
	"testing"

	"github.com/grailbio/bitfunnel/compile"
	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/regalloc"
	"github.com/grailbio/bitfunnel/rewrite"
	"github.com/grailbio/bitfunnel/rowid"
	"github.com/grailbio/bitfunnel/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func term(text string) rowid.Term {
	return rowid.Term{Text: text, Stream: 0, GramSize: 1}
}

func TestAllocatePrefersShallowHeavilyUsedRows(t *testing.T) {
	mt := matchtree.NewArena()
	tt := shard.NewMemTermTable(0, 1<<20)
	hi := rowid.NewRowId(0, 5, 1)
	mid := rowid.NewRowId(0, 3, 2)
	lo := rowid.NewRowId(0, 3, 3)
	tt.Define(term("hi"), []rowid.RowId{hi})
	tt.Define(term("mid"), []rowid.RowId{mid})
	tt.Define(term("lo"), []rowid.RowId{lo})

	root := mt.And(mt.And(mt.Unigram(term("hi")), mt.Unigram(term("mid"))), mt.Unigram(term("lo")))
	rw, rh, err := rewrite.Rewrite(mt, root, tt, rewrite.DefaultConfig())
	require.NoError(t, err)
	p, err := compile.Compile(rw, rh)
	require.NoError(t, err)
	require.Nil(t, p.Constant)

	// Ladder shape: AndRowJz(lo, Left=AndRowJz(mid, Left=RankDown(LoadRowJz(hi)))).
	// Depths: lo at 0, mid at 1, hi at 3 (one extra hop through RankDown).
	// hi's reconciled rank-delta is 5-3=2, so its use weight is 2^2=4; mid
	// and lo both settle at rank 3 (delta 0), weight 1 each.
	alloc := regalloc.Allocate(p.Tree, p.Root, 2)

	// lo (depth 0) and mid (depth 1) are the two shallowest rows, so they
	// win the 2-register budget over hi (depth 3, despite its higher use
	// weight): depth is the primary sort key.
	assert.True(t, alloc.IsRegister(lo))
	assert.True(t, alloc.IsRegister(mid))
	assert.False(t, alloc.IsRegister(hi))

	loReg, ok := alloc.RegisterFor(lo)
	require.True(t, ok)
	midReg, ok := alloc.RegisterFor(mid)
	require.True(t, ok)
	assert.NotEqual(t, loReg, midReg)
}

func TestAllocateBudgetZeroAssignsNothing(t *testing.T) {
	mt := matchtree.NewArena()
	tt := shard.NewMemTermTable(0, 1<<20)
	row := rowid.NewRowId(0, 0, 1)
	tt.Define(term("cat"), []rowid.RowId{row})

	rw, rh, err := rewrite.Rewrite(mt, mt.Unigram(term("cat")), tt, rewrite.DefaultConfig())
	require.NoError(t, err)
	p, err := compile.Compile(rw, rh)
	require.NoError(t, err)

	alloc := regalloc.Allocate(p.Tree, p.Root, 0)
	assert.False(t, alloc.IsRegister(row))
}

func TestAllocateBudgetExceedingRowCountAssignsEveryRow(t *testing.T) {
	mt := matchtree.NewArena()
	tt := shard.NewMemTermTable(0, 1<<20)
	a := rowid.NewRowId(0, 0, 1)
	b := rowid.NewRowId(0, 0, 2)
	tt.Define(term("a"), []rowid.RowId{a})
	tt.Define(term("b"), []rowid.RowId{b})

	root := mt.And(mt.Unigram(term("a")), mt.Unigram(term("b")))
	rw, rh, err := rewrite.Rewrite(mt, root, tt, rewrite.DefaultConfig())
	require.NoError(t, err)
	p, err := compile.Compile(rw, rh)
	require.NoError(t, err)

	alloc := regalloc.Allocate(p.Tree, p.Root, 10)
	assert.True(t, alloc.IsRegister(a))
	assert.True(t, alloc.IsRegister(b))
}
