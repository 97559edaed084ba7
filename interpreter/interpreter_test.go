// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interpreter_test

import (
	"testing"

	"github.com/grailbio/bitfunnel/bytecode"
	"github.com/grailbio/bitfunnel/compile"
	"github.com/grailbio/bitfunnel/interpreter"
	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/results"
	"github.com/grailbio/bitfunnel/rewrite"
	"github.com/grailbio/bitfunnel/rowid"
	"github.com/grailbio/bitfunnel/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func term(text string) rowid.Term {
	return rowid.Term{Text: text, Stream: 0, GramSize: 1}
}

// program rewrites, compiles and generates root against tt, requiring every
// step to succeed and the plan not to fold to a constant.
func program(t *testing.T, mt *matchtree.Arena, root matchtree.Handle, tt rowid.TermTable) *bytecode.Program {
	t.Helper()
	rw, rh, err := rewrite.Rewrite(mt, root, tt, rewrite.DefaultConfig())
	require.NoError(t, err)
	p, err := compile.Compile(rw, rh)
	require.NoError(t, err)
	require.Nil(t, p.Constant)
	prog, err := bytecode.Generate(p)
	require.NoError(t, err)
	return prog
}

func TestRunFindsSingleRowMatch(t *testing.T) {
	mt := matchtree.NewArena()
	tt := shard.NewMemTermTable(0, 1<<20)
	row := rowid.NewRowId(0, 0, 1)
	tt.Define(term("cat"), []rowid.RowId{row})

	sh := shard.NewMemShard(0, 128)
	sh.DefineRow(row)
	sh.AddSlice(make([]uint64, 128))
	sh.SetBit(row, 3)
	sh.SetBit(row, 5)

	prog := program(t, mt, mt.Unigram(term("cat")), tt)

	in := interpreter.New(prog, false)
	out := results.NewBuffer(16)
	stats, err := in.Run(sh, out, interpreter.AlwaysContinue{})
	require.NoError(t, err)

	var indices []int
	for _, e := range out.Entries() {
		indices = append(indices, e.Index)
	}
	assert.ElementsMatch(t, []int{3, 5}, indices)
	// capacity 128 at rank 0 means 2 outer iterations, each loading the row once.
	assert.Equal(t, 2, stats.QuadwordCount)
}

func TestRunFindsAndOfTwoRows(t *testing.T) {
	mt := matchtree.NewArena()
	tt := shard.NewMemTermTable(0, 1<<20)
	a := rowid.NewRowId(0, 0, 1)
	b := rowid.NewRowId(0, 0, 2)
	tt.Define(term("a"), []rowid.RowId{a})
	tt.Define(term("b"), []rowid.RowId{b})

	sh := shard.NewMemShard(0, 64)
	sh.DefineRow(a)
	sh.DefineRow(b)
	sh.AddSlice(make([]uint64, 64))
	sh.SetBit(a, 2)
	sh.SetBit(a, 4)
	sh.SetBit(b, 4)
	sh.SetBit(b, 7)

	root := mt.And(mt.Unigram(term("a")), mt.Unigram(term("b")))
	prog := program(t, mt, root, tt)

	in := interpreter.New(prog, false)
	out := results.NewBuffer(16)
	_, err := in.Run(sh, out, interpreter.AlwaysContinue{})
	require.NoError(t, err)

	var indices []int
	for _, e := range out.Entries() {
		indices = append(indices, e.Index)
	}
	assert.Equal(t, []int{4}, indices)
}

func TestRunDeduplicatesOverlappingOrBranches(t *testing.T) {
	mt := matchtree.NewArena()
	tt := shard.NewMemTermTable(0, 1<<20)
	ctx := rowid.NewRowId(0, 0, 1)
	x := rowid.NewRowId(0, 0, 2)
	y := rowid.NewRowId(0, 0, 3)
	tt.Define(term("ctx"), []rowid.RowId{ctx})
	tt.Define(term("x"), []rowid.RowId{x})
	tt.Define(term("y"), []rowid.RowId{y})

	sh := shard.NewMemShard(0, 64)
	sh.DefineRow(ctx)
	sh.DefineRow(x)
	sh.DefineRow(y)
	sh.AddSlice(make([]uint64, 64))
	// Document 4 matches both ctx&x and ctx&y: the two cross-product
	// branches must still report it exactly once.
	sh.SetBit(ctx, 4)
	sh.SetBit(x, 4)
	sh.SetBit(y, 4)

	or := mt.Or(mt.Unigram(term("x")), mt.Unigram(term("y")))
	root := mt.And(mt.Unigram(term("ctx")), or)
	prog := program(t, mt, root, tt)

	in := interpreter.New(prog, false)
	out := results.NewBuffer(16)
	_, err := in.Run(sh, out, interpreter.AlwaysContinue{})
	require.NoError(t, err)

	assert.Equal(t, 1, out.Len(), "document 4 must be reported exactly once despite matching both Or branches")
	assert.Equal(t, 4, out.Entries()[0].Index)
}

func TestRunReturnsErrorForUnknownRowOffset(t *testing.T) {
	mt := matchtree.NewArena()
	tt := shard.NewMemTermTable(0, 1<<20)
	row := rowid.NewRowId(0, 0, 1)
	tt.Define(term("cat"), []rowid.RowId{row})

	sh := shard.NewMemShard(0, 64) // row never defined on this shard
	sh.AddSlice(make([]uint64, 1))

	prog := program(t, mt, mt.Unigram(term("cat")), tt)

	in := interpreter.New(prog, false)
	out := results.NewBuffer(16)
	_, err := in.Run(sh, out, interpreter.AlwaysContinue{})
	assert.Error(t, err)
}

// TestRunAndOfAllTrueRankZeroAndAlternatingRankOneRow is spec.md section 8's
// S5: row "all" is rank 0 and every bit set; row "alt" is rank 1 with
// offset 0 = 0xAAAAAAAAAAAAAAAA (every odd bit set). Their And, rank-down
// rederived through the ladder, must match exactly the odd documents: at
// both rank-0 offsets (0 and 1) alt's rank-delta of 1 addresses its single
// word (offset>>1 = 0), so offset 1 sees all[1] & alt[0], and "all" never
// filters anything out.
func TestRunAndOfAllTrueRankZeroAndAlternatingRankOneRow(t *testing.T) {
	mt := matchtree.NewArena()
	tt := shard.NewMemTermTable(0, 1<<20)
	all := rowid.NewRowId(0, 0, 1)
	alt := rowid.NewRowId(0, 1, 2)
	tt.Define(term("all"), []rowid.RowId{all})
	tt.Define(term("alt"), []rowid.RowId{alt})

	const capacity = 128
	sh := shard.NewMemShard(0, capacity)
	sh.DefineRow(all)
	sh.DefineRow(alt)
	sh.AddSlice(make([]uint64, capacity))
	for doc := 0; doc < capacity; doc++ {
		sh.SetBit(all, doc)
	}
	for p := 1; p < capacity/2; p += 2 {
		sh.SetBit(alt, p)
	}

	root := mt.And(mt.Unigram(term("all")), mt.Unigram(term("alt")))
	prog := program(t, mt, root, tt)

	in := interpreter.New(prog, false)
	out := results.NewBuffer(capacity)
	_, err := in.Run(sh, out, interpreter.AlwaysContinue{})
	require.NoError(t, err)

	var expected []int
	for doc := 0; doc < capacity; doc++ {
		if doc%2 == 1 {
			expected = append(expected, doc)
		}
	}
	var got []int
	for _, e := range out.Entries() {
		got = append(got, e.Index)
	}
	assert.ElementsMatch(t, expected, got)
}

// TestRunRankOneRowReportsOneSubIterationPerRankZeroDocument is spec.md
// section 8's S6: a single row at rank 1 must, for every rank-1 word bit
// that's set, report both rank-0 documents it covers (RankDown's
// sub-iteration expansion), so the union of reported offsets equals exactly
// {i : v[i] != 0} at rank 0.
func TestRunRankOneRowReportsOneSubIterationPerRankZeroDocument(t *testing.T) {
	mt := matchtree.NewArena()
	tt := shard.NewMemTermTable(0, 1<<20)
	row := rowid.NewRowId(0, 1, 1)
	tt.Define(term("cat"), []rowid.RowId{row})

	const capacity = 64
	sh := shard.NewMemShard(0, capacity)
	sh.DefineRow(row)
	sh.AddSlice(make([]uint64, capacity))
	set := map[int]bool{0: true, 5: true, 31: true}
	for p := range set {
		sh.SetBit(row, p)
	}

	prog := program(t, mt, mt.Unigram(term("cat")), tt)
	in := interpreter.New(prog, false)
	out := results.NewBuffer(capacity)
	_, err := in.Run(sh, out, interpreter.AlwaysContinue{})
	require.NoError(t, err)

	var expected []int
	for p := range set {
		expected = append(expected, 2*p, 2*p+1)
	}
	var got []int
	for _, e := range out.Entries() {
		got = append(got, e.Index)
	}
	assert.ElementsMatch(t, expected, got)
}

func TestRunCacheLineRecorderTalliesDistinctLines(t *testing.T) {
	mt := matchtree.NewArena()
	tt := shard.NewMemTermTable(0, 1<<20)
	row := rowid.NewRowId(0, 0, 1)
	tt.Define(term("cat"), []rowid.RowId{row})

	sh := shard.NewMemShard(0, 64*8*2) // 2 words' worth of cache lines, 8 words each
	sh.DefineRow(row)
	sh.AddSlice(make([]uint64, 16))

	prog := program(t, mt, mt.Unigram(term("cat")), tt)
	in := interpreter.New(prog, true)
	out := results.NewBuffer(16)
	stats, err := in.Run(sh, out, interpreter.AlwaysContinue{})
	require.NoError(t, err)
	assert.Greater(t, stats.QuadwordCount, 0)
	assert.GreaterOrEqual(t, stats.CacheLineCount, 1)
}
