// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package query_test

import (
	"testing"

	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/query"
	"github.com/grailbio/bitfunnel/results"
	"github.com/grailbio/bitfunnel/rowid"
	"github.com/grailbio/bitfunnel/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func term(text string) rowid.Term {
	return rowid.Term{Text: text, Stream: query.DefaultStream, GramSize: 1}
}

func TestEngineRunEndToEndAndQuery(t *testing.T) {
	tt := shard.NewMemTermTable(0, 1<<20)
	a := rowid.NewRowId(0, 0, 1)
	b := rowid.NewRowId(0, 0, 2)
	tt.Define(term("cat"), []rowid.RowId{a})
	tt.Define(term("dog"), []rowid.RowId{b})

	sh := shard.NewMemShard(0, 64)
	sh.DefineRow(a)
	sh.DefineRow(b)
	sh.AddSlice(make([]uint64, 10))
	sh.SetBit(a, 4)
	sh.SetBit(a, 9)
	sh.SetBit(b, 4)

	e := query.New(tt, nil)
	mt := matchtree.NewArena()
	h, instr, err := e.Parse(mt, "cat dog")
	require.NoError(t, err)

	var epoch shard.Epoch
	out := results.NewBuffer(16)
	err = e.Run(mt, h, instr, []shard.Shard{sh}, &epoch, out)
	require.NoError(t, err)

	require.True(t, instr.Succeeded)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, 4, out.Entries()[0].Index)
	assert.Equal(t, 1, instr.MatchCount)
	assert.GreaterOrEqual(t, instr.RowCount, 1)
}

func TestEngineRunConstantFalsePlanMatchesNothing(t *testing.T) {
	tt := shard.NewMemTermTable(0, 1<<20)
	tt.Define(term("nothing"), []rowid.RowId{}) // empty row set: always-false

	sh := shard.NewMemShard(0, 64)
	sh.AddSlice(make([]uint64, 4))

	e := query.New(tt, nil)
	mt := matchtree.NewArena()
	h, instr, err := e.Parse(mt, "nothing")
	require.NoError(t, err)

	var epoch shard.Epoch
	out := results.NewBuffer(16)
	err = e.Run(mt, h, instr, []shard.Shard{sh}, &epoch, out)
	require.NoError(t, err)
	assert.True(t, instr.Succeeded)
	assert.Equal(t, 0, out.Len())
}

func TestEngineParseErrorLeavesInstrumentationUnsucceeded(t *testing.T) {
	tt := shard.NewMemTermTable(0, 1<<20)
	e := query.New(tt, nil)
	mt := matchtree.NewArena()
	_, instr, err := e.Parse(mt, "(unbalanced")
	assert.Error(t, err)
	assert.False(t, instr.Succeeded)
}

func TestEngineDiagnosticLogfRespectsEnableDisable(t *testing.T) {
	tt := shard.NewMemTermTable(0, 1<<20)
	e := query.New(tt, nil)
	assert.False(t, e.Diag.Enabled("query/plan"))
	e.EnableDiagnostic("query/plan")
	assert.True(t, e.Diag.Enabled("query/plan"))
	e.DisableDiagnostic("query/plan")
	assert.False(t, e.Diag.Enabled("query/plan"))
}
