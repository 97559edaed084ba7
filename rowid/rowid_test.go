// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rowid_test

import (
	"testing"

	"github.com/grailbio/bitfunnel/rowid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowIdPacking(t *testing.T) {
	cases := []struct {
		shard uint32
		rank  uint8
		index uint64
	}{
		{0, 0, 0},
		{1, 3, 12345},
		{(1 << 24) - 1, rowid.MaxRank, (1 << 32) - 1},
	}
	for _, c := range cases {
		r := rowid.NewRowId(c.shard, c.rank, c.index)
		assert.Equal(t, c.shard, r.Shard())
		assert.Equal(t, c.rank, r.Rank())
		assert.Equal(t, c.index, r.Index())
	}
}

func TestRowIdOrdering(t *testing.T) {
	a := rowid.NewRowId(0, 0, 5)
	b := rowid.NewRowId(0, 1, 0)
	c := rowid.NewRowId(1, 0, 0)
	assert.True(t, a < b, "lower rank sorts before higher rank within a shard")
	assert.True(t, b < c, "lower shard sorts before higher shard")
}

func TestAbstractRowRankDelta(t *testing.T) {
	row := rowid.NewRowId(0, 3, 7)
	a := rowid.NewAbstractRow(row, 1, false)
	assert.Equal(t, uint8(3), a.Rank)
	assert.Equal(t, uint8(2), a.RankDelta)
	assert.Equal(t, uint8(1), a.EvalRank())
}

func TestAbstractRowAtRank(t *testing.T) {
	row := rowid.NewRowId(0, 4, 1)
	a := rowid.NewAbstractRow(row, 4, true)
	assert.Equal(t, uint8(0), a.RankDelta)
	lowered := a.AtRank(2)
	assert.Equal(t, uint8(2), lowered.RankDelta)
	assert.True(t, lowered.Inverted)
}

func TestRowIdSequence(t *testing.T) {
	rows := []rowid.RowId{
		rowid.NewRowId(0, 0, 0),
		rowid.NewRowId(0, 0, 1),
	}
	seq := rowid.NewRowIdSequence(rows)
	require.Equal(t, 2, seq.Len())
	r0, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, rows[0], r0)
	r1, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, rows[1], r1)
	_, err = seq.Next()
	assert.ErrorIs(t, err, rowid.ErrIteratorExhausted)

	seq.Reset()
	assert.Equal(t, 2, seq.Len())
}
