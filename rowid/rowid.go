// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package rowid defines the identifiers the query engine uses to address
// term rows inside a shard's bit matrices: Term, RowId, and AbstractRow.
package rowid

import (
	"fmt"

	"github.com/grailbio/base/log"
)

// MaxRank is the largest supported rank; NewRowId panics on a higher one. A
// rank-r row has one bit per 2^r documents of a slice (see
// shard.MemShard.SetBit for which documents a bit stands for).
const MaxRank = 6

// StreamID names a region of a document (title, body, ...) that a Term is
// scoped to.
type StreamID uint32

// Term is a (text, stream, gram size) triple. Gram size is 1 for a unigram
// and >=2 for one position of an n-gram phrase.
type Term struct {
	Text     string
	Stream   StreamID
	GramSize uint32
}

func (t Term) String() string {
	return fmt.Sprintf("%d:%q/%d", t.Stream, t.Text, t.GramSize)
}

// RowId packs (shard, rank, index) into 64 bits. The packing orders RowIds
// lexicographically by (shard, rank, index) under plain numeric comparison,
// which io callers rely on when merging per-shard row offset tables.
type RowId uint64

const (
	shardBits = 24
	rankBits  = 8
	indexBits = 64 - shardBits - rankBits

	indexMask = (uint64(1) << indexBits) - 1
	rankMask  = (uint64(1) << rankBits) - 1
	shardMask = (uint64(1) << shardBits) - 1
)

// NewRowId packs a (shard, rank, index) triple into a RowId. rank must be in
// [0, MaxRank]; index must fit in the remaining bits. Violating either is a
// programming error caught at plan/ingestion time, never at query time, so
// it panics rather than returning an error.
func NewRowId(shard uint32, rank uint8, index uint64) RowId {
	if rank > MaxRank {
		log.Panicf("rowid: rank %d exceeds MaxRank %d", rank, MaxRank)
	}
	if uint64(shard) > shardMask {
		log.Panicf("rowid: shard %d does not fit in %d bits", shard, shardBits)
	}
	if index > indexMask {
		log.Panicf("rowid: index %d does not fit in %d bits", index, indexBits)
	}
	return RowId(uint64(shard)<<(rankBits+indexBits) | uint64(rank)<<indexBits | index)
}

// Shard returns the shard component.
func (r RowId) Shard() uint32 { return uint32(uint64(r) >> (rankBits + indexBits)) }

// Rank returns the rank component.
func (r RowId) Rank() uint8 { return uint8((uint64(r) >> indexBits) & rankMask) }

// Index returns the index component.
func (r RowId) Index() uint64 { return uint64(r) & indexMask }

func (r RowId) String() string {
	return fmt.Sprintf("Row(shard=%d,rank=%d,index=%d)", r.Shard(), r.Rank(), r.Index())
}

// AbstractRow is a row as referenced from a point in the evaluation plan:
// the row id itself, the rank the row natively lives at (duplicated from
// Row.Rank() so planning code doesn't need a row-table lookup to read it),
// the rank-delta between that native rank and the rank the plan evaluates
// it at (offset >> RankDelta addresses the row's own word), and whether the
// loaded word should be logically inverted before use.
//
// Invariant: RankDelta <= Rank (NewAbstractRow and AtRank panic on an
// evaluation rank above the native rank). The sum Rank + RankDelta is not
// checked anywhere; the bytecode generator's Pack only panics on a delta
// too wide for its 4-bit field.
type AbstractRow struct {
	Row       RowId
	Rank      uint8
	RankDelta uint8
	Inverted  bool
}

// NewAbstractRow builds an AbstractRow for row evaluated at the given plan
// rank, deriving Rank from the row id itself and RankDelta from the
// difference. evalRank must not exceed the row's native rank.
func NewAbstractRow(row RowId, evalRank uint8, inverted bool) AbstractRow {
	native := row.Rank()
	if evalRank > native {
		log.Panicf("rowid: cannot evaluate row %v at rank %d above its own rank %d", row, evalRank, native)
	}
	return AbstractRow{Row: row, Rank: native, RankDelta: native - evalRank, Inverted: inverted}
}

func (a AbstractRow) String() string {
	inv := ""
	if a.Inverted {
		inv = "!"
	}
	return fmt.Sprintf("%s%v@rank=%d,delta=%d", inv, a.Row, a.Rank, a.RankDelta)
}

// AtRank returns a copy of a evaluated at the given plan rank, recomputing
// RankDelta. target must not exceed a.Rank (the row's native rank).
func (a AbstractRow) AtRank(target uint8) AbstractRow {
	if target > a.Rank {
		log.Panicf("rowid: cannot evaluate row %v at rank %d above its own rank", a.Row, target)
	}
	a.RankDelta = a.Rank - target
	return a
}

// EvalRank returns the rank at which a is currently being evaluated
// (a.Rank - a.RankDelta).
func (a AbstractRow) EvalRank() uint8 { return a.Rank - a.RankDelta }
