// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package shard

import (
	"fmt"

	"blainsmith.com/go/seahash"
	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/bitfunnel/rowid"
	"github.com/minio/highwayhash"
)

// adhocRanks is the spread of ranks an unknown term's synthesised rows are
// distributed across: mostly rank 0 (fine-grained, high selectivity) with
// one coarser row thrown in so ad-hoc terms still exercise the rank-down
// machinery in tests. adhocExtraRank is appended for terms HighwayHash
// classifies into the "extra row" bucket, simulating terms that happened to
// collide into one more Bloom row than usual.
var adhocRanks = []uint8{0, 0, 1}
var adhocExtraRank uint8 = 2

// adhocHashKey is the fixed HighwayHash key hasExtraRow uses to decide
// whether an ad-hoc term gets the bonus adhocExtraRank row. Row indices
// themselves come from farm.Hash64 mixed with seahash.Sum64 (see adhocRows).
var adhocHashKey = [32]byte{
	'b', 'i', 't', 'f', 'u', 'n', 'n', 'e', 'l', '-', 'a', 'd', 'h', 'o', 'c', '-',
	's', 'e', 'e', 'd', 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11,
}

// MemTermTable is the reference rowid.TermTable implementation: an explicit
// map for terms the index actually materialised, falling back to a
// deterministic hash-seeded row synthesis for unknown ("ad-hoc") terms
// (spec.md section 6 and GLOSSARY: "Ad-hoc term"). Grounded on the
// teacher's hashing stack (go.mod: github.com/dgryski/go-farm,
// github.com/minio/highwayhash); see SPEC_FULL.md section 3.
type MemTermTable struct {
	shard      uint32
	indexSpace uint64 // number of distinct row indices ad-hoc rows are drawn from, per rank
	defined    map[rowid.Term][]rowid.RowId
}

// NewMemTermTable creates a term table whose ad-hoc rows are all placed in
// the given shard, with row indices drawn from [0, indexSpace).
func NewMemTermTable(shard uint32, indexSpace uint64) *MemTermTable {
	if indexSpace == 0 {
		indexSpace = 1
	}
	return &MemTermTable{shard: shard, indexSpace: indexSpace, defined: map[rowid.Term][]rowid.RowId{}}
}

// Define materialises term's row sequence explicitly, overriding the ad-hoc
// fallback for that term.
func (t *MemTermTable) Define(term rowid.Term, rows []rowid.RowId) {
	t.defined[term] = rows
}

// Lookup implements rowid.TermTable.
func (t *MemTermTable) Lookup(term rowid.Term) (rowid.RowIdSequence, error) {
	if rows, ok := t.defined[term]; ok {
		return rowid.NewRowIdSequence(rows), nil
	}
	return rowid.NewRowIdSequence(t.adhocRows(term)), nil
}

// adhocRows deterministically synthesises a row sequence for a term never
// seen by the index, seeded by the term's hash (GLOSSARY: "Ad-hoc term").
// Three independent hash families combine so that a term's rows don't
// collide just because two hash families happen to agree on it: farm.Hash64
// picks each row's index, seahash.Sum64 decorrelates rows of the same term
// from each other, and HighwayHash decides whether this term gets a bonus
// rank-2 row (modeling terms that land in one extra Bloom row).
func (t *MemTermTable) adhocRows(term rowid.Term) []rowid.RowId {
	key := []byte(fmt.Sprintf("%d\x00%s\x00%d", term.Stream, term.Text, term.GramSize))
	primary := farm.Hash64(key)
	secondary := seahash.Sum64(key)

	ranks := adhocRanks
	if t.hasExtraRow(key) {
		ranks = append(append([]uint8(nil), adhocRanks...), adhocExtraRank)
	}

	rows := make([]rowid.RowId, len(ranks))
	for i, rank := range ranks {
		seed := primary ^ rotl(secondary, uint(i*17))
		index := seed % t.indexSpace
		rows[i] = rowid.NewRowId(t.shard, rank, index)
	}
	return rows
}

// hasExtraRow reports whether key falls into the "bonus row" bucket under
// the HighwayHash seed. Odds are roughly 1 in 8.
func (t *MemTermTable) hasExtraRow(key []byte) bool {
	h, err := highwayhash.New64(adhocHashKey[:])
	if err != nil {
		// The key is a fixed, valid 32-byte constant; this can only fail if
		// that invariant is broken by a future edit, which is a programming
		// error, not a runtime condition a caller can recover from.
		panic(err)
	}
	_, _ = h.Write(key)
	return h.Sum64()%8 == 0
}

func rotl(x uint64, k uint) uint64 {
	return x<<(k%64) | x>>(64-k%64)
}
