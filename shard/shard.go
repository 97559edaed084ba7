// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package shard defines the read-only external collaborators the query
// engine consumes (spec.md section 6: Shard, document handle) and ships a
// reference in-memory implementation, MemShard, used by this module's own
// tests and by the match verifier. Row storage is grounded on the teacher's
// row-major bit-matrix layout (circular.Bitmap's "logical row n is
// bits[n*rowWidth:(n+1)*rowWidth]" idiom), specialised here to a
// non-circular, per-row-contiguous layout since BitFunnel rows are not
// wraparound buffers. On Linux, a slice's backing row table is allocated
// via allocWords (alloc_linux.go), grounded on the teacher's
// fusion.kmerIndex hugepage-advised mmap allocation.
package shard

import (
	"fmt"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bitfunnel/rowid"
)

// Shard is the read-only external collaborator exposing the physical layout
// a query interprets against: slice buffers and the row-to-word-offset
// lookup. Row tables (and therefore row offsets) are immutable after the
// shard is sealed.
type Shard interface {
	ID() uint32
	// SliceCapacity returns the number of documents addressed by one slice
	// at rank 0. Must be a power of two.
	SliceCapacity() int
	// Slices returns every slice buffer in the shard, in a stable order.
	Slices() []*Slice
	// RowOffset returns the word offset of row within any of this shard's
	// slice buffers (the same offset is valid in every slice). It is an
	// error if the shard does not carry the row.
	RowOffset(row rowid.RowId) (int, error)
}

// Slice is a fixed-capacity contiguous buffer holding one column-group of
// row bits for up to Shard.SliceCapacity() documents. Words is addressed in
// 64-bit words; row data for row r starts at Words[RowOffset(r)].
//
// The original design reserves Words[0] as a back-pointer to the slice
// descriptor, reconstructed via pointer arithmetic; we keep the descriptor
// as an ordinary Go field instead (DESIGN.md: "manual placement-new"
// replaced by normal allocation) while preserving the same externally
// observable contract (a document handle carries enough to look up the
// slice's descriptor).
type Slice struct {
	Words      []uint64
	Descriptor *Descriptor
}

// Descriptor is the slice-level metadata used to turn a (slice, doc index)
// pair into an external document id.
type Descriptor struct {
	// DocIDs maps a local document index (0..SliceCapacity-1) to the
	// corpus-wide document id.
	DocIDs []uint64
}

// DocHandle is the (slice, doc-index) pair the interpreter produces
// (spec.md section 6: "Document handle (produced)").
type DocHandle struct {
	Slice *Slice
	Index int
}

// DocID resolves the handle to its corpus-wide document id via the slice's
// descriptor back-pointer.
func (h DocHandle) DocID() uint64 {
	return h.Slice.Descriptor.DocIDs[h.Index]
}

func (h DocHandle) String() string {
	return fmt.Sprintf("Doc(idx=%d,id=%d)", h.Index, h.DocID())
}

// MemShard is a reference Shard implementation backed by plain Go slices.
// It is not meant for production ingestion (no persistence, no streaming
// append); it exists so this module's tests, the match verifier, and the
// demo CLI can construct shards without a real ingestion pipeline.
type MemShard struct {
	id            uint32
	sliceCapacity int
	slices        []*Slice
	rowOffset     map[rowid.RowId]int
	rowWords      map[rowid.RowId]int // word count occupied by this row within one slice
	nextOffset    int
}

// NewMemShard creates an empty shard. sliceCapacity must be a power of two.
func NewMemShard(id uint32, sliceCapacity int) *MemShard {
	if sliceCapacity <= 0 || sliceCapacity&(sliceCapacity-1) != 0 {
		log.Panicf("shard: sliceCapacity %d must be a power of two", sliceCapacity)
	}
	return &MemShard{
		id:            id,
		sliceCapacity: sliceCapacity,
		rowOffset:     map[rowid.RowId]int{},
		rowWords:      map[rowid.RowId]int{},
	}
}

func (s *MemShard) ID() uint32         { return s.id }
func (s *MemShard) SliceCapacity() int { return s.sliceCapacity }
func (s *MemShard) Slices() []*Slice   { return s.slices }

func (s *MemShard) RowOffset(row rowid.RowId) (int, error) {
	off, ok := s.rowOffset[row]
	if !ok {
		return 0, ErrRowOffsetUnknown
	}
	return off, nil
}

// rowWordsAtRank returns how many 64-bit words one slice needs to hold a
// row at the given rank: one bit per 2^rank documents, rounded up to a
// whole word, with a floor of 1 word so a rank-6 row in a small slice still
// gets addressable storage.
func (s *MemShard) rowWordsAtRank(rank uint8) int {
	bitsNeeded := s.sliceCapacity >> rank
	words := (bitsNeeded + 63) / 64
	if words < 1 {
		words = 1
	}
	return words
}

// DefineRow reserves storage for row within every slice currently in the
// shard (and any added later). Calling DefineRow twice for the same row is
// a fatal usage error: row tables are append-only during shard construction
// and immutable after seal.
func (s *MemShard) DefineRow(row rowid.RowId) {
	if _, ok := s.rowOffset[row]; ok {
		log.Panicf("shard: row %v already defined", row)
	}
	words := s.rowWordsAtRank(row.Rank())
	s.rowOffset[row] = s.nextOffset
	s.rowWords[row] = words
	s.nextOffset += words
	for _, sl := range s.slices {
		sl.Words = growWords(sl.Words, s.nextOffset)
	}
}

// growWords extends an already-allocated slice buffer when a row defined
// after the slice was added needs more storage than it currently has. This
// is plain make(), not allocWords: it is incremental copy-and-grow, unlike
// AddSlice's one-shot bulk allocation of a slice's full row table, so the
// hugepage treatment that table gets (see alloc_linux.go) does not apply
// here the same way.
func growWords(words []uint64, n int) []uint64 {
	if len(words) >= n {
		return words
	}
	grown := make([]uint64, n)
	copy(grown, words)
	return grown
}

// AddSlice appends a new, all-zero slice holding the given document ids
// (len(docIDs) must be <= SliceCapacity). Rows already defined via
// DefineRow are allocated storage in the new slice immediately; rows
// defined afterwards grow every existing slice, including this one.
func (s *MemShard) AddSlice(docIDs []uint64) *Slice {
	if len(docIDs) > s.sliceCapacity {
		log.Panicf("shard: slice has %d docs, exceeds capacity %d", len(docIDs), s.sliceCapacity)
	}
	desc := &Descriptor{DocIDs: append([]uint64(nil), docIDs...)}
	sl := &Slice{Words: allocWords(s.nextOffset), Descriptor: desc}
	s.slices = append(s.slices, sl)
	return sl
}

// SetBit sets bit position doc (shard-relative, across all slices) in row.
// doc is expressed at the row's own rank: a slice holds SliceCapacity()>>r
// positions of a rank-r row. The interpreter reads word k of a rank-r row at
// each rank-0 offset from k*2^r to (k+1)*2^r-1 (offset>>r addresses it), so
// bit b of that word stands for documents 64*(k*2^r+j)+b for j in [0, 2^r).
func (s *MemShard) SetBit(row rowid.RowId, doc int) {
	words := s.rowWordsAtRank(row.Rank())
	docsPerSlice := s.sliceCapacity >> row.Rank()
	if docsPerSlice == 0 {
		docsPerSlice = 1
	}
	sliceIdx := doc / docsPerSlice
	within := doc % docsPerSlice
	if sliceIdx >= len(s.slices) {
		log.Panicf("shard: doc %d (slice %d) has no backing slice", doc, sliceIdx)
	}
	off, ok := s.rowOffset[row]
	if !ok {
		log.Panicf("shard: row %v not defined", row)
	}
	wordIdx := within / 64
	bitIdx := uint(within % 64)
	if wordIdx >= words {
		log.Panicf("shard: bit %d out of range for row %v", doc, row)
	}
	s.slices[sliceIdx].Words[off+wordIdx] |= uint64(1) << bitIdx
}

// ErrRowOffsetUnknown is returned by RowOffset for a row the shard never
// had DefineRow called for.
var ErrRowOffsetUnknown = fmt.Errorf("shard: row offset unknown")
