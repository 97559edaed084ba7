// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dedupe implements the interpreter's dedupe buffer (spec.md section
// 4.6, "Match recording" / "End-of-iteration drain"): a fixed-size
// accumulator that lets more than one Report instruction fire for the same
// document, within the same iteration, without the query engine seeing a
// duplicate (slice, doc-index) result.
//
// bytecode.Generate assigns each compiled Report instruction a distinct slot
// in [0, bytecode.MaxReportSlots) (its operand): an expanded Or's two
// branches, for instance, each materialize their own Report site, and both
// can legitimately fire for the same underlying document at the same
// offset. Buffer's header+accumulator layout OR-merges whatever those
// independent Report sites contribute before the interpreter ever turns an
// accumulator into individual (slice, doc-index) pairs, so the same document
// is never reported twice for firing through two different sites.
package dedupe

import (
	"math/bits"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bitfunnel/bytecode"
)

// Buffer is one query iteration's worth of deduplicated match accumulators:
// a header word (bit k set iff accumulator[k] is nonzero) plus one 64-bit
// accumulator per Report slot.
//
// spec.md's literal buffer is 65 quadwords, sized for 64 sub-iterations
// (rank <= 6) packed one per slot, with the final document index computed
// as slot*64+bit. This module's bytecode generator has no notion of
// sub-iteration offsets (see bytecode.Generate's doc comment on its flat
// rank-delta design): every slot here instead addresses the same current
// offset from a different Report call site, so Drain ORs every fired slot
// together before turning bits into document positions, rather than
// scaling by slot index.
type Buffer struct {
	header uint64
	accum  [slotCount]uint64
}

const slotCount = bytecode.MaxReportSlots

// AddMatch OR-merges acc into slot's accumulator and marks slot nonzero in
// the header. slot must be in [0, 64); callers derive it from a Report
// instruction's operand, which bytecode.Generate guarantees is in range.
func (b *Buffer) AddMatch(slot int, acc uint64) {
	if slot < 0 || slot >= slotCount {
		log.Panicf("dedupe: slot %d out of range [0, %d)", slot, slotCount)
	}
	if acc == 0 {
		return
	}
	if b.accum[slot] == 0 {
		b.header |= uint64(1) << uint(slot)
	}
	b.accum[slot] |= acc
}

// Drain calls fn once per document bit set in any fired Report site's
// accumulator, for the current offset. Every slot's accumulator addresses
// the same 64 documents (the current offset's word) from a different
// Report site, not a different sub-range the way spec.md's literal
// sub-iteration-offset indexing would: so Drain first ORs every nonzero
// accumulator together, then calls fn once per set bit in that union — a
// document two different sites both reported is still only surfaced once.
// Drain clears the buffer as it goes, leaving it ready to accumulate the
// next iteration's matches.
func (b *Buffer) Drain(fn func(bit int)) {
	var merged uint64
	for b.header != 0 {
		k := bits.TrailingZeros64(b.header)
		if b.accum[k] == 0 {
			// Corruption of the dedupe header (spec.md section 7's fatal
			// category): a set header bit promises a nonzero accumulator.
			log.Panicf("dedupe: header bit %d set but accumulator is zero", k)
		}
		merged |= b.accum[k]
		b.accum[k] = 0
		b.header &^= uint64(1) << uint(k)
	}
	for merged != 0 {
		bit := bits.TrailingZeros64(merged)
		fn(bit)
		merged &^= uint64(1) << uint(bit)
	}
}

// Empty reports whether the buffer currently holds no pending matches.
func (b *Buffer) Empty() bool {
	return b.header == 0
}
